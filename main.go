// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🚀 go-offsync - Offline-First List Synchronization")
	fmt.Println("==================================================")
	fmt.Println()
	fmt.Println("go-offsync keeps a local, durable copy of a remote collection, queues edits made")
	fmt.Println("offline and reconciles them with a REST collection when the network is back.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Task Server (examples/tasks_server/)")
	fmt.Println("   Reference REST collection server on net/http")
	fmt.Println("   Features: Postgres or in-memory backend, JWT auth, idempotent writes")
	fmt.Println("   Run: go run ./examples/tasks_server")
	fmt.Println()

	fmt.Println("2. 📱 Task Client (examples/tasks_client/)")
	fmt.Println("   Offline-first task list CLI backed by SQLite")
	fmt.Println("   Features: queued edits, push-then-pull sync, background watch mode")
	fmt.Println("   Run: go run ./examples/tasks_client --help")
	fmt.Println()
}
