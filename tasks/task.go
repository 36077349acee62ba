// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package tasks is a to-do list synchronized with offsync.
package tasks

// Resource is the collection name tasks are stored under, locally and remotely.
const Resource = "tasks"

// Task is a single to-do item.
type Task struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Done         bool   `json:"done"`
	Synchronized bool   `json:"synchronized"`
}

func (t *Task) EntityID() int64 { return t.ID }
func (t *Task) SetEntityID(id int64) { t.ID = id }
func (t *Task) IsSynchronized() bool { return t.Synchronized }
func (t *Task) SetSynchronized(ok bool) { t.Synchronized = ok }
