// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offsync implements an offline-first synchronization engine for a single
// remote resource collection.
//
// Mutations (create, update, delete) are written to a durable local store and to a
// pending mutation queue, and are published to an observable in-memory cache right away.
// Synchronize later pushes the queue to the remote collection and then pulls the
// collection snapshot back, applying it only when its timestamp is newer than anything
// seen before.
package offsync

import (
	"encoding/json"
	"fmt"
)

// Entity is the capability set every synchronized record must provide.
// Implementations are expected to be pointer types (e.g. *Task) so that the engine
// can update the id and the synchronized flag in place.
type Entity interface {
	EntityID() int64
	SetEntityID(id int64)
	IsSynchronized() bool
	SetSynchronized(synchronized bool)
}

// cloneEntity returns a deep copy of v using its JSON representation.
// Entities cross the engine boundary as JSON anyway (store, wire), so any field that
// does not survive JSON would not survive a restart either.
func cloneEntity[T Entity](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to marshal entity: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return out, nil
}

func cloneEntities[T Entity](items []T) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		c, err := cloneEntity(it)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func indexOf[T Entity](items []T, id int64) int {
	for i, it := range items {
		if it.EntityID() == id {
			return i
		}
	}
	return -1
}
