// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type collectionKey struct {
	owner    string
	resource string
}

type idempotencyKey struct {
	owner string
	key   string
}

type memoryCollection struct {
	items  map[int64]json.RawMessage
	lastTS int64
	nextID int64
}

// MemoryBackend keeps collections in process memory.
type MemoryBackend struct {
	mu          sync.Mutex
	now         func() time.Time
	collections map[collectionKey]*memoryCollection
	applied     map[idempotencyKey]*Result
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		now:         time.Now,
		collections: make(map[collectionKey]*memoryCollection),
		applied:     make(map[idempotencyKey]*Result),
	}
}

func (b *MemoryBackend) collection(owner, resource string) *memoryCollection {
	k := collectionKey{owner: owner, resource: resource}
	c, ok := b.collections[k]
	if !ok {
		c = &memoryCollection{items: make(map[int64]json.RawMessage)}
		b.collections[k] = c
	}
	return c
}

func (b *MemoryBackend) List(ctx context.Context, owner, resource string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.collection(owner, resource)
	ids := make([]int64, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snap := &Snapshot{Items: make([]json.RawMessage, 0, len(ids)), Timestamp: c.lastTS}
	for _, id := range ids {
		snap.Items = append(snap.Items, append(json.RawMessage(nil), c.items[id]...))
	}
	return snap, nil
}

func (b *MemoryBackend) Apply(ctx context.Context, m *Mutation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := normalize(m); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ik := idempotencyKey{owner: m.Owner, key: m.IdempotencyKey}
	if m.IdempotencyKey != "" {
		if prev, ok := b.applied[ik]; ok {
			replay := *prev
			replay.Replayed = true
			return &replay, nil
		}
	}

	c := b.collection(m.Owner, m.Resource)
	res := &Result{}
	switch m.Op {
	case OpCreate, OpUpdate:
		if m.Op == OpCreate && m.AssignID {
			c.nextID++
			m.ID = c.nextID
			item, err := withID(m.Item, m.ID)
			if err != nil {
				return nil, err
			}
			m.Item = item
		} else if m.ID > c.nextID {
			c.nextID = m.ID
		}
		c.items[m.ID] = append(json.RawMessage(nil), m.Item...)
		res.Item = m.Item
	case OpDelete:
		if _, ok := c.items[m.ID]; !ok {
			// Unknown id: acknowledged without changing the collection.
			res.Timestamp = c.lastTS
			return res, nil
		}
		delete(c.items, m.ID)
	}
	c.lastTS = nextTimestamp(b.now(), c.lastTS)
	res.Timestamp = c.lastTS

	if m.IdempotencyKey != "" {
		stored := *res
		b.applied[ik] = &stored
	}
	return res, nil
}
