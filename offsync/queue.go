// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingMutation is a not yet acknowledged create, update or delete intent.
// At most one pending mutation exists per entity id.
type PendingMutation[T Entity] struct {
	MutationID string    `json:"mutation_id"` // Sent as Idempotency-Key; changes on every overwrite
	Method     Method    `json:"method"`
	Payload    T         `json:"payload"`
	Seq        int64     `json:"seq"` // Enqueue order, preserved across restarts
	QueuedAt   time.Time `json:"queued_at"`
}

// EntityID returns the id of the entity the mutation targets.
func (m *PendingMutation[T]) EntityID() int64 {
	return m.Payload.EntityID()
}

// Queue is the durable pending mutation queue of one resource. Records are persisted
// under "updates.{resource}.{id}" and indexed in memory by entity id.
type Queue[T Entity] struct {
	store    Store
	resource string
	now      func() time.Time

	mu       sync.Mutex
	items    map[int64]*PendingMutation[T]
	inFlight map[int64]string // entity id -> MutationID currently being sent
	nextSeq  int64
}

// NewQueue creates an empty queue. Call Recover before enqueuing anything so that
// mutations persisted by a previous process are not overwritten blindly.
func NewQueue[T Entity](store Store, resource string) *Queue[T] {
	return &Queue[T]{
		store:    store,
		resource: resource,
		now:      time.Now,
		items:    make(map[int64]*PendingMutation[T]),
		inFlight: make(map[int64]string),
	}
}

func (q *Queue[T]) prefix() string {
	return updatesPrefix + q.resource + "."
}

func (q *Queue[T]) key(id int64) string {
	return q.prefix() + strconv.FormatInt(id, 10)
}

// Recover rebuilds the in-memory index from the store.
func (q *Queue[T]) Recover(ctx context.Context) error {
	records, err := q.store.Scan(ctx, q.prefix())
	if err != nil {
		return storageErr("scan", q.prefix(), err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(map[int64]*PendingMutation[T], len(records))
	for _, rec := range records {
		var m PendingMutation[T]
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			return storageErr("decode", rec.Key, err)
		}
		if m.MutationID == "" {
			m.MutationID = uuid.NewString()
		}
		q.items[m.EntityID()] = &m
		if m.Seq > q.nextSeq {
			q.nextSeq = m.Seq
		}
	}
	return nil
}

// Enqueue records a mutation for payload, coalescing it with any mutation already
// pending for the same id:
//
//	create + update -> create (new payload)
//	create + delete -> nothing (the entity never reached the server)
//	update + update -> update (new payload)
//	update + delete -> delete
//	delete + create -> update
//
// A create that is currently being sent is treated as already known to the server, so
// create + delete becomes a delete instead of cancelling out.
//
// It returns the mutation now pending for the id, or nil when the pair cancelled out.
func (q *Queue[T]) Enqueue(ctx context.Context, method Method, payload T) (*PendingMutation[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := payload.EntityID()
	key := q.key(id)
	prev, exists := q.items[id]

	next := &PendingMutation[T]{
		MutationID: uuid.NewString(),
		Method:     method,
		Payload:    payload,
		QueuedAt:   q.now().UTC(),
	}
	if exists {
		next.Seq = prev.Seq
		prevMethod := prev.Method
		if prevMethod == MethodCreate && q.inFlight[id] == prev.MutationID {
			prevMethod = MethodUpdate
		}
		switch {
		case prevMethod == MethodCreate && method == MethodUpdate:
			next.Method = MethodCreate
		case prevMethod == MethodCreate && method == MethodDelete:
			if err := q.store.Remove(ctx, key); err != nil {
				return nil, storageErr("remove", key, err)
			}
			delete(q.items, id)
			return nil, nil
		case prevMethod == MethodDelete && method == MethodCreate:
			next.Method = MethodUpdate
		}
	} else {
		q.nextSeq++
		next.Seq = q.nextSeq
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pending mutation %s: %w", key, err)
	}
	if err := q.store.Set(ctx, key, data); err != nil {
		return nil, storageErr("set", key, err)
	}
	q.items[id] = next
	return next, nil
}

// Dequeue removes m once the remote acknowledged it. It only removes the entry when it
// is still the same mutation (same MutationID); a newer mutation enqueued for the id in
// the meantime stays pending. Removing an absent entry is a no-op.
func (q *Queue[T]) Dequeue(ctx context.Context, m *PendingMutation[T]) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := m.EntityID()
	cur, ok := q.items[id]
	if !ok || cur.MutationID != m.MutationID {
		return false, nil
	}
	key := q.key(id)
	if err := q.store.Remove(ctx, key); err != nil {
		return false, storageErr("remove", key, err)
	}
	delete(q.items, id)
	return true, nil
}

// begin marks m as being sent to the remote.
func (q *Queue[T]) begin(m *PendingMutation[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight[m.EntityID()] = m.MutationID
}

// end clears the in-flight mark set by begin.
func (q *Queue[T]) end(m *PendingMutation[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight[m.EntityID()] == m.MutationID {
		delete(q.inFlight, m.EntityID())
	}
}

// Get returns the mutation pending for id.
func (q *Queue[T]) Get(id int64) (*PendingMutation[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.items[id]
	return m, ok
}

// List returns all pending mutations in enqueue order.
func (q *Queue[T]) List() []*PendingMutation[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*PendingMutation[T], 0, len(q.items))
	for _, m := range q.items {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Len returns the number of pending mutations.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Rekey moves the mutation pending for oldID to newID after the server assigned a
// canonical id to the entity. A pending create becomes an update since the entity now
// exists remotely.
func (q *Queue[T]) Rekey(ctx context.Context, oldID, newID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.items[oldID]
	if !ok {
		return nil
	}
	m.Payload.SetEntityID(newID)
	if m.Method == MethodCreate {
		m.Method = MethodUpdate
	}
	newKey := q.key(newID)
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal pending mutation %s: %w", newKey, err)
	}
	if err := q.store.Set(ctx, newKey, data); err != nil {
		return storageErr("set", newKey, err)
	}
	oldKey := q.key(oldID)
	if err := q.store.Remove(ctx, oldKey); err != nil {
		return storageErr("remove", oldKey, err)
	}
	delete(q.items, oldID)
	q.items[newID] = m
	return nil
}
