// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offserver is a reference implementation of the collection API offsync
// engines synchronize against: GET/POST /{resource} and PUT/DELETE /{resource}/{id},
// every response carrying a per-collection millisecond timestamp.
package offserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Op is a mutation applied to a collection.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ErrInvalidItem is returned for item bodies that are not JSON objects with an integer id.
var ErrInvalidItem = errors.New("invalid item")

// Mutation is one write request against a collection.
type Mutation struct {
	Owner          string // Collection owner; "" for an unauthenticated shared collection
	Resource       string
	Op             Op
	ID             int64           // Target id; ignored for creates with AssignID
	Item           json.RawMessage // Entity JSON for create/update
	IdempotencyKey string          // Replays the stored result when seen before
	AssignID       bool            // Create gets the next collection id instead of ID
}

// Result is the outcome of a mutation. Item is nil for deletes.
type Result struct {
	Item      json.RawMessage `json:"item,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Replayed  bool            `json:"-"`
}

// Snapshot is the full contents of a collection, ordered by id.
type Snapshot struct {
	Items     []json.RawMessage
	Timestamp int64
}

// Backend stores collections. Every successful mutation advances the collection
// timestamp; timestamps are strictly increasing per collection.
type Backend interface {
	List(ctx context.Context, owner, resource string) (*Snapshot, error)
	Apply(ctx context.Context, m *Mutation) (*Result, error)
}

// nextTimestamp returns the current time in milliseconds, bumped past last.
func nextTimestamp(now time.Time, last int64) int64 {
	ts := now.UnixMilli()
	if ts <= last {
		ts = last + 1
	}
	return ts
}

// itemID extracts the integer "id" field of an item object.
func itemID(item json.RawMessage) (int64, error) {
	var probe struct {
		ID *json.Number `json:"id"`
	}
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	if err := dec.Decode(&probe); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	if probe.ID == nil {
		return 0, nil
	}
	id, err := probe.ID.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: id must be an integer", ErrInvalidItem)
	}
	return id, nil
}

// withID returns item with its "id" field set to id. Other fields are kept verbatim.
func withID(item json.RawMessage, id int64) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: item must be a JSON object", ErrInvalidItem)
	}
	fields["id"] = json.RawMessage(fmt.Sprintf("%d", id))
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	return out, nil
}

// normalize validates m and resolves the item id for creates and updates.
// For creates with AssignID it leaves ID at 0 for the backend to fill in.
func normalize(m *Mutation) error {
	if m.Resource == "" {
		return fmt.Errorf("%w: resource is required", ErrInvalidItem)
	}
	switch m.Op {
	case OpDelete:
		return nil
	case OpCreate, OpUpdate:
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
	id, err := itemID(m.Item)
	if err != nil {
		return err
	}
	if m.Op == OpCreate && m.AssignID {
		return nil
	}
	if m.ID == 0 {
		m.ID = id
	}
	if m.ID == 0 {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	if id != 0 && id != m.ID {
		return fmt.Errorf("%w: body id %d does not match %d", ErrInvalidItem, id, m.ID)
	}
	m.Item, err = withID(m.Item, m.ID)
	return err
}
