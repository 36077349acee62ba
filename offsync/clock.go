// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"sync"
	"time"
)

// IDSource assigns ids to entities created locally.
type IDSource interface {
	NextID() int64
}

// ClockIDSource hands out millisecond wall-clock timestamps as ids, bumped by one when
// the clock did not advance since the previous id. Ids are strictly increasing within a
// process; two devices creating entities in the same millisecond can still collide.
type ClockIDSource struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewClockIDSource creates an IDSource backed by time.Now.
func NewClockIDSource() *ClockIDSource {
	return &ClockIDSource{now: time.Now}
}

// NextID returns the next id.
func (c *ClockIDSource) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.now().UnixMilli()
	if id <= c.last {
		id = c.last + 1
	}
	c.last = id
	return id
}

// SequenceIDSource hands out 1, 2, 3, ... starting after a given value.
// Useful in tests and for deterministic replays.
type SequenceIDSource struct {
	mu  sync.Mutex
	seq int64
}

// NewSequenceIDSource creates a sequence whose first id is start+1.
func NewSequenceIDSource(start int64) *SequenceIDSource {
	return &SequenceIDSource{seq: start}
}

func (s *SequenceIDSource) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}
