// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"sync"
)

// Observer receives cache snapshots. A snapshot is owned by the observer.
type Observer[T Entity] func(snapshot []T)

// Cache is the observable in-memory view of the current item set. New subscribers
// receive the latest snapshot immediately, then every published snapshot in publish
// order. Each subscriber is served by its own goroutine, so a slow observer does not
// hold up publishing and observers may call back into the engine.
type Cache[T Entity] struct {
	mu      sync.Mutex
	current []T
	subs    map[uint64]*Subscription[T]
	nextID  uint64
}

// NewCache creates an empty cache.
func NewCache[T Entity]() *Cache[T] {
	return &Cache[T]{subs: make(map[uint64]*Subscription[T])}
}

// Current returns a copy of the latest snapshot.
func (c *Cache[T]) Current() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cache[T]) snapshotLocked() []T {
	out, err := cloneEntities(c.current)
	if err != nil {
		// Entities round-tripped through JSON when they entered the cache.
		panic(err)
	}
	return out
}

// Subscribe registers fn and immediately queues the current snapshot for it.
func (c *Cache[T]) Subscribe(fn Observer[T]) *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription[T]{
		id:    c.nextID,
		cache: c,
		fn:    fn,
		done:  make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	c.subs[sub.id] = sub
	sub.push(c.snapshotLocked())
	go sub.run()
	return sub
}

// publish replaces the current snapshot and fans it out to every subscriber.
// The cache keeps its own copy of items.
func (c *Cache[T]) publish(items []T) error {
	own, err := cloneEntities(items)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = own
	for _, sub := range c.subs {
		sub.push(c.snapshotLocked())
	}
	return nil
}

func (c *Cache[T]) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// Subscription is a registered cache observer.
type Subscription[T Entity] struct {
	id    uint64
	cache *Cache[T]
	fn    Observer[T]

	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]T
	closed  bool
	done    chan struct{}
}

func (s *Subscription[T]) push(snapshot []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, snapshot)
	s.cond.Signal()
}

func (s *Subscription[T]) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.fn(next)
	}
}

// Unsubscribe stops notifications. Snapshots not yet delivered are dropped.
// It is safe to call more than once and from inside the observer.
func (s *Subscription[T]) Unsubscribe() {
	s.cache.remove(s.id)
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.cond.Signal()
	s.mu.Unlock()
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}
