// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config holds configuration for one engine instance
type Config struct {
	Resource        string        // Collection name, e.g. "tasks"
	APIRoot         string        // e.g. "https://api.example.com"; used as the cold cache key prefix
	RequestTimeout  time.Duration // Per gateway request; 0 disables the engine-side timeout
	IDPolicy        IDPolicy      // How server-assigned ids on create are handled
	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
}

// DefaultConfig returns a configuration for resource served under apiRoot.
func DefaultConfig(resource, apiRoot string) *Config {
	return &Config{
		Resource:       resource,
		APIRoot:        apiRoot,
		RequestTimeout: 30 * time.Second,
		IDPolicy:       IDPolicyEcho,
	}
}

type engineOptions struct {
	coldCache ColdCache
	ids       IDSource
	logger    *slog.Logger
}

// Option configures optional engine collaborators.
type Option func(*engineOptions)

// WithColdCache seeds the cache at construction from a previously recorded list response.
func WithColdCache(c ColdCache) Option {
	return func(o *engineOptions) { o.coldCache = c }
}

// WithIDSource replaces the default ClockIDSource used for new entities without an id.
func WithIDSource(ids IDSource) Option {
	return func(o *engineOptions) { o.ids = ids }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// Engine is the sync coordinator of one resource. It owns the pending mutation queue,
// the lastUpdate timestamp and the entity cache.
type Engine[T Entity] struct {
	config  *Config
	logger  *slog.Logger
	store   *entityStore[T]
	queue   *Queue[T]
	cache   *Cache[T]
	gateway Gateway[T]
	ids     IDSource

	// mu serialises local state transitions. It is never held across a gateway call.
	mu         sync.Mutex
	items      []T
	lastUpdate int64

	flight singleflight.Group
}

// New creates an engine, recovers the pending mutation queue persisted by a previous
// process, loads the stored entities into the cache and finally consults the cold
// cache, if one is configured. No network request is made.
func New[T Entity](ctx context.Context, store Store, gateway Gateway[T], config *Config, opts ...Option) (*Engine[T], error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Resource == "" || strings.Contains(config.Resource, ".") {
		return nil, fmt.Errorf("invalid resource name %q", config.Resource)
	}
	if store == nil || gateway == nil {
		return nil, fmt.Errorf("store and gateway are required")
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.ids == nil {
		o.ids = NewClockIDSource()
	}

	e := &Engine[T]{
		config:  config,
		logger:  o.logger.With("resource", config.Resource),
		store:   newEntityStore[T](store, config.Resource),
		queue:   NewQueue[T](store, config.Resource),
		cache:   NewCache[T](),
		gateway: gateway,
		ids:     o.ids,
	}

	if err := e.queue.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover pending mutations: %w", err)
	}
	items, err := e.store.all(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored entities: %w", err)
	}
	e.items = items
	if err := e.cache.publish(e.items); err != nil {
		return nil, err
	}
	if o.coldCache != nil {
		e.seedFromColdCache(ctx, o.coldCache)
	}

	e.logger.Debug("engine initialized", "items", len(e.items), "pending", e.queue.Len())
	return e, nil
}

// Create stores item as a new, not yet synchronized entity, queues a create mutation
// and publishes it to the cache. An item without an id gets one from the IDSource.
// The caller's item is updated in place with the assigned id and synchronized=false.
func (e *Engine[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	if isNilEntity(item) {
		return zero, ErrInvalidEntity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := cloneEntity(item)
	if err != nil {
		return zero, err
	}
	if v.EntityID() == 0 {
		v.SetEntityID(e.ids.NextID())
	}
	v.SetSynchronized(false)

	if err := e.writeAndEnqueueLocked(ctx, MethodCreate, v); err != nil {
		return zero, err
	}
	e.upsertItemLocked(v)
	if err := e.publishLocked(); err != nil {
		return zero, err
	}

	item.SetEntityID(v.EntityID())
	item.SetSynchronized(false)
	e.logger.Debug("entity created", "id", v.EntityID())
	return cloneEntity(v)
}

// Update overwrites the stored state of item, queues an update mutation (collapsing
// with any mutation already pending for the id) and publishes the cache.
func (e *Engine[T]) Update(ctx context.Context, item T) (T, error) {
	var zero T
	if isNilEntity(item) || item.EntityID() == 0 {
		return zero, ErrInvalidEntity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := cloneEntity(item)
	if err != nil {
		return zero, err
	}
	v.SetSynchronized(false)

	if err := e.writeAndEnqueueLocked(ctx, MethodUpdate, v); err != nil {
		return zero, err
	}
	e.upsertItemLocked(v)
	if err := e.publishLocked(); err != nil {
		return zero, err
	}

	item.SetSynchronized(false)
	e.logger.Debug("entity updated", "id", v.EntityID())
	return cloneEntity(v)
}

// Delete removes item from the local store, queues a delete mutation and publishes the
// cache without it.
func (e *Engine[T]) Delete(ctx context.Context, item T) error {
	if isNilEntity(item) || item.EntityID() == 0 {
		return ErrInvalidEntity
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := cloneEntity(item)
	if err != nil {
		return err
	}
	id := v.EntityID()
	prev, hadPrev, err := e.store.get(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.remove(ctx, id); err != nil {
		return err
	}
	if _, err := e.queue.Enqueue(ctx, MethodDelete, v); err != nil {
		if hadPrev {
			if rbErr := e.store.save(ctx, prev); rbErr != nil {
				e.logger.Error("failed to roll back store delete", "id", id, "error", rbErr)
			}
		}
		return err
	}
	if idx := indexOf(e.items, id); idx >= 0 {
		e.items = append(e.items[:idx], e.items[idx+1:]...)
	}
	if err := e.publishLocked(); err != nil {
		return err
	}
	e.logger.Debug("entity deleted", "id", id)
	return nil
}

// Get reads the entity with id from the local store.
func (e *Engine[T]) Get(ctx context.Context, id int64) (T, bool, error) {
	return e.store.get(ctx, id)
}

// Items returns the current cache snapshot.
func (e *Engine[T]) Items() []T {
	return e.cache.Current()
}

// Subscribe registers an observer of cache snapshots. See Cache.Subscribe.
func (e *Engine[T]) Subscribe(fn Observer[T]) *Subscription[T] {
	return e.cache.Subscribe(fn)
}

// LastUpdate returns the highest server timestamp seen so far.
func (e *Engine[T]) LastUpdate() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUpdate
}

// Pending returns the queued mutations in enqueue order.
func (e *Engine[T]) Pending() []*PendingMutation[T] {
	return e.queue.List()
}

// Resource returns the collection name the engine synchronizes.
func (e *Engine[T]) Resource() string {
	return e.config.Resource
}

// writeAndEnqueueLocked persists v and queues the mutation. When queuing fails the
// store write is rolled back so no entity is left without its pending mutation.
func (e *Engine[T]) writeAndEnqueueLocked(ctx context.Context, method Method, v T) error {
	prev, hadPrev, err := e.store.get(ctx, v.EntityID())
	if err != nil {
		return err
	}
	if err := e.store.save(ctx, v); err != nil {
		return err
	}
	payload, err := cloneEntity(v)
	if err != nil {
		return err
	}
	if _, err := e.queue.Enqueue(ctx, method, payload); err != nil {
		var rbErr error
		if hadPrev {
			rbErr = e.store.save(ctx, prev)
		} else {
			rbErr = e.store.remove(ctx, v.EntityID())
		}
		if rbErr != nil {
			e.logger.Error("failed to roll back store write", "id", v.EntityID(), "error", rbErr)
		}
		return err
	}
	return nil
}

func (e *Engine[T]) upsertItemLocked(v T) {
	if idx := indexOf(e.items, v.EntityID()); idx >= 0 {
		e.items[idx] = v
		return
	}
	e.items = append(e.items, v)
}

func (e *Engine[T]) publishLocked() error {
	return e.cache.publish(e.items)
}

func (e *Engine[T]) advanceLocked(ts int64) {
	if ts > e.lastUpdate {
		e.lastUpdate = ts
	}
}

func (e *Engine[T]) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.RequestTimeout)
}

func isNilEntity[T Entity](v T) bool {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
