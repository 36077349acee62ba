// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type note struct {
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	Synced bool   `json:"synchronized"`
}

func (n *note) EntityID() int64 { return n.ID }
func (n *note) SetEntityID(id int64) { n.ID = id }
func (n *note) IsSynchronized() bool { return n.Synced }
func (n *note) SetSynchronized(v bool) { n.Synced = v }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type gatewayCall struct {
	Method string
	ID     int64
	Key    string
}

// fakeRemote is an in-memory collection endpoint with failure injection.
type fakeRemote struct {
	mu    sync.Mutex
	items map[int64]*note
	ts    int64
	calls []gatewayCall

	// failWith, when set, is returned by every call for which it reports an error.
	failWith func(call gatewayCall) error
	// block, when set, is waited on before create/update/delete returns.
	block chan struct{}
	// assignID, when set, replaces client ids on create.
	assignID func(id int64) int64
	// staleList makes List report timestamp 0.
	staleList bool
	// listAt, when non-zero, is the timestamp List reports.
	listAt int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{items: make(map[int64]*note)}
}

func (r *fakeRemote) seed(ts int64, items ...*note) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		c := *it
		r.items[it.ID] = &c
	}
	if ts > r.ts {
		r.ts = ts
	}
}

func (r *fakeRemote) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	r.ts++
}

func (r *fakeRemote) record(call gatewayCall) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	fail := r.failWith
	r.mu.Unlock()
	if fail != nil {
		return fail(call)
	}
	return nil
}

func (r *fakeRemote) wait(ctx context.Context) error {
	r.mu.Lock()
	block := r.block
	r.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNetworkFailure, ctx.Err())
	}
}

func (r *fakeRemote) callsOf(method string) []gatewayCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []gatewayCall
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *fakeRemote) List(ctx context.Context) (*ListResponse[*note], error) {
	if err := r.record(gatewayCall{Method: "list"}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	resp := &ListResponse[*note]{Timestamp: r.ts}
	if r.listAt != 0 {
		resp.Timestamp = r.listAt
	}
	if r.staleList {
		resp.Timestamp = 0
	}
	for _, it := range r.items {
		c := *it
		resp.Data = append(resp.Data, &c)
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].ID < resp.Data[j].ID })
	return resp, nil
}

func (r *fakeRemote) Create(ctx context.Context, item *note, key string) (*ItemResponse[*note], error) {
	return r.upsert(ctx, "create", item, key)
}

func (r *fakeRemote) Update(ctx context.Context, item *note, key string) (*ItemResponse[*note], error) {
	return r.upsert(ctx, "update", item, key)
}

func (r *fakeRemote) upsert(ctx context.Context, method string, item *note, key string) (*ItemResponse[*note], error) {
	if err := r.record(gatewayCall{Method: method, ID: item.ID, Key: key}); err != nil {
		return nil, err
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *item
	c.Synced = false
	if method == "create" && r.assignID != nil {
		c.ID = r.assignID(c.ID)
	}
	r.items[c.ID] = &c
	r.ts++
	out := c
	return &ItemResponse[*note]{Data: &out, Timestamp: r.ts}, nil
}

func (r *fakeRemote) Delete(ctx context.Context, id int64, key string) (*DeleteResponse, error) {
	if err := r.record(gatewayCall{Method: "delete", ID: id, Key: key}); err != nil {
		return nil, err
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	r.ts++
	return &DeleteResponse{Timestamp: r.ts}, nil
}

type testEnv struct {
	store  *MemoryStore
	remote *fakeRemote
	config *Config
}

func newTestEnv() *testEnv {
	cfg := DefaultConfig("notes", "https://api.test")
	cfg.RequestTimeout = 5 * time.Second
	return &testEnv{store: NewMemoryStore(), remote: newFakeRemote(), config: cfg}
}

func (env *testEnv) engine(t *testing.T, opts ...Option) *Engine[*note] {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithIDSource(NewSequenceIDSource(100))}, opts...)
	e, err := New[*note](context.Background(), env.store, env.remote, env.config, opts...)
	require.NoError(t, err)
	return e
}

func itemIDs(items []*note) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// failingStore wraps a store and fails the selected operations.
type failingStore struct {
	Store
	mu      sync.Mutex
	failSet bool
	failGet bool
}

var errDiskFull = fmt.Errorf("disk full")

func (s *failingStore) setFailures(set, get bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSet, s.failGet = set, get
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	fail := s.failSet
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.Store.Set(ctx, key, value)
}

func (s *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, errDiskFull
	}
	return s.Store.Get(ctx, key)
}
