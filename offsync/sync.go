// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SyncResult summarizes one Synchronize run.
type SyncResult struct {
	Pushed     int   // Mutations acknowledged by the remote
	Failed     int   // Mutations that failed and stay queued
	Skipped    int   // Mutations not attempted after a transport failure
	Pulled     bool  // The pulled snapshot was newer and has been applied
	PullStale  bool  // The pulled snapshot was not newer than lastUpdate and was ignored
	Reconciled int   // Local entities removed because the remote no longer has them
	LastUpdate int64 // lastUpdate after the run
}

// Synchronize pushes every pending mutation to the remote and then pulls the remote
// snapshot. Overlapping calls share a single run, so a queued mutation is never sent
// twice concurrently; late joiners receive the result of the run already in flight.
//
// Network failures are logged and leave the affected mutations queued; they are
// reported through the returned error (errors.Is(err, ErrNetworkFailure)) together with
// the partial result. Storage failures abort the run (ErrStorageUnavailable).
func (e *Engine[T]) Synchronize(ctx context.Context) (*SyncResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := e.flight.DoChan("synchronize", func() (any, error) {
		return e.synchronize(ctx)
	})
	select {
	case r := <-ch:
		var res SyncResult
		if p, ok := r.Val.(*SyncResult); ok && p != nil {
			res = *p
		}
		return &res, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine[T]) synchronize(ctx context.Context) (*SyncResult, error) {
	res := &SyncResult{}
	var errs []error

	// Acks advance lastUpdate to the timestamps of our own writes; the pull that follows
	// is compared against the value before the push so it is not mistaken for stale.
	since := e.LastUpdate()
	if err := e.push(ctx, res); err != nil {
		errs = append(errs, err)
		if errors.Is(err, ErrStorageUnavailable) {
			res.LastUpdate = e.LastUpdate()
			return res, errors.Join(errs...)
		}
	}
	if err := e.pull(ctx, since, res); err != nil {
		errs = append(errs, err)
	}

	res.LastUpdate = e.LastUpdate()
	e.logger.Info("synchronize finished",
		"pushed", res.Pushed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"pulled", res.Pulled,
		"stale", res.PullStale,
		"reconciled", res.Reconciled,
		"last_update", res.LastUpdate,
	)
	return res, errors.Join(errs...)
}

// push sends queued mutations one at a time in enqueue order.
func (e *Engine[T]) push(ctx context.Context, res *SyncResult) error {
	start := e.stageStart()
	pending := e.queue.List()
	var errs []error

	for i, m := range pending {
		if err := ctx.Err(); err != nil {
			res.Skipped += len(pending) - i
			errs = append(errs, err)
			break
		}

		sendStart := e.stageStart()
		err := e.pushOne(ctx, m)
		e.observeStage(ctx, MetricsOpPush, MetricsStagePushSend, sendStart, 1, err != nil)
		if err == nil {
			res.Pushed++
			continue
		}

		res.Failed++
		errs = append(errs, err)
		e.logger.Error("failed to push mutation",
			"id", m.EntityID(), "method", m.Method, "mutation_id", m.MutationID, "error", err)
		if errors.Is(err, ErrStorageUnavailable) {
			break
		}
		if isTransportFailure(err) {
			// The remote is unreachable; keep the rest for the next run.
			res.Skipped += len(pending) - i - 1
			break
		}
	}

	e.observeStage(ctx, MetricsOpPush, MetricsStageTotal, start, len(pending), len(errs) > 0)
	return errors.Join(errs...)
}

func (e *Engine[T]) pushOne(ctx context.Context, m *PendingMutation[T]) error {
	e.queue.begin(m)
	defer e.queue.end(m)

	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()

	switch m.Method {
	case MethodCreate:
		resp, err := e.gateway.Create(reqCtx, m.Payload, m.MutationID)
		if err != nil {
			return err
		}
		return e.applyAck(ctx, m, resp.Data, resp.Timestamp)
	case MethodUpdate:
		resp, err := e.gateway.Update(reqCtx, m.Payload, m.MutationID)
		if err != nil {
			return err
		}
		return e.applyAck(ctx, m, resp.Data, resp.Timestamp)
	case MethodDelete:
		resp, err := e.gateway.Delete(reqCtx, m.EntityID(), m.MutationID)
		if err != nil {
			return err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		e.advanceLocked(resp.Timestamp)
		_, err = e.queue.Dequeue(ctx, m)
		return err
	default:
		return fmt.Errorf("unknown mutation method %q", m.Method)
	}
}

// applyAck handles a create/update acknowledgement: it advances lastUpdate, dequeues the
// mutation and marks the entity synchronized, unless a newer mutation replaced it while
// the request was in flight.
func (e *Engine[T]) applyAck(ctx context.Context, m *PendingMutation[T], data T, ts int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := m.EntityID()
	serverID := id
	if !isNilEntity(data) && data.EntityID() != 0 {
		serverID = data.EntityID()
	}
	if serverID != id {
		if m.Method != MethodCreate || e.config.IDPolicy != IDPolicyRemap {
			return fmt.Errorf("%w: %s %d acknowledged as %d", ErrIDMismatch, e.config.Resource, id, serverID)
		}
	}

	e.advanceLocked(ts)
	removed, err := e.queue.Dequeue(ctx, m)
	if err != nil {
		return err
	}
	if serverID != id {
		if err := e.remapLocked(ctx, id, serverID); err != nil {
			return err
		}
	}
	if !removed {
		e.logger.Debug("mutation replaced while in flight", "id", serverID, "method", m.Method)
		return e.publishLocked()
	}

	idx := indexOf(e.items, serverID)
	if idx < 0 {
		return nil
	}
	e.items[idx].SetSynchronized(true)
	if err := e.store.save(ctx, e.items[idx]); err != nil {
		return err
	}
	return e.publishLocked()
}

// remapLocked moves the entity with oldID to the server-assigned newID in the store,
// the cache and the queue.
func (e *Engine[T]) remapLocked(ctx context.Context, oldID, newID int64) error {
	if err := e.queue.Rekey(ctx, oldID, newID); err != nil {
		return err
	}
	stored, ok, err := e.store.get(ctx, oldID)
	if err != nil {
		return err
	}
	if ok {
		stored.SetEntityID(newID)
		if err := e.store.save(ctx, stored); err != nil {
			return err
		}
		if err := e.store.remove(ctx, oldID); err != nil {
			return err
		}
	}
	if idx := indexOf(e.items, oldID); idx >= 0 {
		e.items[idx].SetEntityID(newID)
	}
	e.logger.Info("entity id remapped", "old_id", oldID, "new_id", newID)
	return nil
}

// pull fetches the remote snapshot and applies it when it is newer than since, the
// lastUpdate observed before this run's push phase.
func (e *Engine[T]) pull(ctx context.Context, since int64, res *SyncResult) error {
	firstPull := since == 0

	fetchStart := e.stageStart()
	reqCtx, cancel := e.requestContext(ctx)
	resp, err := e.gateway.List(reqCtx)
	cancel()
	e.observeStage(ctx, MetricsOpPull, MetricsStagePullFetch, fetchStart, 0, err != nil)
	if err != nil {
		e.logger.Error("failed to pull snapshot", "error", err)
		return err
	}

	applyStart := e.stageStart()
	err = e.applySnapshot(ctx, resp, since, firstPull, res)
	e.observeStage(ctx, MetricsOpPull, MetricsStagePullApply, applyStart, len(resp.Data), err != nil)
	return err
}

// applySnapshot writes the snapshot into the store, removes local entities the remote
// no longer has (except on the first pull) and publishes the result. Entities with a
// pending mutation keep their local state. A snapshot older than an acknowledged write
// of this run is stale as well.
func (e *Engine[T]) applySnapshot(ctx context.Context, resp *ListResponse[T], since int64, firstPull bool, res *SyncResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if resp.Timestamp <= since || resp.Timestamp < e.lastUpdate {
		res.PullStale = true
		e.logger.Debug("ignoring stale snapshot", "timestamp", resp.Timestamp, "since", since, "last_update", e.lastUpdate)
		return nil
	}

	remote := make(map[int64]bool, len(resp.Data))
	snapshot := make([]T, 0, len(resp.Data))
	for _, item := range resp.Data {
		if isNilEntity(item) {
			continue
		}
		id := item.EntityID()
		if remote[id] {
			continue
		}
		remote[id] = true

		if m, pending := e.queue.Get(id); pending {
			if m.Method == MethodDelete {
				continue
			}
			local, ok, err := e.store.get(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				snapshot = append(snapshot, local)
			}
			continue
		}

		item.SetSynchronized(true)
		if err := e.store.save(ctx, item); err != nil {
			return err
		}
		snapshot = append(snapshot, item)
	}

	stored, err := e.store.all(ctx)
	if err != nil {
		return err
	}
	reconciled := 0
	for _, local := range stored {
		id := local.EntityID()
		if remote[id] {
			continue
		}
		if _, pending := e.queue.Get(id); pending || firstPull {
			snapshot = append(snapshot, local)
			continue
		}
		if err := e.store.remove(ctx, id); err != nil {
			return err
		}
		reconciled++
		e.logger.Debug("removed entity missing from remote", "id", id)
	}

	e.items = snapshot
	e.advanceLocked(resp.Timestamp)
	res.Pulled = true
	res.Reconciled += reconciled
	return e.publishLocked()
}

// seedFromColdCache replaces the cache contents with a recorded list response when it
// is newer than lastUpdate. Pending mutations are overlaid on the recorded items and
// locally stored entities missing from it are kept. Recorded items without a pending
// mutation are written to the store, so everything the cache shows can be edited.
func (e *Engine[T]) seedFromColdCache(ctx context.Context, cold ColdCache) {
	url := CollectionURL(e.config.APIRoot, e.config.Resource)
	body, ok, err := cold.Lookup(ctx, url)
	if err != nil {
		e.logger.Warn("cold cache lookup failed", "url", url, "error", err)
		return
	}
	if !ok {
		return
	}
	var resp ListResponse[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		e.logger.Warn("cold cache entry is not a list response", "url", url, "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if resp.Timestamp <= e.lastUpdate {
		return
	}

	seen := make(map[int64]bool, len(resp.Data))
	seeded := make([]T, 0, len(resp.Data)+len(e.items))
	var writes []T
	for _, item := range resp.Data {
		if isNilEntity(item) || seen[item.EntityID()] {
			continue
		}
		id := item.EntityID()
		seen[id] = true
		if m, pending := e.queue.Get(id); pending {
			if m.Method == MethodDelete {
				continue
			}
			if idx := indexOf(e.items, id); idx >= 0 {
				seeded = append(seeded, e.items[idx])
				continue
			}
			item.SetSynchronized(true)
			seeded = append(seeded, item)
			continue
		}
		item.SetSynchronized(true)
		seeded = append(seeded, item)
		writes = append(writes, item)
	}
	for _, item := range writes {
		if err := e.store.save(ctx, item); err != nil {
			e.logger.Warn("failed to store cold cache item", "id", item.EntityID(), "error", err)
			return
		}
	}
	for _, local := range e.items {
		if !seen[local.EntityID()] {
			seeded = append(seeded, local)
		}
	}

	e.items = seeded
	e.lastUpdate = resp.Timestamp
	if err := e.publishLocked(); err != nil {
		e.logger.Warn("failed to publish cold cache snapshot", "error", err)
		return
	}
	e.logger.Debug("cache seeded from cold cache", "items", len(seeded), "timestamp", resp.Timestamp)
}
