// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// entityStore is the typed adapter over Store for one resource. Every failure other
// than a missing key is reported as ErrStorageUnavailable.
type entityStore[T Entity] struct {
	store    Store
	resource string
}

func newEntityStore[T Entity](store Store, resource string) *entityStore[T] {
	return &entityStore[T]{store: store, resource: resource}
}

func (s *entityStore[T]) prefix() string {
	return s.resource + "."
}

func (s *entityStore[T]) key(id int64) string {
	return s.prefix() + strconv.FormatInt(id, 10)
}

// get returns the stored entity and false when it does not exist.
func (s *entityStore[T]) get(ctx context.Context, id int64) (T, bool, error) {
	var zero T
	key := s.key(id)
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, storageErr("get", key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, storageErr("decode", key, err)
	}
	return v, true, nil
}

func (s *entityStore[T]) save(ctx context.Context, v T) error {
	key := s.key(v.EntityID())
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, data); err != nil {
		return storageErr("set", key, err)
	}
	return nil
}

func (s *entityStore[T]) remove(ctx context.Context, id int64) error {
	key := s.key(id)
	if err := s.store.Remove(ctx, key); err != nil {
		return storageErr("remove", key, err)
	}
	return nil
}

// all returns every stored entity of the resource ordered by id.
func (s *entityStore[T]) all(ctx context.Context) ([]T, error) {
	records, err := s.store.Scan(ctx, s.prefix())
	if err != nil {
		return nil, storageErr("scan", s.prefix(), err)
	}
	items := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, storageErr("decode", rec.Key, err)
		}
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].EntityID() < items[j].EntityID() })
	return items, nil
}
