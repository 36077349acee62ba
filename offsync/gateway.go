// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
)

// Gateway is the remote collection of one resource. Every response carries the server
// timestamp the engine uses for staleness detection.
type Gateway[T Entity] interface {
	// List fetches the full collection snapshot.
	List(ctx context.Context) (*ListResponse[T], error)
	// Create sends a new entity. idempotencyKey identifies the pending mutation.
	Create(ctx context.Context, item T, idempotencyKey string) (*ItemResponse[T], error)
	// Update sends the new state of an existing entity.
	Update(ctx context.Context, item T, idempotencyKey string) (*ItemResponse[T], error)
	// Delete removes the entity with the given id.
	Delete(ctx context.Context, id int64, idempotencyKey string) (*DeleteResponse, error)
}

// ColdCache is an opportunistic read-through cache of list responses keyed by the
// collection URL. It is consulted once, when the engine is constructed, so the UI has
// data before the first network round trip completes.
type ColdCache interface {
	// Lookup returns the cached List response body for url and false when none exists.
	Lookup(ctx context.Context, url string) ([]byte, bool, error)
}

// ResponseRecorder receives successful List response bodies from HTTPGateway.
type ResponseRecorder interface {
	Record(ctx context.Context, url string, body []byte) error
}
