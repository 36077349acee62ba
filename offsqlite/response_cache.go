// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mobiletoly/go-offsync/offsync"
)

// ResponseCache keeps the last successful list response per collection URL.
// HTTPGateway writes to it through Record; engines read it once at construction
// through Lookup.
type ResponseCache struct {
	db      *sql.DB
	writeMu sync.Mutex
}

var (
	_ offsync.ColdCache        = (*ResponseCache)(nil)
	_ offsync.ResponseRecorder = (*ResponseCache)(nil)
)

// NewResponseCache prepares db for use as a response cache.
func NewResponseCache(ctx context.Context, db *sql.DB) (*ResponseCache, error) {
	if err := initializeDatabase(ctx, db); err != nil {
		return nil, err
	}
	return &ResponseCache{db: db}, nil
}

func (c *ResponseCache) Lookup(ctx context.Context, url string) ([]byte, bool, error) {
	var body []byte
	err := c.db.QueryRowContext(ctx, `SELECT body FROM offsync_responses WHERE url = ?`, url).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached response for %s: %w", url, err)
	}
	return body, true, nil
}

func (c *ResponseCache) Record(ctx context.Context, url string, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO offsync_responses (url, body) VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET
			body = excluded.body,
			stored_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, url, body)
	if err != nil {
		return fmt.Errorf("failed to cache response for %s: %w", url, err)
	}
	return nil
}

// Invalidate drops the cached response for url.
func (c *ResponseCache) Invalidate(ctx context.Context, url string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM offsync_responses WHERE url = ?`, url); err != nil {
		return fmt.Errorf("failed to invalidate cached response for %s: %w", url, err)
	}
	return nil
}
