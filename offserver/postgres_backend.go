// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig tunes PostgresBackend.
type PostgresConfig struct {
	MaxRetries int           // Attempts after a serialization failure or deadlock
	RetryDelay time.Duration // Base delay between attempts, doubled each time
}

// DefaultPostgresConfig returns the default retry settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{MaxRetries: 5, RetryDelay: 20 * time.Millisecond}
}

// PostgresBackend stores collections in PostgreSQL. It does not own the pool.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	config *PostgresConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresBackend creates the backend tables if needed.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool, config *PostgresConfig, logger *slog.Logger) (*PostgresBackend, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &PostgresBackend{pool: pool, config: config, logger: logger, now: time.Now}
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return b.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize offsync schema: %w", err)
	}
	logger.Debug("offsync schema initialized")
	return b, nil
}

func (b *PostgresBackend) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS offsync_collections (
			owner    TEXT   NOT NULL,
			resource TEXT   NOT NULL,
			last_ts  BIGINT NOT NULL DEFAULT 0,
			next_id  BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (owner, resource)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS offsync_items (
			owner      TEXT        NOT NULL,
			resource   TEXT        NOT NULL,
			id         BIGINT      NOT NULL,
			payload    JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner, resource, id)
		)`,
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS offsync_idempotency (
			owner      TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			resource   TEXT        NOT NULL,
			item       JSONB,
			ts         BIGINT      NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner, key)
		)`,
	}
	for _, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) List(ctx context.Context, owner, resource string) (*Snapshot, error) {
	snap := &Snapshot{}
	err := pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT last_ts FROM offsync_collections WHERE owner = $1 AND resource = $2`,
			owner, resource).Scan(&snap.Timestamp)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read collection timestamp: %w", err)
		}

		rows, err := tx.Query(ctx,
			`SELECT payload FROM offsync_items WHERE owner = $1 AND resource = $2 ORDER BY id`,
			owner, resource)
		if err != nil {
			return fmt.Errorf("failed to query items: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var payload []byte
			if err := rows.Scan(&payload); err != nil {
				return fmt.Errorf("failed to scan item: %w", err)
			}
			snap.Items = append(snap.Items, payload)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Apply runs the mutation in its own transaction, retrying serialization failures
// and deadlocks with exponential backoff.
func (b *PostgresBackend) Apply(ctx context.Context, m *Mutation) (*Result, error) {
	if err := normalize(m); err != nil {
		return nil, err
	}
	var res *Result
	err := retryTx(ctx, b.config, func(attempt int) error {
		if attempt > 0 {
			b.logger.Debug("retrying mutation after transaction conflict",
				"resource", m.Resource, "id", m.ID, "attempt", attempt)
		}
		var err error
		res, err = b.applyOnce(ctx, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *PostgresBackend) applyOnce(ctx context.Context, m *Mutation) (*Result, error) {
	// Work on a copy so a retried attempt starts from the caller's mutation.
	mut := *m
	var res *Result
	err := pgx.BeginTxFunc(ctx, b.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		_, _ = tx.Exec(ctx, "SET LOCAL lock_timeout = '3s'")

		if _, err := tx.Exec(ctx, `
			INSERT INTO offsync_collections (owner, resource) VALUES ($1, $2)
			ON CONFLICT (owner, resource) DO NOTHING`, mut.Owner, mut.Resource); err != nil {
			return fmt.Errorf("failed to ensure collection: %w", err)
		}
		var lastTS, nextID int64
		if err := tx.QueryRow(ctx, `
			SELECT last_ts, next_id FROM offsync_collections
			WHERE owner = $1 AND resource = $2
			FOR UPDATE`, mut.Owner, mut.Resource).Scan(&lastTS, &nextID); err != nil {
			return fmt.Errorf("failed to lock collection: %w", err)
		}

		// The collection row lock serializes writers, so the idempotency lookup is stable.
		if mut.IdempotencyKey != "" {
			var item []byte
			var ts int64
			err := tx.QueryRow(ctx,
				`SELECT item, ts FROM offsync_idempotency WHERE owner = $1 AND key = $2`,
				mut.Owner, mut.IdempotencyKey).Scan(&item, &ts)
			if err == nil {
				res = &Result{Item: item, Timestamp: ts, Replayed: true}
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to check idempotency key: %w", err)
			}
		}

		res = &Result{}
		switch mut.Op {
		case OpCreate, OpUpdate:
			if mut.Op == OpCreate && mut.AssignID {
				nextID++
				mut.ID = nextID
				item, err := withID(mut.Item, mut.ID)
				if err != nil {
					return err
				}
				mut.Item = item
			} else if mut.ID > nextID {
				nextID = mut.ID
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO offsync_items (owner, resource, id, payload) VALUES ($1, $2, $3, $4::jsonb)
				ON CONFLICT (owner, resource, id) DO UPDATE SET payload = excluded.payload, updated_at = now()`,
				mut.Owner, mut.Resource, mut.ID, string(mut.Item)); err != nil {
				return fmt.Errorf("failed to upsert item %d: %w", mut.ID, err)
			}
			res.Item = mut.Item
		case OpDelete:
			tag, err := tx.Exec(ctx,
				`DELETE FROM offsync_items WHERE owner = $1 AND resource = $2 AND id = $3`,
				mut.Owner, mut.Resource, mut.ID)
			if err != nil {
				return fmt.Errorf("failed to delete item %d: %w", mut.ID, err)
			}
			if tag.RowsAffected() == 0 {
				// Unknown id: acknowledged without changing the collection.
				res.Timestamp = lastTS
				return nil
			}
		}

		res.Timestamp = nextTimestamp(b.now(), lastTS)
		if _, err := tx.Exec(ctx, `
			UPDATE offsync_collections SET last_ts = $3, next_id = $4
			WHERE owner = $1 AND resource = $2`,
			mut.Owner, mut.Resource, res.Timestamp, nextID); err != nil {
			return fmt.Errorf("failed to advance collection timestamp: %w", err)
		}

		if mut.IdempotencyKey != "" {
			var item any
			if res.Item != nil {
				item = string(res.Item)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO offsync_idempotency (owner, key, resource, item, ts) VALUES ($1, $2, $3, $4::jsonb, $5)`,
				mut.Owner, mut.IdempotencyKey, mut.Resource, item, res.Timestamp); err != nil {
				return fmt.Errorf("failed to record idempotency key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
