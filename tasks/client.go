// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobiletoly/go-offsync/offsqlite"
	"github.com/mobiletoly/go-offsync/offsync"
)

// ClientConfig holds configuration for a SQLite-backed task client
type ClientConfig struct {
	DatabaseFile   string                                // e.g. "tasks.db" or ":memory:"
	APIRoot        string                                // e.g. "http://localhost:8080"
	Token          func(context.Context) (string, error) // Optional bearer token source
	IDPolicy       offsync.IDPolicy
	RequestTimeout time.Duration // 0 uses the offsync default
}

// Client bundles a Service with the resources it owns.
type Client struct {
	*Service
	DB *sql.DB
}

// OpenClient opens the local database, wires store, response cache, HTTP gateway
// and engine, and returns a ready Service. No network request is made.
func OpenClient(ctx context.Context, config *ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := offsqlite.Open(config.DatabaseFile)
	if err != nil {
		return nil, err
	}
	client, err := openClient(ctx, db, config, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return client, nil
}

func openClient(ctx context.Context, db *sql.DB, config *ClientConfig, logger *slog.Logger) (*Client, error) {
	store, err := offsqlite.NewStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}
	responses, err := offsqlite.NewResponseCache(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to open response cache: %w", err)
	}

	gateway := offsync.NewHTTPGateway[*Task](config.APIRoot, Resource, logger)
	gateway.Token = config.Token
	gateway.Recorder = responses

	engineConfig := offsync.DefaultConfig(Resource, config.APIRoot)
	engineConfig.IDPolicy = config.IDPolicy
	if config.RequestTimeout > 0 {
		engineConfig.RequestTimeout = config.RequestTimeout
	}
	engine, err := offsync.New[*Task](ctx, store, gateway, engineConfig,
		offsync.WithColdCache(responses),
		offsync.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task engine: %w", err)
	}
	return &Client{Service: NewService(engine, logger), DB: db}, nil
}

// Close releases the local database.
func (c *Client) Close() error {
	return c.DB.Close()
}
