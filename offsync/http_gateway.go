// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPGateway talks to a JSON collection endpoint at {APIRoot}/{Resource}.
type HTTPGateway[T Entity] struct {
	APIRoot  string
	Resource string
	HTTP     *http.Client
	Token    func(context.Context) (string, error) // optional bearer token source
	Recorder ResponseRecorder                      // optional, receives List bodies
	logger   *slog.Logger
}

// NewHTTPGateway creates a gateway for resource under apiRoot (e.g. "https://api.example.com/v1").
func NewHTTPGateway[T Entity](apiRoot, resource string, logger *slog.Logger) *HTTPGateway[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway[T]{
		APIRoot:  strings.TrimRight(apiRoot, "/"),
		Resource: resource,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// CollectionURL returns the collection URL, which is also the cold cache key.
func (g *HTTPGateway[T]) CollectionURL() string {
	return CollectionURL(g.APIRoot, g.Resource)
}

// CollectionURL joins apiRoot and resource the way HTTPGateway does.
func CollectionURL(apiRoot, resource string) string {
	return strings.TrimRight(apiRoot, "/") + "/" + resource
}

func (g *HTTPGateway[T]) itemURL(id int64) string {
	return g.CollectionURL() + "/" + strconv.FormatInt(id, 10)
}

func (g *HTTPGateway[T]) List(ctx context.Context) (*ListResponse[T], error) {
	url := g.CollectionURL()
	body, err := g.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	var resp ListResponse[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode list response: %w", ErrNetworkFailure, err)
	}
	if g.Recorder != nil {
		if err := g.Recorder.Record(ctx, url, body); err != nil {
			g.logger.Warn("failed to record list response", "url", url, "error", err)
		}
	}
	return &resp, nil
}

func (g *HTTPGateway[T]) Create(ctx context.Context, item T, idempotencyKey string) (*ItemResponse[T], error) {
	return g.sendItem(ctx, http.MethodPost, g.CollectionURL(), item, idempotencyKey)
}

func (g *HTTPGateway[T]) Update(ctx context.Context, item T, idempotencyKey string) (*ItemResponse[T], error) {
	return g.sendItem(ctx, http.MethodPut, g.itemURL(item.EntityID()), item, idempotencyKey)
}

func (g *HTTPGateway[T]) Delete(ctx context.Context, id int64, idempotencyKey string) (*DeleteResponse, error) {
	body, err := g.do(ctx, http.MethodDelete, g.itemURL(id), nil, idempotencyKey)
	if err != nil {
		return nil, err
	}
	var resp DeleteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode delete response: %w", ErrNetworkFailure, err)
	}
	return &resp, nil
}

func (g *HTTPGateway[T]) sendItem(ctx context.Context, method, url string, item T, idempotencyKey string) (*ItemResponse[T], error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", g.Resource, err)
	}
	body, err := g.do(ctx, method, url, payload, idempotencyKey)
	if err != nil {
		return nil, err
	}
	var resp ItemResponse[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s response: %w", ErrNetworkFailure, method, err)
	}
	return &resp, nil
}

// do issues one request and returns the response body of a 2xx answer.
func (g *HTTPGateway[T]) do(ctx context.Context, method, url string, payload []byte, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set(HeaderContentType, ContentTypeJSON)
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}
	if g.Token != nil {
		token, err := g.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get token: %w", err)
		}
		if token != "" {
			req.Header.Set(HeaderAuthorization, "Bearer "+token)
		}
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetworkFailure, method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s response: %w", ErrNetworkFailure, method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
