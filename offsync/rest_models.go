// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

// REST/JSON models of the remote collection API

// ListResponse is the body of GET /{resource} and the payload of the cold cache.
type ListResponse[T any] struct {
	Data      []T   `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// ItemResponse is the body of POST /{resource} and PUT /{resource}/{id}.
type ItemResponse[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// DeleteResponse is the body of DELETE /{resource}/{id}.
type DeleteResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
