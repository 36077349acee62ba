// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mobiletoly/go-offsync/internal/auth"
	"github.com/mobiletoly/go-offsync/offsync"
)

// HandlerConfig holds configuration for the collection API handler
type HandlerConfig struct {
	Resources    []string // Collections served; empty serves any resource name
	AssignIDs    bool     // Creates get a server-assigned id instead of the client id
	MaxBodyBytes int64    // Request body limit; 0 means 1 MiB
}

// Handler serves the collection API on top of a Backend.
type Handler struct {
	backend   Backend
	config    *HandlerConfig
	logger    *slog.Logger
	resources map[string]bool
	mux       *http.ServeMux
}

// NewHandler creates the handler and registers its routes.
func NewHandler(backend Backend, config *HandlerConfig, logger *slog.Logger) *Handler {
	if config == nil {
		config = &HandlerConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		backend:   backend,
		config:    config,
		logger:    logger,
		resources: make(map[string]bool, len(config.Resources)),
		mux:       http.NewServeMux(),
	}
	for _, r := range config.Resources {
		h.resources[r] = true
	}
	h.mux.HandleFunc("GET /{resource}", h.HandleList)
	h.mux.HandleFunc("POST /{resource}", h.HandleCreate)
	h.mux.HandleFunc("PUT /{resource}/{id}", h.HandleUpdate)
	h.mux.HandleFunc("DELETE /{resource}/{id}", h.HandleDelete)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// HandleList returns the whole collection and its timestamp.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}
	owner := h.owner(r)
	snap, err := h.backend.List(r.Context(), owner, resource)
	if err != nil {
		h.logger.Error("Failed to list collection", "error", err, "resource", resource, "owner", owner)
		writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list collection")
		return
	}
	items := snap.Items
	if items == nil {
		items = []json.RawMessage{}
	}
	h.writeJSON(w, http.StatusOK, offsync.ListResponse[json.RawMessage]{Data: items, Timestamp: snap.Timestamp})
}

// HandleCreate stores a new item.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, OpCreate, 0)
}

// HandleUpdate overwrites an item, creating it when it does not exist.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.handleWrite(w, r, OpUpdate, id)
}

// HandleDelete removes an item. Deleting an unknown id succeeds.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.backend.Apply(r.Context(), &Mutation{
		Owner:          h.owner(r),
		Resource:       resource,
		Op:             OpDelete,
		ID:             id,
		IdempotencyKey: r.Header.Get(offsync.HeaderIdempotencyKey),
	})
	if err != nil {
		h.writeApplyError(w, err, resource, id)
		return
	}
	h.writeJSON(w, http.StatusOK, offsync.DeleteResponse{Timestamp: res.Timestamp})
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request, op Op, id int64) {
	resource, ok := h.resource(w, r)
	if !ok {
		return
	}
	limit := h.config.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON")
		return
	}

	res, err := h.backend.Apply(r.Context(), &Mutation{
		Owner:          h.owner(r),
		Resource:       resource,
		Op:             op,
		ID:             id,
		Item:           body,
		IdempotencyKey: r.Header.Get(offsync.HeaderIdempotencyKey),
		AssignID:       op == OpCreate && h.config.AssignIDs,
	})
	if err != nil {
		h.writeApplyError(w, err, resource, id)
		return
	}
	if res.Replayed {
		h.logger.Debug("Replayed idempotent request", "resource", resource, "op", op)
	}
	status := http.StatusOK
	if op == OpCreate {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, offsync.ItemResponse[json.RawMessage]{Data: res.Item, Timestamp: res.Timestamp})
}

func (h *Handler) resource(w http.ResponseWriter, r *http.Request) (string, bool) {
	resource := r.PathValue("resource")
	if len(h.resources) > 0 && !h.resources[resource] {
		writeError(w, http.StatusNotFound, "unknown_resource", "Unknown resource "+resource)
		return "", false
	}
	return resource, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be a non-zero integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) owner(r *http.Request) string {
	owner, _ := auth.GetOwner(r.Context())
	return owner
}

func (h *Handler) writeApplyError(w http.ResponseWriter, err error, resource string, id int64) {
	if errors.Is(err, ErrInvalidItem) {
		writeError(w, http.StatusUnprocessableEntity, "invalid_item", err.Error())
		return
	}
	h.logger.Error("Failed to apply mutation", "error", err, "resource", resource, "id", id)
	writeError(w, http.StatusInternalServerError, "apply_failed", "Failed to apply mutation")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", offsync.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", offsync.ContentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(offsync.ErrorResponse{Error: errorCode, Message: message})
}
