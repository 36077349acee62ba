// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mobiletoly/go-offsync/offsync"
)

// ErrTaskNotFound is returned for operations on ids the local store does not know.
var ErrTaskNotFound = errors.New("task not found")

// ErrEmptyTitle is returned when a task would get a blank title.
var ErrEmptyTitle = errors.New("task title cannot be empty")

// Service is the task list application layer. All edits are local and queued;
// Synchronize exchanges them with the remote collection.
type Service struct {
	engine *offsync.Engine[*Task]
	logger *slog.Logger
}

// NewService wraps an engine created for Resource.
func NewService(engine *offsync.Engine[*Task], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, logger: logger}
}

// Add creates a new open task.
func (s *Service) Add(ctx context.Context, title string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	t, err := s.engine.Create(ctx, &Task{Title: title})
	if err != nil {
		return nil, fmt.Errorf("failed to add task: %w", err)
	}
	s.logger.Debug("task added", "id", t.ID)
	return t, nil
}

// Toggle flips the done flag of the task with id.
func (s *Service) Toggle(ctx context.Context, id int64) (*Task, error) {
	return s.edit(ctx, id, func(t *Task) error {
		t.Done = !t.Done
		return nil
	})
}

// Rename changes the title of the task with id.
func (s *Service) Rename(ctx context.Context, id int64, title string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	return s.edit(ctx, id, func(t *Task) error {
		t.Title = title
		return nil
	})
}

// Remove deletes the task with id.
func (s *Service) Remove(ctx context.Context, id int64) error {
	t, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.engine.Delete(ctx, t); err != nil {
		return fmt.Errorf("failed to remove task %d: %w", id, err)
	}
	return nil
}

// List returns the tasks currently shown to the user.
func (s *Service) List() []*Task {
	return s.engine.Items()
}

// Subscribe calls fn with the task list now and after every change.
func (s *Service) Subscribe(fn func([]*Task)) *offsync.Subscription[*Task] {
	return s.engine.Subscribe(fn)
}

// Synchronize pushes local edits and pulls the remote list.
func (s *Service) Synchronize(ctx context.Context) (*offsync.SyncResult, error) {
	return s.engine.Synchronize(ctx)
}

// Pending returns the number of edits not yet acknowledged by the remote.
func (s *Service) Pending() int {
	return len(s.engine.Pending())
}

func (s *Service) get(ctx context.Context, id int64) (*Task, error) {
	t, ok, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return t, nil
}

func (s *Service) edit(ctx context.Context, id int64, fn func(*Task) error) (*Task, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	updated, err := s.engine.Update(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %d: %w", id, err)
	}
	return updated, nil
}
