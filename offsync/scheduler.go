// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Syncer is anything that can run one synchronization pass.
type Syncer interface {
	Synchronize(ctx context.Context) (*SyncResult, error)
}

// BackoffPolicy decides how long to wait before retrying after the given number of
// consecutive failed attempts (starting at 1).
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// minRetryDelay is the shortest delay the scheduler waits before a retry.
const minRetryDelay = 10 * time.Millisecond

// ExponentialBackoff doubles the delay on every failure, from Min up to Max.
// Jitter in [0,1] randomizes each delay by up to that fraction.
type ExponentialBackoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay implements BackoffPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Min
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 && d > 0 {
		j := b.Jitter
		if j > 1 {
			j = 1
		}
		d -= time.Duration(rand.Float64() * j * float64(d))
	}
	return max(d, minRetryDelay)
}

// SchedulerConfig controls when a Scheduler runs Synchronize.
type SchedulerConfig struct {
	Interval time.Duration // Periodic sync; 0 syncs only on Notify and retries
	Backoff  BackoffPolicy // Retry delay after network failures; nil disables retries
}

// DefaultSchedulerConfig syncs every minute and retries failures between 1s and 1m.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval: time.Minute,
		Backoff:  ExponentialBackoff{Min: time.Second, Max: time.Minute, Jitter: 0.2},
	}
}

// Scheduler triggers synchronization of one or more engines in the background:
// on Notify (for example when connectivity is restored), periodically, and after a
// failure following the backoff policy.
type Scheduler struct {
	syncers []Syncer
	config  *SchedulerConfig
	logger  *slog.Logger

	notify chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewScheduler creates a scheduler for syncers. Start must be called to run it.
func NewScheduler(config *SchedulerConfig, logger *slog.Logger, syncers ...Syncer) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		syncers: syncers,
		config:  config,
		logger:  logger,
		notify:  make(chan struct{}, 1),
	}
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
// An initial sync is triggered immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.Notify()
	go s.loop(ctx, s.stopped)
	return nil
}

// Stop cancels the loop and waits for the running sync, if any, to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Notify requests a sync as soon as possible. Multiple notifications received while a
// sync is running collapse into one follow-up sync.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	var tick <-chan time.Time
	if s.config.Interval > 0 {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var retry <-chan time.Time
	var retryTimer *time.Timer
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			if retryTimer != nil {
				retryTimer.Stop()
			}
			return
		case <-s.notify:
		case <-tick:
		case <-retry:
		}
		if retryTimer != nil {
			retryTimer.Stop()
			retryTimer, retry = nil, nil
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !IsRetryable(err) {
			s.logger.Error("synchronize failed, not retrying", "error", err)
		}
		if err == nil || !IsRetryable(err) || s.config.Backoff == nil {
			attempt = 0
			continue
		}
		attempt++
		delay := max(s.config.Backoff.Delay(attempt), minRetryDelay)
		s.logger.Warn("synchronize failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		retryTimer = time.NewTimer(delay)
		retry = retryTimer.C
	}
}

// runOnce synchronizes every engine, in registration order.
func (s *Scheduler) runOnce(ctx context.Context) error {
	var errs []error
	for _, syncer := range s.syncers {
		if _, err := syncer.Synchronize(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
