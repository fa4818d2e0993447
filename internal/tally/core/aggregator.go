// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package core provides the core business logic for the tally service: a
// striped accumulator that merges keyed increments and an Aggregator that
// periodically writes the merged counts to a Store.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"tally/internal/logger"
	"tally/internal/tally/telemetry"
)

const (
	// DefaultFlushInterval is the cadence of the flush scheduler.
	DefaultFlushInterval = 5 * time.Second
	// DefaultFlushTimeout bounds each store call.
	DefaultFlushTimeout = 10 * time.Second
)

var (
	// ErrClosed is returned by Close when the aggregator was already closed.
	ErrClosed = errors.New("aggregator closed")
	// ErrFlushPanic wraps a panic recovered from projection or the store call.
	ErrFlushPanic = errors.New("flush panicked")
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithFlushInterval sets the scheduler cadence. Non-positive values are ignored.
func WithFlushInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithFlushTimeout bounds each store call. Zero disables the bound.
func WithFlushTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d >= 0 {
			a.timeout = d
		}
	}
}

// WithShards sets the number of accumulator stripes.
func WithShards(n int) Option {
	return func(a *Aggregator) { a.acc = NewAccumulator(n) }
}

// WithClock replaces the real clock, mainly for tests.
func WithClock(c quartz.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// Aggregator coalesces keyed increments in memory and periodically writes
// the merged counts to a Store.
//
// The scheduler is armed lazily by the first accepted event and keeps running
// until Close, including through empty cycles (which skip the store call).
// A failed flush is logged and its batch discarded; nothing is retried.
type Aggregator struct {
	acc      *Accumulator
	store    Store
	log      *logger.Logger
	clock    quartz.Clock
	interval time.Duration
	timeout  time.Duration

	// armed is the lock-free fast path for Record; mu guards the lifecycle
	// fields below it.
	armed   atomic.Bool
	stopped atomic.Bool
	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	ticker  quartz.Waiter

	// flushMu serialises scheduled cycles with the final flush in Close.
	flushMu sync.Mutex

	stats stats
}

// New creates an idle aggregator. No goroutine is started until the first
// event is recorded.
func New(store Store, log *logger.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    store,
		log:      log,
		clock:    quartz.NewReal(),
		interval: DefaultFlushInterval,
		timeout:  DefaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.acc == nil {
		a.acc = NewAccumulator(DefaultShards)
	}
	return a
}

// Record merges events into the accumulator and returns how many were
// accepted. Events with an empty key are skipped without error. Record never
// blocks on I/O and is safe for concurrent use.
//
// Events recorded concurrently with Close may miss the final flush.
func (a *Aggregator) Record(events ...Event) int {
	if a.stopped.Load() {
		a.log.Debug("record after close dropped", "events", len(events))
		return 0
	}
	accepted := a.acc.Add(events...)
	skipped := len(events) - accepted
	a.stats.recorded.Add(int64(accepted))
	a.stats.skipped.Add(int64(skipped))
	telemetry.ObserveRecord(accepted, skipped)
	if accepted > 0 {
		if telemetry.Enabled() {
			telemetry.SetPending(a.acc.Len())
		}
		a.ensureScheduler()
	}
	return accepted
}

// Pending returns the number of distinct keys waiting for the next flush.
func (a *Aggregator) Pending() int { return a.acc.Len() }

// Lookup returns the accumulated entry for key in the current cycle.
func (a *Aggregator) Lookup(key string) (Entry, bool) { return a.acc.Get(key) }

// Stats returns a snapshot of the aggregator counters.
func (a *Aggregator) Stats() Stats { return a.stats.snapshot() }

// FlushResult describes one flush cycle.
type FlushResult struct {
	// Rows is the number of keys drained from the accumulator.
	Rows int
	// Err is the store (or recovered panic) error; the rows were dropped.
	Err error
}

// flush drains the accumulator and writes the snapshot with one BulkUpsert.
// The snapshot is discarded whatever the outcome. An empty snapshot skips
// the store entirely.
func (a *Aggregator) flush(ctx context.Context) FlushResult {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	entries := a.acc.Drain()
	telemetry.SetPending(a.acc.Len())
	if len(entries) == 0 {
		return FlushResult{}
	}
	n := len(entries)
	a.stats.flushes.Add(1)

	start := a.clock.Now()
	err := a.persist(ctx, entries)
	telemetry.ObserveFlush(n, a.clock.Since(start), err)
	telemetry.SetPending(a.acc.Len())

	if err != nil {
		a.stats.failed.Add(1)
		a.stats.rowsDropped.Add(int64(n))
		a.log.Error("flush failed, batch discarded", "count", n, "error", err)
	} else {
		a.stats.rowsPersisted.Add(int64(n))
		a.log.Info("records flushed to store", "count", n)
	}
	a.log.Info("accumulator cleared")
	return FlushResult{Rows: n, Err: err}
}

// persist projects entries and calls the store outside every accumulator
// lock. Panics from projection or the store are returned as ErrFlushPanic.
func (a *Aggregator) persist(ctx context.Context, entries []Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFlushPanic, r)
		}
	}()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.store.BulkUpsert(ctx, project(entries))
}

// Close stops the scheduler, waits for an in-flight cycle to finish and
// performs a final best-effort flush bounded by ctx. It returns the final
// flush error, or ErrClosed on repeated calls.
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	a.stopped.Store(true)
	cancel, ticker := a.cancel, a.ticker
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = ticker.Wait()
	}
	res := a.flush(ctx)
	a.log.Debug("aggregator closed", "final_rows", res.Rows)
	return res.Err
}
