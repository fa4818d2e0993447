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

// Package integration contains tests spanning the aggregator, the store shim
// and a real adapter.
package integration

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	redis "github.com/redis/go-redis/v9"

	"tally/internal/logger"
	"tally/internal/tally/core"
	"tally/internal/tally/persistence"
)

// countingWriter sums flushed counts per key across batches.
type countingWriter struct {
	mu      sync.Mutex
	rows    int
	batches int
	perKey  map[string]int64
}

func (w *countingWriter) UpsertBatch(_ context.Context, rows []persistence.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.perKey == nil {
		w.perKey = make(map[string]int64)
	}
	w.batches++
	w.rows += len(rows)
	for _, r := range rows {
		w.perKey[r.Key] += r.Count
	}
	return nil
}

// driveHotKeyWorkload records total events, hotShare of them on hotKey and
// the rest spread over coldKeys, advancing the clock by one flush interval
// every tickEvery events.
func driveHotKeyWorkload(t *testing.T, a *core.Aggregator, mClock *quartz.Mock, total, tickEvery int, hotShare float64, hotKey string, coldKeys []string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rng := rand.New(rand.NewSource(42))
	for i := 1; i <= total; i++ {
		key := hotKey
		if rng.Float64() >= hotShare {
			key = coldKeys[rng.Intn(len(coldKeys))]
		}
		a.Record(core.Event{Key: key, Scope: "g1", Name: "emoji"})
		if i%tickEvery == 0 {
			mClock.Advance(core.DefaultFlushInterval).MustWait(ctx)
		}
	}
}

func coldKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = "cold-" + strconv.Itoa(i)
	}
	return keys
}

// TestWriteReduction_HotKey compares rows written by the aggregator with the
// one-write-per-event baseline on an 80/20 workload, and checks that no
// increment is lost across flushes.
func TestWriteReduction_HotKey(t *testing.T) {
	w := &countingWriter{}
	mClock := quartz.NewMock(t)
	a := core.New(persistence.NewShim(w, time.Second), logger.Nop(), core.WithClock(mClock))

	const total = 20000
	driveHotKeyWorkload(t, a, mClock, total, 1000, 0.8, "hot", coldKeys(20))
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	var sum int64
	for _, n := range w.perKey {
		sum += n
	}
	if sum != total {
		t.Fatalf("persisted %d increments, want %d", sum, total)
	}
	wr := 1 - float64(w.rows)/float64(total)
	if wr < 0.95 {
		t.Fatalf("write reduction %.3f (rows=%d batches=%d), want >= 0.95", wr, w.rows, w.batches)
	}
	stats := a.Stats()
	if got, ok := stats.WriteReduction(); !ok || got < 0.95 {
		t.Fatalf("stats write reduction = %v,%v", got, ok)
	}
	if stats.RowsPersisted != int64(w.rows) || stats.Failed != 0 {
		t.Fatalf("stats = %+v, writer rows = %d", stats, w.rows)
	}
}

// TestRedisStore_OverwritesPerCycle runs two cycles for one key through the
// Redis adapter: the hash holds the latest cycle's count, not the sum.
func TestRedisStore_OverwritesPerCycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := persistence.NewShim(persistence.NewRedisStore(client, "it", 0), time.Second)
	defer store.Close()

	mClock := quartz.NewMock(t)
	a := core.New(store, logger.Nop(), core.WithClock(mClock))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.Record(core.Event{Key: "111", Scope: "g1", Name: "fire"}, core.Event{Key: "111"}, core.Event{Key: "111"})
	mClock.Advance(core.DefaultFlushInterval).MustWait(ctx)
	if got := mr.HGet("it:count:111", "count"); got != "3" {
		t.Fatalf("after first cycle count = %q, want 3", got)
	}

	a.Record(core.Event{Key: "111", Scope: "g1", Name: "fire"})
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := mr.HGet("it:count:111", "count"); got != "1" {
		t.Fatalf("after final flush count = %q, want 1", got)
	}
}
