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

package core

import (
	"context"
	"sync"

	"tally/internal/logger"
)

// Tally is the store-facing projection of an Entry: identity, attributes and
// the count accumulated since the previous flush.
type Tally struct {
	Key   string `json:"key"`
	Scope string `json:"scope"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Store is the backing store contract required by the aggregator.
//
// BulkUpsert must be idempotent per Key: the stored count for a key is
// overwritten with the flushed Count, never added to it, so re-sending the
// same batch leaves the store unchanged. Calling it with zero records must
// be a no-op.
type Store interface {
	BulkUpsert(ctx context.Context, records []Tally) error
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, records []Tally) error

func (f StoreFunc) BulkUpsert(ctx context.Context, records []Tally) error { return f(ctx, records) }

// project converts drained entries into store records.
func project(entries []Entry) []Tally {
	out := make([]Tally, len(entries))
	for i, e := range entries {
		out[i] = Tally{Key: e.Key, Scope: e.Scope, Name: e.Name, Count: e.Count}
	}
	return out
}

// NewLogStore returns a store that writes every batch to the logger instead
// of a database. It is the default adapter for local runs.
func NewLogStore(log *logger.Logger) *LogStore {
	return &LogStore{log: log}
}

// LogStore logs batches and keeps running totals.
type LogStore struct {
	log *logger.Logger

	mu      sync.Mutex
	rows    int64
	batches int64
}

// BulkUpsert logs the batch at debug level per row and info level overall.
func (s *LogStore) BulkUpsert(ctx context.Context, records []Tally) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range records {
		s.log.Debug("upsert", "key", r.Key, "scope", r.Scope, "name", r.Name, "count", r.Count)
	}
	s.mu.Lock()
	s.rows += int64(len(records))
	s.batches++
	rows, batches := s.rows, s.batches
	s.mu.Unlock()
	s.log.Info("persisted batch", "rows", len(records), "total_rows", rows, "total_batches", batches)
	return nil
}

// Totals returns the number of rows and batches persisted so far.
func (s *LogStore) Totals() (rows, batches int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.batches
}
