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

package persistence

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"tally/internal/tally/core"
)

// Shim adapts a BatchWriter to core.Store. It stamps each batch with a
// random batch id and the flush time, and bounds the call with a default
// timeout when the caller's context has none.
type Shim struct {
	impl           BatchWriter
	defaultTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// NewShim wraps impl. A non-positive timeout disables the default bound.
func NewShim(impl BatchWriter, defaultTimeout time.Duration) *Shim {
	return &Shim{
		impl:           impl,
		defaultTimeout: defaultTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

// BulkUpsert maps core.Tally -> Row and forwards to the adapter.
func (s *Shim) BulkUpsert(ctx context.Context, records []core.Tally) error {
	if len(records) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && s.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.defaultTimeout)
		defer cancel()
	}
	id := s.newID()
	at := s.now()
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = Row{Key: r.Key, Scope: r.Scope, Name: r.Name, Count: r.Count, BatchID: id, FlushedAt: at}
	}
	if err := s.impl.UpsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("batch %s (%d rows): %w", id, len(rows), err)
	}
	return nil
}

// Close releases the adapter's client when it holds one.
func (s *Shim) Close() error {
	if c, ok := s.impl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
