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
	"errors"
	"strings"
	"testing"
	"time"

	"tally/internal/tally/core"
)

type fakeBatchWriter struct {
	batches   [][]Row
	deadlines []bool
	retErr    error
	closed    bool
}

func (f *fakeBatchWriter) UpsertBatch(ctx context.Context, rows []Row) error {
	f.batches = append(f.batches, append([]Row(nil), rows...))
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	return f.retErr
}

func (f *fakeBatchWriter) Close() error { f.closed = true; return nil }

func TestShim_BulkUpsert_MapsTally(t *testing.T) {
	impl := &fakeBatchWriter{}
	s := NewShim(impl, time.Second)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return at }
	s.newID = func() string { return "batch-1" }

	records := []core.Tally{{Key: "e1", Scope: "g1", Name: "fire", Count: 3}, {Key: "e2", Count: 1}}
	if err := s.BulkUpsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(impl.batches) != 1 {
		t.Fatalf("expected one call, got %d", len(impl.batches))
	}
	got := impl.batches[0]
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	want := Row{Key: "e1", Scope: "g1", Name: "fire", Count: 3, BatchID: "batch-1", FlushedAt: at}
	if got[0] != want {
		t.Fatalf("bad map: %+v", got[0])
	}
	if got[1].BatchID != "batch-1" || got[1].Count != 1 {
		t.Fatalf("rows of one call must share the batch id: %+v", got[1])
	}
	if !impl.deadlines[0] {
		t.Fatalf("default timeout should apply when ctx has no deadline")
	}
}

func TestShim_BatchIDsDiffer(t *testing.T) {
	impl := &fakeBatchWriter{}
	s := NewShim(impl, 0)
	r := []core.Tally{{Key: "a", Count: 1}}
	_ = s.BulkUpsert(context.Background(), r)
	_ = s.BulkUpsert(context.Background(), r)
	if impl.batches[0][0].BatchID == "" || impl.batches[0][0].BatchID == impl.batches[1][0].BatchID {
		t.Fatalf("expected distinct non-empty batch ids")
	}
	if impl.deadlines[0] {
		t.Fatalf("timeout 0 must not add a deadline")
	}
}

func TestShim_BulkUpsert_Empty(t *testing.T) {
	impl := &fakeBatchWriter{}
	s := NewShim(impl, time.Second)
	if err := s.BulkUpsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(impl.batches) != 0 {
		t.Fatalf("expected no calls")
	}
}

func TestShim_BulkUpsert_ErrorWrapped(t *testing.T) {
	sentinel := errors.New("x")
	impl := &fakeBatchWriter{retErr: sentinel}
	s := NewShim(impl, time.Second)
	s.newID = func() string { return "b9" }
	err := s.BulkUpsert(context.Background(), []core.Tally{{Key: "a", Count: 1}})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if !strings.Contains(err.Error(), "batch b9 (1 rows)") {
		t.Fatalf("error should name the batch: %v", err)
	}
}

func TestShim_Close(t *testing.T) {
	impl := &fakeBatchWriter{}
	if err := NewShim(impl, 0).Close(); err != nil || !impl.closed {
		t.Fatalf("close should reach the adapter: err=%v closed=%v", err, impl.closed)
	}
	noClose := struct{ BatchWriter }{impl}
	if err := NewShim(noClose, 0).Close(); err != nil {
		t.Fatalf("close without io.Closer should be nil, got %v", err)
	}
}
