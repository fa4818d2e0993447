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
)

type fakeCHBatch struct {
	rows    [][]any
	failAt  int // 1-based append index, 0 = never
	sendErr error
	sent    bool
	aborted bool
}

func (b *fakeCHBatch) Append(v ...any) error {
	b.rows = append(b.rows, v)
	if b.failAt > 0 && len(b.rows) == b.failAt {
		return errors.New("bad column")
	}
	return nil
}
func (b *fakeCHBatch) Send() error  { b.sent = true; return b.sendErr }
func (b *fakeCHBatch) Abort() error { b.aborted = true; return nil }

func newFakeClickHouse(batch *fakeCHBatch, prepErr error) (*ClickHouseStore, *[]string) {
	var queries []string
	s := newClickHouseStore("counts")
	s.exec = func(_ context.Context, q string) error {
		queries = append(queries, q)
		return nil
	}
	s.prepare = func(_ context.Context, q string) (clickhouseBatch, error) {
		queries = append(queries, q)
		if prepErr != nil {
			return nil, prepErr
		}
		return batch, nil
	}
	return s, &queries
}

func TestClickHouseStore_Upsert(t *testing.T) {
	b := &fakeCHBatch{}
	s, queries := newFakeClickHouse(b, nil)
	if err := s.UpsertBatch(context.Background(), sampleRows(3)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(*queries) != 1 || (*queries)[0] != "INSERT INTO `counts`" {
		t.Fatalf("unexpected queries: %v", *queries)
	}
	if len(b.rows) != 3 || !b.sent || b.aborted {
		t.Fatalf("rows=%d sent=%v aborted=%v", len(b.rows), b.sent, b.aborted)
	}
	if b.rows[2][0] != "e3" || b.rows[2][3] != int64(3) {
		t.Fatalf("unexpected row: %v", b.rows[2])
	}
}

func TestClickHouseStore_EmptyDoesNotPrepare(t *testing.T) {
	s, queries := newFakeClickHouse(&fakeCHBatch{}, nil)
	if err := s.UpsertBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(*queries) != 0 {
		t.Fatalf("empty batch must not reach clickhouse")
	}
}

func TestClickHouseStore_Errors(t *testing.T) {
	s, _ := newFakeClickHouse(nil, errors.New("conn refused"))
	if err := s.UpsertBatch(context.Background(), sampleRows(1)); err == nil || !strings.Contains(err.Error(), "prepare") {
		t.Fatalf("expected prepare error, got %v", err)
	}

	b := &fakeCHBatch{failAt: 2}
	s, _ = newFakeClickHouse(b, nil)
	if err := s.UpsertBatch(context.Background(), sampleRows(3)); err == nil {
		t.Fatalf("expected append error")
	}
	if !b.aborted || b.sent {
		t.Fatalf("failed append must abort without sending")
	}

	b = &fakeCHBatch{sendErr: errors.New("timeout")}
	s, _ = newFakeClickHouse(b, nil)
	if err := s.UpsertBatch(context.Background(), sampleRows(1)); err == nil || !strings.Contains(err.Error(), "send") {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestClickHouseStore_EnsureSchema(t *testing.T) {
	s, queries := newFakeClickHouse(nil, nil)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	q := (*queries)[0]
	if !strings.Contains(q, "CREATE TABLE IF NOT EXISTS `counts`") || !strings.Contains(q, "ReplacingMergeTree(updated_at)") {
		t.Fatalf("unexpected ddl: %s", q)
	}
	if s.Close() != nil {
		t.Fatalf("close without conn should be a no-op")
	}
}
