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
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouse has no in-place update, so counts land in a ReplacingMergeTree
// keyed by key and versioned by updated_at: background merges (or FINAL)
// keep the newest row per key, which gives the same overwrite semantics as
// the other stores.
const clickhouseSchema = `CREATE TABLE IF NOT EXISTS %s (
    key        String,
    scope      String,
    name       String,
    count      Int64,
    batch_id   String,
    updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY key`

// clickhouseBatch is the subset of driver.Batch the store needs.
type clickhouseBatch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// ClickHouseStore appends each batch through one native INSERT block.
type ClickHouseStore struct {
	table   string
	exec    func(ctx context.Context, query string) error
	prepare func(ctx context.Context, query string) (clickhouseBatch, error)
	close   func() error
}

// NewClickHouseStore wraps an open connection.
func NewClickHouseStore(conn driver.Conn, table string) *ClickHouseStore {
	s := newClickHouseStore(table)
	s.exec = func(ctx context.Context, query string) error { return conn.Exec(ctx, query) }
	s.prepare = func(ctx context.Context, query string) (clickhouseBatch, error) {
		return conn.PrepareBatch(ctx, query)
	}
	s.close = conn.Close
	return s
}

func newClickHouseStore(table string) *ClickHouseStore {
	if table == "" {
		table = "emoji_counts"
	}
	return &ClickHouseStore{table: "`" + strings.ReplaceAll(table, "`", "``") + "`"}
}

// EnsureSchema creates the table when missing.
func (c *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	if err := c.exec(ctx, fmt.Sprintf(clickhouseSchema, c.table)); err != nil {
		return fmt.Errorf("create table %s: %w", c.table, err)
	}
	return nil
}

// UpsertBatch sends rows as a single block. A failed append aborts the
// block so nothing partial is written.
func (c *ClickHouseStore) UpsertBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.prepare(ctx, "INSERT INTO "+c.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.Key, r.Scope, r.Name, r.Count, r.BatchID, r.FlushedAt); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append %q to batch: %w", r.Key, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *ClickHouseStore) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
