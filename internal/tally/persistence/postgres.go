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
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Postgres schema (created by EnsureSchema):
//
//	CREATE TABLE IF NOT EXISTS emoji_counts (
//	  key        TEXT PRIMARY KEY,
//	  scope      TEXT NOT NULL DEFAULT '',
//	  name       TEXT NOT NULL DEFAULT '',
//	  count      BIGINT NOT NULL,
//	  batch_id   TEXT NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	);
//
// Upsert per chunk, inside one transaction per batch:
//
//	INSERT INTO emoji_counts(key, scope, name, count, batch_id, updated_at)
//	  VALUES ($1,$2,$3,$4,$5,$6), ...
//	  ON CONFLICT (key) DO UPDATE SET scope = EXCLUDED.scope, name = EXCLUDED.name,
//	    count = EXCLUDED.count, batch_id = EXCLUDED.batch_id, updated_at = EXCLUDED.updated_at;
//
// Keys within a batch are unique (they come from one accumulator drain), so
// a multi-row ON CONFLICT never touches the same row twice.

const postgresColumns = 6

// postgresChunkRows keeps each statement well under the 65535 bind
// parameter limit.
const postgresChunkRows = 1000

// PostgresStore upserts rows through database/sql (pgx stdlib driver in
// production).
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore creates a store writing into table (quoted as an
// identifier).
func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = "emoji_counts"
	}
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize()}
}

// EnsureSchema creates the table when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + p.table + ` (
  key        TEXT PRIMARY KEY,
  scope      TEXT NOT NULL DEFAULT '',
  name       TEXT NOT NULL DEFAULT '',
  count      BIGINT NOT NULL,
  batch_id   TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// UpsertBatch applies rows within a single transaction.
func (p *PostgresStore) UpsertBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	// Ensure rollback on any failure.
	defer func() {
		_ = tx.Rollback()
	}()

	for start := 0; start < len(rows); start += postgresChunkRows {
		end := start + postgresChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		query, args := p.upsertStatement(rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s rows %d..%d: %w", p.table, start, end-1, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) upsertStatement(rows []Row) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(rows)*postgresColumns)
	b.WriteString("INSERT INTO ")
	b.WriteString(p.table)
	b.WriteString(" (key, scope, name, count, batch_id, updated_at) VALUES ")
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * postgresColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, r.Key, r.Scope, r.Name, r.Count, r.BatchID, r.FlushedAt)
	}
	b.WriteString(" ON CONFLICT (key) DO UPDATE SET scope = EXCLUDED.scope, name = EXCLUDED.name," +
		" count = EXCLUDED.count, batch_id = EXCLUDED.batch_id, updated_at = EXCLUDED.updated_at")
	return b.String(), args
}

// Close closes the underlying pool.
func (p *PostgresStore) Close() error { return p.db.Close() }
