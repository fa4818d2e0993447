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

// Package persistence provides backing store adapters for the aggregator:
// Postgres (database/sql and GORM), Redis, NATS, ClickHouse and JSON lines.
//
// Every adapter upserts by key with overwrite semantics: the stored count
// becomes the flushed count, so replaying a batch leaves the store unchanged.
package persistence

import (
	"context"
	"time"
)

// Row is the adapter-facing shape for one key of a flushed batch.
//
// Fields:
//   - Key: identity; the upsert conflict target in every adapter
//   - Scope, Name: descriptive attributes from the first event of the cycle
//   - Count: events for Key since the previous flush
//   - BatchID: id shared by every row of one BulkUpsert call; adapters that
//     support de-duplication (NATS JetStream) derive message ids from it
//   - FlushedAt: time the batch was handed to the adapter (UTC)
type Row struct {
	Key       string    `json:"key"`
	Scope     string    `json:"scope,omitempty"`
	Name      string    `json:"name,omitempty"`
	Count     int64     `json:"count"`
	BatchID   string    `json:"batch_id"`
	FlushedAt time.Time `json:"flushed_at"`
}

// BatchWriter is the minimal API implemented by all adapters.
//
// UpsertBatch must be safe to retry with the same rows and must treat an
// empty slice as a no-op.
type BatchWriter interface {
	UpsertBatch(ctx context.Context, rows []Row) error
}
