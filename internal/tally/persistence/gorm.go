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
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CountModel is the GORM model for the counts table.
type CountModel struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Scope     string    `gorm:"column:scope;not null"`
	Name      string    `gorm:"column:name;not null"`
	Count     int64     `gorm:"column:count;not null"`
	BatchID   string    `gorm:"column:batch_id;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// gormBatchSize caps rows per INSERT inside the transaction.
const gormBatchSize = 500

// GormStore upserts rows through GORM using ON CONFLICT (key) DO UPDATE.
type GormStore struct {
	db    *gorm.DB
	table string
}

// NewGormStore creates a store writing into table.
func NewGormStore(db *gorm.DB, table string) *GormStore {
	if table == "" {
		table = "emoji_counts"
	}
	return &GormStore{db: db, table: table}
}

// EnsureSchema auto-migrates the counts table.
func (g *GormStore) EnsureSchema(ctx context.Context) error {
	if err := g.db.WithContext(ctx).Table(g.table).AutoMigrate(&CountModel{}); err != nil {
		return fmt.Errorf("migrate %s: %w", g.table, err)
	}
	return nil
}

// UpsertBatch writes all rows in one transaction.
func (g *GormStore) UpsertBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	models := toModels(rows)
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(models); start += gormBatchSize {
			end := start + gormBatchSize
			if end > len(models) {
				end = len(models)
			}
			chunk := models[start:end]
			if err := g.upsert(tx, chunk).Error; err != nil {
				return fmt.Errorf("upsert %s: %w", g.table, err)
			}
		}
		return nil
	})
}

// upsert builds the idempotent insert for one chunk.
func (g *GormStore) upsert(tx *gorm.DB, models []CountModel) *gorm.DB {
	return tx.Table(g.table).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"scope",
			"name",
			"count",
			"batch_id",
			"updated_at",
		}),
	}).Create(&models)
}

func toModels(rows []Row) []CountModel {
	out := make([]CountModel, len(rows))
	for i, r := range rows {
		out[i] = CountModel{Key: r.Key, Scope: r.Scope, Name: r.Name, Count: r.Count, BatchID: r.BatchID, UpdatedAt: r.FlushedAt}
	}
	return out
}

// Close closes the connection pool behind the GORM handle.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
