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

	"tally/internal/config"
	"tally/internal/logger"
	"tally/internal/tally/core"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var nopCloser = closerFunc(func() error { return nil })

// BuildStore constructs the adapter named by cfg.Adapter, connecting and
// creating schema where the backend needs it. The returned closer releases
// the client and must be called after the aggregator's final flush.
func BuildStore(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (core.Store, io.Closer, error) {
	switch cfg.Adapter {
	case "", "log":
		return core.NewLogStore(log.Named("store")), nopCloser, nil

	case "postgres":
		db, err := OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		pg := NewPostgresStore(db, cfg.Postgres.Table)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return wrap(pg, cfg)

	case "gorm":
		db, err := OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		gdb, err := OpenGorm(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("open gorm: %w", err)
		}
		gs := NewGormStore(gdb, cfg.Postgres.Table)
		if err := gs.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return wrap(gs, cfg)

	case "redis":
		c, err := NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, nil, err
		}
		return wrap(NewRedisStore(c, cfg.Redis.KeyPrefix, cfg.Redis.TTL), cfg)

	case "nats":
		nc, err := ConnectNATS(cfg.NATS.URL, log.Named("nats"))
		if err != nil {
			return nil, nil, err
		}
		return wrap(NewNATSStore(nc, cfg.NATS.Subject), cfg)

	case "clickhouse":
		conn, err := OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
		}
		ch := NewClickHouseStore(conn, cfg.ClickHouse.Table)
		if err := ch.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return wrap(ch, cfg)

	case "jsonl":
		js, err := NewJSONLStore(cfg.JSONL.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open jsonl %s: %w", cfg.JSONL.Path, err)
		}
		log.Info("jsonl store opened", "path", js.Path())
		return wrap(js, cfg)

	default:
		return nil, nil, fmt.Errorf("unknown store adapter: %s", cfg.Adapter)
	}
}

func wrap(w BatchWriter, cfg config.StoreConfig) (core.Store, io.Closer, error) {
	s := NewShim(w, cfg.Timeout)
	return s, s, nil
}
