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

	redis "github.com/redis/go-redis/v9"
)

// RedisStore writes each row as a hash and indexes keys per scope:
//
//	HSET <prefix>:count:<key> scope <scope> name <name> count <n> batch_id <id> updated_at <unix ms>
//	SADD <prefix>:scope:<scope> <key>
//	EXPIRE <prefix>:count:<key> <ttl>   (only when ttl > 0)
//
// HSET overwrites, so replaying a batch is a no-op. The whole batch runs in
// one MULTI/EXEC pipeline to keep it to a single round trip.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store using client. An empty prefix defaults to
// "tally"; ttl <= 0 keeps hashes forever.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "tally"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Keys layout helpers (public for readers of the same data).
func RedisCountKey(prefix, key string) string   { return fmt.Sprintf("%s:count:%s", prefix, key) }
func RedisScopeKey(prefix, scope string) string { return fmt.Sprintf("%s:scope:%s", prefix, scope) }

// UpsertBatch applies rows in a single transaction pipeline.
func (r *RedisStore) UpsertBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, row := range rows {
			k := RedisCountKey(r.prefix, row.Key)
			p.HSet(ctx, k,
				"scope", row.Scope,
				"name", row.Name,
				"count", row.Count,
				"batch_id", row.BatchID,
				"updated_at", row.FlushedAt.UnixMilli(),
			)
			if r.ttl > 0 {
				p.Expire(ctx, k, r.ttl)
			}
			if row.Scope != "" {
				p.SAdd(ctx, RedisScopeKey(r.prefix, row.Scope), row.Key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline (%d rows): %w", len(rows), err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error { return r.client.Close() }
