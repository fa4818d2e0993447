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
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// MsgPublisher is the part of *nats.Conn the store uses.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// CountMessage is the JSON body published for every row.
type CountMessage struct {
	Key      string `json:"key"`
	Scope    string `json:"scope,omitempty"`
	Name     string `json:"name,omitempty"`
	Count    int64  `json:"count"`
	BatchID  string `json:"batch_id"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}

// NATSStore publishes one message per row on subject. Consumers own the
// upsert; the Nats-Msg-Id header (<batch>:<key>) lets a JetStream stream
// dedupe replays.
type NATSStore struct {
	pub     MsgPublisher
	subject string
	drain   func() error
}

// NewNATSStore publishes through conn.
func NewNATSStore(conn *nats.Conn, subject string) *NATSStore {
	s := NewNATSStoreWithPublisher(conn, subject)
	s.drain = conn.Drain
	return s
}

// NewNATSStoreWithPublisher accepts any publisher (tests use a fake).
func NewNATSStoreWithPublisher(pub MsgPublisher, subject string) *NATSStore {
	if subject == "" {
		subject = "tally.counts"
	}
	return &NATSStore{pub: pub, subject: subject}
}

// UpsertBatch publishes every row then flushes the connection so the call
// only returns once the server has seen the batch.
func (n *NATSStore) UpsertBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		b, err := json.Marshal(CountMessage{
			Key:      r.Key,
			Scope:    r.Scope,
			Name:     r.Name,
			Count:    r.Count,
			BatchID:  r.BatchID,
			TsUnixMs: r.FlushedAt.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("marshal nats message: %w", err)
		}
		msg := nats.NewMsg(n.subject)
		msg.Data = b
		msg.Header.Set(nats.MsgIdHdr, r.BatchID+":"+r.Key)
		msg.Header.Set("Content-Type", "application/json")
		if err := n.pub.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish key=%s batch=%s: %w", r.Key, r.BatchID, err)
		}
	}
	if err := n.pub.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close drains the connection when the store owns one.
func (n *NATSStore) Close() error {
	if n.drain == nil {
		return nil
	}
	return n.drain()
}
