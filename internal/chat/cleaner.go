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

package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"tally/internal/logger"
)

// DefaultCleanDelay is used for items that do not carry their own delay.
const DefaultCleanDelay = 5 * time.Second

// Deleter removes a message from the chat platform.
type Deleter interface {
	Delete(ctx context.Context, msg Message) error
}

// DeleterFunc adapts a function to Deleter.
type DeleterFunc func(ctx context.Context, msg Message) error

func (f DeleterFunc) Delete(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogDeleter only logs deletions. It stands in for a platform client when
// the service runs without one.
type LogDeleter struct{ Log *logger.Logger }

func (d LogDeleter) Delete(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Log.Info("delete message", "message_id", msg.ID, "guild_id", msg.GuildID, "channel_id", msg.ChannelID)
	return nil
}

// Deletable is a message scheduled for deletion. A nil Delay means the
// cleaner's default; zero deletes immediately.
type Deletable struct {
	Message Message
	Delay   *time.Duration
}

// After schedules msg for deletion after d.
func After(msg Message, d time.Duration) Deletable {
	return Deletable{Message: msg, Delay: &d}
}

// CleanResult summarises one Clean call.
type CleanResult struct {
	Deleted int
	Failed  int
	Guilds  []string // distinct guild ids of deleted messages, sorted
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithDefaultDelay overrides DefaultCleanDelay. Negative values are ignored.
func WithDefaultDelay(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithCleanerClock replaces the real clock, mainly for tests.
func WithCleanerClock(clk quartz.Clock) CleanerOption {
	return func(c *Cleaner) { c.clock = clk }
}

// Cleaner deletes messages after a delay.
type Cleaner struct {
	deleter Deleter
	log     *logger.Logger
	clock   quartz.Clock
	delay   time.Duration

	wg sync.WaitGroup
}

// NewCleaner returns a cleaner deleting through d.
func NewCleaner(d Deleter, log *logger.Logger, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{deleter: d, log: log, clock: quartz.NewReal(), delay: DefaultCleanDelay}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clean deletes every item after its own delay and blocks until all of them
// are done. Failures are logged and counted, never returned. A single item
// is logged at debug level; several items produce one info line with the
// count and the guilds involved.
func (c *Cleaner) Clean(ctx context.Context, items ...Deletable) CleanResult {
	if len(items) == 0 {
		return CleanResult{}
	}
	var (
		g      errgroup.Group
		mu     sync.Mutex
		res    CleanResult
		guilds = make(map[string]struct{})
	)
	for _, it := range items {
		g.Go(func() error {
			err := c.deleteAfter(ctx, it)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				return err
			}
			res.Deleted++
			if it.Message.GuildID != "" {
				guilds[it.Message.GuildID] = struct{}{}
			}
			return nil
		})
	}
	_ = g.Wait()

	for id := range guilds {
		res.Guilds = append(res.Guilds, id)
	}
	sort.Strings(res.Guilds)

	switch {
	case len(items) == 1 && res.Deleted == 1:
		c.log.Debug("message deleted", "message_id", items[0].Message.ID)
	case len(items) > 1 && res.Deleted > 0:
		c.log.Info("messages cleaned", "count", res.Deleted, "guilds", res.Guilds)
	}
	return res
}

// CleanAsync runs Clean in the background. Wait blocks until every pending
// call has returned.
func (c *Cleaner) CleanAsync(ctx context.Context, items ...Deletable) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Clean(ctx, items...)
	}()
}

// Wait blocks until all CleanAsync calls have finished.
func (c *Cleaner) Wait() { c.wg.Wait() }

func (c *Cleaner) deleteAfter(ctx context.Context, it Deletable) error {
	d := c.delay
	if it.Delay != nil {
		d = *it.Delay
	}
	if d > 0 {
		t := c.clock.NewTimer(d, "cleaner", "delete")
		select {
		case <-ctx.Done():
			t.Stop()
			c.log.Debug("message cleanup canceled", "message_id", it.Message.ID)
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := c.deleter.Delete(ctx, it.Message); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("message delete failed", "message_id", it.Message.ID, "error", err)
		}
		return err
	}
	return nil
}
