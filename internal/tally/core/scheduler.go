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

package core

import "context"

// ensureScheduler arms the flush ticker once.
func (a *Aggregator) ensureScheduler() {
	if a.armed.Load() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.armed.Load() || a.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.ticker = a.clock.TickerFunc(ctx, a.interval, a.tick, "aggregator", "flush")
	a.armed.Store(true)
	a.log.Debug("flush scheduler armed", "interval", a.interval)
}

// tick is the ticker callback. It always returns nil so a bad cycle never
// stops the ticker.
func (a *Aggregator) tick() error {
	defer func() {
		if r := recover(); r != nil {
			a.stats.failed.Add(1)
			a.log.Error("flush cycle panicked", "panic", r)
		}
	}()
	a.flush(context.Background())
	return nil
}
