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

// In-memory accumulation of keyed increment events.

package core

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the number of accumulator stripes used when none is given.
const DefaultShards = 32

// Event is one countable occurrence. Key is the identity; Scope and Name are
// descriptive attributes carried to the store unchanged.
type Event struct {
	Key   string `json:"key"`
	Scope string `json:"scope"`
	Name  string `json:"name"`
}

// Entry is the merged state for a key within the current flush cycle.
//
// Scope and Name come from the first event seen for the key in the cycle
// and are never overwritten; only Count changes.
type Entry struct {
	Key   string
	Scope string
	Name  string
	Count int64
}

// shard is one stripe of the accumulator. mu guards entries, including the
// map header itself so drain can swap it.
type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Accumulator merges events by key. It is striped so producers on different
// keys rarely contend; each stripe is a plain map behind its own mutex.
type Accumulator struct {
	shards []*shard
}

// NewAccumulator creates an empty accumulator with n stripes (DefaultShards
// when n <= 0).
func NewAccumulator(n int) *Accumulator {
	if n <= 0 {
		n = DefaultShards
	}
	a := &Accumulator{shards: make([]*shard, n)}
	for i := range a.shards {
		a.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return a
}

func (a *Accumulator) shardFor(key string) *shard {
	return a.shards[xxhash.Sum64String(key)%uint64(len(a.shards))]
}

// Add merges events and returns how many were accepted. Events with an
// empty key are skipped.
func (a *Accumulator) Add(events ...Event) int {
	accepted := 0
	for _, e := range events {
		if e.Key == "" {
			continue
		}
		s := a.shardFor(e.Key)
		s.mu.Lock()
		if cur, ok := s.entries[e.Key]; ok {
			cur.Count++
		} else {
			s.entries[e.Key] = &Entry{Key: e.Key, Scope: e.Scope, Name: e.Name, Count: 1}
		}
		s.mu.Unlock()
		accepted++
	}
	return accepted
}

// Drain takes ownership of every stripe's map, leaving empty maps behind,
// and returns the drained entries. Producers that run after a stripe has
// been swapped write into the fresh map.
func (a *Accumulator) Drain() []Entry {
	var out []Entry
	for _, s := range a.shards {
		s.mu.Lock()
		if len(s.entries) == 0 {
			s.mu.Unlock()
			continue
		}
		taken := s.entries
		s.entries = make(map[string]*Entry, len(taken))
		s.mu.Unlock()

		// taken is now private to this goroutine.
		for _, e := range taken {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of distinct keys currently accumulated.
func (a *Accumulator) Len() int {
	n := 0
	for _, s := range a.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Get returns a copy of the entry for key, if present.
func (a *Accumulator) Get(key string) (Entry, bool) {
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
