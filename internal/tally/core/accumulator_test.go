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

// Unit tests for the accumulator stripes.

package core

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

// TestAccumulator_MergeCounts verifies that counts equal the number of events
// per key and that empty keys are skipped and not counted.
func TestAccumulator_MergeCounts(t *testing.T) {
	acc := NewAccumulator(4)
	events := []Event{
		{Key: "a", Name: "alpha"},
		{Key: "b", Name: "beta"},
		{Key: ""},
		{Key: "a", Name: "alpha"},
		{Key: "c"},
		{Key: "a"},
	}
	if got := acc.Add(events...); got != 5 {
		t.Fatalf("accepted = %d, want 5", got)
	}
	want := map[string]int64{"a": 3, "b": 1, "c": 1}
	for k, n := range want {
		e, ok := acc.Get(k)
		if !ok || e.Count != n {
			t.Fatalf("key %s: got (%+v,%v), want count %d", k, e, ok, n)
		}
	}
	if acc.Len() != 3 {
		t.Fatalf("Len = %d, want 3", acc.Len())
	}
	if _, ok := acc.Get(""); ok {
		t.Fatalf("empty key must never be stored")
	}
}

// TestAccumulator_FirstSeenAttributesKept ensures later events only bump the
// count and never rewrite the descriptive fields.
func TestAccumulator_FirstSeenAttributesKept(t *testing.T) {
	acc := NewAccumulator(1)
	acc.Add(Event{Key: "e1", Scope: "g1", Name: "fire"})
	acc.Add(Event{Key: "e1", Scope: "g2", Name: "renamed"})
	e, _ := acc.Get("e1")
	if e.Scope != "g1" || e.Name != "fire" || e.Count != 2 {
		t.Fatalf("got %+v, want scope=g1 name=fire count=2", e)
	}
}

// TestAccumulator_DrainEmptiesAndReturnsAll checks that Drain hands over every
// entry exactly once and leaves the accumulator usable.
func TestAccumulator_DrainEmptiesAndReturnsAll(t *testing.T) {
	acc := NewAccumulator(8)
	for i := 0; i < 100; i++ {
		acc.Add(Event{Key: fmt.Sprintf("k%03d", i)})
	}
	acc.Add(Event{Key: "k000"})

	drained := acc.Drain()
	if len(drained) != 100 {
		t.Fatalf("drained %d entries, want 100", len(drained))
	}
	sort.Slice(drained, func(i, j int) bool { return drained[i].Key < drained[j].Key })
	if drained[0].Key != "k000" || drained[0].Count != 2 {
		t.Fatalf("k000: got %+v", drained[0])
	}
	if acc.Len() != 0 {
		t.Fatalf("accumulator should be empty after drain, Len=%d", acc.Len())
	}
	if len(acc.Drain()) != 0 {
		t.Fatalf("second drain should be empty")
	}

	acc.Add(Event{Key: "k000"})
	if e, _ := acc.Get("k000"); e.Count != 1 {
		t.Fatalf("count after drain should restart at 1, got %d", e.Count)
	}
}

// TestAccumulator_ConcurrentAddAndDrain hammers one key from many goroutines
// while draining, and checks that no increment is lost or double counted.
func TestAccumulator_ConcurrentAddAndDrain(t *testing.T) {
	acc := NewAccumulator(2)
	const producers, perProducer = 16, 500

	var total int64
	var mu sync.Mutex
	stop := make(chan struct{})
	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, e := range acc.Drain() {
				mu.Lock()
				total += e.Count
				mu.Unlock()
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				acc.Add(Event{Key: "hot"})
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-drainerDone

	for _, e := range acc.Drain() {
		total += e.Count
	}
	if total != producers*perProducer {
		t.Fatalf("total = %d, want %d", total, producers*perProducer)
	}
}

func TestAccumulator_DefaultShards(t *testing.T) {
	acc := NewAccumulator(0)
	if len(acc.shards) != DefaultShards {
		t.Fatalf("expected default shard count, got %d", len(acc.shards))
	}
	acc.Add(Event{Key: "x"}, Event{Key: "y"}, Event{Key: "y"})
	if acc.Len() != 2 {
		t.Fatalf("len = %d, want 2", acc.Len())
	}
}
