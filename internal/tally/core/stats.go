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

// Per-aggregator counters used for the end-of-process summary. They are
// atomic so the hot path never takes a lock for them.

package core

import (
	"sync/atomic"

	"tally/internal/logger"
)

type stats struct {
	recorded      atomic.Int64
	skipped       atomic.Int64
	flushes       atomic.Int64
	failed        atomic.Int64
	rowsPersisted atomic.Int64
	rowsDropped   atomic.Int64
}

// Stats is a point-in-time copy of the aggregator counters.
type Stats struct {
	Recorded      int64 // events accepted by Record
	Skipped       int64 // events dropped for an empty key
	Flushes       int64 // non-empty flush cycles
	Failed        int64 // cycles whose store call failed or panicked
	RowsPersisted int64
	RowsDropped   int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Recorded:      s.recorded.Load(),
		Skipped:       s.skipped.Load(),
		Flushes:       s.flushes.Load(),
		Failed:        s.failed.Load(),
		RowsPersisted: s.rowsPersisted.Load(),
		RowsDropped:   s.rowsDropped.Load(),
	}
}

// WriteReduction is the fraction of store writes avoided compared to
// writing once per event, clamped to [0,1]. ok is false with no events.
func (s Stats) WriteReduction() (ratio float64, ok bool) {
	if s.Recorded == 0 {
		return 0, false
	}
	wr := 1.0 - float64(s.RowsPersisted+s.RowsDropped)/float64(s.Recorded)
	if wr < 0 {
		wr = 0
	}
	if wr > 1 {
		wr = 1
	}
	return wr, true
}

// LogSummary writes the final counters as a single log line.
func (s Stats) LogSummary(log *logger.Logger) {
	kv := []interface{}{
		"recorded", s.Recorded,
		"skipped", s.Skipped,
		"flushes", s.Flushes,
		"failed_flushes", s.Failed,
		"rows_persisted", s.RowsPersisted,
		"rows_dropped", s.RowsDropped,
	}
	if wr, ok := s.WriteReduction(); ok {
		kv = append(kv, "write_reduction", wr)
	}
	log.Info("final tally metrics", kv...)
}
