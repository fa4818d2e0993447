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

// Package telemetry exposes Prometheus metrics for the aggregator. It is safe
// to call from hot paths: when disabled, all public functions are no-ops.
package telemetry

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the telemetry module.
//
// MetricsAddr, when non-empty, starts a dedicated HTTP server that serves
// /metrics. Leave it empty when the API server mounts Handler itself.
type Config struct {
	Enabled     bool
	MetricsAddr string
}

var (
	modEnabled atomic.Bool

	endpointsMu sync.Mutex
	endpoints   = make(map[string]*http.Server)

	// Global only; keys never become labels.
	eventsRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_events_recorded_total",
		Help: "Events merged into the accumulator",
	})
	eventsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_events_skipped_total",
		Help: "Events dropped because their key was empty",
	})
	rowsFlushedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_rows_flushed_total",
		Help: "Rows (keys) written to the backing store across all flushes",
	})
	rowsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_rows_dropped_total",
		Help: "Rows discarded because their flush failed",
	})
	flushErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_flush_errors_total",
		Help: "Flush cycles that failed (store error or panic)",
	})
	rowsPerFlush = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_rows_per_flush",
		Help:    "Distribution of rows per flush",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 4096},
	})
	flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_flush_duration_seconds",
		Help:    "Wall time of the store call in each non-empty flush",
		Buckets: prometheus.DefBuckets,
	})
	pendingKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_pending_keys",
		Help: "Keys waiting in the accumulator for the next flush",
	})
)

func init() {
	prometheus.MustRegister(eventsRecordedTotal, eventsSkippedTotal, rowsFlushedTotal, rowsDroppedTotal,
		flushErrorsTotal, rowsPerFlush, flushDuration, pendingKeys)
}

// Enable configures the module. Safe to call multiple times.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	if cfg.Enabled && cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether telemetry is active.
func Enabled() bool { return modEnabled.Load() }

// Handler serves the default Prometheus registry.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveRecord counts the outcome of one Record call.
func ObserveRecord(accepted, skipped int) {
	if !modEnabled.Load() {
		return
	}
	if accepted > 0 {
		eventsRecordedTotal.Add(float64(accepted))
	}
	if skipped > 0 {
		eventsSkippedTotal.Add(float64(skipped))
	}
}

// ObserveFlush records one non-empty flush. A nil err means the rows were
// persisted; otherwise they count as dropped.
func ObserveFlush(rows int, took time.Duration, err error) {
	if !modEnabled.Load() || rows <= 0 {
		return
	}
	rowsPerFlush.Observe(float64(rows))
	flushDuration.Observe(took.Seconds())
	if err != nil {
		flushErrorsTotal.Inc()
		rowsDroppedTotal.Add(float64(rows))
		return
	}
	rowsFlushedTotal.Add(float64(rows))
}

// SetPending publishes the current number of accumulated keys.
func SetPending(n int) {
	if !modEnabled.Load() {
		return
	}
	pendingKeys.Set(float64(n))
}

// startMetricsEndpoint exposes /metrics on addr in a background goroutine.
// Only one server per addr is started.
func startMetricsEndpoint(addr string) {
	endpointsMu.Lock()
	defer endpointsMu.Unlock()
	if _, ok := endpoints[addr]; ok {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	endpoints[addr] = server
	go func() {
		_ = server.ListenAndServe()
	}()
}
