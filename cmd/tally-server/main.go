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

// Package main runs the tally server: an HTTP front end that coalesces keyed
// increments (custom emoji usage, or any producer posting events) in memory
// and writes the merged counts to a backing store on a fixed cadence.
//
// The process:
//  1. Loads the YAML config (optional) and applies command-line overrides.
//  2. Builds the logger, telemetry, store adapter and aggregator.
//  3. Wires the chat command router and message cleaner into the HTTP API.
//  4. On SIGINT/SIGTERM closes the aggregator (final flush), logs the final
//     summary and shuts the HTTP server down.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/internal/chat"
	"tally/internal/config"
	"tally/internal/logger"
	"tally/internal/tally/api"
	"tally/internal/tally/core"
	"tally/internal/tally/persistence"
	"tally/internal/tally/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tally-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags override the config file; unset flags keep the file's values.
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	httpAddr := flag.String("http_addr", "", "HTTP listen address (e.g., :8080)")
	flushInterval := flag.Duration("flush_interval", 0, "How often accumulated counts are written to the store")
	flushTimeout := flag.Duration("flush_timeout", 0, "Upper bound for a single store call")
	adapter := flag.String("store", "", "Store adapter: log, postgres, gorm, redis, nats, clickhouse, jsonl")
	logMode := flag.String("log_mode", "", "Logger mode: dev or prod")
	logLevel := flag.String("log_level", "", "Minimum log level (debug, info, warn, error)")
	metrics := flag.Bool("metrics", false, "Enable Prometheus metrics")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose /metrics on this address (e.g., :9090)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http_addr":
			cfg.Server.HTTPAddr = *httpAddr
		case "flush_interval":
			cfg.Aggregator.FlushInterval = *flushInterval
		case "flush_timeout":
			cfg.Aggregator.FlushTimeout = *flushTimeout
		case "store":
			cfg.Store.Adapter = *adapter
		case "log_mode":
			cfg.Logging.Mode = *logMode
		case "log_level":
			cfg.Logging.Level = *logLevel
		case "metrics":
			cfg.Telemetry.Enabled = *metrics
		case "metrics_addr":
			cfg.Telemetry.MetricsAddr = *metricsAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	telemetry.Enable(telemetry.Config{Enabled: cfg.Telemetry.Enabled, MetricsAddr: cfg.Telemetry.MetricsAddr})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, storeCloser, err := persistence.BuildStore(startCtx, cfg.Store, log)
	cancelStart()
	if err != nil {
		return fmt.Errorf("build store %q: %w", cfg.Store.Adapter, err)
	}
	defer func() {
		if err := storeCloser.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}()

	agg := core.New(store, log.Named("aggregator"),
		core.WithFlushInterval(cfg.Aggregator.FlushInterval),
		core.WithFlushTimeout(cfg.Aggregator.FlushTimeout),
		core.WithShards(cfg.Aggregator.Shards),
	)

	router := chat.NewRouter(cfg.Chat.Prefix, cfg.Chat.CaseInsensitive)
	cleaner := chat.NewCleaner(chat.LogDeleter{Log: log.Named("deleter")}, log.Named("cleaner"),
		chat.WithDefaultDelay(cfg.Chat.CleanDelay))
	apiServer := api.NewServer(agg, router, cleaner, log.Named("api"))
	httpServer := apiServer.NewHTTPServer(cfg.Server.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		log.Info("tally server listening", "addr", cfg.Server.HTTPAddr, "store", cfg.Store.Adapter,
			"flush_interval", cfg.Aggregator.FlushInterval)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("http server failed", "addr", cfg.Server.HTTPAddr, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop taking traffic first so the final flush sees every accepted event.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	apiServer.Shutdown()

	if err := agg.Close(ctx); err != nil {
		log.Error("final flush failed", "error", err)
	}
	agg.Stats().LogSummary(log)
	if ls, ok := store.(*core.LogStore); ok {
		rows, batches := ls.Totals()
		log.Info("log store totals", "rows", rows, "batches", batches)
	}
	log.Info("server gracefully stopped")
	return nil
}
