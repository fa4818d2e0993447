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

// Package config loads the tally server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AggregatorConfig controls the accumulator and its flush scheduler.
type AggregatorConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
	Shards        int           `yaml:"shards"`
}

// PostgresConfig is shared by the postgres and gorm adapters.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

type JSONLConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig selects and configures the backing store adapter.
type StoreConfig struct {
	Adapter    string           `yaml:"adapter"`
	Timeout    time.Duration    `yaml:"timeout"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	JSONL      JSONLConfig      `yaml:"jsonl"`
}

type LoggingConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// ChatConfig configures command routing and message cleanup.
type ChatConfig struct {
	Prefix          string        `yaml:"prefix"`
	CaseInsensitive bool          `yaml:"case_insensitive"`
	CleanDelay      time.Duration `yaml:"clean_delay"`
}

// Config is the top-level configuration for cmd/tally-server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Chat       ChatConfig       `yaml:"chat"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Aggregator: AggregatorConfig{
			FlushInterval: 5 * time.Second,
			FlushTimeout:  10 * time.Second,
			Shards:        32,
		},
		Store: StoreConfig{
			Adapter:    "log",
			Timeout:    10 * time.Second,
			Postgres:   PostgresConfig{Table: "emoji_counts"},
			Redis:      RedisConfig{KeyPrefix: "tally"},
			NATS:       NATSConfig{URL: "nats://127.0.0.1:4222", Subject: "tally.counts"},
			ClickHouse: ClickHouseConfig{Host: "127.0.0.1", Port: 9000, Database: "default", Username: "default", Table: "emoji_counts"},
			JSONL:      JSONLConfig{Path: "tally-counts.jsonl"},
		},
		Logging: LoggingConfig{Mode: "dev"},
		Chat: ChatConfig{
			Prefix:          "!",
			CaseInsensitive: true,
			CleanDelay:      5 * time.Second,
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var adapters = map[string]bool{
	"log": true, "postgres": true, "gorm": true, "redis": true,
	"nats": true, "clickhouse": true, "jsonl": true,
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Aggregator.FlushInterval <= 0 {
		return fmt.Errorf("%w: aggregator.flush_interval must be > 0", ErrInvalidConfig)
	}
	if c.Aggregator.FlushTimeout < 0 {
		return fmt.Errorf("%w: aggregator.flush_timeout must be >= 0", ErrInvalidConfig)
	}
	if c.Aggregator.Shards < 0 {
		return fmt.Errorf("%w: aggregator.shards must be >= 0", ErrInvalidConfig)
	}
	c.Store.Adapter = strings.ToLower(strings.TrimSpace(c.Store.Adapter))
	if !adapters[c.Store.Adapter] {
		return fmt.Errorf("%w: unknown store.adapter %q", ErrInvalidConfig, c.Store.Adapter)
	}
	if (c.Store.Adapter == "postgres" || c.Store.Adapter == "gorm") && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("%w: store.postgres.dsn is required for adapter %s", ErrInvalidConfig, c.Store.Adapter)
	}
	if c.Store.Adapter == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("%w: store.redis.addr is required", ErrInvalidConfig)
	}
	if c.Chat.Prefix == "" {
		return fmt.Errorf("%w: chat.prefix must not be empty", ErrInvalidConfig)
	}
	if c.Chat.CleanDelay < 0 {
		return fmt.Errorf("%w: chat.clean_delay must be >= 0", ErrInvalidConfig)
	}
	return nil
}
