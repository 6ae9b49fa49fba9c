// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the YAML configuration for a
// tierqueue process: which queues to start, how each is backed on
// disk, and how the process logs and exposes metrics.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a tierqueue process.
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Storage StorageConfig  `yaml:"storage"`
	Index   IndexConfig    `yaml:"index"`
	Queues  []QueueConfig  `yaml:"queues"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StorageConfig holds message-body storage backend configuration.
type StorageConfig struct {
	// PersistentType selects the backend for durable message bodies.
	// Currently only "badger" is supported.
	PersistentType string `yaml:"persistent_type"`
	BadgerDir      string `yaml:"badger_dir"`
}

// IndexConfig holds the per-queue append-only index configuration.
type IndexConfig struct {
	Dir         string `yaml:"dir"`
	SegmentSize uint64 `yaml:"segment_size"`
}

// QueueConfig configures one queue's phase-change behavior.
type QueueConfig struct {
	Name string `yaml:"name"`

	// RAMDurationTarget is the target_ram_duration the phase-change
	// engine tries to hold the backlog to. Zero means "collapse
	// everything to disk whenever idle".
	RAMDurationTarget time.Duration `yaml:"ram_duration_target"`

	// IdleTimeoutInterval is how often the owning process is expected
	// to call IdleTimeout on this queue when it is otherwise quiescent.
	IdleTimeoutInterval time.Duration `yaml:"idle_timeout_interval"`

	// Durable selects whether messages published as persistent go to
	// the persistent store; on a non-durable queue every message is
	// transient regardless of its per-publish flag.
	Durable bool `yaml:"durable"`

	// PhaseChangeIOPerSecond caps the alpha->beta and beta->gamma disk
	// write rate for this queue's phase-change passes. Zero or negative
	// means unlimited.
	PhaseChangeIOPerSecond float64 `yaml:"phase_change_io_per_second"`

	// IOBatchBurst is the token-bucket burst size backing
	// PhaseChangeIOPerSecond.
	IOBatchBurst int `yaml:"io_batch_burst"`
}

// Default returns a configuration with sensible defaults: one queue
// named "default", badger-backed storage under /tmp/tierqueue.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9464",
		},
		Storage: StorageConfig{
			PersistentType: "badger",
			BadgerDir:      "/tmp/tierqueue/bodies",
		},
		Index: IndexConfig{
			Dir:         "/tmp/tierqueue/index",
			SegmentSize: 4096,
		},
		Queues: []QueueConfig{
			{
				Name:                   "default",
				RAMDurationTarget:      30 * time.Second,
				IdleTimeoutInterval:    time.Second,
				Durable:                true,
				PhaseChangeIOPerSecond: 0,
				IOBatchBurst:           64,
			},
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't
// exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	cfg.Queues = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = Default().Queues
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	validStorage := map[string]bool{"badger": true}
	if !validStorage[c.Storage.PersistentType] {
		return fmt.Errorf("storage.persistent_type must be one of: badger")
	}
	if c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir cannot be empty")
	}

	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir cannot be empty")
	}
	if c.Index.SegmentSize == 0 {
		return fmt.Errorf("index.segment_size must be at least 1")
	}

	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue must be configured")
	}
	seen := make(map[string]bool, len(c.Queues))
	for i, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queues[%d].name cannot be empty", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("queues[%d].name %q is duplicated", i, q.Name)
		}
		seen[q.Name] = true
		if q.RAMDurationTarget < 0 {
			return fmt.Errorf("queues[%d].ram_duration_target cannot be negative", i)
		}
		if q.IdleTimeoutInterval <= 0 {
			return fmt.Errorf("queues[%d].idle_timeout_interval must be positive", i)
		}
		if q.IOBatchBurst < 0 {
			return fmt.Errorf("queues[%d].io_batch_burst cannot be negative", i)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr required when metrics are enabled")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
