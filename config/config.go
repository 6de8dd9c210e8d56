// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of the relstore command.
package config

import (
	"path/filepath"
	"time"

	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/toml"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

// Config represents the configuration for the command.
type Config struct {
	// DataDir is the directory holding the bolt store file.
	DataDir string `toml:"data-dir"`
	// Store is the back store: memory or bolt.
	Store string `toml:"store"`
	// Bind is the host:port the diagnostics server listens on.
	Bind string `toml:"bind"`

	// LogPath configures where logs are written. Empty means stderr.
	LogPath string `toml:"log-path"`
	// Verbose toggles debug logging.
	Verbose bool `toml:"verbose"`

	Index struct {
		// Kind is the tree behind every index: aatree or btree.
		Kind string `toml:"kind"`
	} `toml:"index"`

	Runner struct {
		// SlowTaskThreshold logs the profile of tasks running longer than
		// this. Zero disables it.
		SlowTaskThreshold toml.Duration `toml:"slow-task-threshold"`
	} `toml:"runner"`

	Metrics struct {
		Enabled bool `toml:"enabled"`
	} `toml:"metrics"`

	Tracing struct {
		Enabled bool `toml:"enabled"`
	} `toml:"tracing"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		DataDir: "~/.relstore",
		Store:   StoreMemory,
		Bind:    "localhost:10110",
	}
	c.Index.Kind = string(index.KindAATree)
	c.Runner.SlowTaskThreshold = toml.Duration(time.Second)
	c.Metrics.Enabled = true
	return c
}

// Validate checks the store and index kinds.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreBolt:
	default:
		return errors.Newf(errors.ErrUnsupportedOperation, "unknown store %q", c.Store)
	}
	switch index.Kind(c.Index.Kind) {
	case index.KindAATree, index.KindBTree:
	default:
		return errors.Newf(errors.ErrUnsupportedOperation, "unknown index kind %q", c.Index.Kind)
	}
	if c.Store == StoreBolt && c.DataDir == "" {
		return errors.New(errors.ErrUnsupportedOperation, "bolt store needs a data-dir")
	}
	if c.Runner.SlowTaskThreshold < 0 {
		return errors.Newf(errors.ErrUnsupportedOperation, "negative slow-task-threshold %s", c.Runner.SlowTaskThreshold)
	}
	return nil
}

// StorePath returns the bolt file inside DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "relstore.db")
}
