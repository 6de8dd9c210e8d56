// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package config_test

import (
	"testing"
	"time"

	"github.com/molecula/relstore/config"
	"github.com/molecula/relstore/errors"
	"github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		apply func(c *config.Config)
		ok    bool
	}{
		{"Defaults", func(c *config.Config) {}, true},
		{"Bolt", func(c *config.Config) { c.Store = config.StoreBolt }, true},
		{"BTree", func(c *config.Config) { c.Index.Kind = "btree" }, true},
		{"UnknownStore", func(c *config.Config) { c.Store = "lmdb" }, false},
		{"UnknownIndex", func(c *config.Config) { c.Index.Kind = "skiplist" }, false},
		{"BoltWithoutDir", func(c *config.Config) { c.Store, c.DataDir = config.StoreBolt, "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.NewConfig()
			tt.apply(c)
			err := c.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, errors.ErrUnsupportedOperation), "got %v", err)
		})
	}
}

func TestConfig_TOML(t *testing.T) {
	src := `
data-dir = "/tmp/rs"
store = "bolt"
verbose = true

[index]
kind = "btree"

[runner]
slow-task-threshold = "250ms"
`
	c := config.NewConfig()
	require.NoError(t, toml.Unmarshal([]byte(src), c))
	assert.Equal(t, "/tmp/rs", c.DataDir)
	assert.Equal(t, config.StoreBolt, c.Store)
	assert.True(t, c.Verbose)
	assert.Equal(t, "btree", c.Index.Kind)
	assert.Equal(t, 250*time.Millisecond, c.Runner.SlowTaskThreshold.Std())
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "/tmp/rs/relstore.db", c.StorePath())

	out, err := toml.Marshal(config.NewConfig())
	require.NoError(t, err)
	assert.Contains(t, string(out), `slow-task-threshold = "1s"`)
}
