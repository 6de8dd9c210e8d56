// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/molecula/relstore"
	"github.com/molecula/relstore/backstore"
	"github.com/molecula/relstore/backstore/bolt"
	"github.com/molecula/relstore/backstore/memory"
	"github.com/molecula/relstore/config"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/index"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/schema"
	"github.com/molecula/relstore/tracing"
	tracingot "github.com/molecula/relstore/tracing/opentracing"
	"github.com/opentracing/opentracing-go"
)

// env is what a command needs to run against a database: its logger and
// the resources to release when done.
type env struct {
	logger  logger.Logger
	closers []io.Closer
}

func (e *env) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// setupEnv validates c, builds the logger and installs the tracer.
func setupEnv(c *config.Config, stderr io.Writer) (*env, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	e := &env{}

	w := stderr
	if c.LogPath != "" {
		f, err := os.OpenFile(expandHome(c.LogPath), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return nil, errors.Wrap(err, "opening log file")
		}
		e.closers = append(e.closers, f)
		w = f
	}
	if c.Verbose {
		e.logger = logger.NewVerboseLogger(w)
	} else {
		e.logger = logger.NewStandardLogger(w)
	}

	if c.Tracing.Enabled {
		tracing.GlobalTracer = tracingot.NewTracer(opentracing.GlobalTracer(), e.logger.WithPrefix("tracing: "))
	}
	return e, nil
}

// openDB opens sch over the store c names.
func openDB(ctx context.Context, c *config.Config, e *env, sch *schema.Database) (*relstore.DB, error) {
	var store backstore.BackStore
	switch c.Store {
	case config.StoreBolt:
		c.DataDir = expandHome(c.DataDir)
		store = bolt.New(c.StorePath(), e.logger.WithPrefix("bolt: "))
	default:
		store = memory.New(e.logger.WithPrefix("memory: "))
	}
	return relstore.Open(ctx, sch,
		relstore.OptDBStore(store),
		relstore.OptDBLogger(e.logger),
		relstore.OptDBIndexKind(index.Kind(c.Index.Kind)),
		relstore.OptDBSlowTaskThreshold(c.Runner.SlowTaskThreshold.Std()),
	)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
