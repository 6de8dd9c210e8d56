// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/molecula/relstore"
	"github.com/molecula/relstore/config"
	"github.com/molecula/relstore/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// serveCommand opens the sample library over the configured store and
// serves its diagnostics until interrupted.
type serveCommand struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer

	// Seed loads the sample rows before serving.
	Seed bool

	// Started receives the server once it listens. Tests use it.
	Started chan *server.Server
}

func newServeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	s := &serveCommand{cfg: config.NewConfig(), stdout: stdout, stderr: stderr}
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diagnostics of a database.",
		Long: `serve opens the sample library database over the configured store
and serves /metrics, /tables and /runner on the configured bind address
until it receives an interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.Run(ctx)
		},
	}
	flags := serveCmd.Flags()
	configFlags(flags, s.cfg)
	flags.BoolVar(&s.Seed, "seed", false, "Load the sample rows before serving.")
	return serveCmd
}

// Run serves until ctx is done.
func (s *serveCommand) Run(ctx context.Context) error {
	e, err := setupEnv(s.cfg, s.stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	sch, err := librarySchema()
	if err != nil {
		return errors.Wrap(err, "building schema")
	}
	db, err := openDB(ctx, s.cfg, e, sch)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	if s.Seed {
		if err := seedLibrary(ctx, db); err != nil {
			return errors.Wrap(err, "seeding")
		}
	}
	return s.serve(ctx, db, e)
}

func (s *serveCommand) serve(ctx context.Context, db *relstore.DB, e *env) error {
	srv, err := server.NewServer(db,
		server.OptServerLogger(e.logger.WithPrefix("server: ")),
		server.OptServerBind(s.cfg.Bind),
		server.OptServerMetrics(s.cfg.Metrics.Enabled),
	)
	if err != nil {
		return err
	}
	if err := srv.Open(); err != nil {
		return err
	}
	fmt.Fprintf(s.stdout, "serving diagnostics on http://%s\n", srv.Addr())
	if s.Started != nil {
		s.Started <- srv
	}

	<-ctx.Done()
	e.logger.Infof("shutting down: %v", ctx.Err())
	return srv.Close()
}
