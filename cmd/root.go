// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"io"
	"strings"

	"github.com/molecula/relstore/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes every environment variable read by the commands.
const envPrefix = "RELSTORE"

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "relstore",
		Short: "relstore is an embedded relational store with live queries.",
		Long: `relstore is an embedded relational store with live queries.

This binary runs a diagnostics server over a relstore database,
a demo of the query engine, a small benchmark, and config tooling.
Every flag can also be set in a TOML config file (--config) or
through RELSTORE_ prefixed environment variables.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := setAllConfig(v, cmd.Flags()); err != nil {
				return err
			}

			// return "dry run" error if "dry-run" flag is set
			ret, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return errors.Wrap(err, "problem getting dry-run flag")
			}
			if ret && cmd.Parent() != nil {
				return errors.New("dry run")
			}
			return nil
		},
	}
	rc.PersistentFlags().Bool("dry-run", false, "stop before executing")
	_ = rc.PersistentFlags().MarkHidden("dry-run")
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newServeCommand(stdin, stdout, stderr))
	rc.AddCommand(newDemoCommand(stdin, stdout, stderr))
	rc.AddCommand(newBenchCommand(stdin, stdout, stderr))
	rc.AddCommand(newConfigCommand(stdin, stdout, stderr))
	rc.AddCommand(newGenerateConfigCommand(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order. Since each flag in the set contains a pointer to
// where its value should be stored, setAllConfig can directly modify the value
// of each config variable.
//
// Environment variables are capitalized flag names with dashes and dots
// replaced by underscores, prefixed with RELSTORE_.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, "binding flags")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "error reading configuration file '%s'", c)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return errors.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		// Flags set on the command line win.
		if flagErr != nil || f.Changed {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			flagErr = errors.Wrapf(err, "setting %s", f.Name)
		}
	})
	return flagErr
}

// configFlags binds every field of c to a flag named after its TOML key.
func configFlags(flags *pflag.FlagSet, c *config.Config) {
	flags.StringVarP(&c.DataDir, "data-dir", "d", c.DataDir, "Directory holding the bolt store file.")
	flags.StringVar(&c.Store, "store", c.Store, "Back store: memory or bolt.")
	flags.StringVarP(&c.Bind, "bind", "b", c.Bind, "host:port of the diagnostics server.")
	flags.StringVar(&c.LogPath, "log-path", c.LogPath, "Log file path. Empty logs to stderr.")
	flags.BoolVar(&c.Verbose, "verbose", c.Verbose, "Enable debug logging.")
	flags.StringVar(&c.Index.Kind, "index.kind", c.Index.Kind, "Index tree: aatree or btree.")
	flags.DurationVar(c.Runner.SlowTaskThreshold.Ptr(), "runner.slow-task-threshold", c.Runner.SlowTaskThreshold.Std(), "Log tasks running longer than this. 0 disables.")
	flags.BoolVar(&c.Metrics.Enabled, "metrics.enabled", c.Metrics.Enabled, "Serve prometheus metrics at /metrics.")
	flags.BoolVar(&c.Tracing.Enabled, "tracing.enabled", c.Tracing.Enabled, "Forward spans to the global opentracing tracer.")
}
