// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"io"

	"github.com/molecula/relstore/config"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
)

func newConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	c := config.NewConfig()
	confCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the current configuration.",
		Long: `config prints the configuration obtained from flags, environment
and config file to stdout.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.Validate(); err != nil {
				return err
			}
			return writeConfig(stdout, c)
		},
	}
	configFlags(confCmd.Flags(), c)
	return confCmd
}

func newGenerateConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Print the default configuration.",
		Long: `generate-config prints the default configuration to stdout
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeConfig(stdout, config.NewConfig())
		},
	}
}

func writeConfig(w io.Writer, c *config.Config) error {
	buf, err := toml.Marshal(*c)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
