// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"remotectl/internal/config"
)

func newConfigCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration format",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON schema of the config file",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), config.SchemaJSON())
				return err
			},
		},
		&cobra.Command{
			Use:   "example",
			Short: "Print an example config file",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), config.ExampleConfigJSON())
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load the config and report problems",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(root)
				if err != nil {
					return err
				}
				a, err := newApp(cfg, os.Stderr)
				if err != nil {
					return err
				}
				defer a.Close()
				writeWarnings(cmd.OutOrStdout(), root.configPath, a.warnings)
				return nil
			},
		},
	)
	return cmd
}

func writeWarnings(out io.Writer, path string, warnings []config.ValidationWarning) {
	if len(warnings) == 0 {
		fmt.Fprintf(out, "%s: ok\n", path)
		return
	}
	for _, w := range warnings {
		fmt.Fprintf(out, "%s: %s: %s\n", path, w.Field, w.Message)
	}
}
