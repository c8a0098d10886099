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
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

type rootFlags struct {
	configPath string
	envFile    string
	debug      bool
	logFile    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "remotectl",
		Short:         "Privilege-elevation session manager for remote host control",
		Long:          `remotectl exposes command execution, service control, package and process management as tools over MCP, gated by a time-limited elevation session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "remotectl.json", "Path to configuration file (.json, .toml, .yaml)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Environment file loaded before env overrides")
	root.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "Append logs to this file instead of stderr")

	root.AddCommand(
		newServeCmd(flags),
		newBatchCmd(flags),
		newConsoleCmd(flags),
		newToolsCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "remotectl %s\n", Version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
