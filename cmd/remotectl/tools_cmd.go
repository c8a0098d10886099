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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"remotectl/internal/tools"
)

type toolLister interface {
	GetTools() []tools.Tool
	Permission(name string) tools.Permission
	OpenAITools() []openai.Tool
}

func newToolsCmd(root *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools and their permissions",
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
			if asJSON {
				return writeToolsJSON(cmd.OutOrStdout(), a.registry)
			}
			return writeToolsTable(cmd.OutOrStdout(), a.registry)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print OpenAI function definitions as JSON")
	return cmd
}

func writeToolsJSON(out io.Writer, registry toolLister) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(registry.OpenAITools())
}

func writeToolsTable(out io.Writer, registry toolLister) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPERMISSION\tDESCRIPTION")
	for _, tool := range registry.GetTools() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name(), registry.Permission(tool.Name()), tool.Description())
	}
	return w.Flush()
}
