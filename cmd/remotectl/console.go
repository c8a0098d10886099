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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"remotectl/internal/theme"
	"remotectl/internal/tools"
)

func newConsoleCmd(root *rootFlags) *cobra.Command {
	var themePath string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive operator console",
		Long: `Lines are run as shell commands through execute_command.
A leading "!" runs the command elevated. Slash commands manage the session; type /help.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			themes, err := theme.NewManager(themePath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.runConsole(cmd.Context(), themes.ColorScheme())
		},
	}
	cmd.Flags().StringVar(&themePath, "theme", "", "Path to a JSON color theme")
	return cmd
}

// consoleRegistry is the part of the tool registry the console drives.
type consoleRegistry interface {
	GetToolNames() []string
	Permission(name string) tools.Permission
	SetPermission(name string, perm tools.Permission) error
	ExecuteWithContext(ctx context.Context, function string, args map[string]interface{}, opts tools.ExecuteOptions) *tools.ToolResult
}

type sessionProbe interface {
	IsValid() bool
}

type console struct {
	registry   consoleRegistry
	session    sessionProbe
	colors     *theme.ColorScheme
	out        io.Writer
	logger     zerolog.Logger
	readSecret func(prompt string) ([]byte, error)
	canceler   operationCanceler
	debug      bool
}

func (a *app) runConsole(ctx context.Context, colors *theme.ColorScheme) error {
	a.logger.Debug().Msg("Running in console mode")
	a.registry.SetApprover(newToolApprover())

	c := &console{
		registry: a.registry,
		session:  a.vault,
		colors:   colors,
		out:      os.Stdout,
		logger:   a.logger,
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:              c.prompt(),
		HistoryFile:         a.cfg.HistoryFile,
		AutoComplete:        commandCompleter(a.registry.GetToolNames()),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		FuncFilterInputRune: filterInterruptRune,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()
	c.out = rl.Stdout()
	c.readSecret = rl.ReadPassword

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		for range sigCh {
			if c.canceler.Cancel() {
				a.logger.Debug().Msg("Tool call interrupted")
			}
		}
	}()

	fmt.Fprintln(c.out, colors.Header.Render("remotectl "+Version))
	fmt.Fprintf(c.out, "Elevation helper: %s\n", strings.Join(a.runner.Helper(), " "))
	fmt.Fprintln(c.out, colors.Muted.Render("Type /help for commands, /auth to elevate, Ctrl+D to exit"))
	fmt.Fprintln(c.out)

	for {
		rl.SetPrompt(c.prompt())
		line, err := rl.Readline()
		switch classifyReadlineError(line, err) {
		case readlineContinue:
			continue
		case readlineExit:
			a.logger.Info().Msg("Console closed")
			return nil
		}
		if err != nil {
			return err
		}
		if c.handleLine(ctx, line) {
			a.logger.Info().Msg("Console closed")
			return nil
		}
	}
}

func (c *console) prompt() string {
	if c.session != nil && c.session.IsValid() {
		return c.colors.Elevated.Render("remotectl#") + " "
	}
	return c.colors.Prompt.Render("remotectl❯") + " "
}

// handleLine runs one line of input and reports whether the console should
// exit.
func (c *console) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(sanitizeInputLine(line))
	if line == "" {
		return false
	}

	switch {
	case strings.HasPrefix(line, "/"):
		return c.handleCommand(ctx, line)
	case strings.HasPrefix(line, "!"):
		command := strings.TrimSpace(strings.TrimPrefix(line, "!"))
		if command == "" {
			fmt.Fprintln(c.out, c.colors.Error.Render("✗ nothing to run after !"))
			return false
		}
		c.runTool(ctx, "execute_command", map[string]interface{}{"command": command, "elevate": true})
	default:
		c.runTool(ctx, "execute_command", map[string]interface{}{"command": line})
	}
	return false
}

// runTool executes one tool call and prints its result. A SIGINT during the
// call cancels it.
func (c *console) runTool(ctx context.Context, name string, args map[string]interface{}) *tools.ToolResult {
	callCtx, cancel := context.WithCancel(ctx)
	c.canceler.Set(cancel)
	defer func() {
		c.canceler.Clear()
		cancel()
	}()

	result := c.registry.ExecuteWithContext(callCtx, name, args, tools.ExecuteOptions{})
	c.printResult(result)
	return result
}

func (c *console) printResult(result *tools.ToolResult) {
	if c.debug {
		fmt.Fprintln(c.out, c.colors.Muted.Render(result.Result))
	}
	if result.Error != nil {
		fmt.Fprintln(c.out, c.colors.Error.Render(fmt.Sprintf("✗ %s: %s", tools.ErrorKind(result.Error), result.Error.Error())))
		return
	}

	var output struct {
		Stdout   *string `json:"stdout"`
		Stderr   string  `json:"stderr"`
		ExitCode int     `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(result.Result), &output); err == nil && output.Stdout != nil {
		if *output.Stdout != "" {
			fmt.Fprint(c.out, ensureNewline(*output.Stdout))
		}
		if output.Stderr != "" {
			fmt.Fprintln(c.out, c.colors.Warning.Render(strings.TrimRight(output.Stderr, "\n")))
		}
		if output.ExitCode != 0 {
			fmt.Fprintln(c.out, c.colors.Muted.Render(fmt.Sprintf("exit status %d", output.ExitCode)))
		}
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(result.Result), "", "  "); err != nil {
		fmt.Fprintln(c.out, result.Result)
		return
	}
	fmt.Fprintln(c.out, c.colors.Success.Render(pretty.String()))
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
