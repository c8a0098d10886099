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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"

	"remotectl/internal/tools"
)

// Command represents a slash command
type Command struct {
	Name        string
	Args        string
	Description string
}

func getAvailableCommands() []Command {
	return []Command{
		{Name: "help", Description: "Show available commands"},
		{Name: "auth", Description: "Read the password and open an elevation session"},
		{Name: "status", Description: "Show the elevation session"},
		{Name: "revoke", Description: "End the elevation session and wipe the password"},
		{Name: "tools", Description: "List registered tools"},
		{Name: "permissions", Description: "Show tool permissions"},
		{Name: "allow", Args: "TOOL", Description: "Let a tool run without asking"},
		{Name: "ask", Args: "TOOL", Description: "Ask before running a tool"},
		{Name: "deny", Args: "TOOL", Description: "Refuse a tool"},
		{Name: "call", Args: "TOOL [JSON]", Description: "Invoke a tool with JSON arguments"},
		{Name: "debug", Description: "Toggle raw result payloads"},
		{Name: "quit", Description: "Exit the console"},
		{Name: "exit", Description: "Exit the console"},
	}
}

// commandCompleter completes slash commands, and tool names after the
// commands that take one.
func commandCompleter(toolNames []string) *readline.PrefixCompleter {
	toolItems := make([]readline.PrefixCompleterInterface, len(toolNames))
	for i, name := range toolNames {
		toolItems[i] = readline.PcItem(name)
	}
	commands := getAvailableCommands()
	items := make([]readline.PrefixCompleterInterface, len(commands))
	for i, cmd := range commands {
		if strings.HasPrefix(cmd.Args, "TOOL") {
			items[i] = readline.PcItem("/"+cmd.Name, toolItems...)
			continue
		}
		items[i] = readline.PcItem("/" + cmd.Name)
	}
	return readline.NewPrefixCompleter(items...)
}

// handleCommand processes slash commands, returns true if should quit
func (c *console) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(fields) == 0 {
		c.fail("empty command (type /help for available commands)")
		return false
	}
	cmdName := strings.ToLower(fields[0])
	args := fields[1:]

	c.logger.Debug().Str("command", cmdName).Msg("Executing command")

	switch cmdName {
	case "help":
		c.showHelp()
	case "auth":
		c.authenticate(ctx)
	case "status":
		c.runTool(ctx, "session_status", nil)
	case "revoke":
		c.runTool(ctx, "revoke_session", nil)
	case "tools", "permissions":
		c.showPermissions()
	case "allow", "ask", "deny":
		c.setPermission(cmdName, args)
	case "call":
		c.callTool(ctx, input)
	case "debug":
		c.debug = !c.debug
		if c.debug {
			c.ok("Debug mode enabled")
		} else {
			c.ok("Debug mode disabled")
		}
	case "quit", "exit":
		return true
	default:
		c.fail(fmt.Sprintf("Unknown command: /%s (type /help for available commands)", cmdName))
	}
	return false
}

func (c *console) ok(msg string) {
	fmt.Fprintln(c.out, c.colors.Success.Render("✓ "+msg))
}

func (c *console) fail(msg string) {
	fmt.Fprintln(c.out, c.colors.Error.Render("✗ "+msg))
}

func (c *console) showHelp() {
	fmt.Fprintln(c.out, c.colors.Header.Render("Available Commands:"))
	for _, cmd := range getAvailableCommands() {
		usage := "/" + cmd.Name
		if cmd.Args != "" {
			usage += " " + cmd.Args
		}
		fmt.Fprintf(c.out, "  %-18s - %s\n", usage, cmd.Description)
	}
	fmt.Fprintln(c.out, c.colors.Header.Render("Input:"))
	fmt.Fprintln(c.out, "  COMMAND            - Run a shell command")
	fmt.Fprintln(c.out, "  !COMMAND           - Run a shell command elevated")
	fmt.Fprintln(c.out, "  Ctrl+C             - Cancel the running command")
	fmt.Fprintln(c.out)
}

// authenticate reads the password without echo and hands it to the
// authenticate tool. The local copy is cleared once the call returns.
func (c *console) authenticate(ctx context.Context) {
	if c.readSecret == nil {
		c.fail("no terminal available to read the password")
		return
	}
	secret, err := c.readSecret("Password: ")
	defer clear(secret)
	if err != nil {
		c.fail(fmt.Sprintf("failed to read password: %v", err))
		return
	}
	if len(secret) == 0 {
		c.fail("empty password")
		return
	}
	c.runTool(ctx, "authenticate", map[string]interface{}{"secret": string(secret)})
}

func (c *console) showPermissions() {
	toolNames := c.registry.GetToolNames()
	if len(toolNames) == 0 {
		fmt.Fprintln(c.out, "No tools available")
		return
	}

	fmt.Fprintln(c.out, c.colors.Header.Render("Tool Permissions:"))
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPERMISSION")
	for _, name := range toolNames {
		fmt.Fprintf(w, "%s\t%s\n", name, c.registry.Permission(name))
	}
	_ = w.Flush()
}

func (c *console) setPermission(level string, args []string) {
	if len(args) != 1 {
		c.fail(fmt.Sprintf("usage: /%s TOOL", level))
		return
	}
	perm := permissionFromName(level)
	if err := c.registry.SetPermission(args[0], perm); err != nil {
		c.fail(err.Error())
		return
	}
	c.ok(fmt.Sprintf("%s set to %s", args[0], perm))
}

// callTool parses "/call NAME {json}" and runs the tool.
func (c *console) callTool(ctx context.Context, input string) {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "/call"))
	name, rawArgs, _ := strings.Cut(rest, " ")
	if name == "" {
		c.fail("usage: /call TOOL [JSON]")
		return
	}
	if name == "authenticate" {
		// Typed lines land in the history file.
		c.fail("use /auth so the password is read without echo")
		return
	}

	var args map[string]interface{}
	if rawArgs = strings.TrimSpace(rawArgs); rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			c.fail(fmt.Sprintf("arguments must be a JSON object: %v", err))
			return
		}
	}
	c.runTool(ctx, name, args)
}

func permissionFromName(name string) tools.Permission {
	switch name {
	case "allow":
		return tools.PermissionAllow
	case "ask":
		return tools.PermissionAsk
	default:
		return tools.PermissionDeny
	}
}
