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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"remotectl/internal/tools"
)

type approvalDecision int

const (
	approvalUnknown approvalDecision = iota
	approvalYes
	approvalNo
	approvalAlways
)

type toolPromptFunc func(call tools.Call) (approvalDecision, error)

func newToolApprover() tools.ApproverFunc {
	return newToolApproverWithPrompt(promptToolApproval)
}

// newToolApproverWithPrompt remembers "always" answers per tool for the
// lifetime of the console.
func newToolApproverWithPrompt(prompt toolPromptFunc) tools.ApproverFunc {
	alwaysAllowed := make(map[string]bool)
	var mu sync.RWMutex
	return func(ctx context.Context, call tools.Call) (bool, error) {
		toolName := toolCallName(call)
		mu.RLock()
		allowed := alwaysAllowed[toolName]
		mu.RUnlock()
		if allowed {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		decision, err := prompt(call)
		if err != nil {
			return false, err
		}
		if decision == approvalAlways {
			mu.Lock()
			alwaysAllowed[toolName] = true
			mu.Unlock()
			return true, nil
		}
		return decision == approvalYes, nil
	}
}

func promptToolApproval(call tools.Call) (approvalDecision, error) {
	input := os.Stdin
	output := io.Writer(os.Stdout)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
		if err != nil {
			return approvalNo, fmt.Errorf("no TTY available for tool approval")
		}
		input = tty
		output = tty
		defer tty.Close()
	}
	return askApproval(bufio.NewReader(input), output, call)
}

func askApproval(reader *bufio.Reader, output io.Writer, call tools.Call) (approvalDecision, error) {
	name := toolCallName(call)
	for {
		fmt.Fprintf(output, "Allow tool %s%s? (Yes/no/always): ", name, describeArgs(call.Args))
		line, err := reader.ReadString('\n')
		if err != nil {
			return approvalNo, err
		}
		decision := parseApprovalInput(line)
		switch decision {
		case approvalYes, approvalNo, approvalAlways:
			return decision, nil
		default:
			fmt.Fprintln(output, "Please enter yes, no, or always.")
		}
	}
}

// describeArgs renders arguments for the prompt. Secrets were redacted by
// the registry before the call reached the approver.
func describeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" with args %s", data)
}

func parseApprovalInput(input string) approvalDecision {
	normalized := strings.TrimSpace(strings.ToLower(input))
	if normalized == "" {
		return approvalYes
	}
	switch {
	case isPrefixToken(normalized, "yes"):
		return approvalYes
	case isPrefixToken(normalized, "no"):
		return approvalNo
	case isPrefixToken(normalized, "always"):
		return approvalAlways
	default:
		return approvalUnknown
	}
}

func isPrefixToken(input, target string) bool {
	if input == "" || len(input) > len(target) {
		return false
	}
	return strings.HasPrefix(target, input)
}

func toolCallName(call tools.Call) string {
	if call.Name == "" {
		return "unknown_tool"
	}
	return call.Name
}
