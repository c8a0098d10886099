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
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	apperrors "remotectl/internal/errors"
	"remotectl/internal/tools"
)

const maxBatchLine = 1 << 20

func newBatchCmd(root *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Execute OpenAI-style tool calls read as JSON lines from stdin",
		Long: `Each input line is an OpenAI tool call, for example
  {"id":"call_1","type":"function","function":{"name":"execute_command","arguments":"{\"command\":\"uptime\"}"}}
Each output line is the matching tool message with the JSON result as content.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBatch(ctx, a.registry, cmd.InOrStdin(), cmd.OutOrStdout(), tools.ExecuteOptions{Force: force}, a.logger)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Run tools that are configured to ask without asking")
	return cmd
}

type toolCallExecutor interface {
	ExecuteOpenAIToolCall(ctx context.Context, call openai.ToolCall, opts tools.ExecuteOptions) *tools.ToolResult
}

// runBatch executes one tool call per input line in order and writes one
// tool message per call. Malformed lines produce an error message and do not
// stop the batch.
func runBatch(ctx context.Context, executor toolCallExecutor, in io.Reader, out io.Writer, opts tools.ExecuteOptions, logger zerolog.Logger) error {
	logger.Debug().Msg("Running in batch mode")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxBatchLine)
	encoder := json.NewEncoder(out)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var call openai.ToolCall
		if err := json.Unmarshal([]byte(line), &call); err != nil {
			logger.Warn().Int("line", lineNo).Err(err).Msg("Invalid tool call")
			bad := apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("line %d is not a tool call", lineNo), err)
			if err := encoder.Encode(openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleTool,
				Content: tools.ErrorPayload(bad),
			}); err != nil {
				return err
			}
			continue
		}

		result := executor.ExecuteOpenAIToolCall(ctx, call, opts)
		if err := encoder.Encode(openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Name:       result.Function,
			ToolCallID: call.ID,
			Content:    result.Result,
		}); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}
