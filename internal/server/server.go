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

// Package server exposes the tool registry over the Model Context Protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"remotectl/internal/tools"
)

const shutdownTimeout = 5 * time.Second

// Registry is what the server needs from tools.Registry.
type Registry interface {
	GetTools() []tools.Tool
	ExecuteWithContext(ctx context.Context, function string, args map[string]interface{}, opts tools.ExecuteOptions) *tools.ToolResult
}

// Options configures a Server.
type Options struct {
	Name         string
	Version      string
	Instructions string
	Logger       zerolog.Logger
}

// SSEConfig configures the SSE listener.
type SSEConfig struct {
	Addr    string
	BaseURL string
	// MetricsPath and Metrics mount a scrape endpoint next to the MCP routes.
	MetricsPath string
	Metrics     http.Handler
}

// Server bridges MCP tool calls to the registry.
type Server struct {
	mcp      *mcpserver.MCPServer
	registry Registry
	logger   zerolog.Logger
}

// readOnlyTools never change host state.
var readOnlyTools = map[string]bool{
	"session_status": true,
}

// destructiveTools may remove state or stop things.
var destructiveTools = map[string]bool{
	"execute_command":    true,
	"service_control":    true,
	"package_management": true,
	"process_management": true,
}

// New builds an MCP server carrying every registry tool.
func New(registry Registry, opts Options) (*Server, error) {
	if opts.Name == "" {
		opts.Name = "remotectl"
	}
	s := &Server{registry: registry, logger: opts.Logger}

	serverOpts := []mcpserver.ServerOption{
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	}
	if opts.Instructions != "" {
		serverOpts = append(serverOpts, mcpserver.WithInstructions(opts.Instructions))
	}
	s.mcp = mcpserver.NewMCPServer(opts.Name, opts.Version, serverOpts...)

	for _, tool := range registry.GetTools() {
		mcpTool, err := toMCPTool(tool)
		if err != nil {
			return nil, err
		}
		s.mcp.AddTool(mcpTool, s.handler(tool.Name()))
	}
	return s, nil
}

func toMCPTool(tool tools.Tool) (mcp.Tool, error) {
	schema, err := json.Marshal(tool.Parameters())
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("encode schema for %s: %w", tool.Name(), err)
	}
	out := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	if readOnlyTools[tool.Name()] {
		out.Annotations.ReadOnlyHint = mcp.ToBoolPtr(true)
	}
	if destructiveTools[tool.Name()] {
		out.Annotations.DestructiveHint = mcp.ToBoolPtr(true)
	}
	return out, nil
}

// handler runs one tool call. Tool failures become error results so the
// client sees the payload; protocol errors are reserved for the transport.
func (s *Server) handler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := s.registry.ExecuteWithContext(ctx, name, req.GetArguments(), tools.ExecuteOptions{})
		if result.Error != nil {
			return mcp.NewToolResultError(result.Result), nil
		}
		return mcp.NewToolResultText(result.Result), nil
	}
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcpserver.MCPServer {
	return s.mcp
}

// ServeStdio serves one client over in/out until ctx is done or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger.With().Str("transport", "stdio").Logger(), "", 0))

	s.logger.Info().Str("transport", "stdio").Msg("MCP server listening")
	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ServeSSE serves MCP over HTTP server-sent events until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, cfg SSEConfig) error {
	mux := http.NewServeMux()
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sseOpts := []mcpserver.SSEOption{mcpserver.WithHTTPServer(httpServer)}
	if cfg.BaseURL != "" {
		sseOpts = append(sseOpts, mcpserver.WithBaseURL(cfg.BaseURL))
	}
	sse := mcpserver.NewSSEServer(s.mcp, sseOpts...)

	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, cfg.Metrics)
	}
	mux.Handle("/", sse)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("transport", "sse").Str("addr", cfg.Addr).Msg("MCP server listening")
		if err := sse.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sse listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("Shutting down MCP server")
		return sse.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
