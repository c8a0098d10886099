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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"remotectl/internal/config"
	"remotectl/internal/server"
)

type serveFlags struct {
	transport string
	host      string
	port      int
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools over MCP (stdio or SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if err := applyServeFlags(cmd, cfg, flags); err != nil {
				return err
			}

			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&flags.transport, "transport", "", "Transport: stdio or sse (overrides config)")
	cmd.Flags().StringVar(&flags.host, "host", "", "SSE listen host (overrides config)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "SSE listen port (overrides config)")
	return cmd
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config, flags *serveFlags) error {
	if cmd.Flags().Changed("transport") {
		switch flags.transport {
		case config.TransportStdio, config.TransportSSE:
		default:
			return fmt.Errorf("--transport must be %s or %s, got %q", config.TransportStdio, config.TransportSSE, flags.transport)
		}
		cfg.Server.Transport = flags.transport
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = flags.host
	}
	if cmd.Flags().Changed("port") {
		if flags.port < 1 || flags.port > 65535 {
			return fmt.Errorf("--port %d is out of range", flags.port)
		}
		cfg.Server.Port = flags.port
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	srv, err := a.mcpServer()
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("transport", a.cfg.Server.Transport).
		Dur("session_ttl", a.cfg.SessionTTL()).
		Strs("helper", a.runner.Helper()).
		Msg("remotectl starting")

	if a.cfg.Server.Transport == config.TransportSSE {
		return srv.ServeSSE(ctx, server.SSEConfig{
			Addr:        a.cfg.ListenAddr(),
			BaseURL:     a.cfg.Server.BaseURL,
			MetricsPath: a.cfg.Server.MetricsPath,
			Metrics:     a.metrics.Handler(),
		})
	}
	return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
}
