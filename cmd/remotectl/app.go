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

	"github.com/rs/zerolog"

	"remotectl/internal/config"
	"remotectl/internal/elevation"
	"remotectl/internal/instructions"
	"remotectl/internal/logging"
	"remotectl/internal/metrics"
	"remotectl/internal/packages"
	"remotectl/internal/processes"
	"remotectl/internal/runner"
	"remotectl/internal/server"
	"remotectl/internal/services"
	"remotectl/internal/tools"
)

// app owns every long-lived component of one remotectl process.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	vault     *elevation.Vault
	runner    *runner.Runner
	metrics   *metrics.Metrics
	registry  *tools.Registry
	warnings  []config.ValidationWarning
}

// loadConfig reads .env, the config file and env overrides, then applies
// command line flags.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.debug {
		cfg.Log.Level = "debug"
	}
	if flags.logFile != "" {
		cfg.Log.File = flags.logFile
	}
	return cfg, nil
}

// newApp wires the vault, gate, runner, adapters and tool registry.
// The vault is the only holder of the secret; every other component reaches
// it through the gate and the runner.
func newApp(cfg *config.Config, stderr *os.File) (*app, error) {
	logger, closer, err := logging.New(cfg.LoggingConfig(), stderr)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	vaultOpts := cfg.VaultOptions()
	vaultOpts.Logger = logger.With().Str("component", "vault").Logger()
	vault := elevation.NewVault(runner.HelperProbe(cfg.Elevation.Helper), vaultOpts)
	m.RegisterSessionGauge(vault.IsValid)

	gate := elevation.NewGate(vault)
	runnerCfg := cfg.RunnerConfig()
	runnerCfg.Logger = logger.With().Str("component", "runner").Logger()
	runnerCfg.Observer = m
	run := runner.New(gate, vault, runnerCfg)

	var serviceOpts []services.Option
	if cfg.Services.Systemctl != "" {
		serviceOpts = append(serviceOpts, services.WithBinary(cfg.Services.Systemctl))
	}

	registry := tools.NewRegistry(tools.Options{
		Policy:     cfg.ToolPolicy(),
		RateLimits: cfg.ToolRateLimitsConfig(),
		Timeouts:   cfg.ToolTimeoutsConfig(),
		Logger:     logger.With().Str("component", "tools").Logger(),
		Observer:   m,
	})
	host := &tools.Host{
		Sessions:  vault,
		Runner:    run,
		Services:  services.NewController(run, serviceOpts...),
		Packages:  packages.NewAdapter(run, cfg.PackagesConfig()),
		Processes: processes.NewManager(run, cfg.Processes.ListLimit),
		Filter:    cfg.ToolOutputFiltersConfig(),
		Auth:      m,
		Logger:    logger,
	}
	if err := registry.RegisterPlugin(host); err != nil {
		registry.Close()
		_ = vault.Close()
		_ = closer.Close()
		return nil, err
	}

	warnings := cfg.Validate(registry)
	for _, warning := range warnings {
		logger.Warn().Str("field", warning.Field).Msg(warning.Message)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		logCloser: closer,
		vault:     vault,
		runner:    run,
		metrics:   m,
		registry:  registry,
		warnings:  warnings,
	}, nil
}

func (a *app) mcpServer() (*server.Server, error) {
	text, err := instructions.Load()
	if err != nil {
		return nil, err
	}
	return server.New(a.registry, server.Options{
		Name:         "remotectl",
		Version:      Version,
		Instructions: text,
		Logger:       a.logger.With().Str("component", "mcp").Logger(),
	})
}

// Close wipes the secret and releases resources.
func (a *app) Close() error {
	a.registry.Close()
	err := a.vault.Close()
	if cerr := a.logCloser.Close(); err == nil {
		err = cerr
	}
	return err
}
