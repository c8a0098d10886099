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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"remotectl/internal/elevation"
	"remotectl/internal/logging"
	"remotectl/internal/packages"
	"remotectl/internal/runner"
	"remotectl/internal/tools"
)

// Transports served by remotectl serve.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Config represents the application configuration
type Config struct {
	Elevation         ElevationSettings `json:"elevation,omitempty"`
	Execution         ExecutionSettings `json:"execution,omitempty"`
	Services          ServiceSettings   `json:"services,omitempty"`
	Packages          PackageSettings   `json:"packages,omitempty"`
	Processes         ProcessSettings   `json:"processes,omitempty"`
	Server            ServerSettings    `json:"server,omitempty"`
	Log               LogSettings       `json:"log,omitempty"`
	Tools             ToolSettings      `json:"tools,omitempty"`
	ToolRateLimits    ToolRateLimits    `json:"tool_rate_limits,omitempty"`
	ToolTimeouts      ToolTimeouts      `json:"tool_timeouts,omitempty"`
	ToolOutputFilters ToolOutputFilters `json:"tool_output_filters,omitempty"`
	WorkdirWhitelist  []string          `json:"workdir_whitelist,omitempty"`
	HistoryFile       string            `json:"history_file,omitempty"`
}

// ElevationSettings configures the credential vault and the helper.
type ElevationSettings struct {
	SessionTTLSeconds   int      `json:"session_ttl_seconds,omitempty"`
	ProbeTimeoutSeconds int      `json:"probe_timeout_seconds,omitempty"`
	Helper              []string `json:"helper,omitempty"`
	WipeOnExpiry        bool     `json:"wipe_on_expiry"`
}

// ExecutionSettings bounds command runs.
type ExecutionSettings struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// ServiceSettings configures service control.
type ServiceSettings struct {
	Systemctl string `json:"systemctl,omitempty"`
}

// PackageSettings configures the package manager adapter.
type PackageSettings struct {
	OutputMaxChars int  `json:"output_max_chars,omitempty"`
	CacheDetection bool `json:"cache_detection,omitempty"`
}

// ProcessSettings configures process listing.
type ProcessSettings struct {
	ListLimit int `json:"list_limit,omitempty"`
}

// ServerSettings configures the MCP transport.
type ServerSettings struct {
	Transport   string `json:"transport,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	BaseURL     string `json:"base_url,omitempty"`
	MetricsPath string `json:"metrics_path,omitempty"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
	File   string `json:"file,omitempty"`
}

// ToolSettings describes tool allow/ask/deny lists.
type ToolSettings struct {
	Allow               []string `json:"allow,omitempty"`
	Ask                 []string `json:"ask,omitempty"`
	Deny                []string `json:"deny,omitempty"`
	RequireConfirmation []string `json:"require_confirmation,omitempty"`
}

// ToolRateLimits configures tool rate limits and cooldowns.
type ToolRateLimits struct {
	DefaultPerMinute int            `json:"default_per_minute,omitempty"`
	PerTool          map[string]int `json:"per_tool,omitempty"`
	CooldownSeconds  map[string]int `json:"cooldown_seconds,omitempty"`
}

// ToolTimeouts configures tool execution timeouts.
type ToolTimeouts struct {
	DefaultSeconds int            `json:"default_seconds,omitempty"`
	PerToolSeconds map[string]int `json:"per_tool_seconds,omitempty"`
}

// ToolOutputFilters configures output sanitization for tool results.
type ToolOutputFilters struct {
	MaxChars     int  `json:"max_chars,omitempty"`
	StripANSI    bool `json:"strip_ansi,omitempty"`
	StripControl bool `json:"strip_control,omitempty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	rateDefaults := tools.DefaultRateLimitConfig()
	rateLimits := ToolRateLimits{
		DefaultPerMinute: rateDefaults.DefaultPerMinute,
		PerTool:          make(map[string]int, len(rateDefaults.PerTool)),
		CooldownSeconds:  make(map[string]int, len(rateDefaults.Cooldowns)),
	}
	for name, rate := range rateDefaults.PerTool {
		rateLimits.PerTool[name] = rate
	}
	for name, cooldown := range rateDefaults.Cooldowns {
		rateLimits.CooldownSeconds[name] = int(cooldown.Seconds())
	}

	timeouts := ToolTimeouts{PerToolSeconds: make(map[string]int)}
	for name, timeout := range tools.DefaultTimeoutConfig().PerTool {
		timeouts.PerToolSeconds[name] = int(timeout.Seconds())
	}

	filters := tools.DefaultOutputFilterConfig()
	return &Config{
		Elevation: ElevationSettings{
			SessionTTLSeconds:   int(elevation.DefaultTTL.Seconds()),
			ProbeTimeoutSeconds: int(elevation.DefaultProbeTimeout.Seconds()),
			Helper:              append([]string(nil), runner.DefaultHelper...),
			WipeOnExpiry:        true,
		},
		Services: ServiceSettings{Systemctl: "systemctl"},
		Packages: PackageSettings{OutputMaxChars: packages.DefaultOutputMaxChars},
		Processes: ProcessSettings{
			ListLimit: 50,
		},
		Server: ServerSettings{
			Transport:   TransportStdio,
			Host:        "127.0.0.1",
			Port:        8080,
			MetricsPath: "/metrics",
		},
		Log:            LogSettings{Level: "info", Format: "auto"},
		ToolRateLimits: rateLimits,
		ToolTimeouts:   timeouts,
		ToolOutputFilters: ToolOutputFilters{
			MaxChars:     filters.MaxChars,
			StripANSI:    filters.StripANSI,
			StripControl: filters.StripControl,
		},
		HistoryFile: ".remotectl_history",
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error and variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from a JSON, TOML or YAML file (picked by
// extension), applies env overrides, and rejects invalid settings.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			normalized, err := normalizeConfigFile(path, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if err := json.Unmarshal(normalized, config); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.check(); err != nil {
		return nil, err
	}
	return config, nil
}

// decodeConfigFile parses data into a generic map according to the file
// extension.
func decodeConfigFile(path string, data []byte) (map[string]interface{}, error) {
	raw := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func (c *Config) applyEnv() error {
	if val := os.Getenv("REMOTECTL_SESSION_TTL"); val != "" {
		ttl, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("REMOTECTL_SESSION_TTL: %w", err)
		}
		c.Elevation.SessionTTLSeconds = ttl
	}
	if val := os.Getenv("REMOTECTL_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("REMOTECTL_TRANSPORT"); val != "" {
		c.Server.Transport = val
	}
	if val := os.Getenv("REMOTECTL_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("REMOTECTL_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("REMOTECTL_PORT: %q is not a number", val)
		}
		c.Server.Port = port
	}
	return nil
}

// parseSeconds accepts a plain number of seconds or a Go duration.
func parseSeconds(val string) (int, error) {
	if seconds, err := strconv.Atoi(val); err == nil {
		return seconds, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%q is neither seconds nor a duration", val)
	}
	return int(d.Seconds()), nil
}

// check rejects settings remotectl cannot start with.
func (c *Config) check() error {
	switch c.Server.Transport {
	case TransportStdio, TransportSSE:
	default:
		return fmt.Errorf("server.transport must be %q or %q, got %q", TransportStdio, TransportSSE, c.Server.Transport)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Elevation.SessionTTLSeconds <= 0 {
		return fmt.Errorf("elevation.session_ttl_seconds must be positive, got %d", c.Elevation.SessionTTLSeconds)
	}
	if len(c.Elevation.Helper) == 0 || strings.TrimSpace(c.Elevation.Helper[0]) == "" {
		return fmt.Errorf("elevation.helper must name a program")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("log.format must be auto, json or console, got %q", c.Log.Format)
	}
	return nil
}

// SessionTTL returns the elevation session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Elevation.SessionTTLSeconds) * time.Second
}

// VaultOptions returns vault settings; the caller adds the logger.
func (c *Config) VaultOptions() elevation.Options {
	return elevation.Options{
		TTL:          c.SessionTTL(),
		ProbeTimeout: time.Duration(c.Elevation.ProbeTimeoutSeconds) * time.Second,
		WipeOnExpiry: c.Elevation.WipeOnExpiry,
	}
}

// RunnerConfig returns runner settings; the caller adds logger and observer.
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		Helper:           append([]string(nil), c.Elevation.Helper...),
		Timeout:          time.Duration(c.Execution.TimeoutSeconds) * time.Second,
		WorkdirWhitelist: append([]string(nil), c.WorkdirWhitelist...),
	}
}

// PackagesConfig returns package adapter settings.
func (c *Config) PackagesConfig() packages.Config {
	return packages.Config{
		OutputMaxChars: c.Packages.OutputMaxChars,
		CacheDetection: c.Packages.CacheDetection,
	}
}

// LoggingConfig returns logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File:   c.Log.File,
	}
}

// ListenAddr is the SSE listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ToolPolicy converts config settings into a tool policy.
func (c *Config) ToolPolicy() tools.Policy {
	var ask []string
	if c.Tools.Ask != nil || c.Tools.RequireConfirmation != nil {
		ask = append(append([]string{}, c.Tools.Ask...), c.Tools.RequireConfirmation...)
	}
	return tools.PolicyFromLists(c.Tools.Allow, ask, c.Tools.Deny)
}

// ToolRateLimitsConfig returns rate limiting configuration for tools.
func (c *Config) ToolRateLimitsConfig() tools.RateLimitConfig {
	cooldowns := make(map[string]time.Duration, len(c.ToolRateLimits.CooldownSeconds))
	for name, seconds := range c.ToolRateLimits.CooldownSeconds {
		if seconds <= 0 {
			continue
		}
		cooldowns[name] = time.Duration(seconds) * time.Second
	}
	perTool := make(map[string]int, len(c.ToolRateLimits.PerTool))
	for name, rate := range c.ToolRateLimits.PerTool {
		perTool[name] = rate
	}

	return tools.RateLimitConfig{
		DefaultPerMinute: c.ToolRateLimits.DefaultPerMinute,
		PerTool:          perTool,
		Cooldowns:        cooldowns,
	}
}

// ToolTimeoutsConfig returns timeout configuration for tools.
func (c *Config) ToolTimeoutsConfig() tools.TimeoutConfig {
	perTool := make(map[string]time.Duration, len(c.ToolTimeouts.PerToolSeconds))
	for name, seconds := range c.ToolTimeouts.PerToolSeconds {
		if seconds <= 0 {
			continue
		}
		perTool[name] = time.Duration(seconds) * time.Second
	}

	var defaultTimeout time.Duration
	if c.ToolTimeouts.DefaultSeconds > 0 {
		defaultTimeout = time.Duration(c.ToolTimeouts.DefaultSeconds) * time.Second
	}

	return tools.TimeoutConfig{
		Default: defaultTimeout,
		PerTool: perTool,
	}
}

// ToolOutputFiltersConfig returns output filter configuration for tools.
func (c *Config) ToolOutputFiltersConfig() tools.OutputFilterConfig {
	return tools.OutputFilterConfig{
		MaxChars:     c.ToolOutputFilters.MaxChars,
		StripANSI:    c.ToolOutputFilters.StripANSI,
		StripControl: c.ToolOutputFilters.StripControl,
	}
}

// ValidationWarning represents a non-fatal configuration issue
type ValidationWarning struct {
	Field   string
	Message string
}

// Validate checks the configuration for common issues and returns warnings
func (c *Config) Validate(registry *tools.Registry) []ValidationWarning {
	var warnings []ValidationWarning

	if registry != nil {
		registered := make(map[string]bool)
		for _, name := range registry.GetToolNames() {
			registered[name] = true
		}
		lists := []struct {
			field string
			names []string
		}{
			{"tools.allow", c.Tools.Allow},
			{"tools.ask", c.Tools.Ask},
			{"tools.require_confirmation", c.Tools.RequireConfirmation},
			{"tools.deny", c.Tools.Deny},
		}
		for _, list := range lists {
			for _, name := range list.names {
				if !registered[name] {
					warnings = append(warnings, ValidationWarning{
						Field:   list.field,
						Message: fmt.Sprintf("tool %q is not registered", name),
					})
				}
			}
		}
		if c.Tools.Allow != nil && !contains(c.Tools.Allow, "authenticate") && registered["authenticate"] {
			warnings = append(warnings, ValidationWarning{
				Field:   "tools.allow",
				Message: "authenticate is not allowed; elevated tools will always be denied",
			})
		}
	}

	if c.Server.Transport == TransportSSE && !isLoopback(c.Server.Host) {
		warnings = append(warnings, ValidationWarning{
			Field:   "server.host",
			Message: fmt.Sprintf("SSE transport listens on %s without authentication", c.Server.Host),
		})
	}

	if c.Elevation.SessionTTLSeconds > int((4 * time.Hour).Seconds()) {
		warnings = append(warnings, ValidationWarning{
			Field:   "elevation.session_ttl_seconds",
			Message: fmt.Sprintf("session ttl %ds keeps the password in memory for a long time", c.Elevation.SessionTTLSeconds),
		})
	}

	if c.Processes.ListLimit <= 0 {
		warnings = append(warnings, ValidationWarning{
			Field:   "processes.list_limit",
			Message: fmt.Sprintf("list_limit %d should be positive, using default", c.Processes.ListLimit),
		})
	}

	return warnings
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
