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
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"remotectl/internal/runner"
	"remotectl/internal/tools"
)

var envKeys = []string{
	"REMOTECTL_SESSION_TTL",
	"REMOTECTL_LOG_LEVEL",
	"REMOTECTL_TRANSPORT",
	"REMOTECTL_HOST",
	"REMOTECTL_PORT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileReturnsDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL() != 30*time.Minute {
		t.Fatalf("expected default ttl 30m, got %s", cfg.SessionTTL())
	}
	if !reflect.DeepEqual(cfg.Elevation.Helper, runner.DefaultHelper) {
		t.Fatalf("expected default helper, got %v", cfg.Elevation.Helper)
	}
	if !cfg.Elevation.WipeOnExpiry {
		t.Fatal("expected wipe_on_expiry to default to true")
	}
	if cfg.Server.Transport != TransportStdio {
		t.Fatalf("expected stdio transport, got %s", cfg.Server.Transport)
	}
	if cfg.Packages.OutputMaxChars != 2000 {
		t.Fatalf("expected output_max_chars 2000, got %d", cfg.Packages.OutputMaxChars)
	}
	if cfg.Execution.TimeoutSeconds != 0 {
		t.Fatalf("expected unbounded execution, got %d", cfg.Execution.TimeoutSeconds)
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.json", `{
		"elevation": {"session_ttl_seconds": 600, "wipe_on_expiry": false},
		"execution": {"timeout_seconds": 90},
		"services": {"systemctl": "/usr/bin/systemctl"},
		"workdir_whitelist": ["/srv"]
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL() != 10*time.Minute {
		t.Fatalf("expected ttl 10m, got %s", cfg.SessionTTL())
	}
	if cfg.Elevation.WipeOnExpiry {
		t.Fatal("expected wipe_on_expiry false")
	}
	if cfg.Services.Systemctl != "/usr/bin/systemctl" {
		t.Fatalf("unexpected systemctl %q", cfg.Services.Systemctl)
	}
	runnerCfg := cfg.RunnerConfig()
	if runnerCfg.Timeout != 90*time.Second {
		t.Fatalf("expected runner timeout 90s, got %s", runnerCfg.Timeout)
	}
	if !reflect.DeepEqual(runnerCfg.WorkdirWhitelist, []string{"/srv"}) {
		t.Fatalf("unexpected whitelist %v", runnerCfg.WorkdirWhitelist)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected default host, got %q", cfg.Server.Host)
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "remotectl.toml", `
history_file = "/tmp/history"

[elevation]
session_ttl_seconds = 900
helper = ["doas", "-n"]

[server]
transport = "sse"
port = 9090

[tools]
deny = ["execute_command"]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL() != 15*time.Minute {
		t.Fatalf("expected ttl 15m, got %s", cfg.SessionTTL())
	}
	if !reflect.DeepEqual(cfg.Elevation.Helper, []string{"doas", "-n"}) {
		t.Fatalf("unexpected helper %v", cfg.Elevation.Helper)
	}
	if cfg.Server.Transport != TransportSSE || cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected server settings %+v", cfg.Server)
	}
	if cfg.HistoryFile != "/tmp/history" {
		t.Fatalf("unexpected history file %q", cfg.HistoryFile)
	}
	if !cfg.ToolPolicy().Deny["execute_command"] {
		t.Fatal("expected execute_command to be denied")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "remotectl.yaml", `
packages:
  output_max_chars: 500
  cache_detection: true
log:
  level: debug
  format: json
tool_timeouts:
  per_tool_seconds:
    execute_command: 120
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pkgCfg := cfg.PackagesConfig()
	if pkgCfg.OutputMaxChars != 500 || !pkgCfg.CacheDetection {
		t.Fatalf("unexpected packages config %+v", pkgCfg)
	}
	logCfg := cfg.LoggingConfig()
	if logCfg.Level != "debug" || logCfg.Format != "json" {
		t.Fatalf("unexpected logging config %+v", logCfg)
	}
	if got := cfg.ToolTimeoutsConfig().PerTool["execute_command"]; got != 2*time.Minute {
		t.Fatalf("expected execute_command timeout 2m, got %s", got)
	}
	// Defaults for other tools survive the merge.
	if got := cfg.ToolTimeoutsConfig().PerTool["session_status"]; got != 5*time.Second {
		t.Fatalf("expected session_status timeout 5s, got %s", got)
	}
}

func TestConfigValidationRejectsUnknownField(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"top level": `{"unknown_field":123}`,
		"nested":    `{"elevation":{"sudo_password":"nope"}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeTempConfig(t, "config.json", content)
			_, err := LoadConfig(path)
			if err == nil || !strings.Contains(err.Error(), "unknown configuration field") {
				t.Fatalf("expected unknown field error, got %v", err)
			}
		})
	}
}

func TestConfigValidationRejectsInvalidType(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"config.json":   `{"packages":{"output_max_chars":"oops"}}`,
		"config.toml":   "[server]\nport = \"eighty\"\n",
		"config.yaml":   "tools:\n  allow: yes\n",
		"section.json":  `{"server":"sse"}`,
		"helper.json":   `{"elevation":{"helper":[1,2]}}`,
		"cooldown.json": `{"tool_rate_limits":{"cooldown_seconds":{"authenticate":"1s"}}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeTempConfig(t, name, content)
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("expected error for invalid type")
			}
		})
	}
}

func TestConfigRejectsFatalSettings(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"transport": `{"server":{"transport":"websocket"}}`,
		"port":      `{"server":{"port":70000}}`,
		"ttl":       `{"elevation":{"session_ttl_seconds":-1}}`,
		"helper":    `{"elevation":{"helper":[]}}`,
		"level":     `{"log":{"level":"loud"}}`,
		"format":    `{"log":{"format":"xml"}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeTempConfig(t, "config.json", content)
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.json", `{"server":{"transport":"stdio","port":8080},"log":{"level":"info"}}`)
	t.Setenv("REMOTECTL_TRANSPORT", "sse")
	t.Setenv("REMOTECTL_HOST", "0.0.0.0")
	t.Setenv("REMOTECTL_PORT", "9443")
	t.Setenv("REMOTECTL_LOG_LEVEL", "debug")
	t.Setenv("REMOTECTL_SESSION_TTL", "5m")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Transport != TransportSSE {
		t.Fatalf("expected env transport, got %s", cfg.Server.Transport)
	}
	if cfg.ListenAddr() != "0.0.0.0:9443" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr())
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected env log level, got %s", cfg.Log.Level)
	}
	if cfg.SessionTTL() != 5*time.Minute {
		t.Fatalf("expected env ttl, got %s", cfg.SessionTTL())
	}
}

func TestEnvSessionTTLSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("REMOTECTL_SESSION_TTL", "120")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VaultOptions().TTL != 2*time.Minute {
		t.Fatalf("expected 2m ttl, got %s", cfg.VaultOptions().TTL)
	}
}

func TestEnvRejectsGarbage(t *testing.T) {
	for key, value := range map[string]string{
		"REMOTECTL_PORT":        "http",
		"REMOTECTL_SESSION_TTL": "forever",
		"REMOTECTL_TRANSPORT":   "carrier-pigeon",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := LoadConfig(""); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv sets variables directly, so unset after t.Setenv registers
	// the cleanup.
	t.Setenv("REMOTECTL_PORT", "")
	os.Unsetenv("REMOTECTL_PORT")

	path := writeTempConfig(t, ".env", "REMOTECTL_PORT=9191\n")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Fatalf("expected port from .env, got %d", cfg.Server.Port)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
	if err := LoadDotEnv(""); err != nil {
		t.Fatalf("empty path should be ignored, got %v", err)
	}
}

func TestToolPolicyEmpty(t *testing.T) {
	cfg := DefaultConfig()
	policy := cfg.ToolPolicy()
	if policy.Allow != nil || policy.Ask != nil || policy.Deny != nil {
		t.Fatalf("expected empty policy, got %+v", policy)
	}
}

func TestCustomToolPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tools = ToolSettings{
		Allow:               []string{"authenticate", "session_status"},
		Ask:                 []string{"execute_command"},
		RequireConfirmation: []string{"process_management"},
		Deny:                []string{"package_management"},
	}
	policy := cfg.ToolPolicy()
	if !policy.Allow["authenticate"] || !policy.Allow["session_status"] {
		t.Fatalf("unexpected allow set %v", policy.Allow)
	}
	if !policy.Ask["execute_command"] || !policy.Ask["process_management"] {
		t.Fatalf("expected require_confirmation to merge into ask, got %v", policy.Ask)
	}
	if !policy.Deny["package_management"] {
		t.Fatalf("unexpected deny set %v", policy.Deny)
	}
}

func TestToolRateLimitsCustom(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.json", `{
		"tool_rate_limits": {
			"default_per_minute": 30,
			"per_tool": {"execute_command": 5},
			"cooldown_seconds": {"authenticate": 3, "service_control": 0}
		}
	}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	limits := cfg.ToolRateLimitsConfig()
	if limits.DefaultPerMinute != 30 {
		t.Fatalf("expected default 30, got %d", limits.DefaultPerMinute)
	}
	if limits.PerTool["execute_command"] != 5 || limits.PerTool["authenticate"] != 10 {
		t.Fatalf("unexpected per-tool limits %v", limits.PerTool)
	}
	if limits.Cooldowns["authenticate"] != 3*time.Second {
		t.Fatalf("expected authenticate cooldown 3s, got %s", limits.Cooldowns["authenticate"])
	}
	if _, ok := limits.Cooldowns["service_control"]; ok {
		t.Fatal("zero cooldowns should be dropped")
	}
}

func TestToolTimeoutsDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ToolTimeouts.DefaultSeconds = 45
	timeouts := cfg.ToolTimeoutsConfig()
	if timeouts.Default != 45*time.Second {
		t.Fatalf("expected default 45s, got %s", timeouts.Default)
	}
	if _, ok := timeouts.PerTool["execute_command"]; ok {
		t.Fatal("execute_command should not carry a default timeout")
	}
}

func TestToolOutputFiltersCustom(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.json", `{"tool_output_filters":{"max_chars":128,"strip_ansi":false}}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filters := cfg.ToolOutputFiltersConfig()
	if filters.MaxChars != 128 || filters.StripANSI {
		t.Fatalf("unexpected filters %+v", filters)
	}
}

func TestValidateWarnings(t *testing.T) {
	registry := tools.NewRegistry(tools.Options{Logger: zerolog.Nop()})
	defer registry.Close()
	for _, name := range []string{"authenticate", "execute_command"} {
		if err := registry.RegisterTool(&tools.ToolDefinition{NameValue: name, VersionValue: "1.0.0"}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	cfg := DefaultConfig()
	cfg.Tools = ToolSettings{
		Allow: []string{"execute_command"},
		Deny:  []string{"edit_file"},
	}
	cfg.Server.Transport = TransportSSE
	cfg.Server.Host = "0.0.0.0"
	cfg.Elevation.SessionTTLSeconds = int((8 * time.Hour).Seconds())
	cfg.Processes.ListLimit = 0

	fields := map[string]bool{}
	for _, warning := range cfg.Validate(registry) {
		fields[warning.Field] = true
	}
	for _, field := range []string{
		"tools.deny",
		"tools.allow",
		"server.host",
		"elevation.session_ttl_seconds",
		"processes.list_limit",
	} {
		if !fields[field] {
			t.Errorf("expected warning for %s, got %v", field, fields)
		}
	}
}

func TestValidateDefaultsClean(t *testing.T) {
	if warnings := DefaultConfig().Validate(nil); len(warnings) != 0 {
		t.Fatalf("expected no warnings for defaults, got %+v", warnings)
	}
}

func TestSchemaJSONIsValid(t *testing.T) {
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(SchemaJSON()), &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("schema has no properties")
	}
	for _, key := range []string{"elevation", "server", "tools", "workdir_whitelist"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema is missing %s", key)
		}
	}
}

func TestExampleConfigLoads(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "config.json", ExampleConfigJSON())
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	if cfg.ToolPolicy().Ask["execute_command"] != true {
		t.Fatal("expected execute_command to ask")
	}
}
