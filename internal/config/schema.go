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
	"fmt"
	"sort"
)

// SchemaJSON returns the JSON schema for the config file.
func SchemaJSON() string {
	return configSchemaJSON
}

// ExampleConfigJSON returns an example config derived from the schema.
func ExampleConfigJSON() string {
	return exampleConfigJSON
}

// normalizeConfigFile decodes any supported format and round-trips it through
// JSON so TOML integers and YAML scalars validate like JSON numbers.
func normalizeConfigFile(path string, data []byte) ([]byte, error) {
	decoded, err := decodeConfigFile(path, data)
	if err != nil {
		return nil, err
	}
	intermediate, err := json.Marshal(decoded)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(intermediate, &raw); err != nil {
		return nil, err
	}
	if err := validateConfigMap(raw, ""); err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

type fieldValidators map[string]func(interface{}) error

func validateConfigMap(raw map[string]interface{}, prefix string) error {
	allowed := fieldValidators{
		"elevation": func(v interface{}) error {
			return validateObject(v, prefix+"elevation.", fieldValidators{
				"session_ttl_seconds":   numberField(prefix + "elevation.session_ttl_seconds"),
				"probe_timeout_seconds": numberField(prefix + "elevation.probe_timeout_seconds"),
				"helper":                stringArrayField(prefix + "elevation.helper"),
				"wipe_on_expiry":        boolField(prefix + "elevation.wipe_on_expiry"),
			})
		},
		"execution": func(v interface{}) error {
			return validateObject(v, prefix+"execution.", fieldValidators{
				"timeout_seconds": numberField(prefix + "execution.timeout_seconds"),
			})
		},
		"services": func(v interface{}) error {
			return validateObject(v, prefix+"services.", fieldValidators{
				"systemctl": stringField(prefix + "services.systemctl"),
			})
		},
		"packages": func(v interface{}) error {
			return validateObject(v, prefix+"packages.", fieldValidators{
				"output_max_chars": numberField(prefix + "packages.output_max_chars"),
				"cache_detection":  boolField(prefix + "packages.cache_detection"),
			})
		},
		"processes": func(v interface{}) error {
			return validateObject(v, prefix+"processes.", fieldValidators{
				"list_limit": numberField(prefix + "processes.list_limit"),
			})
		},
		"server": func(v interface{}) error {
			return validateObject(v, prefix+"server.", fieldValidators{
				"transport":    stringField(prefix + "server.transport"),
				"host":         stringField(prefix + "server.host"),
				"port":         numberField(prefix + "server.port"),
				"base_url":     stringField(prefix + "server.base_url"),
				"metrics_path": stringField(prefix + "server.metrics_path"),
			})
		},
		"log": func(v interface{}) error {
			return validateObject(v, prefix+"log.", fieldValidators{
				"level":  stringField(prefix + "log.level"),
				"format": stringField(prefix + "log.format"),
				"file":   stringField(prefix + "log.file"),
			})
		},
		"tools": func(v interface{}) error {
			return validateObject(v, prefix+"tools.", fieldValidators{
				"allow":                stringArrayField(prefix + "tools.allow"),
				"ask":                  stringArrayField(prefix + "tools.ask"),
				"deny":                 stringArrayField(prefix + "tools.deny"),
				"require_confirmation": stringArrayField(prefix + "tools.require_confirmation"),
			})
		},
		"tool_rate_limits": func(v interface{}) error {
			return validateObject(v, prefix+"tool_rate_limits.", fieldValidators{
				"default_per_minute": numberField(prefix + "tool_rate_limits.default_per_minute"),
				"per_tool":           numberMapField(prefix + "tool_rate_limits.per_tool"),
				"cooldown_seconds":   numberMapField(prefix + "tool_rate_limits.cooldown_seconds"),
			})
		},
		"tool_timeouts": func(v interface{}) error {
			return validateObject(v, prefix+"tool_timeouts.", fieldValidators{
				"default_seconds":  numberField(prefix + "tool_timeouts.default_seconds"),
				"per_tool_seconds": numberMapField(prefix + "tool_timeouts.per_tool_seconds"),
			})
		},
		"tool_output_filters": func(v interface{}) error {
			return validateObject(v, prefix+"tool_output_filters.", fieldValidators{
				"max_chars":     numberField(prefix + "tool_output_filters.max_chars"),
				"strip_ansi":    boolField(prefix + "tool_output_filters.strip_ansi"),
				"strip_control": boolField(prefix + "tool_output_filters.strip_control"),
			})
		},
		"workdir_whitelist": stringArrayField(prefix + "workdir_whitelist"),
		"history_file":      stringField(prefix + "history_file"),
	}
	return validateSection(raw, allowed, prefix)
}

func validateObject(value interface{}, prefix string, allowed fieldValidators) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object", trimDot(prefix))
	}
	return validateSection(section, allowed, prefix)
}

func validateSection(section map[string]interface{}, allowed fieldValidators, prefix string) error {
	keys := make([]string, 0, len(section))
	for key := range section {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		validator, ok := allowed[key]
		if !ok {
			return fmt.Errorf("unknown configuration field %q", prefix+key)
		}
		if err := validator(section[key]); err != nil {
			return err
		}
	}
	return nil
}

func trimDot(prefix string) string {
	if n := len(prefix); n > 0 && prefix[n-1] == '.' {
		return prefix[:n-1]
	}
	return prefix
}

func stringField(name string) func(interface{}) error {
	return func(value interface{}) error {
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s must be a string", name)
		}
		return nil
	}
}

func numberField(name string) func(interface{}) error {
	return func(value interface{}) error {
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%s must be a number", name)
		}
		return nil
	}
}

func boolField(name string) func(interface{}) error {
	return func(value interface{}) error {
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", name)
		}
		return nil
	}
}

func stringArrayField(name string) func(interface{}) error {
	return func(value interface{}) error {
		list, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("%s must be an array of strings", name)
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return fmt.Errorf("%s must be an array of strings", name)
			}
		}
		return nil
	}
}

func numberMapField(name string) func(interface{}) error {
	return func(value interface{}) error {
		section, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s must be an object of number values", name)
		}
		for key, entry := range section {
			if _, ok := entry.(float64); !ok {
				return fmt.Errorf("%s.%s must be a number", name, key)
			}
		}
		return nil
	}
}

const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "remotectl config",
  "type": "object",
  "properties": {
    "elevation": {
      "type": "object",
      "properties": {
        "session_ttl_seconds": { "type": "number" },
        "probe_timeout_seconds": { "type": "number" },
        "helper": { "type": "array", "items": { "type": "string" } },
        "wipe_on_expiry": { "type": "boolean" }
      }
    },
    "execution": {
      "type": "object",
      "properties": {
        "timeout_seconds": { "type": "number" }
      }
    },
    "services": {
      "type": "object",
      "properties": {
        "systemctl": { "type": "string" }
      }
    },
    "packages": {
      "type": "object",
      "properties": {
        "output_max_chars": { "type": "number" },
        "cache_detection": { "type": "boolean" }
      }
    },
    "processes": {
      "type": "object",
      "properties": {
        "list_limit": { "type": "number" }
      }
    },
    "server": {
      "type": "object",
      "properties": {
        "transport": { "type": "string", "enum": ["stdio", "sse"] },
        "host": { "type": "string" },
        "port": { "type": "number" },
        "base_url": { "type": "string" },
        "metrics_path": { "type": "string" }
      }
    },
    "log": {
      "type": "object",
      "properties": {
        "level": { "type": "string", "enum": ["debug", "info", "warn", "error", "disabled"] },
        "format": { "type": "string", "enum": ["auto", "json", "console"] },
        "file": { "type": "string" }
      }
    },
    "tools": {
      "type": "object",
      "properties": {
        "allow": { "type": "array", "items": { "type": "string" } },
        "ask": { "type": "array", "items": { "type": "string" } },
        "deny": { "type": "array", "items": { "type": "string" } },
        "require_confirmation": { "type": "array", "items": { "type": "string" } }
      }
    },
    "tool_rate_limits": {
      "type": "object",
      "properties": {
        "default_per_minute": { "type": "number" },
        "per_tool": { "type": "object", "additionalProperties": { "type": "number" } },
        "cooldown_seconds": { "type": "object", "additionalProperties": { "type": "number" } }
      }
    },
    "tool_timeouts": {
      "type": "object",
      "properties": {
        "default_seconds": { "type": "number" },
        "per_tool_seconds": { "type": "object", "additionalProperties": { "type": "number" } }
      }
    },
    "tool_output_filters": {
      "type": "object",
      "properties": {
        "max_chars": { "type": "number" },
        "strip_ansi": { "type": "boolean" },
        "strip_control": { "type": "boolean" }
      }
    },
    "workdir_whitelist": { "type": "array", "items": { "type": "string" } },
    "history_file": { "type": "string" }
  }
}`

const exampleConfigJSON = `{
  "elevation": {
    "session_ttl_seconds": 1800,
    "helper": ["sudo", "-S", "-k", "-p", ""]
  },
  "server": {
    "transport": "stdio"
  },
  "log": {
    "level": "info",
    "file": "/var/log/remotectl.log"
  },
  "tools": {
    "ask": ["execute_command", "process_management"]
  },
  "workdir_whitelist": ["/srv", "/var/www"]
}`
