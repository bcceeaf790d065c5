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
	"math"
	"sort"
)

// SchemaJSON returns the JSON schema of the configuration file.
func SchemaJSON() string {
	return configSchemaJSON
}

// ExampleConfigJSON returns a minimal example config derived from the schema.
func ExampleConfigJSON() string {
	return exampleConfigJSON
}

type fieldValidator func(interface{}) error

func normalizeConfigJSON(data []byte) ([]byte, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	migrateLegacyConfig(raw)
	if err := validateConfigMap(raw); err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

// migrateLegacyConfig accepts the flat provider keys of early config files
// (api_key, api_url, model) as the openai provider section.
func migrateLegacyConfig(raw map[string]interface{}) {
	legacy := map[string]string{"api_key": "api_key", "api_url": "base_url", "model": "model"}
	var moved map[string]interface{}
	for old, key := range legacy {
		value, ok := raw[old]
		if !ok {
			continue
		}
		if moved == nil {
			moved = map[string]interface{}{}
		}
		moved[key] = value
		delete(raw, old)
	}
	if moved == nil {
		return
	}
	backends, ok := raw["backends"].(map[string]interface{})
	if !ok {
		if _, present := raw["backends"]; present {
			return
		}
		backends = map[string]interface{}{}
		raw["backends"] = backends
	}
	openai, ok := backends["openai"].(map[string]interface{})
	if !ok {
		if _, present := backends["openai"]; present {
			return
		}
		openai = map[string]interface{}{}
		backends["openai"] = openai
	}
	for key, value := range moved {
		if _, set := openai[key]; !set {
			openai[key] = value
		}
	}
}

func validateConfigMap(raw map[string]interface{}) error {
	allowed := map[string]fieldValidator{
		"lite_mode":    func(v interface{}) error { return validateBool(v, "lite_mode") },
		"history_file": func(v interface{}) error { return validateString(v, "history_file") },
		"proc_root":    func(v interface{}) error { return validateString(v, "proc_root") },
		"backends":     func(v interface{}) error { return validateBackends(v, "backends.") },
		"execution":    func(v interface{}) error { return validateExecution(v, "execution.") },
		"safety":       func(v interface{}) error { return validateSafety(v, "safety.") },
		"audit":        func(v interface{}) error { return validateAudit(v, "audit.") },
	}
	return validateSection(raw, allowed, "")
}

func validateBackends(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("backends must be an object")
	}
	allowed := map[string]fieldValidator{
		"chain":           func(v interface{}) error { return validateStringArray(v, prefix+"chain") },
		"timeout_seconds": func(v interface{}) error { return validateNumber(v, prefix+"timeout_seconds") },
		"analyze_results": func(v interface{}) error { return validateBool(v, prefix+"analyze_results") },
		"ollama":          func(v interface{}) error { return validateProvider(v, prefix+"ollama.") },
		"openai":          func(v interface{}) error { return validateProvider(v, prefix+"openai.") },
		"anthropic":       func(v interface{}) error { return validateProvider(v, prefix+"anthropic.") },
	}
	return validateSection(section, allowed, prefix)
}

func validateProvider(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s must be an object", trimDot(prefix))
	}
	allowed := map[string]fieldValidator{
		"model":           func(v interface{}) error { return validateString(v, prefix+"model") },
		"api_key":         func(v interface{}) error { return validateString(v, prefix+"api_key") },
		"base_url":        func(v interface{}) error { return validateString(v, prefix+"base_url") },
		"temperature":     func(v interface{}) error { return validateNumber(v, prefix+"temperature") },
		"max_tokens":      func(v interface{}) error { return validateInteger(v, prefix+"max_tokens") },
		"timeout_seconds": func(v interface{}) error { return validateNumber(v, prefix+"timeout_seconds") },
	}
	return validateSection(section, allowed, prefix)
}

func validateExecution(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("execution must be an object")
	}
	allowed := map[string]fieldValidator{
		"timeout_seconds":   func(v interface{}) error { return validateNumber(v, prefix+"timeout_seconds") },
		"max_output_bytes":  func(v interface{}) error { return validateInteger(v, prefix+"max_output_bytes") },
		"working_directory": func(v interface{}) error { return validateString(v, prefix+"working_directory") },
		"grace_period_ms":   func(v interface{}) error { return validateInteger(v, prefix+"grace_period_ms") },
		"shell":             func(v interface{}) error { return validateString(v, prefix+"shell") },
		"native_fallback":   func(v interface{}) error { return validateBool(v, prefix+"native_fallback") },
	}
	return validateSection(section, allowed, prefix)
}

func validateSafety(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("safety must be an object")
	}
	allowed := map[string]fieldValidator{
		"protected_names":      func(v interface{}) error { return validateStringArray(v, prefix+"protected_names") },
		"protected_pids":       func(v interface{}) error { return validateIntegerArray(v, prefix+"protected_pids") },
		"dangerous_verbs":      func(v interface{}) error { return validateStringArray(v, prefix+"dangerous_verbs") },
		"require_confirmation": func(v interface{}) error { return validateBool(v, prefix+"require_confirmation") },
	}
	return validateSection(section, allowed, prefix)
}

func validateAudit(value interface{}, prefix string) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("audit must be an object")
	}
	allowed := map[string]fieldValidator{
		"driver": func(v interface{}) error { return validateString(v, prefix+"driver") },
		"path":   func(v interface{}) error { return validateString(v, prefix+"path") },
	}
	return validateSection(section, allowed, prefix)
}

func validateSection(section map[string]interface{}, allowed map[string]fieldValidator, prefix string) error {
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

func validateString(value interface{}, name string) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("%s must be a string", name)
	}
	return nil
}

func validateNumber(value interface{}, name string) error {
	if _, ok := value.(float64); !ok {
		return fmt.Errorf("%s must be a number", name)
	}
	return nil
}

func validateInteger(value interface{}, name string) error {
	n, ok := value.(float64)
	if !ok || n != math.Trunc(n) {
		return fmt.Errorf("%s must be an integer", name)
	}
	return nil
}

func validateBool(value interface{}, name string) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("%s must be a boolean", name)
	}
	return nil
}

func validateStringArray(value interface{}, name string) error {
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

func validateIntegerArray(value interface{}, name string) error {
	list, ok := value.([]interface{})
	if !ok {
		return fmt.Errorf("%s must be an array of integers", name)
	}
	for _, item := range list {
		if err := validateInteger(item, name); err != nil {
			return fmt.Errorf("%s must be an array of integers", name)
		}
	}
	return nil
}

const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "terminalbot config",
  "type": "object",
  "properties": {
    "lite_mode": { "type": "boolean" },
    "history_file": { "type": "string" },
    "proc_root": { "type": "string" },
    "backends": {
      "type": "object",
      "properties": {
        "chain": { "type": "array", "items": { "enum": ["ollama", "openai", "anthropic"] } },
        "timeout_seconds": { "type": "number" },
        "analyze_results": { "type": "boolean" },
        "ollama": { "$ref": "#/$defs/provider" },
        "openai": { "$ref": "#/$defs/provider" },
        "anthropic": { "$ref": "#/$defs/provider" }
      }
    },
    "execution": {
      "type": "object",
      "properties": {
        "timeout_seconds": { "type": "number" },
        "max_output_bytes": { "type": "integer" },
        "working_directory": { "type": "string" },
        "grace_period_ms": { "type": "integer" },
        "shell": { "type": "string" },
        "native_fallback": { "type": "boolean" }
      }
    },
    "safety": {
      "type": "object",
      "properties": {
        "protected_names": { "type": "array", "items": { "type": "string" } },
        "protected_pids": { "type": "array", "items": { "type": "integer" } },
        "dangerous_verbs": { "type": "array", "items": { "type": "string" } },
        "require_confirmation": { "type": "boolean" }
      }
    },
    "audit": {
      "type": "object",
      "properties": {
        "driver": { "enum": ["file", "jsonl", "sqlite", "memory", "none"] },
        "path": { "type": "string" }
      }
    }
  },
  "$defs": {
    "provider": {
      "type": "object",
      "properties": {
        "model": { "type": "string" },
        "api_key": { "type": "string" },
        "base_url": { "type": "string" },
        "temperature": { "type": "number" },
        "max_tokens": { "type": "integer" },
        "timeout_seconds": { "type": "number" }
      }
    }
  }
}`

const exampleConfigJSON = `{
  "backends": {
    "chain": ["ollama", "openai"],
    "timeout_seconds": 10,
    "analyze_results": true,
    "ollama": { "model": "llama3.2:1b", "base_url": "http://localhost:11434" },
    "openai": { "model": "gpt-4o-mini", "api_key": "env:OPENAI_API_KEY" }
  },
  "execution": {
    "timeout_seconds": 30,
    "max_output_bytes": 10485760
  },
  "safety": {
    "protected_names": ["systemd", "init", "sshd", "NetworkManager", "dbus-daemon"],
    "require_confirmation": true
  },
  "audit": { "driver": "file", "path": "~/.terminalbot_history" }
}`
