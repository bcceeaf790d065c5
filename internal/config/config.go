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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"terminalbot/internal/audit"
	"terminalbot/internal/backend"
	apperrors "terminalbot/internal/errors"
	"terminalbot/internal/executor"
	"terminalbot/internal/paths"
	"terminalbot/internal/safety"
)

// envPrefix marks a string value that names an environment variable.
const envPrefix = "env:"

// Config represents the application configuration
type Config struct {
	LiteMode    bool      `json:"lite_mode,omitempty"`
	Backends    Backends  `json:"backends"`
	Execution   Execution `json:"execution"`
	Safety      Safety    `json:"safety"`
	Audit       Audit     `json:"audit"`
	HistoryFile string    `json:"history_file,omitempty"`
	ProcRoot    string    `json:"proc_root,omitempty"`
}

// Backends configures the ordered fallback chain.
type Backends struct {
	Chain          []string `json:"chain,omitempty"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty"`
	AnalyzeResults bool     `json:"analyze_results"`
	Ollama         Provider `json:"ollama"`
	OpenAI         Provider `json:"openai"`
	Anthropic      Provider `json:"anthropic"`
}

// Provider holds the settings of one model provider.
type Provider struct {
	Model          string   `json:"model,omitempty"`
	APIKey         string   `json:"api_key,omitempty"`
	BaseURL        string   `json:"base_url,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	TimeoutSeconds float64  `json:"timeout_seconds,omitempty"`
}

// Execution bounds command runs.
type Execution struct {
	TimeoutSeconds   float64 `json:"timeout_seconds,omitempty"`
	MaxOutputBytes   int     `json:"max_output_bytes,omitempty"`
	WorkingDirectory string  `json:"working_directory,omitempty"`
	GracePeriodMS    int     `json:"grace_period_ms,omitempty"`
	Shell            string  `json:"shell,omitempty"`
	NativeFallback   bool    `json:"native_fallback"`
}

// Safety lists protected entities and dangerous verbs.
type Safety struct {
	ProtectedNames      []string `json:"protected_names"`
	ProtectedPIDs       []int    `json:"protected_pids"`
	DangerousVerbs      []string `json:"dangerous_verbs"`
	RequireConfirmation bool     `json:"require_confirmation"`
}

// Audit selects the audit sink.
type Audit struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Backends: Backends{
			Chain:          append([]string{}, backend.DefaultChain...),
			TimeoutSeconds: backend.DefaultTimeout.Seconds(),
			AnalyzeResults: true,
			Ollama:         Provider{Model: backend.DefaultOllamaModel, BaseURL: backend.DefaultOllamaHost},
			OpenAI:         Provider{Model: backend.DefaultOpenAIModel, BaseURL: backend.DefaultOpenAIURL},
			Anthropic:      Provider{Model: backend.DefaultAnthropicModel},
		},
		Execution: Execution{
			TimeoutSeconds: executor.DefaultTimeout.Seconds(),
			MaxOutputBytes: executor.DefaultMaxOutputBytes,
			GracePeriodMS:  int(executor.DefaultGrace / time.Millisecond),
			Shell:          executor.DefaultShell,
			NativeFallback: true,
		},
		Safety: Safety{
			ProtectedNames:      append([]string{}, safety.DefaultProtectedNames...),
			ProtectedPIDs:       append([]int{}, safety.DefaultProtectedPIDs...),
			DangerousVerbs:      append([]string{}, safety.DefaultDangerousVerbs...),
			RequireConfirmation: true,
		},
		Audit: Audit{
			Driver: audit.DriverFile,
			Path:   "~/.terminalbot_history",
		},
		HistoryFile: "~/.terminalbot_repl_history",
	}
}

// LoadConfig loads configuration from a JSON or YAML file, applies env
// overrides and resolves env: references. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeConfig, "read config", err)
			}
			if isYAML(path) {
				if data, err = yamlToJSON(data); err != nil {
					return nil, apperrors.Wrap(apperrors.CodeConfig, "parse "+path, err)
				}
			}
			normalized, err := normalizeConfigJSON(data)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeConfig, "parse "+path, err)
			}
			if err := json.Unmarshal(normalized, config); err != nil {
				return nil, apperrors.Wrap(apperrors.CodeConfig, "parse "+path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.CodeConfig, "stat config", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document so both formats share one
// validation path.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	return json.Marshal(raw)
}

// WriteDefault writes the default configuration to path, as YAML when the
// extension says so and JSON otherwise. An existing file is never replaced.
func WriteDefault(path string) error {
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConfig, "encode default config", err)
	}
	if isYAML(path) {
		if data, err = jsonToYAML(data); err != nil {
			return apperrors.Wrap(apperrors.CodeConfig, "encode default config", err)
		}
	} else {
		data = append(data, '\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CodeConfig, "create config directory", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return apperrors.Newf(apperrors.CodeConfig, "%s already exists", path)
		}
		return apperrors.Wrap(apperrors.CodeConfig, "create config", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apperrors.Wrap(apperrors.CodeConfig, "write config", err)
	}
	return f.Close()
}

// jsonToYAML keeps integers integral; a plain decode would turn
// max_output_bytes into an exponent-form float.
func jsonToYAML(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return yaml.Marshal(plainNumbers(raw))
}

func plainNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = plainNumbers(item)
		}
	case []interface{}:
		for i, item := range val {
			val[i] = plainNumbers(item)
		}
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	}
	return v
}

// Env overrides apply regardless of whether a config file exists.
func (c *Config) applyEnv() error {
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.Backends.OpenAI.APIKey = val
	}
	if val := os.Getenv("OPENAI_API_URL"); val != "" {
		c.Backends.OpenAI.BaseURL = val
	}
	if val := os.Getenv("ANTHROPIC_API_KEY"); val != "" {
		c.Backends.Anthropic.APIKey = val
	}
	if val := os.Getenv("OLLAMA_HOST"); val != "" {
		c.Backends.Ollama.BaseURL = val
	}
	if val := os.Getenv("TERMINALBOT_LITE"); val != "" {
		lite, err := strconv.ParseBool(val)
		if err != nil {
			return apperrors.Newf(apperrors.CodeConfig, "TERMINALBOT_LITE must be a boolean, got %q", val)
		}
		c.LiteMode = lite
	}

	for _, provider := range []*Provider{&c.Backends.Ollama, &c.Backends.OpenAI, &c.Backends.Anthropic} {
		provider.APIKey = resolveEnvRef(provider.APIKey)
	}
	return nil
}

func resolveEnvRef(value string) string {
	if !strings.HasPrefix(value, envPrefix) {
		return value
	}
	return os.Getenv(strings.TrimSpace(strings.TrimPrefix(value, envPrefix)))
}

// SafetyPolicy converts the safety section into a validator policy.
func (c *Config) SafetyPolicy() safety.Policy {
	return safety.NewPolicy(c.Safety.ProtectedNames, c.Safety.ProtectedPIDs, c.Safety.DangerousVerbs, c.Safety.RequireConfirmation)
}

// BackendSettings converts the backends section into chain settings.
// A provider without its own timeout inherits the chain timeout.
func (c *Config) BackendSettings() backend.ChainSettings {
	convert := func(p Provider) backend.Settings {
		timeout := p.TimeoutSeconds
		if timeout <= 0 {
			timeout = c.Backends.TimeoutSeconds
		}
		return backend.Settings{
			Model:       p.Model,
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Timeout:     seconds(timeout),
		}
	}
	return backend.ChainSettings{
		Order:     append([]string{}, c.Backends.Chain...),
		Ollama:    convert(c.Backends.Ollama),
		OpenAI:    convert(c.Backends.OpenAI),
		Anthropic: convert(c.Backends.Anthropic),
	}
}

// ExecutionSettings are the resolved execution bounds.
type ExecutionSettings struct {
	Timeout        time.Duration
	MaxOutputBytes int
	WorkDir        string
	Grace          time.Duration
	Shell          string
	NativeFallback bool
}

// ExecutionDefaults resolves the execution section. The working
// directory must exist.
func (c *Config) ExecutionDefaults() (ExecutionSettings, error) {
	workDir, err := paths.ResolveWorkDir(c.Execution.WorkingDirectory)
	if err != nil {
		return ExecutionSettings{}, apperrors.Wrap(apperrors.CodeConfig, "execution.working_directory", err)
	}
	settings := ExecutionSettings{
		Timeout:        seconds(c.Execution.TimeoutSeconds),
		MaxOutputBytes: c.Execution.MaxOutputBytes,
		WorkDir:        workDir,
		Grace:          time.Duration(c.Execution.GracePeriodMS) * time.Millisecond,
		Shell:          c.Execution.Shell,
		NativeFallback: c.Execution.NativeFallback,
	}
	if settings.Timeout <= 0 {
		settings.Timeout = executor.DefaultTimeout
	}
	if settings.MaxOutputBytes <= 0 {
		settings.MaxOutputBytes = executor.DefaultMaxOutputBytes
	}
	if settings.Grace <= 0 {
		settings.Grace = executor.DefaultGrace
	}
	if settings.Shell == "" {
		settings.Shell = executor.DefaultShell
	}
	return settings, nil
}

// AuditPath returns the audit location with ~ expanded.
func (c *Config) AuditPath() (string, error) {
	return paths.ExpandHome(c.Audit.Path)
}

// HistoryPath returns the REPL history file with ~ expanded.
func (c *Config) HistoryPath() (string, error) {
	return paths.ExpandHome(c.HistoryFile)
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

// ValidationWarning represents a non-fatal configuration issue
type ValidationWarning struct {
	Field   string
	Message string
}

// Validate checks the configuration for common issues and returns warnings
func (c *Config) Validate() []ValidationWarning {
	var warnings []ValidationWarning
	warn := func(field, format string, args ...interface{}) {
		warnings = append(warnings, ValidationWarning{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	usable := 0
	for _, name := range c.Backends.Chain {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case backend.ProviderOllama:
			usable++
		case backend.ProviderOpenAI:
			if c.Backends.OpenAI.APIKey == "" {
				warn("backends.chain", "backend %q has no API key and will be skipped", name)
				continue
			}
			usable++
		case backend.ProviderAnthropic:
			if c.Backends.Anthropic.APIKey == "" {
				warn("backends.chain", "backend %q has no API key and will be skipped", name)
				continue
			}
			usable++
		default:
			warn("backends.chain", "unknown backend %q", name)
		}
	}
	if usable == 0 && !c.LiteMode && len(c.Backends.Chain) > 0 {
		warn("backends.chain", "no usable backend configured, only rule matching will resolve queries")
	}
	if c.Backends.TimeoutSeconds < 0 {
		warn("backends.timeout_seconds", "timeout_seconds %.1f must not be negative", c.Backends.TimeoutSeconds)
	}

	providers := []struct {
		field string
		p     Provider
	}{
		{"backends.ollama", c.Backends.Ollama},
		{"backends.openai", c.Backends.OpenAI},
		{"backends.anthropic", c.Backends.Anthropic},
	}
	for _, entry := range providers {
		// Validate temperature range (providers expect 0-2)
		if entry.p.Temperature != nil {
			temp := *entry.p.Temperature
			if temp < 0 || temp > 2 {
				warn(entry.field+".temperature", "temperature %.2f is outside recommended range [0, 2]", temp)
			}
		}
		if entry.p.MaxTokens < 0 {
			warn(entry.field+".max_tokens", "max_tokens %d must be positive", entry.p.MaxTokens)
		}
		if entry.p.MaxTokens > 128000 {
			warn(entry.field+".max_tokens", "max_tokens %d exceeds typical model limits", entry.p.MaxTokens)
		}
	}

	if c.Execution.TimeoutSeconds <= 0 {
		warn("execution.timeout_seconds", "timeout_seconds %.1f should be positive, using default", c.Execution.TimeoutSeconds)
	}
	if c.Execution.MaxOutputBytes <= 0 {
		warn("execution.max_output_bytes", "max_output_bytes %d should be positive, using default", c.Execution.MaxOutputBytes)
	}
	if c.Execution.WorkingDirectory != "" {
		if _, err := paths.ResolveWorkDir(c.Execution.WorkingDirectory); err != nil {
			warn("execution.working_directory", "%v", err)
		}
	}

	for _, pid := range c.Safety.ProtectedPIDs {
		if pid <= 0 {
			warn("safety.protected_pids", "pid %d is not a valid process id", pid)
		}
	}
	if len(c.Safety.DangerousVerbs) == 0 {
		warn("safety.dangerous_verbs", "no dangerous verbs configured, only protected targets are checked")
	}
	if !c.Safety.RequireConfirmation {
		warn("safety.require_confirmation", "destructive commands will run without confirmation")
	}

	switch strings.ToLower(c.Audit.Driver) {
	case "", audit.DriverFile, "jsonl", audit.DriverSQLite, audit.DriverMemory, audit.DriverNone:
	default:
		warn("audit.driver", "unknown audit driver %q", c.Audit.Driver)
	}

	return warnings
}
