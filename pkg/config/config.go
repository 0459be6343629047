// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the service configuration from defaults, an optional
// YAML file, a .env file and TECHPULSE_ environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/techpulse/pkg/core"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "TECHPULSE_"

type Config struct {
	Log          LogConfig          `koanf:"log" yaml:"log"`
	Telemetry    TelemetryConfig    `koanf:"telemetry" yaml:"telemetry"`
	LLM          LLMConfig          `koanf:"llm" yaml:"llm"`
	Agents       AgentsConfig       `koanf:"agents" yaml:"agents"`
	Tools        []ToolConfig       `koanf:"tools" yaml:"tools"`
	A2A          A2AConfig          `koanf:"a2a" yaml:"a2a"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator" yaml:"orchestrator"`
	Guardrails   GuardrailsConfig   `koanf:"guardrails" yaml:"guardrails"`
	Server       ServerConfig       `koanf:"server" yaml:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // json, text
}

type TelemetryConfig struct {
	ServiceName  string `koanf:"service_name" yaml:"service_name"`
	Exporter     string `koanf:"exporter" yaml:"exporter"` // none, stdout, otlp, prometheus
	OTLPEndpoint string `koanf:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure" yaml:"otlp_insecure"`
}

type LLMConfig struct {
	Provider    string        `koanf:"provider" yaml:"provider"` // ollama, openai, openai-compatible, anthropic, gemini
	Model       string        `koanf:"model" yaml:"model"`
	BaseURL     string        `koanf:"base_url" yaml:"base_url"`
	APIKey      string        `koanf:"api_key" yaml:"-"`
	Temperature float64       `koanf:"temperature" yaml:"temperature"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout"`
}

// Merge returns c with empty fields taken from base.
func (c LLMConfig) Merge(base LLMConfig) LLMConfig {
	out := c
	if out.Provider == "" {
		out.Provider = base.Provider
	}
	if out.Model == "" {
		out.Model = base.Model
	}
	if out.BaseURL == "" && (c.Provider == "" || c.Provider == base.Provider) {
		out.BaseURL = base.BaseURL
	}
	if out.APIKey == "" && (c.Provider == "" || c.Provider == base.Provider) {
		out.APIKey = base.APIKey
	}
	if out.Temperature == 0 {
		out.Temperature = base.Temperature
	}
	if out.Timeout == 0 {
		out.Timeout = base.Timeout
	}
	return out
}

type AgentsConfig struct {
	Entry      AgentConfig `koanf:"entry" yaml:"entry"`
	Specialist AgentConfig `koanf:"specialist" yaml:"specialist"`
}

// For returns the configuration of role.
func (a AgentsConfig) For(role core.AgentRole) AgentConfig {
	if role == core.RoleSpecialist {
		return a.Specialist
	}
	return a.Entry
}

// AgentConfig configures one role. LLM overrides the global model settings.
type AgentConfig struct {
	Prompt string    `koanf:"prompt" yaml:"prompt"`
	Tools  []string  `koanf:"tools" yaml:"tools"`
	LLM    LLMConfig `koanf:"llm" yaml:"llm,omitempty"`
}

// ToolConfig declares one MCP tool binding. Declaration order is source priority.
type ToolConfig struct {
	Name            string            `koanf:"name" yaml:"name"`
	Source          string            `koanf:"source" yaml:"source"`
	Transport       string            `koanf:"transport" yaml:"transport"` // http, stdio
	URL             string            `koanf:"url" yaml:"url,omitempty"`
	Headers         map[string]string `koanf:"headers" yaml:"-"`
	Command         string            `koanf:"command" yaml:"command,omitempty"`
	Args            []string          `koanf:"args" yaml:"args,omitempty"`
	Env             map[string]string `koanf:"env" yaml:"-"`
	Timeout         time.Duration     `koanf:"timeout" yaml:"timeout"`
	Retries         int               `koanf:"retries" yaml:"retries"`
	RateLimit       float64           `koanf:"rate_limit" yaml:"rate_limit,omitempty"`
	Burst           int               `koanf:"burst" yaml:"burst,omitempty"`
	BreakerFailures int               `koanf:"breaker_failures" yaml:"breaker_failures,omitempty"`
	DefaultTool     string            `koanf:"default_tool" yaml:"default_tool,omitempty"`
	QueryArg        string            `koanf:"query_arg" yaml:"query_arg,omitempty"`
	DefaultArgs     map[string]any    `koanf:"default_args" yaml:"default_args,omitempty"`
	ScoreField      string            `koanf:"score_field" yaml:"score_field,omitempty"`
	ItemsField      string            `koanf:"items_field" yaml:"items_field,omitempty"`
	// AllowTools and DenyTools filter the published tools by name or glob.
	AllowTools []string `koanf:"allow_tools" yaml:"allow_tools,omitempty"`
	DenyTools  []string `koanf:"deny_tools" yaml:"deny_tools,omitempty"`
}

type A2AConfig struct {
	DelegationTimeout time.Duration `koanf:"delegation_timeout" yaml:"delegation_timeout"`
	// Peers maps a role to the base URL of a remote A2A agent serving it.
	Peers     map[string]string `koanf:"peers" yaml:"peers,omitempty"`
	PublicURL string            `koanf:"public_url" yaml:"public_url,omitempty"`
}

type OrchestratorConfig struct {
	RequestTimeout time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
	MaxParallel    int           `koanf:"max_parallel" yaml:"max_parallel"`
	DefaultLimit   int           `koanf:"default_limit" yaml:"default_limit"`
	MaxLimit       int           `koanf:"max_limit" yaml:"max_limit"`
	MaxAge         time.Duration `koanf:"max_age" yaml:"max_age"`
}

// GuardrailsConfig controls screening of queries and delegated tasks.
type GuardrailsConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
	// Patterns are extra regular expressions that block a query.
	Patterns   []string `koanf:"patterns" yaml:"patterns,omitempty"`
	MinMatches int      `koanf:"min_matches" yaml:"min_matches,omitempty"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Tool returns the binding declaration named name.
func (c *Config) Tool(name string) (ToolConfig, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolConfig{}, false
}

func defaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.service_name", "techpulse")
	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.temperature", 0.2)
	k.Set("llm.timeout", 60*time.Second)

	k.Set("agents.entry.prompt", DefaultEntryPrompt)
	k.Set("agents.specialist.prompt", DefaultSpecialistPrompt)

	k.Set("a2a.delegation_timeout", 20*time.Second)

	k.Set("orchestrator.request_timeout", 45*time.Second)
	k.Set("orchestrator.max_parallel", 8)
	k.Set("orchestrator.default_limit", 10)
	k.Set("orchestrator.max_limit", 50)

	k.Set("guardrails.enabled", true)

	k.Set("server.addr", ":8080")
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load followed by key=value overrides, as given with --set.
// Values that parse as JSON are stored decoded; anything else is a string.
func LoadWithOverrides(path string, sets []string) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// 2. .env next to the working directory; real env vars win.
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	// 3. Load from ENV (TECHPULSE_LLM_API_KEY -> llm.api_key)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 4. CLI overrides
	for _, set := range sets {
		key, value, err := parseOverride(set)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.applyFallbacks()
	return &cfg, nil
}

// envKey maps TECHPULSE_SECTION_FIELD_NAME to section.field_name. The agents
// section has one more level: TECHPULSE_AGENTS_ENTRY_PROMPT -> agents.entry.prompt.
func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", 2)
	if len(parts) < 2 {
		return parts[0]
	}
	section, rest := parts[0], parts[1]
	if section == "agents" {
		if role, field, ok := strings.Cut(rest, "_"); ok {
			if sub, leaf, nested := strings.Cut(field, "_"); nested && sub == "llm" {
				return section + "." + role + ".llm." + leaf
			}
			return section + "." + role + "." + field
		}
	}
	return section + "." + rest
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func parseOverride(set string) (string, any, error) {
	key, raw, ok := strings.Cut(set, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid override %q: expected key=value", set)
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return key, decoded, nil
	}
	return key, raw, nil
}

// APIKeyEnv returns the vendor environment variable read when llm.api_key is
// empty, or "" for providers without one.
func APIKeyEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return ""
}

func (c *Config) applyFallbacks() {
	if c.LLM.APIKey == "" {
		if env := APIKeyEnv(c.LLM.Provider); env != "" {
			c.LLM.APIKey = os.Getenv(env)
		}
	}
	for i := range c.Tools {
		t := &c.Tools[i]
		if t.Transport == "" {
			if t.Command != "" {
				t.Transport = "stdio"
			} else {
				t.Transport = "http"
			}
		}
		if t.Timeout == 0 {
			t.Timeout = 15 * time.Second
		}
		if t.QueryArg == "" {
			t.QueryArg = "query"
		}
		if t.ScoreField == "" {
			t.ScoreField = "score"
		}
	}
}
