// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent builds agent instances and the role services that wrap them.
// Services decide a plan through their instance, run tool calls and at most
// one delegation concurrently, and merge the results into a ranked outcome.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/llm"
	"github.com/jllopis/techpulse/pkg/mcp"
)

// ModelConfig selects and parameterizes the model provider of an instance.
type ModelConfig = config.LLMConfig

// ProviderConstructor builds a provider from a validated model config. It
// must not contact the backend.
type ProviderConstructor func(mc ModelConfig) (llm.Provider, error)

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithProvider makes every instance use p regardless of the model config.
// Tests use it to script model decisions.
func WithProvider(p llm.Provider) FactoryOption {
	return func(f *Factory) { f.fixed = p }
}

// WithProviderConstructor registers or replaces the constructor for a
// provider name.
func WithProviderConstructor(name string, fn ProviderConstructor) FactoryOption {
	return func(f *Factory) { f.constructors[strings.ToLower(name)] = fn }
}

// WithFactoryLogger sets the logger handed to instances.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// Factory is the single place agent instances are constructed. It resolves
// the provider name to an endpoint and credentials.
type Factory struct {
	constructors map[string]ProviderConstructor
	fixed        llm.Provider
	logger       *slog.Logger
}

// NewFactory creates a factory supporting the ollama, openai, anthropic and
// gemini providers. "openai-compatible" targets any OpenAI-style endpoint
// and requires base_url.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		constructors: map[string]ProviderConstructor{
			"ollama": func(mc ModelConfig) (llm.Provider, error) {
				return llm.NewOllama(mc.BaseURL, mc.Timeout), nil
			},
			"openai": func(mc ModelConfig) (llm.Provider, error) {
				return llm.NewOpenAI(mc.APIKey, mc.BaseURL, mc.Timeout), nil
			},
			"openai-compatible": func(mc ModelConfig) (llm.Provider, error) {
				return llm.NewOpenAI(mc.APIKey, mc.BaseURL, mc.Timeout), nil
			},
			"anthropic": func(mc ModelConfig) (llm.Provider, error) {
				return llm.NewAnthropic(mc.APIKey, mc.BaseURL, mc.Timeout), nil
			},
			"gemini": func(mc ModelConfig) (llm.Provider, error) {
				return llm.NewGemini(context.Background(), mc.APIKey, mc.BaseURL, mc.Timeout)
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateAgent builds an instance for role from its prompt, the bindings it
// may call and its model config. It fails with CONFIGURATION_ERROR when the
// model config names an unsupported provider or an unusable endpoint. No
// network call is made.
func (f *Factory) CreateAgent(role core.AgentRole, rolePrompt string, bindings []*mcp.Binding, mc ModelConfig) (*Instance, error) {
	if strings.TrimSpace(rolePrompt) == "" {
		return nil, configErr(role, "role prompt is empty")
	}

	provider := f.fixed
	if provider == nil {
		var err error
		if provider, err = f.resolve(role, mc); err != nil {
			return nil, err
		}
	}

	byName := make(map[string]*mcp.Binding, len(bindings))
	ordered := make([]*mcp.Binding, 0, len(bindings))
	for _, b := range bindings {
		if b == nil {
			return nil, configErr(role, "nil tool binding")
		}
		if _, dup := byName[b.Name()]; dup {
			return nil, configErr(role, fmt.Sprintf("tool binding %q bound twice", b.Name()))
		}
		byName[b.Name()] = b
		ordered = append(ordered, b)
	}

	f.logger.Debug("agent instance created",
		slog.String("role", string(role)),
		slog.String("provider", mc.Provider),
		slog.String("model", mc.Model),
		slog.Int("bindings", len(ordered)),
	)
	return &Instance{
		role:     role,
		prompt:   rolePrompt,
		provider: provider,
		model:    mc,
		bindings: ordered,
		byName:   byName,
		logger:   f.logger.With("role", role),
		tracer:   otel.Tracer("techpulse/agent"),
	}, nil
}

// resolve validates mc and builds its provider.
func (f *Factory) resolve(role core.AgentRole, mc ModelConfig) (llm.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(mc.Provider))
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, configErr(role, fmt.Sprintf("unsupported model provider %q", mc.Provider))
	}
	if strings.TrimSpace(mc.Model) == "" {
		return nil, configErr(role, "model name is empty")
	}
	if mc.BaseURL != "" {
		u, err := url.Parse(mc.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, configErr(role, fmt.Sprintf("invalid model endpoint %q", mc.BaseURL))
		}
	}
	if mc.APIKey == "" {
		if env := config.APIKeyEnv(name); env != "" {
			mc.APIKey = os.Getenv(env)
		}
	}
	switch name {
	case "openai":
		// The public endpoint needs a key; self-hosted endpoints may not.
		if mc.BaseURL == "" && mc.APIKey == "" {
			return nil, configErr(role, "openai provider requires an api key (llm.api_key or OPENAI_API_KEY)")
		}
	case "anthropic", "gemini":
		if mc.APIKey == "" {
			return nil, configErr(role, fmt.Sprintf("%s provider requires an api key (llm.api_key or %s)", name, config.APIKeyEnv(name)))
		}
	case "openai-compatible":
		if mc.BaseURL == "" {
			return nil, configErr(role, "openai-compatible provider requires base_url")
		}
	}
	p, err := ctor(mc)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("agent %s: build provider %s", role, name), err)
	}
	return p, nil
}

func configErr(role core.AgentRole, msg string) error {
	return errors.Newf(errors.CodeConfiguration, "agent %s: %s", role, msg).
		WithContext("role", string(role))
}
