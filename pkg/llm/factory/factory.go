// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package factory resolves which provider and model an agent talks to.
// Resolution order: the agent's own override, then the project setting,
// then the factory defaults with the ANTHROPIC_API_KEY environment key.
package factory

import (
	"fmt"
	"os"
	"time"

	"github.com/society-labs/society/pkg/llm"
	"github.com/society-labs/society/pkg/llm/anthropic"
	"github.com/society-labs/society/pkg/project"
)

// Factory builds providers per agent.
type Factory struct {
	provider string
	model    string
	apiKey   string
	timeout  time.Duration
	stub     llm.Provider
}

// Option configures the factory.
type Option func(*Factory)

// WithDefaults sets the provider and model used when neither the agent nor
// the project specifies one.
func WithDefaults(provider, model string) Option {
	return func(f *Factory) {
		f.provider = provider
		f.model = model
	}
}

// WithAPIKey sets an explicit API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(f *Factory) { f.apiKey = key }
}

// WithTimeout sets the HTTP timeout handed to constructed clients.
func WithTimeout(d time.Duration) Option {
	return func(f *Factory) { f.timeout = d }
}

// WithStubProvider makes the factory hand out the given provider for every
// agent. Used by tests to keep runs off the network.
func WithStubProvider(p llm.Provider) Option {
	return func(f *Factory) { f.stub = p }
}

// New creates a factory.
func New(opts ...Option) *Factory {
	f := &Factory{provider: "anthropic"}
	for _, opt := range opts {
		opt(f)
	}
	if f.provider == "" {
		f.provider = "anthropic"
	}
	return f
}

// ProviderFor resolves the provider for an agent. Agent settings win over
// project settings, which win over factory defaults. Either argument may be
// nil.
func (f *Factory) ProviderFor(agent *project.AgentConfig, proj *project.Project) (llm.Provider, error) {
	provider := f.provider
	model := f.model
	if proj != nil {
		if proj.Provider != "" {
			provider = proj.Provider
		}
		if proj.Model != "" {
			model = proj.Model
		}
	}
	if agent != nil {
		if agent.Provider != "" {
			provider = agent.Provider
		}
		if agent.Model != "" {
			model = agent.Model
		}
	}

	if f.stub != nil {
		return f.stub, nil
	}

	switch provider {
	case "anthropic":
		key := f.apiKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic API key not configured (set ANTHROPIC_API_KEY)")
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:  key,
			Model:   model,
			Timeout: f.timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
