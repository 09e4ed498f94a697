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

package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/llm"
	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/tools"
)

type stubProvider struct {
	name  string
	model string
}

func (s *stubProvider) Chat(ctx context.Context, messages []llm.Message, toolset []tools.Tool) (*llm.Response, error) {
	return &llm.Response{StopReason: llm.StopEndTurn}, nil
}
func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Model() string { return s.model }

func TestProviderForUsesStub(t *testing.T) {
	stub := &stubProvider{name: "stub", model: "scripted"}
	f := New(WithStubProvider(stub))

	p, err := f.ProviderFor(nil, nil)
	require.NoError(t, err)
	assert.Same(t, stub, p)
}

func TestProviderForAgentOverridesProject(t *testing.T) {
	f := New(WithAPIKey("key"), WithDefaults("anthropic", "claude-3-5-haiku-20241022"))

	proj := &project.Project{Provider: "anthropic", Model: "claude-sonnet-4-5-20250929"}
	agent := &project.AgentConfig{Model: "claude-3-opus-20240229"}

	p, err := f.ProviderFor(agent, proj)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, "claude-3-opus-20240229", p.Model())
}

func TestProviderForProjectBeatsDefaults(t *testing.T) {
	f := New(WithAPIKey("key"), WithDefaults("anthropic", "claude-3-5-haiku-20241022"))

	proj := &project.Project{Model: "claude-sonnet-4-5-20250929"}

	p, err := f.ProviderFor(&project.AgentConfig{}, proj)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5-20250929", p.Model())
}

func TestProviderForEnvKeyFallback(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	p, err := New().ProviderFor(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestProviderForMissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := New().ProviderFor(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestProviderForUnsupportedProvider(t *testing.T) {
	f := New(WithAPIKey("key"))

	_, err := f.ProviderFor(&project.AgentConfig{Provider: "openai"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}
