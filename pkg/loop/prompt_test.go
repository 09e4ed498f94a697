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

package loop

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/tools"
)

func promptFixtures() (*project.AgentConfig, *project.Project) {
	cfg := &project.AgentConfig{
		ID:            "builder-1",
		Name:          "Builder",
		Role:          "builder",
		SystemPrompt:  "You build things carefully.",
		HomeFolder:    "agents/builder",
		MemorySummary: "The API uses snake_case everywhere.",
	}
	proj := &project.Project{
		ID:        "proj-1",
		Name:      "atlas",
		Knowledge: "Deploys happen on Fridays only.",
	}
	return cfg, proj
}

func TestComposeSystemPromptLayersInOrder(t *testing.T) {
	cfg, proj := promptFixtures()
	registry := tools.NewRegistry()
	registry.Register(&stubTool{name: "write_file"})
	catalog := registry.List()

	prompt := composeSystemPrompt(cfg, proj, catalog, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	universal := strings.Index(prompt, "Operating rules:")
	role := strings.Index(prompt, "You build things carefully.")
	knowledge := strings.Index(prompt, "Deploys happen on Fridays only.")
	memory := strings.Index(prompt, "snake_case")
	briefing := strings.Index(prompt, "Available tools:")

	require.NotEqual(t, -1, universal)
	require.NotEqual(t, -1, role)
	require.NotEqual(t, -1, knowledge)
	require.NotEqual(t, -1, memory)
	require.NotEqual(t, -1, briefing)

	assert.Less(t, universal, role)
	assert.Less(t, role, knowledge)
	assert.Less(t, knowledge, memory)
	assert.Less(t, memory, briefing)

	assert.Contains(t, prompt, "Builder")
	assert.Contains(t, prompt, "agents/builder")
	assert.Contains(t, prompt, "write_file")
}

func TestComposeSystemPromptRoleFallsBackToRoleName(t *testing.T) {
	cfg, proj := promptFixtures()
	cfg.SystemPrompt = ""

	prompt := composeSystemPrompt(cfg, proj, nil, time.Now())
	assert.Contains(t, prompt, "Your role: builder.")
}

func TestComposeSystemPromptSkipsEmptySections(t *testing.T) {
	cfg := &project.AgentConfig{ID: "lone", Name: "Lone"}

	prompt := composeSystemPrompt(cfg, nil, nil, time.Now())
	assert.NotContains(t, prompt, "Project knowledge:")
	assert.NotContains(t, prompt, "remember from earlier work")
	assert.NotContains(t, prompt, "Available tools:")
	assert.Contains(t, prompt, "Operating rules:")
}

func TestToolBriefingFirstLineOnly(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&describedTool{
		name: "patch_file",
		desc: "Apply a unified diff to a file.\nSecond line with gory details.",
	})

	briefing := toolBriefing(registry.List())
	assert.Contains(t, briefing, "patch_file: Apply a unified diff to a file.")
	assert.NotContains(t, briefing, "gory details")
}

type describedTool struct {
	name string
	desc string
}

func (t *describedTool) Name() string                   { return t.name }
func (t *describedTool) Description() string            { return t.desc }
func (t *describedTool) InputSchema() *tools.JSONSchema { return nil }
func (t *describedTool) Execute(_ context.Context, _ map[string]any) (*tools.Result, error) {
	return &tools.Result{Success: true}, nil
}
