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

package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/events"
)

// listTeamTool lists the agents in this project.
type listTeamTool struct {
	deps *Deps
}

func (t *listTeamTool) Name() string { return "list_team" }

func (t *listTeamTool) Description() string {
	return "List the agents on your project team: ids, roles, and who reports to whom."
}

func (t *listTeamTool) InputSchema() *JSONSchema {
	return NewObjectSchema("No parameters", map[string]*JSONSchema{}, nil)
}

func (t *listTeamTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	proj, err := t.deps.Projects.Get(ctx, t.deps.ProjectID)
	if err != nil {
		return fail("PROJECT_UNAVAILABLE", fmt.Sprintf("Cannot read project: %v", err), ""), nil
	}

	type member struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Role      string `json:"role"`
		ReportsTo string `json:"reportsTo,omitempty"`
		Ephemeral bool   `json:"ephemeral,omitempty"`
		Status    string `json:"status,omitempty"`
	}
	team := make([]member, 0, len(proj.Agents))
	for _, cfg := range proj.Agents {
		m := member{
			ID:        cfg.ID,
			Name:      cfg.Name,
			Role:      cfg.Role,
			ReportsTo: cfg.ReportsTo,
			Ephemeral: cfg.Ephemeral,
		}
		if t.deps.Registry != nil {
			if reg, err := t.deps.Registry.Get(ctx, cfg.ID); err == nil {
				m.Status = string(reg.Status)
			}
		}
		team = append(team, m)
	}
	return ok(map[string]any{"team": team, "count": len(team)}), nil
}

// listAgentsTool lists every registered agent in the runtime, with liveness.
type listAgentsTool struct {
	deps *Deps
}

func (t *listAgentsTool) Name() string { return "list_agents" }

func (t *listAgentsTool) Description() string {
	return "List all registered agents across the runtime with their roles and online status."
}

func (t *listAgentsTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for listing agents",
		map[string]*JSONSchema{
			"online_only": NewBooleanSchema("Only agents with a fresh heartbeat").WithDefault(false),
		},
		nil,
	)
}

func (t *listAgentsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if t.deps.Registry == nil {
		return fail("UNAVAILABLE", "the agent registry is not available here", ""), nil
	}
	onlineOnly := optionalBool(params, "online_only", false)

	regs, err := t.deps.Registry.List(ctx)
	if err != nil {
		return fail("REGISTRY_FAILED", fmt.Sprintf("Cannot read registry: %v", err), ""), nil
	}
	online := map[string]bool{}
	if live, err := t.deps.Registry.Online(ctx); err == nil {
		for _, reg := range live {
			online[reg.ID] = true
		}
	}

	type agent struct {
		ID            string `json:"id"`
		Role          string `json:"role"`
		Status        string `json:"status"`
		Online        bool   `json:"online"`
		LastHeartbeat string `json:"lastHeartbeat,omitempty"`
	}
	out := make([]agent, 0, len(regs))
	for _, reg := range regs {
		if onlineOnly && !online[reg.ID] {
			continue
		}
		a := agent{
			ID:     reg.ID,
			Role:   string(reg.Role),
			Status: string(reg.Status),
			Online: online[reg.ID],
		}
		if !reg.LastHeartbeat.IsZero() {
			a.LastHeartbeat = reg.LastHeartbeat.UTC().Format(time.RFC3339)
		}
		out = append(out, a)
	}
	return ok(map[string]any{"agents": out, "count": len(out)}), nil
}

// resolveAgentHome locates a teammate's home folder for the read-only
// cross-agent tools.
func resolveAgentHome(ctx context.Context, deps *Deps, agentID string) (string, *Result) {
	proj, err := deps.Projects.Get(ctx, deps.ProjectID)
	if err != nil {
		return "", fail("PROJECT_UNAVAILABLE", fmt.Sprintf("Cannot read project: %v", err), "")
	}
	cfg := proj.Agent(agentID)
	if cfg == nil {
		return "", fail("AGENT_NOT_FOUND",
			fmt.Sprintf("Agent %s is not in this project", agentID),
			"Use list_team to see valid agent ids.")
	}
	return deps.Projects.ResolveHome(proj, cfg), nil
}

// listAgentFilesTool lists a teammate's home folder, read-only.
type listAgentFilesTool struct {
	deps *Deps
}

func (t *listAgentFilesTool) Name() string { return "list_agent_files" }

func (t *listAgentFilesTool) Description() string {
	return "List the files in a teammate's working folder (read-only)."
}

func (t *listAgentFilesTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for listing a teammate's files",
		map[string]*JSONSchema{
			"agent_id": NewStringSchema("The teammate's agent id"),
		},
		[]string{"agent_id"},
	)
}

func (t *listAgentFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	agentID, hasAgent := stringParam(params, "agent_id")
	if !hasAgent {
		return fail("INVALID_PARAMS", "agent_id is required", ""), nil
	}

	home, errRes := resolveAgentHome(ctx, t.deps, agentID)
	if errRes != nil {
		return errRes, nil
	}

	var files []string
	sandbox := NewSandbox(home)
	walkErr := walkSandbox(home, func(p string, d fs.DirEntry) error {
		if d.IsDir() || len(files) >= MaxProjectListing {
			return nil
		}
		files = append(files, filepath.ToSlash(sandbox.Relative(p)))
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return fail("LIST_FAILED", fmt.Sprintf("Cannot list %s's files: %v", agentID, walkErr), ""), nil
	}
	sort.Strings(files)

	return ok(map[string]any{"agentId": agentID, "files": files, "count": len(files)}), nil
}

// readAgentFileTool reads one file from a teammate's home, read-only.
type readAgentFileTool struct {
	deps *Deps
}

func (t *readAgentFileTool) Name() string { return "read_agent_file" }

func (t *readAgentFileTool) Description() string {
	return "Read a file from a teammate's working folder (read-only)."
}

func (t *readAgentFileTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for reading a teammate's file",
		map[string]*JSONSchema{
			"agent_id": NewStringSchema("The teammate's agent id"),
			"path":     NewStringSchema("File path relative to their folder"),
		},
		[]string{"agent_id", "path"},
	)
}

func (t *readAgentFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	agentID, hasAgent := stringParam(params, "agent_id")
	path, hasPath := stringParam(params, "path")
	if !hasAgent || !hasPath {
		return fail("INVALID_PARAMS", "agent_id and path are required", ""), nil
	}

	home, errRes := resolveAgentHome(ctx, t.deps, agentID)
	if errRes != nil {
		return errRes, nil
	}

	abs, err := NewSandbox(home).Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fail("FILE_NOT_FOUND", fmt.Sprintf("%s has no file %s", agentID, path), ""), nil
	}
	if err != nil || info.IsDir() || info.Size() > MaxFileReadSize {
		return fail("READ_FAILED", fmt.Sprintf("Cannot read %s from %s", path, agentID), ""), nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fail("READ_FAILED", fmt.Sprintf("Cannot read %s: %v", path, err), ""), nil
	}

	return ok(map[string]any{
		"agentId": agentID,
		"path":    path,
		"content": string(data),
	}), nil
}

// proposeNewAgentTool files a structured proposal for a new persistent team
// member. Humans (or a supervisor) act on it; the tool never creates agents
// directly.
type proposeNewAgentTool struct {
	deps *Deps
}

func (t *proposeNewAgentTool) Name() string { return "propose_new_agent" }

func (t *proposeNewAgentTool) Description() string {
	return "Propose adding a new persistent agent to the team. The proposal goes to your supervisor and the event stream for a human decision."
}

func (t *proposeNewAgentTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for proposing a new agent",
		map[string]*JSONSchema{
			"name":       NewStringSchema("Display name for the proposed agent"),
			"role":       NewStringSchema("Role, e.g. 'backend', 'tester'"),
			"purpose":    NewStringSchema("Why the team needs this agent"),
			"reports_to": NewStringSchema("Proposed supervisor (defaults to yours)"),
		},
		[]string{"name", "role", "purpose"},
	)
}

func (t *proposeNewAgentTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	name, okName := stringParam(params, "name")
	role, okRole := stringParam(params, "role")
	purpose, okPurpose := stringParam(params, "purpose")
	if !okName || !okRole || !okPurpose {
		return fail("INVALID_PARAMS", "name, role and purpose are required", ""), nil
	}
	reportsTo := optionalString(params, "reports_to", t.deps.ReportsTo)

	proposal := map[string]any{
		"kind":       "agent-proposal",
		"name":       name,
		"role":       role,
		"purpose":    purpose,
		"reportsTo":  reportsTo,
		"proposedBy": t.deps.AgentID,
	}
	t.deps.Broker.Emit(events.TypeSystem, t.deps.AgentID, t.deps.ProjectID, proposal)

	notified := false
	if t.deps.ReportsTo != "" && t.deps.Messenger != nil {
		text := fmt.Sprintf("Proposal: add agent %q (role %s). Purpose: %s", name, role, purpose)
		if !strings.EqualFold(reportsTo, t.deps.ReportsTo) && reportsTo != "" {
			text += fmt.Sprintf(" Reporting to: %s.", reportsTo)
		}
		_, err := t.deps.Messenger.Send(ctx, t.deps.ReportsTo, bus.TypeMessage, bus.TextContent{Body: text})
		notified = err == nil
	}

	return ok(map[string]any{
		"proposed": true,
		"name":     name,
		"role":     role,
		"notified": notified,
	}), nil
}
