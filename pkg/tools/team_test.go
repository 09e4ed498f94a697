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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/registry"
	"github.com/society-labs/society/pkg/statestore"
)

func TestListTeamShowsMembers(t *testing.T) {
	td := newTestDeps(t)

	tool := &listTeamTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 2, data["count"])
	text := res.Text()
	assert.Contains(t, text, `"id":"lead-1"`)
	assert.Contains(t, text, `"id":"backend-1"`)
	assert.Contains(t, text, `"reportsTo":"lead-1"`)
}

func TestListTeamIncludesLiveStatus(t *testing.T) {
	td := newTestDeps(t)
	dir := t.TempDir()
	reg := registry.New(dir, statestore.New())
	require.NoError(t, reg.Register(context.Background(), registry.Registration{
		ID:     "backend-1",
		Role:   registry.RoleBackend,
		Status: registry.StatusBusy,
	}))
	td.Deps.Registry = reg

	tool := &listTeamTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Contains(t, res.Text(), `"status":"busy"`)
}

func TestListAgentsRequiresRegistry(t *testing.T) {
	td := newTestDeps(t)

	tool := &listAgentsTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "UNAVAILABLE", res.Error.Code)
}

func TestListAgentsOnlineOnly(t *testing.T) {
	td := newTestDeps(t)
	dir := t.TempDir()
	reg := registry.New(dir, statestore.New())
	require.NoError(t, reg.Register(context.Background(), registry.Registration{
		ID:   "lead-1",
		Role: registry.RoleSupervisor,
	}))
	require.NoError(t, reg.Register(context.Background(), registry.Registration{
		ID:   "backend-1",
		Role: registry.RoleBackend,
	}))
	require.NoError(t, reg.MarkOffline(context.Background(), "backend-1"))
	td.Deps.Registry = reg

	tool := &listAgentsTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	data := resultData(t, res)
	assert.Equal(t, 2, data["count"])

	res, err = tool.Execute(context.Background(), map[string]any{"online_only": true})
	require.NoError(t, err)
	data = resultData(t, res)
	assert.Equal(t, 1, data["count"])
	assert.Contains(t, res.Text(), `"id":"lead-1"`)
	assert.NotContains(t, res.Text(), `"id":"backend-1"`)
}

func TestListAgentFiles(t *testing.T) {
	td := newTestDeps(t)
	home := td.store.ResolveHome(td.proj, td.proj.Agent("backend-1"))
	require.NoError(t, os.MkdirAll(filepath.Join(home, "routes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "routes", "login.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(home, "notes.md"), []byte("x"), 0o644))

	tool := &listAgentFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"agent_id": "backend-1"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "backend-1", data["agentId"])
	files, isSlice := data["files"].([]string)
	require.True(t, isSlice)
	assert.Equal(t, []string{"notes.md", "routes/login.js"}, files)
}

func TestListAgentFilesUnknownAgent(t *testing.T) {
	td := newTestDeps(t)

	tool := &listAgentFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"agent_id": "nobody-7"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "AGENT_NOT_FOUND", res.Error.Code)
}

func TestReadAgentFile(t *testing.T) {
	td := newTestDeps(t)
	home := td.store.ResolveHome(td.proj, td.proj.Agent("backend-1"))
	require.NoError(t, os.MkdirAll(home, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "notes.md"), []byte("api design notes"), 0o644))

	tool := &readAgentFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id": "backend-1",
		"path":     "notes.md",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "api design notes", data["content"])
}

func TestReadAgentFileBlocksTraversal(t *testing.T) {
	td := newTestDeps(t)
	home := td.store.ResolveHome(td.proj, td.proj.Agent("backend-1"))
	require.NoError(t, os.MkdirAll(home, 0o755))

	tool := &readAgentFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id": "backend-1",
		"path":     "../lead-1/secret.txt",
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "ACCESS_DENIED", res.Error.Code)
}

func TestReadAgentFileNotFound(t *testing.T) {
	td := newTestDeps(t)
	home := td.store.ResolveHome(td.proj, td.proj.Agent("backend-1"))
	require.NoError(t, os.MkdirAll(home, 0o755))

	tool := &readAgentFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id": "backend-1",
		"path":     "missing.md",
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "FILE_NOT_FOUND", res.Error.Code)
}

func TestProposeNewAgentEmitsProposal(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.ReportsTo = "chief-1"

	ch, cancel := td.Broker.Subscribe(events.TypeSystem, 4)
	defer cancel()

	tool := &proposeNewAgentTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"name":    "Data Pipeline Agent",
		"role":    "data",
		"purpose": "Nobody owns the nightly import jobs",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["proposed"])
	assert.Equal(t, true, data["notified"])

	select {
	case evt := <-ch:
		payload, isMap := evt.Payload.(map[string]any)
		require.True(t, isMap)
		assert.Equal(t, "agent-proposal", payload["kind"])
		assert.Equal(t, "Data Pipeline Agent", payload["name"])
		assert.Equal(t, "chief-1", payload["reportsTo"])
		assert.Equal(t, "lead-1", payload["proposedBy"])
	default:
		t.Fatal("expected a proposal event")
	}

	require.Len(t, td.messenger.sent, 1)
	assert.Equal(t, "chief-1", td.messenger.sent[0].To)
	assert.Contains(t, td.messenger.sent[0].ContentText(), "Data Pipeline Agent")
}

func TestProposeNewAgentWithoutSupervisor(t *testing.T) {
	td := newTestDeps(t)

	tool := &proposeNewAgentTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"name":    "Docs Agent",
		"role":    "docs",
		"purpose": "README rot",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["proposed"])
	assert.Equal(t, false, data["notified"])
	assert.Empty(t, td.messenger.sent)
}
