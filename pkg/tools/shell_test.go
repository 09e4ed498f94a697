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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellGuardBlocksKillEverything(t *testing.T) {
	g := NewShellGuard(4200, []string{"society-agent"})

	for _, cmd := range []string{
		"kill -1",
		"kill -9 -1",
		"kill -TERM -1",
	} {
		assert.NotEmpty(t, g.CheckForbidden(cmd), "%q must be blocked", cmd)
	}
	assert.Empty(t, g.CheckForbidden("kill -9 1234"), "killing a normal pid is allowed")
}

func TestShellGuardBlocksSystemPort(t *testing.T) {
	g := NewShellGuard(4200, nil)

	for _, cmd := range []string{
		"kill $(lsof -t -i:4200)",
		"fuser -k 4200/tcp",
		"lsof -ti:4200 | xargs kill -9",
	} {
		assert.NotEmpty(t, g.CheckForbidden(cmd), "%q must be blocked", cmd)
	}
	assert.Empty(t, g.CheckForbidden("fuser -k 3000/tcp"), "other ports are fair game")
	assert.Empty(t, g.CheckForbidden("curl localhost:4200/health"), "talking to the port is fine")
}

func TestShellGuardBlocksProtectedNames(t *testing.T) {
	g := NewShellGuard(0, []string{"society-agent", "orchestrator"})

	assert.NotEmpty(t, g.CheckForbidden("pkill -f society-agent"))
	assert.NotEmpty(t, g.CheckForbidden("killall orchestrator"))
	assert.NotEmpty(t, g.CheckForbidden("kill society-agent"))
	assert.Empty(t, g.CheckForbidden("pkill -f my-own-server"))
}

func TestShellGuardProtectedName(t *testing.T) {
	g := NewShellGuard(0, []string{"society-agent"})

	assert.True(t, g.ProtectedName("society-agent"))
	assert.True(t, g.ProtectedName("/usr/bin/SOCIETY-AGENT serve"))
	assert.False(t, g.ProtectedName("node"))
}

func TestShellGuardNilIsPermissive(t *testing.T) {
	var g *ShellGuard
	assert.Empty(t, g.CheckForbidden("kill -1"))
	assert.False(t, g.ProtectedName("anything"))
}

func TestIsServerCommand(t *testing.T) {
	serverCmds := []string{
		"npm run dev",
		"npm start",
		"nodemon index.js",
		"python3 -m http.server 8080",
		"uvicorn app:api --reload",
		"flask run",
		"rails server",
		"php -S localhost:8000",
	}
	for _, cmd := range serverCmds {
		assert.True(t, isServerCommand(cmd), "%q should auto-background", cmd)
	}

	for _, cmd := range []string{"npm test", "ls -la", "python3 script.py", "go build ./..."} {
		assert.False(t, isServerCommand(cmd), "%q should stay foreground", cmd)
	}
}

func TestRunCommandBlockedNeverSpawns(t *testing.T) {
	td := newTestDeps(t)
	tool := newRunCommandTool(td.Deps)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "kill -9 -1"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "BLOCKED", res.Error.Code)
	assert.Contains(t, res.Error.Suggestion, "never be allowed")
	assert.Empty(t, tool.Sessions())
}

func TestRunCommandForeground(t *testing.T) {
	td := newTestDeps(t)
	tool := newRunCommandTool(td.Deps)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello from test"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Contains(t, data["output"], "hello from test")
	assert.Equal(t, 0, data["exitCode"])
	assert.Equal(t, false, data["timedOut"])
}

func TestRunCommandNonzeroExit(t *testing.T) {
	td := newTestDeps(t)
	tool := newRunCommandTool(td.Deps)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "exit 3"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "NONZERO_EXIT", res.Error.Code)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, data["exitCode"])
}

func TestRunCommandTimeout(t *testing.T) {
	td := newTestDeps(t)
	tool := newRunCommandTool(td.Deps)

	start := time.Now()
	res, err := tool.Execute(context.Background(), map[string]any{
		"command":    "sleep 30",
		"timeout_ms": float64(200),
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "TIMEOUT", res.Error.Code)
	assert.True(t, res.Error.Retryable)
	assert.Less(t, time.Since(start), 10*time.Second, "timeout must not wait for the sleep")
}

func TestRunCommandRunsInHome(t *testing.T) {
	td := newTestDeps(t)
	tool := newRunCommandTool(td.Deps)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "pwd"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Contains(t, data["output"], td.Home.Root())
}

func TestCompressOutputKeepsHeadAndTail(t *testing.T) {
	head := strings.Repeat("H", outputHeadBytes)
	middle := strings.Repeat("M", outputCompressAbove)
	tail := strings.Repeat("T", outputTailBytes)
	out := compressOutput(head + middle + tail)

	assert.True(t, strings.HasPrefix(out, "H"))
	assert.True(t, strings.HasSuffix(out, "T"))
	assert.Contains(t, out, "…omitted…")
	assert.Less(t, len(out), len(head)+len(middle)+len(tail))
}

func TestCompressOutputSmallUntouched(t *testing.T) {
	out := "just a few lines\nof output"
	assert.Equal(t, out, compressOutput(out))
}

func TestKillProcessRefusesProtected(t *testing.T) {
	td := newTestDeps(t)
	tool := &killProcessTool{td.Deps}

	res, err := tool.Execute(context.Background(), map[string]any{"name": "society-agent"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "BLOCKED", res.Error.Code)
}

func TestKillProcessRequiresTarget(t *testing.T) {
	td := newTestDeps(t)
	tool := &killProcessTool{td.Deps}

	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMS", res.Error.Code)
}
