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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/errkind"
)

func TestRateLimiterWindowCap(t *testing.T) {
	current := time.Now()
	limiter := NewRateLimiter(
		WithRateLimit(3),
		WithRateWindow(time.Minute),
		WithRateClock(func() time.Time { return current }),
	)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow("lead-1", "search"))
	}
	err := limiter.Allow("lead-1", "search")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindRateLimited))
	assert.Contains(t, err.Error(), "limit of 3 calls")

	current = current.Add(61 * time.Second)
	assert.NoError(t, limiter.Allow("lead-1", "search"))
}

func TestRateLimiterErrorCooldown(t *testing.T) {
	current := time.Now()
	limiter := NewRateLimiter(
		WithErrorLimit(3),
		WithRateWindow(time.Minute),
		WithRateClock(func() time.Time { return current }),
	)

	for i := 0; i < 3; i++ {
		limiter.RecordError("lead-1", "search")
	}
	err := limiter.Allow("lead-1", "search")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindRateLimited))
	assert.Contains(t, err.Error(), "paused after 3 consecutive errors")

	// The breaker holds for one window, then lets a retry through.
	current = current.Add(61 * time.Second)
	assert.NoError(t, limiter.Allow("lead-1", "search"))
}

func TestRateLimiterSuccessResetsStreak(t *testing.T) {
	limiter := NewRateLimiter(WithErrorLimit(3))

	limiter.RecordError("lead-1", "search")
	limiter.RecordError("lead-1", "search")
	limiter.RecordSuccess("lead-1", "search")
	limiter.RecordError("lead-1", "search")
	limiter.RecordError("lead-1", "search")

	assert.NoError(t, limiter.Allow("lead-1", "search"))
}

func TestRateLimiterKeysArePerAgentAndServer(t *testing.T) {
	limiter := NewRateLimiter(WithErrorLimit(1))
	limiter.RecordError("lead-1", "search")

	require.Error(t, limiter.Allow("lead-1", "search"))
	assert.NoError(t, limiter.Allow("lead-1", "scraper"))
	assert.NoError(t, limiter.Allow("backend-1", "search"))
}

func TestListMCPs(t *testing.T) {
	td := newTestDeps(t)

	tool := &listMCPsTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 1, data["count"])
	assert.Equal(t, []string{"search"}, data["servers"])
}

func TestListMCPsUnavailable(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.MCP = nil

	tool := &listMCPsTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "UNAVAILABLE", res.Error.Code)
}

func TestListMCPTools(t *testing.T) {
	td := newTestDeps(t)

	tool := &listMCPToolsTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"server": "search"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "search", data["server"])
	assert.Equal(t, 1, data["count"])
	assert.Contains(t, res.Text(), `"name":"query"`)
}

func TestUseMCPPassesParamsThrough(t *testing.T) {
	td := newTestDeps(t)
	td.mcp.output = "3 results"

	tool := &useMCPTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"server": "search",
		"tool":   "query",
		"params": map[string]any{"q": "golang fsnotify", "limit": float64(3)},
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "search", data["server"])
	assert.Equal(t, "query", data["tool"])
	assert.Equal(t, "3 results", data["output"])
	assert.Equal(t, "search/query", td.mcp.lastTool)
	assert.Equal(t, "golang fsnotify", td.mcp.lastArgs["q"])
}

func TestUseMCPRateLimited(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.Limiter = NewRateLimiter(WithRateLimit(1))

	tool := &useMCPTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"server": "search", "tool": "query"})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = tool.Execute(context.Background(), map[string]any{"server": "search", "tool": "query"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "RATE_LIMITED", res.Error.Code)
	assert.Equal(t, 1, td.mcp.calls)
}

func TestUseMCPErrorsTripTheBreaker(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.Limiter = NewRateLimiter(WithErrorLimit(2))
	td.mcp.err = errors.New("connection refused")

	tool := &useMCPTool{td.Deps}
	params := map[string]any{"server": "search", "tool": "query"}

	for i := 0; i < 2; i++ {
		res, err := tool.Execute(context.Background(), params)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "MCP_CALL_FAILED", res.Error.Code)
	}

	res, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "RATE_LIMITED", res.Error.Code)
	assert.Equal(t, 2, td.mcp.calls)
}

func TestUseMCPSuccessClearsTheStreak(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.Limiter = NewRateLimiter(WithErrorLimit(2))
	params := map[string]any{"server": "search", "tool": "query"}
	tool := &useMCPTool{td.Deps}

	td.mcp.err = errors.New("flaky")
	res, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	require.False(t, res.Success)

	td.mcp.err = nil
	res, err = tool.Execute(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Success)

	td.mcp.err = errors.New("flaky")
	res, err = tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "MCP_CALL_FAILED", res.Error.Code)

	// One error after a success is below the breaker threshold.
	td.mcp.err = nil
	res, err = tool.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestUseMCPMissingParams(t *testing.T) {
	td := newTestDeps(t)

	tool := &useMCPTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"server": "search"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMS", res.Error.Code)
}
