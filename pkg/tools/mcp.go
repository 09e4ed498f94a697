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
	"sync"
	"time"

	"github.com/society-labs/society/pkg/errkind"
)

const (
	// DefaultRateWindow is the sliding window for MCP call counting, and the
	// cooldown after an error streak.
	DefaultRateWindow = time.Minute
	// DefaultRateLimit is the maximum calls per (agent, server) per window.
	DefaultRateLimit = 10
	// DefaultErrorLimit is how many consecutive failures trip the breaker.
	DefaultErrorLimit = 3
)

// RateLimiter throttles MCP calls per (agent, server): a sliding-window call
// count plus a consecutive-error breaker. A tripped breaker refuses calls for
// one window, then lets a retry through; a success resets the streak.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	errLimit int
	now      func() time.Time

	calls        map[string][]time.Time
	errStreak    map[string]int
	blockedUntil map[string]time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateWindow overrides the sliding window.
func WithRateWindow(d time.Duration) RateLimiterOption {
	return func(l *RateLimiter) { l.window = d }
}

// WithRateLimit overrides the calls-per-window cap.
func WithRateLimit(n int) RateLimiterOption {
	return func(l *RateLimiter) { l.limit = n }
}

// WithErrorLimit overrides the consecutive-error cap.
func WithErrorLimit(n int) RateLimiterOption {
	return func(l *RateLimiter) { l.errLimit = n }
}

// WithRateClock overrides the time source for tests.
func WithRateClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) { l.now = now }
}

// NewRateLimiter creates a limiter with the default window and caps.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	l := &RateLimiter{
		window:       DefaultRateWindow,
		limit:        DefaultRateLimit,
		errLimit:     DefaultErrorLimit,
		now:          time.Now,
		calls:        map[string][]time.Time{},
		errStreak:    map[string]int{},
		blockedUntil: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func rateKey(agentID, server string) string {
	return agentID + "\x00" + server
}

// Allow records one call attempt and returns a RateLimited error if the
// (agent, server) pair is over its window cap or inside an error cooldown.
func (l *RateLimiter) Allow(agentID, server string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rateKey(agentID, server)
	now := l.now()

	if until, blocked := l.blockedUntil[key]; blocked {
		if now.Before(until) {
			return errkind.RateLimited("server %s is paused after %d consecutive errors; retry in %s",
				server, l.errLimit, until.Sub(now).Round(time.Second))
		}
		delete(l.blockedUntil, key)
	}

	cutoff := now.Add(-l.window)
	recent := l.calls[key][:0]
	for _, t := range l.calls[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.calls[key] = recent
		wait := recent[0].Add(l.window).Sub(now).Round(time.Second)
		return errkind.RateLimited("server %s hit the limit of %d calls per %s; retry in %s",
			server, l.limit, l.window, wait)
	}
	l.calls[key] = append(recent, now)
	return nil
}

// RecordSuccess clears the error streak for the pair.
func (l *RateLimiter) RecordSuccess(agentID, server string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := rateKey(agentID, server)
	delete(l.errStreak, key)
	delete(l.blockedUntil, key)
}

// RecordError bumps the streak; hitting the cap starts a one-window cooldown.
func (l *RateLimiter) RecordError(agentID, server string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := rateKey(agentID, server)
	l.errStreak[key]++
	if l.errStreak[key] >= l.errLimit {
		l.blockedUntil[key] = l.now().Add(l.window)
	}
}

// listMCPsTool lists the configured MCP servers.
type listMCPsTool struct {
	deps *Deps
}

func (t *listMCPsTool) Name() string { return "list_mcps" }

func (t *listMCPsTool) Description() string {
	return "List the external MCP servers configured for this runtime."
}

func (t *listMCPsTool) InputSchema() *JSONSchema {
	return NewObjectSchema("No parameters", map[string]*JSONSchema{}, nil)
}

func (t *listMCPsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if t.deps.MCP == nil {
		return fail("UNAVAILABLE", "no MCP servers are configured", ""), nil
	}
	servers, err := t.deps.MCP.Servers(ctx)
	if err != nil {
		return fail("MCP_FAILED", fmt.Sprintf("Cannot list MCP servers: %v", err), ""), nil
	}
	return ok(map[string]any{"servers": servers, "count": len(servers)}), nil
}

// listMCPToolsTool lists one server's tools.
type listMCPToolsTool struct {
	deps *Deps
}

func (t *listMCPToolsTool) Name() string { return "list_mcp_tools" }

func (t *listMCPToolsTool) Description() string {
	return "List the tools an MCP server exposes, with descriptions."
}

func (t *listMCPToolsTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for listing MCP tools",
		map[string]*JSONSchema{
			"server": NewStringSchema("The MCP server name from list_mcps"),
		},
		[]string{"server"},
	)
}

func (t *listMCPToolsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	server, hasServer := stringParam(params, "server")
	if !hasServer {
		return fail("INVALID_PARAMS", "server is required", ""), nil
	}
	if t.deps.MCP == nil {
		return fail("UNAVAILABLE", "no MCP servers are configured", ""), nil
	}
	infos, err := t.deps.MCP.Tools(ctx, server)
	if err != nil {
		return fail("MCP_FAILED", fmt.Sprintf("Cannot list tools on %s: %v", server, err),
			"Check the server name with list_mcps."), nil
	}
	return ok(map[string]any{"server": server, "tools": infos, "count": len(infos)}), nil
}

// useMCPTool calls a tool on an MCP server, behind the rate limiter.
type useMCPTool struct {
	deps *Deps
}

func (t *useMCPTool) Name() string { return "use_mcp" }

func (t *useMCPTool) Description() string {
	return "Call a tool on an external MCP server. Calls are rate limited per server."
}

func (t *useMCPTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for calling an MCP tool",
		map[string]*JSONSchema{
			"server": NewStringSchema("The MCP server name from list_mcps"),
			"tool":   NewStringSchema("The tool name from list_mcp_tools"),
			"params": NewObjectSchema("Arguments to pass through to the tool", map[string]*JSONSchema{}, nil),
		},
		[]string{"server", "tool"},
	)
}

func (t *useMCPTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	server, hasServer := stringParam(params, "server")
	toolName, hasTool := stringParam(params, "tool")
	if !hasServer || !hasTool {
		return fail("INVALID_PARAMS", "server and tool are required", ""), nil
	}
	if t.deps.MCP == nil {
		return fail("UNAVAILABLE", "no MCP servers are configured", ""), nil
	}

	var args map[string]any
	if raw, found := params["params"]; found {
		if m, isMap := raw.(map[string]any); isMap {
			args = m
		}
	}

	if t.deps.Limiter != nil {
		if err := t.deps.Limiter.Allow(t.deps.AgentID, server); err != nil {
			return fail("RATE_LIMITED", err.Error(),
				"Wait before calling this server again."), nil
		}
	}

	out, err := t.deps.MCP.Call(ctx, server, toolName, args)
	if err != nil {
		if t.deps.Limiter != nil {
			t.deps.Limiter.RecordError(t.deps.AgentID, server)
		}
		return fail("MCP_CALL_FAILED", fmt.Sprintf("%s/%s failed: %v", server, toolName, err), ""), nil
	}
	if t.deps.Limiter != nil {
		t.deps.Limiter.RecordSuccess(t.deps.AgentID, server)
	}
	return ok(map[string]any{"server": server, "tool": toolName, "output": out}), nil
}
