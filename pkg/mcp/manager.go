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

// Package mcp connects agents to the external MCP servers listed in the
// shared mcp.json catalog. Servers run as stdio subprocesses; connections
// are lazy and cached, so a server starts on first use rather than at boot.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/society-labs/society/internal/version"
	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/tools"
)

// clientName identifies this runtime in the initialize handshake.
const clientName = "society-agent"

// conn is the slice of the mcp-go client the manager drives.
type conn interface {
	Initialize(ctx context.Context, req mcpgo.InitializeRequest) (*mcpgo.InitializeResult, error)
	ListTools(ctx context.Context, req mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error)
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
	Close() error
}

// Manager brokers calls to the MCP servers in {shared}/mcp.json. It
// satisfies the tool catalog's MCPManager; rate limiting happens above this
// layer, in the tools.
type Manager struct {
	path   string
	logger *zap.Logger
	dial   func(cfg ServerConfig) (conn, error)

	mu      sync.Mutex
	clients map[string]conn
}

var _ tools.MCPManager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// withDialer overrides subprocess launching, for tests.
func withDialer(dial func(cfg ServerConfig) (conn, error)) Option {
	return func(m *Manager) { m.dial = dial }
}

// New creates a Manager over {sharedDir}/mcp.json.
func New(sharedDir string, opts ...Option) *Manager {
	m := &Manager{
		path:    filepath.Join(sharedDir, ConfigFile),
		logger:  zap.NewNop(),
		dial:    dialStdio,
		clients: make(map[string]conn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func dialStdio(cfg ServerConfig) (conn, error) {
	return client.NewStdioMCPClient(cfg.Command, cfg.envList(), cfg.Args...)
}

// Path returns the catalog path the manager reads.
func (m *Manager) Path() string {
	return m.path
}

// Servers returns the configured server names, sorted. It only reads the
// catalog; no subprocess is started.
func (m *Manager) Servers(ctx context.Context) ([]string, error) {
	servers, err := m.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Tools lists the tools one server exposes, connecting to it first if
// needed.
func (m *Manager) Tools(ctx context.Context, server string) ([]tools.MCPToolInfo, error) {
	c, err := m.connect(ctx, server)
	if err != nil {
		return nil, err
	}
	result, err := c.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", server, err)
	}
	infos := make([]tools.MCPToolInfo, 0, len(result.Tools))
	for _, tool := range result.Tools {
		infos = append(infos, tools.MCPToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
		})
	}
	return infos, nil
}

// Call invokes one tool on one server and flattens the result to text. A
// tool-level error (the server answered, but the tool failed) comes back as
// a Go error carrying the server's message.
func (m *Manager) Call(ctx context.Context, server, tool string, params map[string]any) (string, error) {
	c, err := m.connect(ctx, server)
	if err != nil {
		return "", err
	}
	req := mcpgo.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = params

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", tool, server, err)
	}
	text := renderContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool returned an error"
		}
		return "", fmt.Errorf("tool error: %s", text)
	}
	return text, nil
}

// Close shuts down every connected server subprocess.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, c := range m.clients {
		if err := c.Close(); err != nil {
			m.logger.Warn("mcp server close failed",
				zap.String("server", name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("server %s: %w", name, err))
		}
	}
	m.clients = make(map[string]conn)
	return errors.Join(errs...)
}

// connect returns the cached client for name, launching and initializing
// the server on first use.
func (m *Manager) connect(ctx context.Context, name string) (conn, error) {
	servers, err := m.load()
	if err != nil {
		return nil, err
	}
	cfg, ok := servers[name]
	if !ok {
		return nil, errkind.NotFound("mcp server %s is not configured", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[name]; ok {
		return c, nil
	}

	c, err := m.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", name, err)
	}
	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    clientName,
		Version: version.Get(),
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", name, err)
	}

	m.clients[name] = c
	m.logger.Info("mcp server connected",
		zap.String("server", name),
		zap.String("command", cfg.Command))
	return c, nil
}

// renderContent flattens tool output to text. Non-text content is carried
// as JSON so the model still sees it.
func renderContent(content []mcpgo.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		switch c := item.(type) {
		case mcpgo.TextContent:
			parts = append(parts, c.Text)
		case *mcpgo.TextContent:
			parts = append(parts, c.Text)
		default:
			if raw, err := json.Marshal(item); err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}
