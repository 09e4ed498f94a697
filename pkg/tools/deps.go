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
	"time"

	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/registry"
	"github.com/society-labs/society/pkg/taskpool"
)

// Messenger is the durable messaging surface the runtime exposes to tools.
type Messenger interface {
	// Send writes one message to the bus.
	Send(ctx context.Context, to string, typ bus.Type, content bus.Content) (*bus.Message, error)
	// Recent returns the newest messages addressed to this agent. With
	// markRead, undelivered ones are recorded as delivered so catch-up will
	// not replay them.
	Recent(ctx context.Context, limit int, markRead bool) ([]bus.Message, error)
}

// Invoker runs other agents in-process for the synchronous tools.
type Invoker interface {
	// Invoke runs agentID's full agentic loop on message.
	Invoke(ctx context.Context, agentID, message string) (*InvokeOutcome, error)
	// Complete runs a one-shot completion against agentID's role prompt in a
	// fresh context.
	Complete(ctx context.Context, agentID, question string) (string, error)
}

// InvokeOutcome is what a synchronous invocation returns to the caller.
type InvokeOutcome struct {
	Response     string
	FilesCreated []string
}

// Spawner launches ephemeral workers against the task pool.
type Spawner interface {
	Spawn(ctx context.Context, projectID, parentID string, count int) ([]string, error)
}

// MCPToolInfo describes one tool exposed by an MCP server.
type MCPToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MCPManager brokers calls to configured MCP servers.
type MCPManager interface {
	Servers(ctx context.Context) ([]string, error)
	Tools(ctx context.Context, server string) ([]MCPToolInfo, error)
	Call(ctx context.Context, server, tool string, params map[string]any) (string, error)
}

// Deps carries everything the tool catalog needs from the runtime. Tools
// hold interfaces, not runtime internals, so the catalog tests with fakes.
type Deps struct {
	AgentID   string
	ProjectID string
	Ephemeral bool
	ReportsTo string

	// Home is the agent's read-write sandbox; ProjectRoot the read-only one.
	Home        *Sandbox
	ProjectRoot *Sandbox
	// SkillsDir is the global skills tree shared by every agent.
	SkillsDir string

	Projects  *project.Store
	Pool      *taskpool.Pool
	Registry  *registry.Registry
	Messenger Messenger
	Invoker   Invoker
	Spawner   Spawner
	MCP       MCPManager
	Limiter   *RateLimiter
	Shell     *ShellGuard
	Broker    *events.Broker
	Logger    *zap.Logger

	// AskTimeout bounds ask_agent and wait_for_response round-trips.
	AskTimeout time.Duration
}

// DefaultAskTimeout bounds synchronous inter-agent calls.
const DefaultAskTimeout = 2 * time.Minute

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Deps) askTimeout() time.Duration {
	if d.AskTimeout <= 0 {
		return DefaultAskTimeout
	}
	return d.AskTimeout
}

// NewCatalog assembles the full tool registry for one agent. The ephemeral
// split happens at lookup time via Registry.Catalog, not here.
func NewCatalog(deps *Deps) *Registry {
	r := NewRegistry()

	// Filesystem, sandboxed to the agent home.
	r.Register(&readFileTool{deps})
	r.Register(&writeFileTool{deps})
	r.Register(&patchFileTool{deps})
	r.Register(&listFilesTool{deps})
	r.Register(&deleteFileTool{deps})
	r.Register(&moveFileTool{deps})
	r.Register(&createDirectoryTool{deps})
	r.Register(&getFileInfoTool{deps})
	r.Register(&findFilesTool{deps})
	r.Register(&searchInFilesTool{deps})
	r.Register(&compareFilesTool{deps})

	// Read-only project views.
	r.Register(&readProjectFileTool{deps})
	r.Register(&listProjectFilesTool{deps})

	// Shell.
	r.Register(newRunCommandTool(deps))
	r.Register(&killProcessTool{deps})

	// Inter-agent.
	r.Register(&askAgentTool{deps})
	r.Register(&sendMessageTool{deps})
	r.Register(&delegateTaskTool{deps})
	r.Register(&readInboxTool{deps})
	r.Register(&reportToSupervisorTool{deps})

	// Team and discovery.
	r.Register(&listTeamTool{deps})
	r.Register(&listAgentsTool{deps})
	r.Register(&listAgentFilesTool{deps})
	r.Register(&readAgentFileTool{deps})
	r.Register(&proposeNewAgentTool{deps})

	// Task pool.
	r.Register(&claimTaskTool{deps})
	r.Register(&getMyTaskTool{deps})
	r.Register(&completeTaskTool{deps})
	r.Register(&failTaskTool{deps})
	r.Register(&createTaskTool{deps})
	r.Register(&listTasksTool{deps})
	r.Register(&spawnWorkerTool{deps})
	r.Register(&resetTasksTool{deps})

	// Skills.
	r.Register(&listGlobalSkillsTool{deps})
	r.Register(&readGlobalSkillTool{deps})

	// MCP.
	r.Register(&listMCPsTool{deps})
	r.Register(&listMCPToolsTool{deps})
	r.Register(&useMCPTool{deps})

	return r
}
