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

package runtime

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/llm"
	"github.com/society-labs/society/pkg/loop"
	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/tools"
)

// fileEventBuffer sizes the file-created subscription used by Invoke.
const fileEventBuffer = 256

var (
	_ tools.Invoker   = (*Runtime)(nil)
	_ tools.Messenger = busMessenger{}
)

// handleMessage is the bus handler. Every message addressed to this agent
// lands here exactly once; by the time it runs, signature verification and
// the at-most-once gate have already passed.
func (r *Runtime) handleMessage(ctx context.Context, m *bus.Message) {
	if m.Type == bus.TypeShutdown {
		r.Logger.Info("shutdown requested over the bus",
			zap.String("agent_id", r.id),
			zap.String("from", m.From))
		r.Stops.Add(r.id)
		return
	}

	proj, err := r.Projects.FindByAgent(ctx, r.id)
	if err != nil {
		r.Logger.Warn("message arrived but agent has no project config",
			zap.String("agent_id", r.id),
			zap.String("message_id", m.ID),
			zap.Error(err))
		return
	}

	outcome, err := r.runFor(ctx, proj, proj.Agent(r.id), promptFor(m))
	if err != nil {
		r.Logger.Error("message handling failed",
			zap.String("message_id", m.ID),
			zap.String("from", m.From),
			zap.Error(err))
		return
	}
	r.Logger.Info("message handled",
		zap.String("message_id", m.ID),
		zap.String("from", m.From),
		zap.String("type", string(m.Type)),
		zap.String("reason", outcome.Reason),
		zap.Int("iterations", outcome.Iterations))
}

// promptFor renders an envelope as the user turn handed to the loop.
func promptFor(m *bus.Message) string {
	switch c := m.Content.(type) {
	case bus.TaskAssignContent:
		var b strings.Builder
		fmt.Fprintf(&b, "%s assigned you a task.\n\nTitle: %s\n", m.From, c.Title)
		if c.Description != "" {
			fmt.Fprintf(&b, "\n%s\n", c.Description)
		}
		if c.Priority > 0 {
			fmt.Fprintf(&b, "\nPriority: %d/10\n", c.Priority)
		}
		fmt.Fprintf(&b, "\nWork the task now. Report back to %s with send_message when done or blocked.", m.From)
		return b.String()
	case bus.StatusUpdateContent:
		return fmt.Sprintf("Status update from %s: %s", m.From, c.Text())
	default:
		if m.Type == bus.TypeQuestion {
			return fmt.Sprintf("%s asks:\n\n%s\n\nAnswer them with send_message.", m.From, m.ContentText())
		}
		return fmt.Sprintf("Message from %s:\n\n%s", m.From, m.ContentText())
	}
}

// runFor executes one loop turn for cfg inside proj. One turn per agent id
// at a time: a second caller gets InvalidState instead of an interleaved
// conversation.
func (r *Runtime) runFor(ctx context.Context, proj *project.Project, cfg *project.AgentConfig, message string) (*loop.Outcome, error) {
	if _, running := r.active.GetOrSet(cfg.ID, struct{}{}); running {
		return nil, errkind.InvalidState("agent %s is already handling a turn", cfg.ID)
	}
	defer r.active.Delete(cfg.ID)

	home := r.Projects.ResolveHome(proj, cfg)
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, errkind.IoError(err, "creating agent home %s", home)
	}

	executor := tools.NewExecutor(tools.NewCatalog(r.toolDeps(proj, cfg, home)),
		tools.WithExecutorLogger(r.Logger),
		tools.WithExecutorBroker(r.Events))

	provider, err := r.Models.ProviderFor(cfg, proj)
	if err != nil {
		return nil, fmt.Errorf("selecting model provider for %s: %w", cfg.ID, err)
	}

	opts := []loop.Option{
		loop.WithTranscript(r.History),
		loop.WithUsage(r.Usage),
		loop.WithStops(r.Stops),
		loop.WithBroker(r.Events),
		loop.WithLogger(r.Logger),
		loop.WithConfigSource(r.configSource(proj.ID, cfg.ID)),
	}
	if cfg.Ephemeral {
		opts = append(opts, loop.WithMaxIterations(loop.WorkerMaxIterations))
	}
	return loop.New(cfg, proj, provider, executor, opts...).Run(ctx, message, nil)
}

// configSource re-reads the agent and project from the snapshot so prompt
// assembly always sees the stored config, mid-run edits included.
func (r *Runtime) configSource(projectID, agentID string) loop.ConfigSource {
	return func(ctx context.Context) (*project.AgentConfig, *project.Project, error) {
		proj, err := r.Projects.Get(ctx, projectID)
		if err != nil {
			return nil, nil, err
		}
		cfg := proj.Agent(agentID)
		if cfg == nil {
			return nil, nil, errkind.NotFound("agent %s no longer in project %s", agentID, projectID)
		}
		return cfg, proj, nil
	}
}

// toolDeps assembles the per-agent tool wiring. Each turn gets fresh
// sandboxes; rate limiter and shell guard are process-wide.
func (r *Runtime) toolDeps(proj *project.Project, cfg *project.AgentConfig, home string) *tools.Deps {
	return &tools.Deps{
		AgentID:     cfg.ID,
		ProjectID:   proj.ID,
		Ephemeral:   cfg.Ephemeral,
		ReportsTo:   cfg.ReportsTo,
		Home:        tools.NewSandbox(home),
		ProjectRoot: tools.NewSandbox(r.Projects.ProjectDir(proj)),
		SkillsDir:   r.Config.SkillsPath(),
		Projects:    r.Projects,
		Pool:        r.Pool,
		Registry:    r.Registry,
		Messenger:   busMessenger{r.Bus},
		Invoker:     r,
		Spawner:     r.Workers,
		MCP:         r.MCP,
		Limiter:     r.limiter,
		Shell:       r.shell,
		Broker:      r.Events,
		Logger:      r.Logger,
	}
}

// runWorkerLoop adapts runFor to the worker spawner contract.
func (r *Runtime) runWorkerLoop(ctx context.Context, proj *project.Project, cfg project.AgentConfig, message string) error {
	_, err := r.runFor(ctx, proj, &cfg, message)
	return err
}

// Invoke runs agentID's loop on message inside this process, for the
// synchronous tools. Files the callee creates are collected from the
// file-created event stream while the turn runs.
func (r *Runtime) Invoke(ctx context.Context, agentID, message string) (*tools.InvokeOutcome, error) {
	proj, err := r.Projects.FindByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	ch, cancel := r.Events.Subscribe(events.TypeFileCreated, fileEventBuffer)
	defer cancel()

	outcome, err := r.runFor(ctx, proj, proj.Agent(agentID), message)
	if err != nil {
		return nil, err
	}

	var files []string
	for {
		select {
		case evt := <-ch:
			if evt.AgentID != agentID {
				continue
			}
			if payload, ok := evt.Payload.(map[string]any); ok {
				if path, ok := payload["path"].(string); ok {
					files = append(files, path)
				}
			}
		default:
			return &tools.InvokeOutcome{
				Response:     outcome.Response,
				FilesCreated: files,
			}, nil
		}
	}
}

// Complete asks agentID's model one question in a fresh context: role prompt
// only, no tools, no transcript.
func (r *Runtime) Complete(ctx context.Context, agentID, question string) (string, error) {
	proj, err := r.Projects.FindByAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	cfg := proj.Agent(agentID)

	provider, err := r.Models.ProviderFor(cfg, proj)
	if err != nil {
		return "", fmt.Errorf("selecting model provider for %s: %w", agentID, err)
	}

	system := cfg.SystemPrompt
	if system == "" {
		system = fmt.Sprintf("You are %s, the %s on project %s. Answer from your own expertise, concisely.",
			cfg.Name, cfg.Role, proj.Name)
	}
	resp, err := provider.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system, Timestamp: time.Now()},
		{Role: llm.RoleUser, Content: question, Timestamp: time.Now()},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("asking %s: %w", agentID, err)
	}
	return resp.Content, nil
}

// busMessenger narrows *bus.Bus to the tools.Messenger surface. The variadic
// attachment parameter on Bus.Send keeps Bus from satisfying it directly.
type busMessenger struct {
	bus *bus.Bus
}

func (m busMessenger) Send(ctx context.Context, to string, typ bus.Type, content bus.Content) (*bus.Message, error) {
	return m.bus.Send(ctx, to, typ, content)
}

func (m busMessenger) Recent(ctx context.Context, limit int, markRead bool) ([]bus.Message, error) {
	return m.bus.Recent(ctx, limit, markRead)
}
