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

// Package loop runs the request-response cycle between an agent and its
// model: compose the prompt, stream the response, execute the requested
// tools, feed results back, repeat. Repetition detectors, an iteration cap,
// a progress watchdog, and an external stop signal bound every run.
package loop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/llm"
	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/tools"
	"github.com/society-labs/society/pkg/usage"
)

// DefaultMaxIterations caps one run; reaching it surfaces a checkpoint
// rather than an error so the caller can resume with "continue".
const DefaultMaxIterations = 100

// WorkerMaxIterations is the tighter cap applied to ephemeral worker runs.
const WorkerMaxIterations = 20

// readOnlyNudgeLimit bounds the implement-changes auto-continues per run.
const readOnlyNudgeLimit = 2

// Synthetic user turns the loop injects.
const (
	continueMessage = "Continue from where you left off."
	nudgeMessage    = "You have only gathered information so far. Implement the changes the work requires, then summarize what you changed."
)

// Non-streaming model-call retry tuning.
const (
	chatRetries    = 2
	chatRetryDelay = 500 * time.Millisecond
)

// stopPollInterval is how often an in-flight stream checks the stop signal.
const stopPollInterval = 100 * time.Millisecond

// Termination reasons reported in Outcome.Reason.
const (
	ReasonEndTurn      = "end-turn"
	ReasonToolLoop     = "tool-loop"
	ReasonCommandLoop  = "command-loop"
	ReasonTextLoop     = "text-loop"
	ReasonIterationCap = "iteration-cap"
	ReasonStopped      = "stop-requested"
)

// readOnlyTools names the catalog entries that observe without acting; a
// stop after a turn made only of these triggers the implement-changes nudge.
var readOnlyTools = map[string]bool{
	"read_file":          true,
	"list_files":         true,
	"get_file_info":      true,
	"find_files":         true,
	"search_in_files":    true,
	"compare_files":      true,
	"read_inbox":         true,
	"list_team":          true,
	"list_agents":        true,
	"list_agent_files":   true,
	"read_agent_file":    true,
	"read_project_file":  true,
	"list_project_files": true,
	"list_tasks":         true,
	"get_my_task":        true,
	"list_global_skills": true,
	"read_global_skill":  true,
	"list_mcps":          true,
	"list_mcp_tools":     true,
}

// fileCreatingTools count toward the watchdog's files-created tally.
var fileCreatingTools = map[string]bool{
	"write_file":       true,
	"create_directory": true,
}

// Stopper reports externally requested stops for an agent.
type Stopper interface {
	Contains(agentID string) bool
}

// ConfigSource re-reads the agent and project configuration. When wired, the
// loop refreshes both before composing each iteration's system prompt, so
// edits to the stored config take effect mid-run instead of on the next run.
type ConfigSource func(ctx context.Context) (*project.AgentConfig, *project.Project, error)

// Transcript persists conversation turns across runs.
type Transcript interface {
	Append(ctx context.Context, agentID string, msg llm.Message) error
	Load(ctx context.Context, agentID string) ([]llm.Message, error)
}

// Outcome summarizes one completed run.
type Outcome struct {
	// Response is the final assistant text, with the stop banner appended
	// when a safety control tripped.
	Response string
	// Reason is one of the Reason* constants.
	Reason string
	// Warning is the surfaced stop banner, empty on a clean end of turn.
	Warning      string
	Iterations   int
	ToolCalls    int
	FilesCreated int
	Usage        llm.Usage
	Duration     time.Duration
}

// Loop drives one agent's conversation against its model provider.
type Loop struct {
	agent    *project.AgentConfig
	project  *project.Project
	provider llm.Provider
	executor *tools.Executor

	transcript Transcript
	usage      *usage.Tracker
	stops      Stopper
	broker     *events.Broker
	logger     *zap.Logger
	config     ConfigSource

	maxIterations int
	contextBudget int
	now           func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithTranscript persists turns to the given store.
func WithTranscript(t Transcript) Option {
	return func(l *Loop) { l.transcript = t }
}

// WithUsage records per-turn token usage.
func WithUsage(tracker *usage.Tracker) Option {
	return func(l *Loop) { l.usage = tracker }
}

// WithStops wires the external stop signal.
func WithStops(s Stopper) Option {
	return func(l *Loop) { l.stops = s }
}

// WithConfigSource wires a live config re-read into prompt assembly.
func WithConfigSource(src ConfigSource) Option {
	return func(l *Loop) { l.config = src }
}

// WithBroker streams tokens and progress to the event broker.
func WithBroker(broker *events.Broker) Option {
	return func(l *Loop) { l.broker = broker }
}

// WithLogger sets the loop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithMaxIterations overrides the iteration cap; workers run with 20.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithContextBudget overrides the input-token ceiling.
func WithContextBudget(tokens int) Option {
	return func(l *Loop) {
		if tokens > 0 {
			l.contextBudget = tokens
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New creates a loop for one agent. The provider streams when it implements
// llm.StreamingProvider.
func New(agent *project.AgentConfig, proj *project.Project, provider llm.Provider, executor *tools.Executor, opts ...Option) *Loop {
	l := &Loop{
		agent:         agent,
		project:       proj,
		provider:      provider,
		executor:      executor,
		logger:        zap.NewNop(),
		maxIterations: DefaultMaxIterations,
		contextBudget: DefaultContextBudget,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes one full agentic exchange triggered by userMessage.
// Attachments become extra content blocks on the user turn. The returned
// Outcome is non-nil unless the provider failed outright.
func (l *Loop) Run(ctx context.Context, userMessage string, attachments []llm.ContentBlock) (*Outcome, error) {
	start := time.Now()
	projectID := l.projectID()

	messages := l.loadHistory(ctx)
	l.push(ctx, &messages, l.userTurn(userMessage, attachments))

	outcome := &Outcome{}
	toolLoop := &toolLoopDetector{}
	cmdLoop := &commandLoopDetector{}
	textLoop := newTextLoopDetector()
	dog := newWatchdog(l.now)

	var finalText string
	var prevTurnTools []string
	nudges := 0

	for {
		if l.stopRequested() {
			outcome.Reason = ReasonStopped
			outcome.Warning = warningFor(ReasonStopped)
			break
		}
		if outcome.Iterations >= l.maxIterations {
			outcome.Reason = ReasonIterationCap
			outcome.Warning = fmt.Sprintf("⚠️ [checkpoint: %d iterations reached - send 'continue' to resume]", outcome.Iterations)
			break
		}
		outcome.Iterations++
		l.refreshConfig(ctx)

		catalog := l.executor.Registry().Catalog(l.agent.Ephemeral)
		system := composeSystemPrompt(l.agent, l.project, catalog, l.now())
		window := sharedEstimator().trimToBudget(system, messages, l.contextBudget)

		request := make([]llm.Message, 0, len(window)+1)
		request = append(request, llm.Message{Role: llm.RoleSystem, Content: system})
		request = append(request, window...)

		resp, streamReason, err := l.callModel(ctx, request, catalog)
		if err != nil {
			return nil, err
		}

		model := l.provider.Model()
		turnCost := llm.Cost(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		if l.usage != nil {
			l.usage.Record(l.agent.ID, model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		outcome.Usage.InputTokens += resp.Usage.InputTokens
		outcome.Usage.OutputTokens += resp.Usage.OutputTokens
		outcome.Usage.TotalTokens += resp.Usage.InputTokens + resp.Usage.OutputTokens
		outcome.Usage.CostUSD += turnCost

		l.push(ctx, &messages, llm.Message{
			Role:       llm.RoleAssistant,
			Content:    resp.Content,
			ToolCalls:  resp.ToolCalls,
			Timestamp:  l.now(),
			TokenCount: resp.Usage.InputTokens + resp.Usage.OutputTokens,
			CostUSD:    turnCost,
		})
		if resp.Content != "" {
			finalText = resp.Content
		}

		if streamReason != "" {
			outcome.Reason = streamReason
			outcome.Warning = warningFor(streamReason)
			break
		}
		if textLoop.observe(resp.Content) {
			outcome.Reason = ReasonTextLoop
			outcome.Warning = warningFor(ReasonTextLoop)
			break
		}
		if toolLoop.observe(resp.ToolCalls) {
			outcome.Reason = ReasonToolLoop
			outcome.Warning = warningFor(ReasonToolLoop)
			break
		}

		if len(resp.ToolCalls) > 0 {
			names, commandTripped := l.executeTools(ctx, resp.ToolCalls, cmdLoop, dog, outcome, &messages)
			prevTurnTools = names
			if commandTripped {
				outcome.Reason = ReasonCommandLoop
				outcome.Warning = warningFor(ReasonCommandLoop)
				break
			}
		} else if resp.StopReason == llm.StopMaxTokens {
			l.push(ctx, &messages, llm.Message{Role: llm.RoleUser, Content: continueMessage, Timestamp: l.now()})
		} else if allReadOnly(prevTurnTools) && nudges < readOnlyNudgeLimit {
			nudges++
			l.push(ctx, &messages, llm.Message{Role: llm.RoleUser, Content: nudgeMessage, Timestamp: l.now()})
		} else {
			outcome.Reason = ReasonEndTurn
			break
		}

		if dog.summaryDue(outcome.Iterations) {
			l.logger.Info("loop progress",
				zap.String("agent_id", l.agent.ID),
				zap.Int("iteration", outcome.Iterations),
				zap.Int("files_created", dog.filesCreated),
				zap.String("last_action", dog.lastAction))
			l.broker.Emit(events.TypeSystem, l.agent.ID, projectID, map[string]any{
				"kind":         "loop-progress",
				"iteration":    outcome.Iterations,
				"filesCreated": dog.filesCreated,
				"lastAction":   dog.lastAction,
			})
		}
		if dog.stalled() {
			l.logger.Warn("no loop progress within stall window",
				zap.String("agent_id", l.agent.ID),
				zap.Int("iteration", outcome.Iterations))
			l.broker.Emit(events.TypeSystem, l.agent.ID, projectID, map[string]any{
				"kind":      "loop-stalled",
				"iteration": outcome.Iterations,
			})
		}
	}

	outcome.FilesCreated = dog.filesCreated
	outcome.Response = finalText
	if outcome.Warning != "" {
		if outcome.Response != "" {
			outcome.Response += "\n\n"
		}
		outcome.Response += outcome.Warning
	}
	outcome.Duration = time.Since(start)

	l.broker.Emit(events.TypeAgentMessage, l.agent.ID, projectID, map[string]any{
		"kind":       "done",
		"response":   outcome.Response,
		"reason":     outcome.Reason,
		"iterations": outcome.Iterations,
	})
	l.logger.Info("loop finished",
		zap.String("agent_id", l.agent.ID),
		zap.String("reason", outcome.Reason),
		zap.Int("iterations", outcome.Iterations),
		zap.Int("tool_calls", outcome.ToolCalls),
		zap.Duration("duration", outcome.Duration))
	return outcome, nil
}

// executeTools runs a turn's calls in emission order, appending each result
// as a tool turn. Returns the tool names and whether the command detector
// tripped; the offending command is not executed.
func (l *Loop) executeTools(ctx context.Context, calls []llm.ToolCall, cmdLoop *commandLoopDetector, dog *watchdog, outcome *Outcome, messages *[]llm.Message) ([]string, bool) {
	projectID := l.projectID()
	names := make([]string, 0, len(calls))

	for _, call := range calls {
		names = append(names, call.Name)

		if call.Name == "run_command" {
			if command, ok := call.Input["command"].(string); ok && cmdLoop.observe(command) {
				return names, true
			}
		}

		result, err := l.executor.Execute(ctx, l.agent.ID, projectID, call.Name, call.Input)
		if err != nil {
			// Unknown tool: hand the failure back so the model corrects itself.
			result = &tools.Result{
				Success: false,
				Error: &tools.Error{
					Code:       "unknown_tool",
					Message:    err.Error(),
					Suggestion: "Call one of the tools listed in your briefing.",
				},
			}
		}
		outcome.ToolCalls++

		if result.Success && !readOnlyTools[call.Name] {
			dog.progress(call.Name, fileCreatingTools[call.Name])
		}

		l.push(ctx, messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    result.Text(),
			ToolUseID:  call.ID,
			ToolResult: result,
			Timestamp:  l.now(),
		})
	}
	return names, false
}

// callModel sends one request, streaming when the provider supports it. A
// non-empty reason means a mid-stream detector or stop signal fired; resp
// then holds the partial turn accumulated so far.
func (l *Loop) callModel(ctx context.Context, request []llm.Message, catalog []tools.Tool) (*llm.Response, string, error) {
	sp, ok := l.provider.(llm.StreamingProvider)
	if !ok {
		resp, err := l.chatWithRetry(ctx, request, catalog)
		return resp, "", err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	detector := newStreamLoopDetector()
	projectID := l.projectID()
	var tripped, stopped atomic.Bool

	onToken := func(token string) {
		l.broker.Emit(events.TypeAgentMessage, l.agent.ID, projectID, map[string]any{
			"kind": "token",
			"text": token,
		})
		if detector.observe(token) && tripped.CompareAndSwap(false, true) {
			cancel()
		}
	}

	pollDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollDone:
				return
			case <-ticker.C:
				if l.stopRequested() && stopped.CompareAndSwap(false, true) {
					cancel()
					return
				}
			}
		}
	}()

	resp, err := sp.ChatStream(streamCtx, request, catalog, onToken)
	close(pollDone)

	switch {
	case stopped.Load():
		return partialResponse(detector), ReasonStopped, nil
	case tripped.Load():
		return partialResponse(detector), ReasonTextLoop, nil
	case err != nil:
		return nil, "", err
	}
	return resp, "", nil
}

// chatWithRetry wraps non-streaming calls with backoff; streamed calls
// handle their own failures.
func (l *Loop) chatWithRetry(ctx context.Context, request []llm.Message, catalog []tools.Tool) (*llm.Response, error) {
	var lastErr error
	delay := chatRetryDelay

	for attempt := 0; attempt <= chatRetries; attempt++ {
		resp, err := l.provider.Chat(ctx, request, catalog)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == chatRetries {
			break
		}
		l.logger.Warn("model call failed, retrying",
			zap.String("agent_id", l.agent.ID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("model call failed after %d attempts: %w", chatRetries+1, lastErr)
}

func partialResponse(d *streamLoopDetector) *llm.Response {
	return &llm.Response{Content: d.accumulated(), StopReason: llm.StopEndTurn}
}

// userTurn builds the opening user message, folding attachments into
// content blocks.
func (l *Loop) userTurn(userMessage string, attachments []llm.ContentBlock) llm.Message {
	msg := llm.Message{Role: llm.RoleUser, Content: userMessage, Timestamp: l.now()}
	if len(attachments) == 0 {
		return msg
	}
	blocks := make([]llm.ContentBlock, 0, len(attachments)+1)
	if userMessage != "" {
		blocks = append(blocks, llm.ContentBlock{Type: "text", Text: userMessage})
	}
	msg.ContentBlocks = append(blocks, attachments...)
	return msg
}

// loadHistory pulls the persisted transcript; a broken store degrades to a
// fresh conversation rather than failing the run.
func (l *Loop) loadHistory(ctx context.Context) []llm.Message {
	if l.transcript == nil {
		return nil
	}
	messages, err := l.transcript.Load(ctx, l.agent.ID)
	if err != nil {
		l.logger.Warn("transcript load failed, starting fresh",
			zap.String("agent_id", l.agent.ID),
			zap.Error(err))
		return nil
	}
	return messages
}

// push appends a turn to the working set and persists it best-effort.
func (l *Loop) push(ctx context.Context, messages *[]llm.Message, msg llm.Message) {
	*messages = append(*messages, msg)
	if l.transcript == nil {
		return
	}
	if err := l.transcript.Append(ctx, l.agent.ID, msg); err != nil {
		l.logger.Warn("transcript append failed",
			zap.String("agent_id", l.agent.ID),
			zap.Error(err))
	}
}

func (l *Loop) stopRequested() bool {
	return l.stops != nil && l.stops.Contains(l.agent.ID)
}

// refreshConfig pulls the latest stored config before prompt assembly. A
// failed read keeps the last-known config rather than aborting the run.
func (l *Loop) refreshConfig(ctx context.Context) {
	if l.config == nil {
		return
	}
	cfg, proj, err := l.config(ctx)
	if err != nil || cfg == nil {
		l.logger.Debug("config re-read failed, keeping last-known", zap.Error(err))
		return
	}
	l.agent = cfg
	if proj != nil {
		l.project = proj
	}
}

func (l *Loop) projectID() string {
	if l.project == nil {
		return ""
	}
	return l.project.ID
}

func allReadOnly(names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if !readOnlyTools[name] {
			return false
		}
	}
	return true
}

// warningFor renders the surfaced stop banner for a termination reason.
func warningFor(reason string) string {
	switch reason {
	case ReasonToolLoop:
		return "⚠️ [tool loop detected - stopping]"
	case ReasonCommandLoop:
		return "⚠️ [command loop detected - stopping]"
	case ReasonTextLoop:
		return "⚠️ [repetitive output detected - stopping]"
	case ReasonStopped:
		return "⚠️ [stop requested - stopping]"
	default:
		return ""
	}
}
