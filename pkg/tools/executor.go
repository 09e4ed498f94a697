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
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/events"
)

const (
	// previewLines caps the result preview in tool-execution events.
	previewLines = 2
	// errorPreviewLines keeps more context when the tool failed.
	errorPreviewLines = 20
)

// Executor runs tools by name: schema validation first, then execution with
// authoritative timing, with every invocation surfaced as a tool-execution
// event.
type Executor struct {
	registry *Registry
	broker   *events.Broker
	logger   *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithExecutorBroker sets the event broker invocations publish to.
func WithExecutorBroker(broker *events.Broker) ExecutorOption {
	return func(e *Executor) { e.broker = broker }
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry this executor dispatches into.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs the named tool. Tool-level failures come back as Result with
// Error set; a Go error means the tool itself does not exist.
func (e *Executor) Execute(ctx context.Context, agentID, projectID, toolName string, params map[string]any) (*Result, error) {
	tool, found := e.registry.Get(toolName)
	if !found {
		return nil, fmt.Errorf("tool not found: %s", toolName)
	}

	if params == nil {
		params = map[string]any{}
	}

	var result *Result
	if invalid := e.validateParams(tool, params); invalid != nil {
		result = invalid
	} else {
		start := time.Now()
		res, err := tool.Execute(ctx, params)
		duration := time.Since(start)

		switch {
		case err != nil:
			result = &Result{
				Success: false,
				Error:   &Error{Code: "execution_failed", Message: err.Error()},
			}
		case res == nil:
			result = &Result{Success: true}
		default:
			result = res
		}
		result.ExecutionTimeMs = duration.Milliseconds()
	}

	e.logger.Debug("tool executed",
		zap.String("agent_id", agentID),
		zap.String("tool", toolName),
		zap.Bool("success", result.Success),
		zap.Int64("duration_ms", result.ExecutionTimeMs))

	e.broker.Emit(events.TypeToolExecution, agentID, projectID, map[string]any{
		"tool":       toolName,
		"input":      params,
		"success":    result.Success,
		"durationMs": result.ExecutionTimeMs,
		"preview":    resultPreview(result),
	})
	return result, nil
}

// validateParams checks params against the tool's input schema. A nil return
// means valid.
func (e *Executor) validateParams(tool Tool, params map[string]any) *Result {
	schema := tool.InputSchema()
	if schema == nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	paramsLoader := gojsonschema.NewGoLoader(params)

	outcome, err := gojsonschema.Validate(schemaLoader, paramsLoader)
	if err != nil {
		// A broken schema is a tool bug; let the call proceed rather than
		// wedging the agent on it.
		e.logger.Warn("schema validation unavailable",
			zap.String("tool", tool.Name()),
			zap.Error(err))
		return nil
	}
	if outcome.Valid() {
		return nil
	}

	problems := make([]string, 0, len(outcome.Errors()))
	for _, desc := range outcome.Errors() {
		problems = append(problems, desc.String())
	}
	return failDetails("INVALID_PARAMS",
		fmt.Sprintf("invalid parameters for %s: %s", tool.Name(), strings.Join(problems, "; ")),
		"Fix the listed parameters and call the tool again.",
		map[string]any{"violations": problems})
}

// resultPreview renders a short, cleaned preview of the result for the event
// stream: two lines for successes, up to twenty for failures so the error
// context survives.
func resultPreview(r *Result) string {
	limit := previewLines
	if !r.Success {
		limit = errorPreviewLines
	}

	text := strings.TrimSpace(r.Text())
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" && len(cleaned) > 0 && cleaned[len(cleaned)-1] == "" {
			continue
		}
		cleaned = append(cleaned, line)
	}
	if len(cleaned) > limit {
		cleaned = append(cleaned[:limit], "…")
	}
	return strings.Join(cleaned, "\n")
}
