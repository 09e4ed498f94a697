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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/events"
)

// maxWaitResponseChars truncates synchronous reply payloads so one verbose
// teammate cannot flood the caller's context.
const maxWaitResponseChars = 1500

// desiredStateFile is the per-agent assignment sheet delegation writes.
const desiredStateFile = "DESIRED_STATE.md"

// askAgentTool runs a one-shot completion against another agent's role
// prompt. The target's conversation history is untouched.
type askAgentTool struct {
	deps *Deps
}

func (t *askAgentTool) Name() string { return "ask_agent" }

func (t *askAgentTool) Description() string {
	return "Ask another agent a quick question. The answer comes from their role knowledge in a fresh context; their ongoing work is not interrupted."
}

func (t *askAgentTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for asking an agent",
		map[string]*JSONSchema{
			"agent_id": NewStringSchema("The id of the agent to ask"),
			"question": NewStringSchema("The question to ask"),
		},
		[]string{"agent_id", "question"},
	)
}

func (t *askAgentTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	agentID, okAgent := stringParam(params, "agent_id")
	question, okQuestion := stringParam(params, "question")
	if !okAgent || !okQuestion {
		return fail("INVALID_PARAMS", "agent_id and question are required", ""), nil
	}
	if t.deps.Invoker == nil {
		return fail("UNAVAILABLE", "synchronous agent calls are not available here", ""), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, t.deps.askTimeout())
	defer cancel()

	answer, err := t.deps.Invoker.Complete(callCtx, agentID, question)
	if err != nil {
		return fail("ASK_FAILED", fmt.Sprintf("Asking %s failed: %v", agentID, err),
			"Check list_team for valid agent ids, or use send_message for asynchronous delivery."), nil
	}
	return ok(map[string]any{"agentId": agentID, "answer": answer}), nil
}

// sendMessageTool delivers a message over the bus, optionally invoking the
// recipient's full loop and waiting for its final response.
type sendMessageTool struct {
	deps *Deps
}

func (t *sendMessageTool) Name() string { return "send_message" }

func (t *sendMessageTool) Description() string {
	return "Send a message to another agent. With wait_for_response=true the recipient processes it immediately and you get their final reply (may take a while); otherwise you get delivery confirmation only."
}

func (t *sendMessageTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for sending a message",
		map[string]*JSONSchema{
			"agent_id": NewStringSchema("Recipient agent id ('broadcast' reaches everyone)"),
			"message":  NewStringSchema("The message text"),
			"priority": NewStringSchema("Message priority").
				WithEnum("low", "normal", "high").WithDefault("normal"),
			"wait_for_response": NewBooleanSchema("Invoke the recipient now and wait for their reply").
				WithDefault(false),
		},
		[]string{"agent_id", "message"},
	)
}

func (t *sendMessageTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	agentID, okAgent := stringParam(params, "agent_id")
	message, okMessage := stringParam(params, "message")
	if !okAgent || !okMessage {
		return fail("INVALID_PARAMS", "agent_id and message are required", ""), nil
	}
	wait := optionalBool(params, "wait_for_response", false)

	if wait && agentID != bus.Broadcast && t.deps.Invoker != nil {
		callCtx, cancel := context.WithTimeout(ctx, t.deps.askTimeout())
		defer cancel()

		outcome, err := t.deps.Invoker.Invoke(callCtx, agentID, message)
		if err != nil {
			return fail("INVOKE_FAILED",
				fmt.Sprintf("Delivering to %s failed: %v", agentID, err),
				"The agent may be busy; retry without wait_for_response."), nil
		}
		response := outcome.Response
		truncated := false
		if len(response) > maxWaitResponseChars {
			response = response[:maxWaitResponseChars]
			truncated = true
		}
		return ok(map[string]any{
			"agentId":   agentID,
			"response":  response,
			"truncated": truncated,
		}), nil
	}

	if t.deps.Messenger == nil {
		return fail("UNAVAILABLE", "messaging is not available here", ""), nil
	}
	sent, err := t.deps.Messenger.Send(ctx, agentID, bus.TypeMessage, bus.TextContent{Body: message})
	if err != nil {
		return fail("SEND_FAILED", fmt.Sprintf("Sending to %s failed: %v", agentID, err), ""), nil
	}
	return ok(map[string]any{
		"agentId":   agentID,
		"messageId": sent.ID,
		"delivered": true,
	}), nil
}

// delegateTaskTool writes the target's DESIRED_STATE.md and invokes their
// loop with a composed delegation brief.
type delegateTaskTool struct {
	deps *Deps
}

func (t *delegateTaskTool) Name() string { return "delegate_task" }

func (t *delegateTaskTool) Description() string {
	return "Delegate a clearly-specified task to another agent. Writes their DESIRED_STATE.md and runs their loop on it; returns their response and the number of files they created."
}

func (t *delegateTaskTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for delegating a task",
		map[string]*JSONSchema{
			"agent_id":            NewStringSchema("The agent to delegate to"),
			"task":                NewStringSchema("Short imperative description of the task"),
			"desired_state":       NewStringSchema("What the world looks like when the task is done"),
			"acceptance_criteria": NewStringSchema("How completion will be judged"),
			"constraints":         NewStringSchema("Constraints the agent must respect"),
			"context":             NewStringSchema("Background context that helps the agent"),
			"priority":            NewNumberSchema("Priority 1-10 (default 5)"),
		},
		[]string{"agent_id", "task", "desired_state", "acceptance_criteria"},
	)
}

func (t *delegateTaskTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	agentID, okAgent := stringParam(params, "agent_id")
	task, okTask := stringParam(params, "task")
	desiredState, okState := stringParam(params, "desired_state")
	acceptance, okAcceptance := stringParam(params, "acceptance_criteria")
	if !okAgent || !okTask || !okState || !okAcceptance {
		return fail("INVALID_PARAMS",
			"agent_id, task, desired_state and acceptance_criteria are required", ""), nil
	}
	constraints := optionalString(params, "constraints", "")
	background := optionalString(params, "context", "")
	priority := int(optionalNumber(params, "priority", 5))

	if t.deps.Invoker == nil {
		return fail("UNAVAILABLE", "delegation is not available here", ""), nil
	}

	// Resolve the target home and drop the assignment sheet there before the
	// loop runs, so the agent finds it with read_file.
	proj, err := t.deps.Projects.Get(ctx, t.deps.ProjectID)
	if err != nil {
		return fail("PROJECT_UNAVAILABLE", fmt.Sprintf("Cannot resolve project: %v", err), ""), nil
	}
	cfg := proj.Agent(agentID)
	if cfg == nil {
		return fail("AGENT_NOT_FOUND",
			fmt.Sprintf("Agent %s is not in this project", agentID),
			"Use list_team to see who is available."), nil
	}
	home := t.deps.Projects.ResolveHome(proj, cfg)
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fail("DELEGATE_FAILED", fmt.Sprintf("Cannot create target folder: %v", err), ""), nil
	}

	sheet := renderDesiredState(t.deps.AgentID, agentID, task, desiredState, acceptance, constraints, background, priority)
	if err := os.WriteFile(filepath.Join(home, desiredStateFile), []byte(sheet), 0o644); err != nil {
		return fail("DELEGATE_FAILED", fmt.Sprintf("Cannot write %s: %v", desiredStateFile, err), ""), nil
	}

	brief := heredoc.Docf(`
		You have been delegated a task by %s.

		TASK: %s

		DESIRED STATE: %s

		ACCEPTANCE CRITERIA: %s
	`, t.deps.AgentID, task, desiredState, acceptance)
	if constraints != "" {
		brief += "\nCONSTRAINTS: " + constraints + "\n"
	}
	if background != "" {
		brief += "\nCONTEXT: " + background + "\n"
	}
	brief += "\nYour DESIRED_STATE.md has been updated with the full brief. Work the task now and report when done."

	callCtx, cancel := context.WithTimeout(ctx, t.deps.askTimeout())
	defer cancel()

	outcome, err := t.deps.Invoker.Invoke(callCtx, agentID, brief)
	if err != nil {
		return fail("DELEGATE_FAILED",
			fmt.Sprintf("Delegation to %s failed: %v", agentID, err),
			"The brief is saved in their DESIRED_STATE.md; they will pick it up on their next turn."), nil
	}

	t.deps.logger().Info("task delegated",
		zap.String("from", t.deps.AgentID),
		zap.String("to", agentID),
		zap.String("task", task))

	response := outcome.Response
	if len(response) > maxWaitResponseChars {
		response = response[:maxWaitResponseChars]
	}
	return ok(map[string]any{
		"agentId":      agentID,
		"response":     response,
		"filesCreated": len(outcome.FilesCreated),
	}), nil
}

// renderDesiredState builds the templated assignment sheet with progress and
// communication-log sections the delegate and supervisor both append to.
func renderDesiredState(from, to, task, desiredState, acceptance, constraints, background string, priority int) string {
	now := time.Now().UTC().Format(time.RFC3339)
	sheet := heredoc.Docf(`
		# Desired State

		- **Assigned to:** %s
		- **Assigned by:** %s
		- **Priority:** %d
		- **Updated:** %s

		## Task

		%s

		## Desired State

		%s

		## Acceptance Criteria

		%s
	`, to, from, priority, now, task, desiredState, acceptance)

	if constraints != "" {
		sheet += "\n## Constraints\n\n" + constraints + "\n"
	}
	if background != "" {
		sheet += "\n## Context\n\n" + background + "\n"
	}

	sheet += heredoc.Doc(`

		## Progress

		_No progress recorded yet._

		## Communication Log

	`)
	sheet += fmt.Sprintf("- %s: delegated by %s\n", now, from)
	return sheet
}

// readInboxTool returns the newest messages addressed to this agent.
type readInboxTool struct {
	deps *Deps
}

func (t *readInboxTool) Name() string { return "read_inbox" }

func (t *readInboxTool) Description() string {
	return "Read the most recent messages other agents sent you."
}

func (t *readInboxTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for reading the inbox",
		map[string]*JSONSchema{
			"limit":     NewNumberSchema("Maximum messages to return (default 10)"),
			"mark_read": NewBooleanSchema("Record the returned messages as delivered").WithDefault(true),
		},
		nil,
	)
}

func (t *readInboxTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if t.deps.Messenger == nil {
		return fail("UNAVAILABLE", "messaging is not available here", ""), nil
	}
	limit := int(optionalNumber(params, "limit", 10))
	if limit <= 0 {
		limit = 10
	}
	markRead := optionalBool(params, "mark_read", true)

	msgs, err := t.deps.Messenger.Recent(ctx, limit, markRead)
	if err != nil {
		return fail("INBOX_FAILED", fmt.Sprintf("Reading inbox failed: %v", err), ""), nil
	}

	type entry struct {
		From      string `json:"from"`
		Type      string `json:"type"`
		Text      string `json:"text"`
		Timestamp string `json:"timestamp"`
	}
	out := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, entry{
			From:      m.From,
			Type:      string(m.Type),
			Text:      m.ContentText(),
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return ok(map[string]any{"messages": out, "count": len(out)}), nil
}

// reportToSupervisorTool emits a structured progress report: an agent-report
// event, a status_update to the supervisor, and a line in the reporter's
// DESIRED_STATE.md communication log.
type reportToSupervisorTool struct {
	deps *Deps
}

func (t *reportToSupervisorTool) Name() string { return "report_to_supervisor" }

func (t *reportToSupervisorTool) Description() string {
	return "Report progress to your supervisor: current status, a summary, and optionally blockers, questions, and completion percentage."
}

func (t *reportToSupervisorTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for reporting progress",
		map[string]*JSONSchema{
			"status": NewStringSchema("Where the work stands").
				WithEnum("on_track", "blocked", "at_risk", "completed"),
			"summary":               NewStringSchema("One-paragraph progress summary"),
			"details":               NewStringSchema("Longer detail, if useful"),
			"completion_percentage": NewNumberSchema("Estimated completion 0-100"),
			"blockers":              NewArraySchema("Current blockers", NewStringSchema("")),
			"questions":             NewArraySchema("Questions for the supervisor", NewStringSchema("")),
		},
		[]string{"status", "summary"},
	)
}

func (t *reportToSupervisorTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	status, okStatus := stringParam(params, "status")
	summary, okSummary := stringParam(params, "summary")
	if !okStatus || !okSummary {
		return fail("INVALID_PARAMS", "status and summary are required", ""), nil
	}
	details := optionalString(params, "details", "")
	completion := int(optionalNumber(params, "completion_percentage", -1))
	blockers := stringSlice(params["blockers"])
	questions := stringSlice(params["questions"])

	payload := map[string]any{
		"status":  status,
		"summary": summary,
	}
	if details != "" {
		payload["details"] = details
	}
	if completion >= 0 {
		payload["completionPercentage"] = completion
	}
	if len(blockers) > 0 {
		payload["blockers"] = blockers
	}
	if len(questions) > 0 {
		payload["questions"] = questions
	}
	t.deps.Broker.Emit(events.TypeAgentReport, t.deps.AgentID, t.deps.ProjectID, payload)

	// Best-effort durable copy to the supervisor's inbox.
	delivered := false
	if t.deps.ReportsTo != "" && t.deps.Messenger != nil {
		_, err := t.deps.Messenger.Send(ctx, t.deps.ReportsTo, bus.TypeStatusUpdate, bus.StatusUpdateContent{
			Status:     status,
			Summary:    summary,
			Completion: max(completion, 0),
		})
		delivered = err == nil
	}

	t.appendCommunicationLog(status, summary, completion)

	return ok(map[string]any{
		"reported":   true,
		"supervisor": t.deps.ReportsTo,
		"delivered":  delivered,
	}), nil
}

// appendCommunicationLog adds the report to DESIRED_STATE.md when the sheet
// exists; agents without one just skip it.
func (t *reportToSupervisorTool) appendCommunicationLog(status, summary string, completion int) {
	path := filepath.Join(t.deps.Home.Root(), desiredStateFile)
	if _, err := os.Stat(path); err != nil {
		return
	}
	line := fmt.Sprintf("- %s: [%s] %s", time.Now().UTC().Format(time.RFC3339), status, summary)
	if completion >= 0 {
		line += fmt.Sprintf(" (%d%%)", completion)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}

// stringSlice coerces a JSON array parameter into []string.
func stringSlice(v any) []string {
	items, isSlice := v.([]any)
	if !isSlice {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, isString := item.(string); isString && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
