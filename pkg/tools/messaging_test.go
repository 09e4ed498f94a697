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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/events"
)

func TestAskAgentReturnsAnswer(t *testing.T) {
	td := newTestDeps(t)
	td.invoker.answer = "port 8080"

	tool := &askAgentTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id": "backend-1",
		"question": "Which port does the API use?",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "backend-1", data["agentId"])
	assert.Equal(t, "port 8080", data["answer"])
	require.Len(t, td.invoker.asked, 1)
	assert.Contains(t, td.invoker.asked[0], "backend-1: Which port")
}

func TestAskAgentMissingParams(t *testing.T) {
	td := newTestDeps(t)

	tool := &askAgentTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"agent_id": "backend-1"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMS", res.Error.Code)
}

func TestAskAgentInvokerError(t *testing.T) {
	td := newTestDeps(t)
	td.invoker.err = errors.New("agent offline")

	tool := &askAgentTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id": "backend-1",
		"question": "anything",
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "ASK_FAILED", res.Error.Code)
	assert.Contains(t, res.Error.Suggestion, "send_message")
}

func TestSendMessageDeliversViaBus(t *testing.T) {
	td := newTestDeps(t)

	tool := &sendMessageTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id": "backend-1",
		"message":  "standup in five",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["delivered"])
	assert.NotEmpty(t, data["messageId"])

	require.Len(t, td.messenger.sent, 1)
	sent := td.messenger.sent[0]
	assert.Equal(t, "backend-1", sent.To)
	assert.Equal(t, bus.TypeMessage, sent.Type)
	assert.Equal(t, "standup in five", sent.ContentText())
	assert.Empty(t, td.invoker.invoked)
}

func TestSendMessageWaitInvokesRecipient(t *testing.T) {
	td := newTestDeps(t)
	td.invoker.response = "on it"

	tool := &sendMessageTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id":          "backend-1",
		"message":           "please fix the login bug",
		"wait_for_response": true,
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "on it", data["response"])
	assert.Equal(t, false, data["truncated"])
	require.Len(t, td.invoker.invoked, 1)
	assert.Contains(t, td.invoker.invoked[0], "backend-1: please fix the login bug")
	assert.Empty(t, td.messenger.sent)
}

func TestSendMessageWaitTruncatesLongReply(t *testing.T) {
	td := newTestDeps(t)
	td.invoker.response = strings.Repeat("x", maxWaitResponseChars+500)

	tool := &sendMessageTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id":          "backend-1",
		"message":           "summarize everything",
		"wait_for_response": true,
	})
	require.NoError(t, err)

	data := resultData(t, res)
	response, _ := data["response"].(string)
	assert.Len(t, response, maxWaitResponseChars)
	assert.Equal(t, true, data["truncated"])
}

func TestSendMessageBroadcastNeverInvokes(t *testing.T) {
	td := newTestDeps(t)

	tool := &sendMessageTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id":          bus.Broadcast,
		"message":           "deploy starting",
		"wait_for_response": true,
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["delivered"])
	assert.Empty(t, td.invoker.invoked)
	require.Len(t, td.messenger.sent, 1)
	assert.Equal(t, bus.Broadcast, td.messenger.sent[0].To)
}

func TestDelegateTaskWritesAssignmentSheet(t *testing.T) {
	td := newTestDeps(t)
	td.invoker.response = "done, see routes/login.js"
	td.invoker.filesCreated = []string{"routes/login.js"}

	tool := &delegateTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id":            "backend-1",
		"task":                "Build the login endpoint",
		"desired_state":       "POST /login returns a JWT for valid credentials",
		"acceptance_criteria": "curl with test creds returns 200 and a token",
		"constraints":         "no new dependencies",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "backend-1", data["agentId"])
	assert.Equal(t, "done, see routes/login.js", data["response"])
	assert.Equal(t, 1, data["filesCreated"])

	home := td.store.ResolveHome(td.proj, td.proj.Agent("backend-1"))
	sheet, err := os.ReadFile(filepath.Join(home, desiredStateFile))
	require.NoError(t, err)
	text := string(sheet)
	assert.Contains(t, text, "# Desired State")
	assert.Contains(t, text, "**Assigned to:** backend-1")
	assert.Contains(t, text, "**Assigned by:** lead-1")
	assert.Contains(t, text, "## Task")
	assert.Contains(t, text, "Build the login endpoint")
	assert.Contains(t, text, "## Acceptance Criteria")
	assert.Contains(t, text, "## Constraints")
	assert.Contains(t, text, "no new dependencies")
	assert.Contains(t, text, "## Communication Log")
	assert.Contains(t, text, "delegated by lead-1")

	require.Len(t, td.invoker.invoked, 1)
	assert.Contains(t, td.invoker.invoked[0], "You have been delegated a task by lead-1")
	assert.Contains(t, td.invoker.invoked[0], "DESIRED STATE: POST /login")
}

func TestDelegateTaskUnknownAgent(t *testing.T) {
	td := newTestDeps(t)

	tool := &delegateTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id":            "nobody-7",
		"task":                "anything",
		"desired_state":       "anything",
		"acceptance_criteria": "anything",
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "AGENT_NOT_FOUND", res.Error.Code)
	assert.Contains(t, res.Error.Suggestion, "list_team")
}

func TestDelegateTaskMissingParams(t *testing.T) {
	td := newTestDeps(t)

	tool := &delegateTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"agent_id": "backend-1",
		"task":     "half a brief",
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMS", res.Error.Code)
	assert.Empty(t, td.invoker.invoked)
}

func TestReadInboxReturnsMessages(t *testing.T) {
	td := newTestDeps(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	td.messenger.inbox = []bus.Message{
		{ID: "m1", From: "backend-1", To: "lead-1", Type: bus.TypeMessage, Content: bus.TextContent{Body: "old news"}, Timestamp: base},
		{ID: "m2", From: "backend-1", To: "lead-1", Type: bus.TypeMessage, Content: bus.TextContent{Body: "login bug fixed"}, Timestamp: base.Add(time.Minute)},
		{ID: "m3", From: "frontend-1", To: "lead-1", Type: bus.TypeStatusUpdate, Content: bus.StatusUpdateContent{Status: "on_track", Summary: "styling done"}, Timestamp: base.Add(2 * time.Minute)},
	}

	tool := &readInboxTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"limit": float64(2)})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 2, data["count"])
	text := res.Text()
	assert.Contains(t, text, "login bug fixed")
	assert.Contains(t, text, "styling done")
	assert.NotContains(t, text, "old news")
	assert.True(t, td.messenger.marked)
}

func TestReadInboxMarkReadFalse(t *testing.T) {
	td := newTestDeps(t)
	td.messenger.inbox = []bus.Message{
		{ID: "m1", From: "backend-1", To: "lead-1", Type: bus.TypeMessage, Content: bus.TextContent{Body: "peek"}, Timestamp: time.Now()},
	}

	tool := &readInboxTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"mark_read": false})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 1, data["count"])
	assert.False(t, td.messenger.marked)
}

func TestReportToSupervisorEmitsAndDelivers(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.ReportsTo = "chief-1"

	ch, cancel := td.Broker.Subscribe(events.TypeAgentReport, 4)
	defer cancel()

	tool := &reportToSupervisorTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"status":                "on_track",
		"summary":               "login endpoint is half wired",
		"completion_percentage": float64(50),
		"blockers":              []any{"waiting on db credentials"},
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["reported"])
	assert.Equal(t, "chief-1", data["supervisor"])
	assert.Equal(t, true, data["delivered"])

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeAgentReport, evt.Type)
		assert.Equal(t, "lead-1", evt.AgentID)
		payload, isMap := evt.Payload.(map[string]any)
		require.True(t, isMap)
		assert.Equal(t, "on_track", payload["status"])
		assert.Equal(t, 50, payload["completionPercentage"])
		assert.Equal(t, []string{"waiting on db credentials"}, payload["blockers"])
	default:
		t.Fatal("expected an agent-report event")
	}

	require.Len(t, td.messenger.sent, 1)
	sent := td.messenger.sent[0]
	assert.Equal(t, "chief-1", sent.To)
	assert.Equal(t, bus.TypeStatusUpdate, sent.Type)
	update, isStatus := sent.Content.(bus.StatusUpdateContent)
	require.True(t, isStatus)
	assert.Equal(t, "on_track", update.Status)
	assert.Equal(t, 50, update.Completion)
}

func TestReportToSupervisorAppendsToSheet(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.ReportsTo = "chief-1"
	writeHomeFile(t, td, desiredStateFile, "# Desired State\n\n## Communication Log\n\n")

	tool := &reportToSupervisorTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"status":                "blocked",
		"summary":               "cannot reach staging",
		"completion_percentage": float64(30),
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	sheet, err := os.ReadFile(filepath.Join(td.Home.Root(), desiredStateFile))
	require.NoError(t, err)
	assert.Contains(t, string(sheet), "[blocked] cannot reach staging (30%)")
}

func TestReportWithoutSupervisorStillRecords(t *testing.T) {
	td := newTestDeps(t)

	tool := &reportToSupervisorTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"status":  "completed",
		"summary": "all tasks shipped",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["reported"])
	assert.Equal(t, false, data["delivered"])
	assert.Empty(t, td.messenger.sent)
}
