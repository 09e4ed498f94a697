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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/taskpool"
)

func mustCreateTask(t *testing.T, td *testDeps, title string, priority int) *project.Task {
	t.Helper()
	task, err := td.Pool.Create(context.Background(), td.ProjectID, "lead-1", title, "work on "+title, project.TaskContext{}, priority)
	require.NoError(t, err)
	return task
}

func taskField(t *testing.T, data map[string]any, key string) any {
	t.Helper()
	task, found := data["task"].(map[string]any)
	require.True(t, found, "result has no task map")
	return task[key]
}

func TestClaimTaskPicksHighestPriority(t *testing.T) {
	td := newTestDeps(t)
	mustCreateTask(t, td, "low", 2)
	high := mustCreateTask(t, td, "high", 9)

	tool := &claimTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["claimed"])
	assert.Equal(t, high.ID, taskField(t, data, "id"))
	assert.Equal(t, "claimed", taskField(t, data, "status"))
}

func TestClaimTaskSpecificID(t *testing.T) {
	td := newTestDeps(t)
	low := mustCreateTask(t, td, "low", 2)
	mustCreateTask(t, td, "high", 9)

	tool := &claimTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"task_id": low.ID})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, low.ID, taskField(t, data, "id"))
}

func TestClaimTaskEmptyPool(t *testing.T) {
	td := newTestDeps(t)

	tool := &claimTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, false, data["claimed"])
	assert.Contains(t, data["message"], "No tasks are available")
}

func TestClaimTaskWhileHoldingOne(t *testing.T) {
	td := newTestDeps(t)
	mustCreateTask(t, td, "first", 5)
	mustCreateTask(t, td, "second", 5)

	tool := &claimTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "ALREADY_HAS_TASK", res.Error.Code)
	assert.Contains(t, res.Error.Suggestion, "complete_task")
}

func TestClaimTaskUnknownID(t *testing.T) {
	td := newTestDeps(t)

	tool := &claimTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"task_id": "task-missing"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "TASK_NOT_FOUND", res.Error.Code)
}

func TestClaimTaskHeldByOther(t *testing.T) {
	td := newTestDeps(t)
	task := mustCreateTask(t, td, "taken", 5)
	_, err := td.Pool.Claim(context.Background(), td.ProjectID, task.ID, "backend-1")
	require.NoError(t, err)

	tool := &claimTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"task_id": task.ID})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_STATE", res.Error.Code)
}

func TestGetMyTaskEmpty(t *testing.T) {
	td := newTestDeps(t)

	tool := &getMyTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, false, data["hasTask"])
	assert.Contains(t, data["message"], "claim_task")
}

func TestGetMyTaskShowsContext(t *testing.T) {
	td := newTestDeps(t)
	tctx := project.TaskContext{
		WorkingDirectory: "backend",
		RelevantFiles:    []string{"backend/app.js"},
		Conventions:      "2-space indent",
	}
	task, err := td.Pool.Create(context.Background(), td.ProjectID, "lead-1", "wire api", "add the route", tctx, 5)
	require.NoError(t, err)
	_, err = td.Pool.Claim(context.Background(), td.ProjectID, task.ID, "lead-1")
	require.NoError(t, err)

	tool := &getMyTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["hasTask"])
	assert.Equal(t, "backend", taskField(t, data, "workingDirectory"))
	assert.Equal(t, []string{"backend/app.js"}, taskField(t, data, "relevantFiles"))
	assert.Equal(t, "2-space indent", taskField(t, data, "conventions"))
}

func TestCompleteTaskFlow(t *testing.T) {
	td := newTestDeps(t)
	task := mustCreateTask(t, td, "ship it", 5)
	_, err := td.Pool.Claim(context.Background(), td.ProjectID, task.ID, "lead-1")
	require.NoError(t, err)

	tool := &completeTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"summary":       "done and verified",
		"files_created": []any{"backend/app.js"},
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["completed"])
	assert.Equal(t, task.ID, data["taskId"])

	stored, err := td.Pool.Get(context.Background(), td.ProjectID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, project.TaskCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Equal(t, "done and verified", stored.Result.Summary)
	assert.Equal(t, []string{"backend/app.js"}, stored.Result.FilesCreated)

	active, err := td.Pool.ActiveFor(context.Background(), td.ProjectID, "lead-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCompleteTaskRequiresSummary(t *testing.T) {
	td := newTestDeps(t)

	tool := &completeTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMS", res.Error.Code)
}

func TestCompleteTaskWithoutActive(t *testing.T) {
	td := newTestDeps(t)

	tool := &completeTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"summary": "nothing"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "NO_ACTIVE_TASK", res.Error.Code)
}

func TestFailTaskReturnsToPool(t *testing.T) {
	td := newTestDeps(t)
	task := mustCreateTask(t, td, "doomed", 5)
	_, err := td.Pool.Claim(context.Background(), td.ProjectID, task.ID, "lead-1")
	require.NoError(t, err)

	tool := &failTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"reason": "missing credentials"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["released"])
	assert.Equal(t, task.ID, data["taskId"])

	stored, err := td.Pool.Get(context.Background(), td.ProjectID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, project.TaskAvailable, stored.Status)
	assert.Empty(t, stored.ClaimedBy)
	assert.Equal(t, "missing credentials", stored.FailureReason)

	// The next claimant sees what went wrong.
	claim := &claimTaskTool{td.Deps}
	res, err = claim.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	data = resultData(t, res)
	assert.Equal(t, "missing credentials", taskField(t, data, "previousFailure"))
}

func TestFailTaskWithoutActive(t *testing.T) {
	td := newTestDeps(t)

	tool := &failTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"reason": "n/a"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "NO_ACTIVE_TASK", res.Error.Code)
}

func TestCreateTaskClampsPriority(t *testing.T) {
	td := newTestDeps(t)

	tool := &createTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"title":       "urgent",
		"description": "very urgent",
		"priority":    float64(99),
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, taskpool.MaxPriority, data["priority"])
}

func TestCreateTaskMissingFields(t *testing.T) {
	td := newTestDeps(t)

	tool := &createTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"title": "half"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMS", res.Error.Code)
}

func TestCreateTaskCarriesContext(t *testing.T) {
	td := newTestDeps(t)

	tool := &createTaskTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"title":             "build login",
		"description":       "JWT login endpoint",
		"working_directory": "backend",
		"relevant_files":    []any{"backend/app.js", "shared/auth.md"},
		"output_paths":      []any{"backend/routes/login.js"},
		"conventions":       "express router per feature",
		"notes":             "reuse the session helper",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	taskID, _ := data["taskId"].(string)
	require.NotEmpty(t, taskID)

	stored, err := td.Pool.Get(context.Background(), td.ProjectID, taskID)
	require.NoError(t, err)
	assert.Equal(t, "backend", stored.Context.WorkingDirectory)
	assert.Equal(t, []string{"backend/app.js", "shared/auth.md"}, stored.Context.RelevantFiles)
	assert.Equal(t, []string{"backend/routes/login.js"}, stored.Context.OutputPaths)
	assert.Equal(t, "express router per feature", stored.Context.Conventions)
	assert.Equal(t, "reuse the session helper", stored.Context.Notes)
	assert.Equal(t, "lead-1", stored.CreatedBy)
}

func TestListTasksCountsAndFilter(t *testing.T) {
	td := newTestDeps(t)
	mustCreateTask(t, td, "open", 5)
	taken := mustCreateTask(t, td, "taken", 8)
	_, err := td.Pool.Claim(context.Background(), td.ProjectID, taken.ID, "backend-1")
	require.NoError(t, err)

	tool := &listTasksTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	data := resultData(t, res)
	assert.Equal(t, 2, data["count"])
	assert.Equal(t, 1, data["available"])

	res, err = tool.Execute(context.Background(), map[string]any{"status": "claimed"})
	require.NoError(t, err)
	data = resultData(t, res)
	assert.Equal(t, 1, data["count"])
	tasks, _ := data["tasks"].([]map[string]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "claimed", tasks[0]["status"])
	assert.Equal(t, "backend-1", tasks[0]["claimedBy"])
}

func TestSpawnWorkerDefaultsToOne(t *testing.T) {
	td := newTestDeps(t)

	tool := &spawnWorkerTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 1, data["spawned"])
	assert.Equal(t, []string{"worker-1"}, data["workerIds"])
}

func TestSpawnWorkerUnavailable(t *testing.T) {
	td := newTestDeps(t)
	td.Deps.Spawner = nil

	tool := &spawnWorkerTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "UNAVAILABLE", res.Error.Code)
}

func TestSpawnWorkerAtConcurrencyLimit(t *testing.T) {
	td := newTestDeps(t)
	td.spawner.ids = nil

	tool := &spawnWorkerTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"count": float64(3)})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 0, data["spawned"])
	assert.Contains(t, data["message"], "concurrency limit")
}

func TestResetTasksSweepsStaleClaims(t *testing.T) {
	td := newTestDeps(t)
	current := time.Now()
	td.Deps.Pool = taskpool.New(td.store, taskpool.WithClock(func() time.Time { return current }))

	task, err := td.Pool.Create(context.Background(), td.ProjectID, "lead-1", "stuck", "stuck work", project.TaskContext{}, 5)
	require.NoError(t, err)
	_, err = td.Pool.Claim(context.Background(), td.ProjectID, task.ID, "backend-1")
	require.NoError(t, err)

	current = current.Add(10 * time.Minute)

	tool := &resetTasksTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"max_age_minutes": float64(5)})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 1, data["tasksReset"])
	assert.Equal(t, 0, data["workersRemoved"])

	stored, err := td.Pool.Get(context.Background(), td.ProjectID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, project.TaskAvailable, stored.Status)
}

func TestResetTasksKeepsFreshClaims(t *testing.T) {
	td := newTestDeps(t)
	task := mustCreateTask(t, td, "fresh", 5)
	_, err := td.Pool.Claim(context.Background(), td.ProjectID, task.ID, "backend-1")
	require.NoError(t, err)

	tool := &resetTasksTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"max_age_minutes": float64(5)})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 0, data["tasksReset"])
}

func TestResetTasksCleansUpIdleWorkers(t *testing.T) {
	td := newTestDeps(t)
	require.NoError(t, td.store.AddAgent(context.Background(), td.ProjectID, project.AgentConfig{
		ID:        "worker-9",
		Name:      "Worker",
		Role:      "worker",
		ReportsTo: "lead-1",
		Ephemeral: true,
	}))

	tool := &resetTasksTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"cleanup_workers": true})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 1, data["workersRemoved"])

	proj, err := td.store.Get(context.Background(), td.ProjectID)
	require.NoError(t, err)
	assert.Nil(t, proj.Agent("worker-9"))
}
