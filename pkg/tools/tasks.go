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
	"time"

	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/taskpool"
)

// taskView flattens a task for tool results.
func taskView(task *project.Task) map[string]any {
	if task == nil {
		return nil
	}
	v := map[string]any{
		"id":          task.ID,
		"title":       task.Title,
		"description": task.Description,
		"priority":    task.Priority,
		"status":      string(task.Status),
		"createdBy":   task.CreatedBy,
	}
	if task.ClaimedBy != "" {
		v["claimedBy"] = task.ClaimedBy
	}
	if task.FailureReason != "" {
		v["previousFailure"] = task.FailureReason
	}
	ctx := task.Context
	if ctx.WorkingDirectory != "" {
		v["workingDirectory"] = ctx.WorkingDirectory
	}
	if len(ctx.RelevantFiles) > 0 {
		v["relevantFiles"] = ctx.RelevantFiles
	}
	if len(ctx.OutputPaths) > 0 {
		v["outputPaths"] = ctx.OutputPaths
	}
	if ctx.Conventions != "" {
		v["conventions"] = ctx.Conventions
	}
	if ctx.Notes != "" {
		v["notes"] = ctx.Notes
	}
	return v
}

// poolFailure maps pool errors onto tool results so the model can react
// without retrying blindly.
func poolFailure(err error) *Result {
	switch errkind.KindOf(err) {
	case errkind.KindAlreadyHasTask:
		return fail("ALREADY_HAS_TASK", err.Error(),
			"Finish your current task with complete_task or fail_task first.")
	case errkind.KindNotFound:
		return fail("TASK_NOT_FOUND", err.Error(),
			"Use list_tasks to see what exists.")
	case errkind.KindInvalidState:
		return fail("INVALID_STATE", err.Error(),
			"Check the task's current status with list_tasks.")
	default:
		return fail("POOL_FAILED", err.Error(), "")
	}
}

// claimTaskTool claims a task from the pool: a specific one by id, or the
// best available one.
type claimTaskTool struct {
	deps *Deps
}

func (t *claimTaskTool) Name() string { return "claim_task" }

func (t *claimTaskTool) Description() string {
	return "Claim a task from the pool. Without task_id, claims the highest-priority available task."
}

func (t *claimTaskTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for claiming a task",
		map[string]*JSONSchema{
			"task_id": NewStringSchema("Claim this specific task instead of the best available"),
		},
		nil,
	)
}

func (t *claimTaskTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	var (
		task *project.Task
		err  error
	)
	if taskID, hasID := stringParam(params, "task_id"); hasID {
		task, err = t.deps.Pool.Claim(ctx, t.deps.ProjectID, taskID, t.deps.AgentID)
	} else {
		task, err = t.deps.Pool.ClaimNext(ctx, t.deps.ProjectID, t.deps.AgentID)
	}
	if err != nil {
		return poolFailure(err), nil
	}
	if task == nil {
		return ok(map[string]any{
			"claimed": false,
			"message": "No tasks are available in the pool.",
		}), nil
	}
	return ok(map[string]any{"claimed": true, "task": taskView(task)}), nil
}

// getMyTaskTool reports the caller's active task, if any.
type getMyTaskTool struct {
	deps *Deps
}

func (t *getMyTaskTool) Name() string { return "get_my_task" }

func (t *getMyTaskTool) Description() string {
	return "Show the task you currently hold, including its working context."
}

func (t *getMyTaskTool) InputSchema() *JSONSchema {
	return NewObjectSchema("No parameters", map[string]*JSONSchema{}, nil)
}

func (t *getMyTaskTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	task, err := t.deps.Pool.ActiveFor(ctx, t.deps.ProjectID, t.deps.AgentID)
	if err != nil {
		return poolFailure(err), nil
	}
	if task == nil {
		return ok(map[string]any{
			"hasTask": false,
			"message": "You have no active task. Use claim_task to pick one up.",
		}), nil
	}
	return ok(map[string]any{"hasTask": true, "task": taskView(task)}), nil
}

// completeTaskTool finishes the caller's active task with a result.
type completeTaskTool struct {
	deps *Deps
}

func (t *completeTaskTool) Name() string { return "complete_task" }

func (t *completeTaskTool) Description() string {
	return "Mark your active task completed, recording a summary and the files you produced."
}

func (t *completeTaskTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for completing a task",
		map[string]*JSONSchema{
			"summary":        NewStringSchema("What was accomplished"),
			"files_created":  NewArraySchema("Paths of files created", NewStringSchema("")),
			"files_modified": NewArraySchema("Paths of files modified", NewStringSchema("")),
		},
		[]string{"summary"},
	)
}

func (t *completeTaskTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	summary, hasSummary := stringParam(params, "summary")
	if !hasSummary {
		return fail("INVALID_PARAMS", "summary is required", ""), nil
	}

	task, err := t.deps.Pool.ActiveFor(ctx, t.deps.ProjectID, t.deps.AgentID)
	if err != nil {
		return poolFailure(err), nil
	}
	if task == nil {
		return fail("NO_ACTIVE_TASK", "You have no active task to complete",
			"Claim one with claim_task first."), nil
	}

	result := project.TaskResult{
		Summary:       summary,
		FilesCreated:  stringSlice(params["files_created"]),
		FilesModified: stringSlice(params["files_modified"]),
	}
	done, err := t.deps.Pool.Complete(ctx, t.deps.ProjectID, task.ID, t.deps.AgentID, result)
	if err != nil {
		return poolFailure(err), nil
	}
	return ok(map[string]any{
		"completed": true,
		"taskId":    done.ID,
		"title":     done.Title,
	}), nil
}

// failTaskTool releases the caller's active task back to the pool.
type failTaskTool struct {
	deps *Deps
}

func (t *failTaskTool) Name() string { return "fail_task" }

func (t *failTaskTool) Description() string {
	return "Give up your active task and return it to the pool with a reason, so another agent can pick it up."
}

func (t *failTaskTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for failing a task",
		map[string]*JSONSchema{
			"reason": NewStringSchema("Why the task could not be finished"),
		},
		[]string{"reason"},
	)
}

func (t *failTaskTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	reason, hasReason := stringParam(params, "reason")
	if !hasReason {
		return fail("INVALID_PARAMS", "reason is required", ""), nil
	}

	task, err := t.deps.Pool.ActiveFor(ctx, t.deps.ProjectID, t.deps.AgentID)
	if err != nil {
		return poolFailure(err), nil
	}
	if task == nil {
		return fail("NO_ACTIVE_TASK", "You have no active task to fail", ""), nil
	}

	if err := t.deps.Pool.Fail(ctx, t.deps.ProjectID, task.ID, t.deps.AgentID, reason); err != nil {
		return poolFailure(err), nil
	}
	return ok(map[string]any{
		"released": true,
		"taskId":   task.ID,
		"reason":   reason,
	}), nil
}

// createTaskTool adds a task to the pool (leaders only).
type createTaskTool struct {
	deps *Deps
}

func (t *createTaskTool) Name() string { return "create_task" }

func (t *createTaskTool) Description() string {
	return "Add a task to the shared pool for any teammate or worker to claim. Include enough context that a fresh agent can start immediately."
}

func (t *createTaskTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for creating a task",
		map[string]*JSONSchema{
			"title":       NewStringSchema("Short task title"),
			"description": NewStringSchema("Full description of the work"),
			"priority": NewNumberSchema("Priority 1-10, higher first").
				WithRange(float64(taskpool.MinPriority), float64(taskpool.MaxPriority)).
				WithDefault(5),
			"working_directory": NewStringSchema("Directory the work happens in, relative to the project"),
			"relevant_files":    NewArraySchema("Files the task touches or depends on", NewStringSchema("")),
			"output_paths":      NewArraySchema("Where results should be written", NewStringSchema("")),
			"conventions":       NewStringSchema("Project conventions to follow"),
			"notes":             NewStringSchema("Anything else the claimant should know"),
		},
		[]string{"title", "description"},
	)
}

func (t *createTaskTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	title, hasTitle := stringParam(params, "title")
	description, hasDesc := stringParam(params, "description")
	if !hasTitle || !hasDesc {
		return fail("INVALID_PARAMS", "title and description are required", ""), nil
	}
	priority := int(optionalNumber(params, "priority", 5))

	tctx := project.TaskContext{
		WorkingDirectory: optionalString(params, "working_directory", ""),
		RelevantFiles:    stringSlice(params["relevant_files"]),
		OutputPaths:      stringSlice(params["output_paths"]),
		Conventions:      optionalString(params, "conventions", ""),
		Notes:            optionalString(params, "notes", ""),
	}

	task, err := t.deps.Pool.Create(ctx, t.deps.ProjectID, t.deps.AgentID, title, description, tctx, priority)
	if err != nil {
		return poolFailure(err), nil
	}
	return ok(map[string]any{
		"created":  true,
		"taskId":   task.ID,
		"title":    task.Title,
		"priority": task.Priority,
	}), nil
}

// listTasksTool lists the pool, optionally filtered by status.
type listTasksTool struct {
	deps *Deps
}

func (t *listTasksTool) Name() string { return "list_tasks" }

func (t *listTasksTool) Description() string {
	return "List tasks in the pool. Available tasks come first, ordered by priority."
}

func (t *listTasksTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for listing tasks",
		map[string]*JSONSchema{
			"status": NewStringSchema("Only tasks with this status").
				WithEnum("available", "claimed", "in-progress", "completed", "failed"),
		},
		nil,
	)
}

func (t *listTasksTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	tasks, err := t.deps.Pool.List(ctx, t.deps.ProjectID)
	if err != nil {
		return poolFailure(err), nil
	}
	statusFilter := optionalString(params, "status", "")

	out := make([]map[string]any, 0, len(tasks))
	available := 0
	for i := range tasks {
		task := &tasks[i]
		if task.Status == project.TaskAvailable {
			available++
		}
		if statusFilter != "" && string(task.Status) != statusFilter {
			continue
		}
		out = append(out, taskView(task))
	}
	return ok(map[string]any{
		"tasks":     out,
		"count":     len(out),
		"available": available,
	}), nil
}

// spawnWorkerTool asks the runtime to start ephemeral workers that drain the
// pool.
type spawnWorkerTool struct {
	deps *Deps
}

func (t *spawnWorkerTool) Name() string { return "spawn_worker" }

func (t *spawnWorkerTool) Description() string {
	return "Spawn ephemeral worker agents that claim tasks from the pool, work them, and dissolve when done. Create the tasks first."
}

func (t *spawnWorkerTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for spawning workers",
		map[string]*JSONSchema{
			"count": NewNumberSchema("How many workers to start").WithRange(1, 10).WithDefault(1),
		},
		nil,
	)
}

func (t *spawnWorkerTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	if t.deps.Spawner == nil {
		return fail("UNAVAILABLE", "worker spawning is not available here", ""), nil
	}
	count := int(optionalNumber(params, "count", 1))
	if count < 1 {
		count = 1
	}

	ids, err := t.deps.Spawner.Spawn(ctx, t.deps.ProjectID, t.deps.AgentID, count)
	if err != nil {
		return fail("SPAWN_FAILED", fmt.Sprintf("Could not spawn workers: %v", err), ""), nil
	}
	if len(ids) == 0 {
		return ok(map[string]any{
			"spawned": 0,
			"message": "No workers started; the concurrency limit is already reached.",
		}), nil
	}
	return ok(map[string]any{"spawned": len(ids), "workerIds": ids}), nil
}

// resetTasksTool recovers tasks stuck on dead or stalled claimants.
type resetTasksTool struct {
	deps *Deps
}

func (t *resetTasksTool) Name() string { return "reset_tasks" }

func (t *resetTasksTool) Description() string {
	return "Return stale claimed tasks (yours or your workers') to the pool, and optionally remove idle ephemeral workers."
}

func (t *resetTasksTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for resetting stale tasks",
		map[string]*JSONSchema{
			"max_age_minutes": NewNumberSchema("Claims older than this are considered stale").
				WithRange(1, 120).WithDefault(5),
			"cleanup_workers": NewBooleanSchema("Also remove idle ephemeral workers").WithDefault(false),
		},
		nil,
	)
}

func (t *resetTasksTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	maxAge := time.Duration(optionalNumber(params, "max_age_minutes", taskpool.DefaultStaleAge.Minutes())) * time.Minute

	reset, err := t.deps.Pool.ResetStale(ctx, t.deps.ProjectID, maxAge, t.deps.AgentID)
	if err != nil {
		return poolFailure(err), nil
	}

	removed := 0
	if optionalBool(params, "cleanup_workers", false) {
		removed, err = t.deps.Pool.RemoveEphemeralWorkers(ctx, t.deps.ProjectID, t.deps.AgentID)
		if err != nil {
			return poolFailure(err), nil
		}
	}
	return ok(map[string]any{
		"tasksReset":     reset,
		"workersRemoved": removed,
	}), nil
}
