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

// Package taskpool implements the shared work queue agents pull from.
// Tasks live inside the project snapshot; every operation here is one
// serialized read-modify-write on that snapshot, so two agents racing for
// the same task resolve to exactly one winner.
package taskpool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/project"
)

// DefaultStaleAge is how long a claim may sit without completion before
// maintenance returns the task to the pool.
const DefaultStaleAge = 5 * time.Minute

const (
	// MinPriority and MaxPriority bound task priorities; out-of-range values
	// are clamped rather than rejected.
	MinPriority = 1
	MaxPriority = 10
)

// Pool mediates the task lifecycle over the project store.
type Pool struct {
	projects *project.Store
	broker   *events.Broker
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithBroker sets the event broker task lifecycle events publish to.
func WithBroker(broker *events.Broker) Option {
	return func(p *Pool) { p.broker = broker }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a Pool over the given project store.
func New(projects *project.Store, opts ...Option) *Pool {
	p := &Pool{
		projects: projects,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewTaskID builds a `task-{random8}` task id.
func NewTaskID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("task-%s", hex.EncodeToString(buf))
}

// Create appends a new available task to the project pool.
func (p *Pool) Create(ctx context.Context, projectID, createdBy, title, description string, tctx project.TaskContext, priority int) (*project.Task, error) {
	if title == "" {
		return nil, errkind.InvalidState("task title is required")
	}
	if priority < MinPriority {
		priority = MinPriority
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}

	task := project.Task{
		ID:          NewTaskID(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      project.TaskAvailable,
		CreatedBy:   createdBy,
		CreatedAt:   p.now().UTC(),
		Context:     tctx,
	}
	err := p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		proj.Tasks = append(proj.Tasks, task)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("task created",
		zap.String("project_id", projectID),
		zap.String("task_id", task.ID),
		zap.String("title", title),
		zap.Int("priority", priority),
		zap.String("created_by", createdBy))
	p.broker.Emit(events.TypeTaskCreated, createdBy, projectID, map[string]any{
		"taskId":   task.ID,
		"title":    title,
		"priority": priority,
	})
	return &task, nil
}

// ClaimNext claims the best available task for agentID: highest priority
// first, creation order breaking ties. It returns (nil, nil) when the pool
// has nothing available, and AlreadyHasTask when the agent still holds an
// active task.
func (p *Pool) ClaimNext(ctx context.Context, projectID, agentID string) (*project.Task, error) {
	var claimed *project.Task
	err := p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		if held := proj.ActiveTaskFor(agentID); held != nil {
			return errkind.AlreadyHasTask("agent %s already holds task %s (%s)", agentID, held.ID, held.Status)
		}

		best := -1
		for i := range proj.Tasks {
			if proj.Tasks[i].Status != project.TaskAvailable {
				continue
			}
			if best == -1 || proj.Tasks[i].Priority > proj.Tasks[best].Priority {
				best = i
			}
		}
		if best == -1 {
			return nil
		}
		claimed = p.claimAt(proj, best, agentID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		p.emitClaimed(projectID, agentID, claimed)
	}
	return claimed, nil
}

// Claim claims one specific task for agentID.
func (p *Pool) Claim(ctx context.Context, projectID, taskID, agentID string) (*project.Task, error) {
	var claimed *project.Task
	err := p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		if held := proj.ActiveTaskFor(agentID); held != nil {
			return errkind.AlreadyHasTask("agent %s already holds task %s (%s)", agentID, held.ID, held.Status)
		}
		i := taskIndex(proj, taskID)
		if i == -1 {
			return errkind.NotFound("task %s does not exist in project %s", taskID, projectID)
		}
		if proj.Tasks[i].Status != project.TaskAvailable {
			return errkind.InvalidState("task %s is %s, not available", taskID, proj.Tasks[i].Status)
		}
		claimed = p.claimAt(proj, i, agentID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.emitClaimed(projectID, agentID, claimed)
	return claimed, nil
}

func (p *Pool) claimAt(proj *project.Project, i int, agentID string) *project.Task {
	now := p.now().UTC()
	proj.Tasks[i].Status = project.TaskClaimed
	proj.Tasks[i].ClaimedBy = agentID
	proj.Tasks[i].ClaimedAt = &now
	cp := proj.Tasks[i]
	return &cp
}

func (p *Pool) emitClaimed(projectID, agentID string, task *project.Task) {
	p.logger.Info("task claimed",
		zap.String("project_id", projectID),
		zap.String("task_id", task.ID),
		zap.String("agent_id", agentID))
	p.broker.Emit(events.TypeTaskClaimed, agentID, projectID, map[string]any{
		"taskId": task.ID,
		"title":  task.Title,
	})
}

// Start moves the claimant's task from claimed to in-progress.
func (p *Pool) Start(ctx context.Context, projectID, taskID, agentID string) error {
	return p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		i := taskIndex(proj, taskID)
		if i == -1 {
			return errkind.NotFound("task %s does not exist in project %s", taskID, projectID)
		}
		t := &proj.Tasks[i]
		if t.ClaimedBy != agentID {
			return errkind.InvalidState("task %s is held by %s, not %s", taskID, t.ClaimedBy, agentID)
		}
		if t.Status != project.TaskClaimed {
			return errkind.InvalidState("task %s is %s, not claimed", taskID, t.Status)
		}
		t.Status = project.TaskInProgress
		return nil
	})
}

// Complete finishes the claimant's active task, recording what it produced.
func (p *Pool) Complete(ctx context.Context, projectID, taskID, agentID string, result project.TaskResult) (*project.Task, error) {
	var done *project.Task
	err := p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		i := taskIndex(proj, taskID)
		if i == -1 {
			return errkind.NotFound("task %s does not exist in project %s", taskID, projectID)
		}
		t := &proj.Tasks[i]
		if t.ClaimedBy != agentID {
			return errkind.InvalidState("task %s is held by %s, not %s", taskID, t.ClaimedBy, agentID)
		}
		if !t.Active() {
			return errkind.InvalidState("task %s is %s, not claimed or in-progress", taskID, t.Status)
		}
		t.Status = project.TaskCompleted
		t.Result = &result
		cp := *t
		done = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("task completed",
		zap.String("project_id", projectID),
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID),
		zap.String("summary", result.Summary))
	p.broker.Emit(events.TypeTaskCompleted, agentID, projectID, map[string]any{
		"taskId":  taskID,
		"title":   done.Title,
		"summary": result.Summary,
	})
	return done, nil
}

// Fail returns the claimant's active task to the pool. The failure reason is
// kept on the task so the next claimant sees what went wrong.
func (p *Pool) Fail(ctx context.Context, projectID, taskID, agentID, reason string) error {
	err := p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		i := taskIndex(proj, taskID)
		if i == -1 {
			return errkind.NotFound("task %s does not exist in project %s", taskID, projectID)
		}
		t := &proj.Tasks[i]
		if t.ClaimedBy != agentID {
			return errkind.InvalidState("task %s is held by %s, not %s", taskID, t.ClaimedBy, agentID)
		}
		if !t.Active() {
			return errkind.InvalidState("task %s is %s, not claimed or in-progress", taskID, t.Status)
		}
		t.Status = project.TaskAvailable
		t.ClaimedBy = ""
		t.ClaimedAt = nil
		t.FailureReason = reason
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Warn("task failed, returned to pool",
		zap.String("project_id", projectID),
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID),
		zap.String("reason", reason))
	p.broker.Emit(events.TypeTaskFailed, agentID, projectID, map[string]any{
		"taskId": taskID,
		"reason": reason,
	})
	return nil
}

// ResetStale returns active tasks whose claim is older than maxAge to the
// pool. A non-empty byScope limits the sweep to claimants that report to
// that agent (its spawned workers), plus claimants no longer present in the
// project; an empty byScope sweeps everything.
func (p *Pool) ResetStale(ctx context.Context, projectID string, maxAge time.Duration, byScope string) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleAge
	}
	cutoff := p.now().UTC().Add(-maxAge)

	reset := 0
	err := p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		for i := range proj.Tasks {
			t := &proj.Tasks[i]
			if !t.Active() || t.ClaimedAt == nil || t.ClaimedAt.After(cutoff) {
				continue
			}
			if byScope != "" && !inScope(proj, t.ClaimedBy, byScope) {
				continue
			}
			p.logger.Info("resetting stale task",
				zap.String("project_id", projectID),
				zap.String("task_id", t.ID),
				zap.String("claimed_by", t.ClaimedBy),
				zap.Time("claimed_at", *t.ClaimedAt))
			t.Status = project.TaskAvailable
			t.ClaimedBy = ""
			t.ClaimedAt = nil
			reset++
		}
		return nil
	})
	return reset, err
}

// inScope reports whether claimant belongs to scope: the scope itself, an
// agent reporting to it, or a claimant whose config is already gone (a
// removed worker whose claim would otherwise wedge forever).
func inScope(proj *project.Project, claimant, scope string) bool {
	if claimant == scope {
		return true
	}
	cfg := proj.Agent(claimant)
	if cfg == nil {
		return true
	}
	return cfg.ReportsTo == scope
}

// RemoveEphemeralWorkers deletes ephemeral agent configs from the project,
// skipping any that still hold an active task. A non-empty byScope limits
// removal to workers reporting to that agent.
func (p *Pool) RemoveEphemeralWorkers(ctx context.Context, projectID, byScope string) (int, error) {
	removed := 0
	err := p.projects.Update(ctx, projectID, func(proj *project.Project) error {
		kept := proj.Agents[:0]
		for _, cfg := range proj.Agents {
			drop := cfg.Ephemeral &&
				(byScope == "" || cfg.ReportsTo == byScope) &&
				proj.ActiveTaskFor(cfg.ID) == nil
			if drop {
				removed++
				continue
			}
			kept = append(kept, cfg)
		}
		proj.Agents = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		p.logger.Info("removed ephemeral workers",
			zap.String("project_id", projectID),
			zap.String("scope", byScope),
			zap.Int("count", removed))
	}
	return removed, nil
}

// List returns the project's tasks, available-first by priority, then the
// rest in creation order.
func (p *Pool) List(ctx context.Context, projectID string) ([]project.Task, error) {
	proj, err := p.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]project.Task, len(proj.Tasks))
	copy(out, proj.Tasks)
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].Status == project.TaskAvailable, out[j].Status == project.TaskAvailable
		if ai != aj {
			return ai
		}
		if ai && aj {
			return out[i].Priority > out[j].Priority
		}
		return false
	})
	return out, nil
}

// Get returns one task.
func (p *Pool) Get(ctx context.Context, projectID, taskID string) (*project.Task, error) {
	proj, err := p.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	t := proj.Task(taskID)
	if t == nil {
		return nil, errkind.NotFound("task %s does not exist in project %s", taskID, projectID)
	}
	cp := *t
	return &cp, nil
}

// ActiveFor returns the task agentID currently holds, or (nil, nil).
func (p *Pool) ActiveFor(ctx context.Context, projectID, agentID string) (*project.Task, error) {
	proj, err := p.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	t := proj.ActiveTaskFor(agentID)
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func taskIndex(proj *project.Project, taskID string) int {
	for i := range proj.Tasks {
		if proj.Tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}
