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

// Package worker spawns and retires the ephemeral agents that drain the task
// pool. A worker is an agent config added to the project for the span of one
// run: it boots with a fixed instruction to claim a task, works with the
// reduced ephemeral catalog, and dissolves shortly after completing or
// failing its claim. Workers that end without touching a task keep their
// config until the stale-task maintenance sweep removes it.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/project"
)

// Bootstrap is the fixed first message every worker run starts from.
const Bootstrap = "Start by claiming a task from the pool."

// DefaultMaxConcurrent bounds simultaneously running workers per process.
const DefaultMaxConcurrent = 5

// DefaultRetireDelay is how long a finished worker lingers before its config
// is removed, leaving a window for its final events to land.
const DefaultRetireDelay = time.Second

// watchBuffer sizes the task-event subscription each worker run holds.
const watchBuffer = 16

// RunFunc executes one agent turn for cfg inside proj, starting from
// message. The runtime wires this to the agentic loop with the worker's
// ephemeral catalog and iteration cap.
type RunFunc func(ctx context.Context, proj *project.Project, cfg project.AgentConfig, message string) error

// Spawner launches ephemeral workers and removes them once they finish.
//
// Workers inherit the spawning agent's home folder rather than getting a
// nested one, so their output lands where the parent already works. That
// asymmetry with persistent agents is deliberate and load-bearing: tasks
// reference paths relative to the parent's folder.
type Spawner struct {
	projects *project.Store
	broker   *events.Broker
	run      RunFunc
	logger   *zap.Logger
	now      func() time.Time

	maxConcurrent int
	retireDelay   time.Duration

	mu     sync.Mutex
	active int
	wg     sync.WaitGroup
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithLogger sets the spawner logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Spawner) { s.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Spawner) { s.now = now }
}

// WithMaxConcurrent bounds how many workers may run at once.
func WithMaxConcurrent(n int) Option {
	return func(s *Spawner) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithRetireDelay sets the pause between a worker finishing its task and its
// config being removed.
func WithRetireDelay(d time.Duration) Option {
	return func(s *Spawner) {
		if d >= 0 {
			s.retireDelay = d
		}
	}
}

// New creates a Spawner. The broker is how the spawner learns a worker
// completed or failed its task; run is what each worker executes.
func New(projects *project.Store, broker *events.Broker, run RunFunc, opts ...Option) *Spawner {
	s := &Spawner{
		projects:      projects,
		broker:        broker,
		run:           run,
		logger:        zap.NewNop(),
		now:           time.Now,
		maxConcurrent: DefaultMaxConcurrent,
		retireDelay:   DefaultRetireDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWorkerID builds a worker-{unixms}-{random5} identifier.
func NewWorkerID(now time.Time) string {
	return fmt.Sprintf("worker-%d-%s", now.UnixMilli(), uuid.New().String()[:5])
}

// Spawn starts up to count workers for parentID's project, bounded by the
// concurrency limit. It returns the ids of the workers actually started; an
// empty slice with a nil error means the limit left no room.
func (s *Spawner) Spawn(ctx context.Context, projectID, parentID string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	proj, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	parent := proj.Agent(parentID)
	if parent == nil {
		return nil, errkind.NotFound("agent %s does not exist in project %s", parentID, projectID)
	}
	if parent.Ephemeral {
		return nil, errkind.InvalidState("ephemeral agent %s cannot spawn workers", parentID)
	}

	s.mu.Lock()
	slots := s.maxConcurrent - s.active
	if slots > count {
		slots = count
	}
	if slots < 0 {
		slots = 0
	}
	s.active += slots
	s.mu.Unlock()

	if slots == 0 {
		s.logger.Info("worker spawn declined, concurrency limit reached",
			zap.String("project_id", projectID),
			zap.String("parent_id", parentID),
			zap.Int("requested", count),
			zap.Int("limit", s.maxConcurrent))
		return []string{}, nil
	}

	ids := make([]string, 0, slots)
	for i := 0; i < slots; i++ {
		id := NewWorkerID(s.now())
		cfg := project.AgentConfig{
			ID:         id,
			Name:       id,
			Role:       "worker",
			HomeFolder: parent.HomeFolder,
			Ephemeral:  true,
			ReportsTo:  parent.ID,
		}

		if err := s.projects.AddAgent(ctx, projectID, cfg); err != nil {
			s.release(slots - len(ids))
			return ids, fmt.Errorf("add worker %s: %w", cfg.ID, err)
		}
		ids = append(ids, cfg.ID)

		s.logger.Info("worker spawned",
			zap.String("worker_id", cfg.ID),
			zap.String("project_id", projectID),
			zap.String("parent_id", parentID),
			zap.String("home_folder", cfg.HomeFolder))
		s.broker.Emit(events.TypeWorkerSpawned, cfg.ID, projectID, map[string]any{
			"parent": parentID,
		})

		s.wg.Add(1)
		go s.runWorker(proj, cfg)
	}
	return ids, nil
}

// Active returns how many workers are currently running.
func (s *Spawner) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Wait blocks until every running worker has finished and, where due,
// retired.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

// runWorker executes one worker's lifetime: run the loop from the bootstrap
// message, then retire if the run completed or failed a task.
func (s *Spawner) runWorker(proj *project.Project, cfg project.AgentConfig) {
	defer s.wg.Done()
	defer s.release(1)

	// The spawning tool call returns immediately; the worker's own run must
	// not die with the caller's context.
	ctx := context.Background()

	var (
		ch          <-chan events.Event
		unsubscribe func()
	)
	if s.broker != nil {
		ch, unsubscribe = s.broker.Subscribe("task-*", watchBuffer)
		defer unsubscribe()
	}

	if err := s.run(ctx, proj, cfg, Bootstrap); err != nil {
		s.logger.Warn("worker run failed",
			zap.String("worker_id", cfg.ID),
			zap.String("project_id", proj.ID),
			zap.Error(err))
	}

	if !finishedTask(ch, cfg.ID) {
		s.logger.Info("worker ended without finishing a task, leaving config for maintenance",
			zap.String("worker_id", cfg.ID),
			zap.String("project_id", proj.ID))
		return
	}

	time.Sleep(s.retireDelay)
	s.retire(ctx, proj.ID, cfg.ID)
}

// finishedTask drains the run's task events and reports whether the worker
// completed or failed its claim. The pool emits synchronously from the tool
// executions inside the run, so everything relevant is already buffered by
// the time the run returns.
func finishedTask(ch <-chan events.Event, workerID string) bool {
	for {
		select {
		case ev := <-ch:
			if ev.AgentID != workerID {
				continue
			}
			if ev.Type == events.TypeTaskCompleted || ev.Type == events.TypeTaskFailed {
				return true
			}
		default:
			return false
		}
	}
}

func (s *Spawner) retire(ctx context.Context, projectID, workerID string) {
	if err := s.projects.RemoveAgent(ctx, projectID, workerID); err != nil {
		s.logger.Warn("worker retirement failed",
			zap.String("worker_id", workerID),
			zap.String("project_id", projectID),
			zap.Error(err))
		return
	}
	s.logger.Info("worker retired",
		zap.String("worker_id", workerID),
		zap.String("project_id", projectID))
	s.broker.Emit(events.TypeWorkerDone, workerID, projectID, nil)
}

func (s *Spawner) release(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.active -= n
	s.mu.Unlock()
}
