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

// Package runtime assembles one agent process: registry, message bus, peer
// server, task pool, worker spawner, MCP manager, and the agentic loop, all
// sharing a coordination directory with sibling processes. There is no
// process-global state; everything hangs off the Runtime value.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/society-labs/society/internal/csync"
	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/history"
	"github.com/society-labs/society/pkg/llm/factory"
	"github.com/society-labs/society/pkg/mcp"
	"github.com/society-labs/society/pkg/peer"
	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/registry"
	"github.com/society-labs/society/pkg/statestore"
	"github.com/society-labs/society/pkg/taskpool"
	"github.com/society-labs/society/pkg/tools"
	"github.com/society-labs/society/pkg/usage"
	"github.com/society-labs/society/pkg/worker"
)

// maintenanceTimeout bounds each background sweep.
const maintenanceTimeout = 30 * time.Second

// Runtime is one live agent process.
type Runtime struct {
	Config Config
	Logger *zap.Logger

	Events   *events.Broker
	Registry *registry.Registry
	Bus      *bus.Bus
	Peer     *peer.Server
	Projects *project.Store
	Pool     *taskpool.Pool
	History  *history.Store
	MCP      *mcp.Manager
	Usage    *usage.Tracker
	Stops    *StopSet
	Workers  *worker.Spawner
	Models   *factory.Factory

	id      string
	limiter *tools.RateLimiter
	shell   *tools.ShellGuard

	// active tracks agent ids whose loop is running in this process, so a
	// second invocation cannot interleave turns on the same conversation.
	active *csync.Map[string, struct{}]
	cron   *cron.Cron
}

// Option configures a Runtime after construction.
type Option func(*Runtime)

// WithModelFactory replaces the provider factory; tests use it to run loops
// against a stub model.
func WithModelFactory(f *factory.Factory) Option {
	return func(r *Runtime) { r.Models = f }
}

// New wires up an agent runtime. It creates the shared directories, resolves
// the agent identity, and connects every component, but starts nothing.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Runtime, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, dir := range []string{cfg.WorkspacePath, cfg.SharedDir, cfg.ProjectsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errkind.IoError(err, "creating %s", dir)
		}
	}

	id, err := ResolveID(cfg)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker(events.WithLogger(logger))
	states := statestore.New(statestore.WithLogger(logger))
	reg := registry.New(cfg.SharedDir, states,
		registry.WithLogger(logger),
		registry.WithOnlineWindow(cfg.OnlineWindow))
	projects := project.NewStore(cfg.SharedDir, cfg.ProjectsDir, project.WithLogger(logger))
	pool := taskpool.New(projects, taskpool.WithLogger(logger), taskpool.WithBroker(broker))

	busOpts := []bus.Option{
		bus.WithLogger(logger),
		bus.WithBroker(broker),
		bus.WithPoster(peer.NewClient()),
		bus.WithPollInterval(cfg.InboxPoll),
	}
	if cfg.IdentityPath != "" {
		signer, err := bus.LoadSigner(cfg.IdentityPath)
		if err != nil {
			return nil, err
		}
		busOpts = append(busOpts, bus.WithSigner(signer))
	}
	verifier, err := bus.LoadVerifier(cfg.AuthorizedKeysPath)
	if err != nil {
		return nil, err
	}
	busOpts = append(busOpts, bus.WithVerifier(verifier))

	msgBus := bus.New(cfg.SharedDir, id, reg, busOpts...)

	hist, err := history.New(cfg.HistoryPath(), history.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	r := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Events:   broker,
		Registry: reg,
		Bus:      msgBus,
		Projects: projects,
		Pool:     pool,
		History:  hist,
		MCP:      mcp.New(cfg.SharedDir, mcp.WithLogger(logger)),
		Usage:    usage.New(0, usage.WithBroker(broker)),
		Stops:    NewStopSet(),
		Models:   factory.New(factory.WithDefaults(cfg.Provider, cfg.Model)),
		id:       id,
		limiter:  tools.NewRateLimiter(),
		shell:    tools.NewShellGuard(cfg.SystemPort, cfg.SystemProcessNames),
		active:   csync.NewMap[string, struct{}](),
		cron:     cron.New(),
	}
	r.Peer = peer.NewServer(id, msgBus,
		peer.WithServerLogger(logger),
		peer.WithEventBroker(broker))
	r.Workers = worker.New(projects, broker, r.runWorkerLoop,
		worker.WithLogger(logger),
		worker.WithMaxConcurrent(cfg.MaxWorkers))
	msgBus.SetHandler(r.handleMessage)

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ID returns the resolved agent identity.
func (r *Runtime) ID() string { return r.id }

// ResolveID picks the agent identity: explicit config, then the id persisted
// in the workspace, then a fresh generated one (persisted for next boot).
// A stable id is what makes inbox catch-up meaningful across restarts; the
// CLI uses the same resolution so one-shot sends speak as this workspace.
func ResolveID(cfg Config) (string, error) {
	if cfg.ID != "" {
		return cfg.ID, nil
	}
	data, err := os.ReadFile(cfg.IDPath())
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", errkind.IoError(err, "reading agent id %s", cfg.IDPath())
	}

	id := registry.GenerateID(registry.Role(cfg.Role))
	if err := os.WriteFile(cfg.IDPath(), []byte(id+"\n"), 0o644); err != nil {
		return "", errkind.IoError(err, "persisting agent id %s", cfg.IDPath())
	}
	return id, nil
}

// Start boots the process: peer server, registration, inbox catch-up, the
// bus poller/watcher, and the maintenance schedule. It blocks until ctx is
// cancelled; Stop handles the teardown the context cannot.
func (r *Runtime) Start(ctx context.Context) error {
	url, err := r.Peer.Start(ctx, r.Config.PortMin, r.Config.PortMax)
	if err != nil {
		return fmt.Errorf("starting peer server: %w", err)
	}

	err = r.Registry.Register(ctx, registry.Registration{
		ID:            r.id,
		Role:          registry.Role(r.Config.Role),
		Capabilities:  r.Config.Capabilities,
		WorkspacePath: r.Config.WorkspacePath,
		PID:           os.Getpid(),
		URL:           url,
		Status:        registry.StatusOnline,
	})
	if err != nil {
		return fmt.Errorf("registering agent: %w", err)
	}

	// Replay whatever arrived while this agent was down. Failure here is
	// not fatal: the poller converges on the same backlog.
	if err := r.Bus.CatchUp(ctx); err != nil {
		r.Logger.Warn("inbox catch-up failed", zap.String("agent_id", r.id), zap.Error(err))
	}
	if err := r.Bus.Start(ctx); err != nil {
		return fmt.Errorf("starting message bus: %w", err)
	}

	if _, err := r.cron.AddFunc("@every 1m", r.sweepStaleTasks); err != nil {
		return fmt.Errorf("scheduling stale-task sweep: %w", err)
	}
	if _, err := r.cron.AddFunc("@every 2m", r.sweepOfflineAgents); err != nil {
		return fmt.Errorf("scheduling offline sweep: %w", err)
	}
	r.cron.Start()

	r.Logger.Info("agent runtime started",
		zap.String("agent_id", r.id),
		zap.String("role", r.Config.Role),
		zap.String("url", url),
		zap.String("shared_dir", r.Config.SharedDir))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.Registry.RunHeartbeat(ctx, r.id, r.Config.HeartbeatInterval, r.heartbeatStatus)
		return nil
	})
	g.Go(func() error {
		r.watchPause(ctx)
		return nil
	})
	return g.Wait()
}

// Stop tears the process down: registry record marked offline, cron drained,
// peer server shut, stores closed, logs flushed.
func (r *Runtime) Stop(ctx context.Context) error {
	var errs []error

	if err := r.Registry.MarkOffline(ctx, r.id); err != nil {
		errs = append(errs, fmt.Errorf("marking offline: %w", err))
	}

	cronCtx := r.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		r.Logger.Warn("maintenance jobs still running at shutdown")
	}

	if err := r.Peer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping peer server: %w", err))
	}
	if err := r.MCP.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing mcp clients: %w", err))
	}
	if err := r.History.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing history: %w", err))
	}
	_ = r.Logger.Sync()

	r.Logger.Info("agent runtime stopped", zap.String("agent_id", r.id))
	return errors.Join(errs...)
}

// heartbeatStatus reports Busy while any loop runs in this process.
func (r *Runtime) heartbeatStatus() registry.Status {
	if r.active.Len() > 0 {
		return registry.StatusBusy
	}
	return registry.StatusIdle
}

// sweepStaleTasks returns stuck claims in this agent's project to the pool.
func (r *Runtime) sweepStaleTasks() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	proj, err := r.Projects.FindByAgent(ctx, r.id)
	if err != nil {
		if !errkind.Is(err, errkind.KindNotFound) {
			r.Logger.Warn("stale-task sweep skipped", zap.Error(err))
		}
		return
	}
	n, err := r.Pool.ResetStale(ctx, proj.ID, r.Config.StaleTaskAge, r.id)
	if err != nil {
		r.Logger.Warn("stale-task sweep failed",
			zap.String("project_id", proj.ID), zap.Error(err))
		return
	}
	if n > 0 {
		r.Logger.Info("stale tasks returned to pool",
			zap.String("project_id", proj.ID), zap.Int("count", n))
	}
}

// sweepOfflineAgents marks registrations offline once their heartbeat falls
// out of the online window. Purely advisory: peers probe before trusting.
func (r *Runtime) sweepOfflineAgents() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	regs, err := r.Registry.List(ctx)
	if err != nil {
		r.Logger.Warn("offline sweep skipped", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-r.Config.OnlineWindow)
	for _, reg := range regs {
		if reg.ID == r.id || reg.Status == registry.StatusOffline {
			continue
		}
		if reg.LastHeartbeat.After(cutoff) {
			continue
		}
		if err := r.Registry.MarkOffline(ctx, reg.ID); err != nil {
			r.Logger.Warn("marking silent agent offline failed",
				zap.String("agent_id", reg.ID), zap.Error(err))
			continue
		}
		r.Logger.Info("silent agent marked offline",
			zap.String("agent_id", reg.ID),
			zap.Time("last_heartbeat", reg.LastHeartbeat))
	}
}

// watchPause mirrors the maintenance-pause marker onto the bus. While the
// marker exists, inbound messages queue in the shared files and nothing is
// handled or acknowledged.
func (r *Runtime) watchPause(ctx context.Context) {
	ticker := time.NewTicker(r.Config.InboxPoll)
	defer ticker.Stop()

	paused := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := os.Stat(r.Config.PausePath())
			now := err == nil
			if now == paused {
				continue
			}
			paused = now
			r.Bus.SetPaused(paused)
			if paused {
				r.Logger.Warn("maintenance pause engaged, inbox processing suspended",
					zap.String("marker", r.Config.PausePath()))
			} else {
				r.Logger.Info("maintenance pause cleared, inbox processing resumed")
			}
		}
	}
}
