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

// Package registry tracks which agents exist, where they listen, and how
// recently they heartbeat. The snapshot file is authoritative for discovery;
// liveness is advisory and peers still probe over HTTP with short timeouts.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/statestore"
)

// Role identifies an agent's function in the team.
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RoleBackend    Role = "backend"
	RoleFrontend   Role = "frontend"
	RoleTester     Role = "tester"
	RoleDevops     Role = "devops"
	RoleSecurity   Role = "security"
	RoleCustom     Role = "custom"
)

// Status is the self-reported agent state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

const (
	// SnapshotFile is the atomic registry snapshot.
	SnapshotFile = "registry.json"
	// LegacyLogFile is the append-only registry format older deployments
	// wrote. It is read as a fallback but never written.
	LegacyLogFile = "registry.jsonl"

	// DefaultHeartbeatInterval is how often an owning process refreshes its
	// registration.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultOnlineWindow is how stale a heartbeat may be before peers treat
	// the agent as offline.
	DefaultOnlineWindow = 2 * time.Minute
)

// Registration is one agent's entry in the shared registry.
type Registration struct {
	ID            string    `json:"id"`
	Role          Role      `json:"role"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	WorkspacePath string    `json:"workspacePath"`
	PID           int       `json:"pid"`
	URL           string    `json:"url,omitempty"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

type snapshot struct {
	Agents    map[string]Registration `json:"agents"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// Registry reads and writes agent registrations in the shared directory.
type Registry struct {
	dir          string
	store        *statestore.Store
	onlineWindow time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithOnlineWindow overrides the liveness window.
func WithOnlineWindow(d time.Duration) Option {
	return func(r *Registry) { r.onlineWindow = d }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry rooted at the shared directory.
func New(dir string, store *statestore.Store, opts ...Option) *Registry {
	r := &Registry{
		dir:          dir,
		store:        store,
		onlineWindow: DefaultOnlineWindow,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) snapshotPath() string {
	return filepath.Join(r.dir, SnapshotFile)
}

// GenerateID builds a `{role}-{random8}` agent id.
func GenerateID(role Role) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%s", role, hex.EncodeToString(buf))
}

// Register merges reg into the snapshot keyed by id. RegisteredAt is stamped
// on first insert; Status and LastHeartbeat always refresh.
func (r *Registry) Register(ctx context.Context, reg Registration) error {
	if reg.ID == "" {
		return errkind.InvalidState("registration requires an id")
	}
	now := r.now()
	return statestore.UpdateJSON(r.store, r.snapshotPath(), func(s *snapshot) error {
		if s.Agents == nil {
			s.Agents = make(map[string]Registration)
		}
		existing, ok := s.Agents[reg.ID]
		if ok {
			reg.RegisteredAt = existing.RegisteredAt
		} else {
			reg.RegisteredAt = now
		}
		if reg.Status == "" {
			reg.Status = StatusOnline
		}
		reg.LastHeartbeat = now
		if ok && existing.LastHeartbeat.After(now) {
			reg.LastHeartbeat = existing.LastHeartbeat
		}
		s.Agents[reg.ID] = reg
		s.UpdatedAt = now
		r.logger.Info("agent registered",
			zap.String("agent_id", reg.ID),
			zap.String("role", string(reg.Role)),
			zap.String("url", reg.URL))
		return nil
	})
}

// Heartbeat partial-merges {status, lastHeartbeat: now} for id.
func (r *Registry) Heartbeat(ctx context.Context, id string, status Status) error {
	now := r.now()
	return statestore.UpdateJSON(r.store, r.snapshotPath(), func(s *snapshot) error {
		if s.Agents == nil {
			s.Agents = make(map[string]Registration)
		}
		reg, ok := s.Agents[id]
		if !ok {
			return errkind.NotFound("agent %q is not registered", id)
		}
		reg.Status = status
		if now.After(reg.LastHeartbeat) {
			reg.LastHeartbeat = now
		}
		s.Agents[id] = reg
		s.UpdatedAt = now
		return nil
	})
}

// MarkOffline is the graceful-dispose transition.
func (r *Registry) MarkOffline(ctx context.Context, id string) error {
	return r.Heartbeat(ctx, id, StatusOffline)
}

// Get returns one registration.
func (r *Registry) Get(ctx context.Context, id string) (Registration, error) {
	all, err := r.List(ctx)
	if err != nil {
		return Registration{}, err
	}
	for _, reg := range all {
		if reg.ID == id {
			return reg, nil
		}
	}
	return Registration{}, errkind.NotFound("agent %q is not registered", id)
}

// List returns every registration. When the snapshot is absent it
// reconstructs state from the legacy append-only log, last write wins per id.
// The legacy format is read-only; all writes go to the snapshot.
func (r *Registry) List(ctx context.Context) ([]Registration, error) {
	var s snapshot
	err := r.store.ReadSnapshot(r.snapshotPath(), &s)
	if err == nil {
		return regsFromMap(s.Agents), nil
	}
	if !errkind.Is(err, errkind.KindNotFound) {
		return nil, err
	}

	legacy, _, err := statestore.ReadAllCounted[Registration](
		filepath.Join(r.dir, LegacyLogFile), r.logger)
	if err != nil {
		return nil, err
	}
	if len(legacy) == 0 {
		return nil, nil
	}
	byID := make(map[string]Registration, len(legacy))
	for _, reg := range legacy {
		byID[reg.ID] = reg
	}
	r.logger.Debug("registry snapshot absent, reconstructed from legacy log",
		zap.Int("agents", len(byID)))
	return regsFromMap(byID), nil
}

// Online returns registrations whose heartbeat falls within the liveness
// window.
func (r *Registry) Online(ctx context.Context) ([]Registration, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-r.onlineWindow)
	online := all[:0:0]
	for _, reg := range all {
		if reg.Status != StatusOffline && reg.LastHeartbeat.After(cutoff) {
			online = append(online, reg)
		}
	}
	return online, nil
}

// RunHeartbeat refreshes the registration every interval until ctx is done.
// statusFn reports the current self-status for each beat.
func (r *Registry) RunHeartbeat(ctx context.Context, id string, interval time.Duration, statusFn func() Status) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := StatusOnline
			if statusFn != nil {
				status = statusFn()
			}
			if err := r.Heartbeat(ctx, id, status); err != nil {
				// Retried on the next tick; registry failures never abort
				// the agent process.
				r.logger.Warn("heartbeat failed",
					zap.String("agent_id", id),
					zap.Error(err))
			}
		}
	}
}

func regsFromMap(m map[string]Registration) []Registration {
	out := make([]Registration, 0, len(m))
	for _, reg := range m {
		out = append(out, reg)
	}
	return out
}
