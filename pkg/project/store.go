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

package project

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/statestore"
)

// SnapshotFile is the projects snapshot, relative to the shared directory.
const SnapshotFile = "projects.json"

type snapshot struct {
	Projects  map[string]*Project `json:"projects"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Store manages the projects.json snapshot: project CRUD, agent membership,
// and knowledge. All writes funnel through a single read-modify-write on the
// snapshot, so concurrent mutations in one process serialize cleanly.
type Store struct {
	path        string
	projectsDir string
	store       *statestore.Store
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store over {sharedDir}/projects.json. Project folders
// resolve under projectsDir.
func NewStore(sharedDir, projectsDir string, opts ...Option) *Store {
	s := &Store{
		path:        filepath.Join(sharedDir, SnapshotFile),
		projectsDir: projectsDir,
		store:       statestore.New(),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot path the store operates on.
func (s *Store) Path() string {
	return s.path
}

// Create registers a new project and returns it. The folder defaults to a
// slug of the name when empty.
func (s *Store) Create(ctx context.Context, name, folder string) (*Project, error) {
	if name == "" {
		return nil, errkind.New(errkind.KindInvalidState, "project name is required")
	}
	if folder == "" {
		folder = Slug(name)
	}
	p := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		Folder:    folder,
		Agents:    []AgentConfig{},
		Tasks:     []Task{},
		CreatedAt: s.now().UTC(),
	}
	err := statestore.UpdateJSON(s.store, s.path, func(snap *snapshot) error {
		if snap.Projects == nil {
			snap.Projects = make(map[string]*Project)
		}
		for _, existing := range snap.Projects {
			if existing.Folder == folder {
				return errkind.Newf(errkind.KindInvalidState, "folder %q is already used by project %q", folder, existing.Name)
			}
		}
		snap.Projects[p.ID] = p
		snap.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("project created",
		zap.String("project_id", p.ID),
		zap.String("name", name),
		zap.String("folder", folder))
	return p, nil
}

// Get returns the project with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	snap, err := statestore.ReadJSON[snapshot](s.store, s.path)
	if err != nil {
		return nil, err
	}
	p, ok := snap.Projects[id]
	if !ok {
		return nil, errkind.NotFound("project %s does not exist", id)
	}
	return p, nil
}

// List returns all projects ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*Project, error) {
	snap, err := statestore.ReadJSON[snapshot](s.store, s.path)
	if err != nil {
		return nil, err
	}
	out := make([]*Project, 0, len(snap.Projects))
	for _, p := range snap.Projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update applies mutate to the project under the snapshot lock. It is the
// primitive every other mutation in this package and in the task pool builds
// on; mutate returning an error abandons the write.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Project) error) error {
	return statestore.UpdateJSON(s.store, s.path, func(snap *snapshot) error {
		p, ok := snap.Projects[id]
		if !ok {
			return errkind.NotFound("project %s does not exist", id)
		}
		if err := mutate(p); err != nil {
			return err
		}
		snap.UpdatedAt = s.now().UTC()
		return nil
	})
}

// AddAgent adds an agent config to the project. Agent ids must be unique
// within the project, and ReportsTo must reference an existing non-ephemeral
// agent so reporting chains cannot dangle off a worker that self-deletes.
func (s *Store) AddAgent(ctx context.Context, projectID string, cfg AgentConfig) error {
	if cfg.ID == "" {
		return errkind.New(errkind.KindInvalidState, "agent id is required")
	}
	if cfg.HomeFolder == "" {
		cfg.HomeFolder = Slug(cfg.Name)
	}
	err := s.Update(ctx, projectID, func(p *Project) error {
		if p.Agent(cfg.ID) != nil {
			return errkind.Newf(errkind.KindInvalidState, "agent %s already exists in project %s", cfg.ID, projectID)
		}
		if cfg.ReportsTo != "" {
			sup := p.Agent(cfg.ReportsTo)
			if sup == nil {
				return errkind.Newf(errkind.KindInvalidState, "agent %s reports to unknown agent %s", cfg.ID, cfg.ReportsTo)
			}
			if sup.Ephemeral {
				return errkind.Newf(errkind.KindInvalidState, "agent %s cannot report to ephemeral agent %s", cfg.ID, cfg.ReportsTo)
			}
		}
		p.Agents = append(p.Agents, cfg)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("agent added to project",
		zap.String("project_id", projectID),
		zap.String("agent_id", cfg.ID),
		zap.String("role", cfg.Role),
		zap.Bool("ephemeral", cfg.Ephemeral))
	return nil
}

// RemoveAgent removes an agent config from the project.
func (s *Store) RemoveAgent(ctx context.Context, projectID, agentID string) error {
	return s.Update(ctx, projectID, func(p *Project) error {
		for i := range p.Agents {
			if p.Agents[i].ID == agentID {
				p.Agents = append(p.Agents[:i], p.Agents[i+1:]...)
				return nil
			}
		}
		return errkind.NotFound("agent %s does not exist in project %s", agentID, projectID)
	})
}

// UpdateAgent applies mutate to one agent config under the snapshot lock.
func (s *Store) UpdateAgent(ctx context.Context, projectID, agentID string, mutate func(*AgentConfig) error) error {
	return s.Update(ctx, projectID, func(p *Project) error {
		cfg := p.Agent(agentID)
		if cfg == nil {
			return errkind.NotFound("agent %s does not exist in project %s", agentID, projectID)
		}
		return mutate(cfg)
	})
}

// Agent returns one agent's config from the project.
func (s *Store) Agent(ctx context.Context, projectID, agentID string) (*AgentConfig, error) {
	p, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	cfg := p.Agent(agentID)
	if cfg == nil {
		return nil, errkind.NotFound("agent %s does not exist in project %s", agentID, projectID)
	}
	return cfg, nil
}

// FindByAgent returns the first project containing agentID. Agents normally
// belong to one project at a time.
func (s *Store) FindByAgent(ctx context.Context, agentID string) (*Project, error) {
	projects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Agent(agentID) != nil {
			return p, nil
		}
	}
	return nil, errkind.NotFound("agent %s does not belong to any project", agentID)
}

// UpsertKnowledge replaces the project's shared knowledge text.
func (s *Store) UpsertKnowledge(ctx context.Context, projectID, knowledge string) error {
	return s.Update(ctx, projectID, func(p *Project) error {
		p.Knowledge = knowledge
		return nil
	})
}

// ProjectDir resolves the project's folder under the projects root.
func (s *Store) ProjectDir(p *Project) string {
	return filepath.Join(s.projectsDir, p.Folder)
}

// ResolveHome resolves an agent's home folder inside its project directory.
// Tool sandboxing treats this as the boundary for relative paths.
func (s *Store) ResolveHome(p *Project, cfg *AgentConfig) string {
	if cfg.HomeFolder == "" {
		return s.ProjectDir(p)
	}
	return filepath.Join(s.ProjectDir(p), cfg.HomeFolder)
}

// Slug converts a display name into a folder-safe identifier.
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
