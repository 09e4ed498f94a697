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

package runtime

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/registry"
	"github.com/society-labs/society/pkg/worker"
)

const (
	// SharedDirName is the default shared-directory name, created as a
	// sibling of the agent workspace.
	SharedDirName = ".society-agent"
	// ProjectsDirName is the default project-workspaces directory name,
	// a sibling of the shared directory.
	ProjectsDirName = "projects"
	// SkillsDirName is the global skills tree inside the shared directory.
	SkillsDirName = "skills"
	// AuthorizedKeysFile is the default signing-key roster filename.
	AuthorizedKeysFile = "authorized_keys.json"
	// HistoryFile is the conversation transcript database filename.
	HistoryFile = "history.db"
	// PauseFile marks a maintenance pause; its presence suspends inbox
	// processing for every agent sharing the directory.
	PauseFile = ".system-paused-state.json"
	// IDFile persists a generated agent id inside the workspace so the
	// identity survives restarts and catch-up stays meaningful.
	IDFile = ".agent-id"
)

const (
	// DefaultPortMin and DefaultPortMax bound the peer-server port scan.
	DefaultPortMin = 3000
	DefaultPortMax = 4000
	// DefaultStaleTaskAge is how long a claimed task may sit without
	// progress before the maintenance sweep returns it to the pool.
	DefaultStaleTaskAge = 5 * time.Minute
)

// Config carries everything an agent process reads at startup. Zero values
// mean "use the default"; Normalize resolves them.
type Config struct {
	// ID pins the agent identity. When empty, New loads the id persisted
	// in the workspace or generates and persists a fresh one.
	ID string
	// WorkspacePath is the agent's own directory. Required.
	WorkspacePath string
	// SharedDir is the coordination root shared by all agents. Defaults
	// to a sibling of the workspace named ".society-agent".
	SharedDir string
	// ProjectsDir holds per-project workspaces. Defaults to a sibling of
	// the shared directory named "projects".
	ProjectsDir string

	PortMin int
	PortMax int

	Role         string
	Capabilities []string

	// IdentityPath points at a PEM or JWK signing key; empty disables
	// outbound signing. AuthorizedKeysPath defaults to
	// {shared}/authorized_keys.json; a missing file accepts everything.
	IdentityPath       string
	AuthorizedKeysPath string

	// Provider and Model are process-wide defaults; per-agent and
	// per-project overrides in the project store win.
	Provider string
	Model    string

	HeartbeatInterval time.Duration
	OnlineWindow      time.Duration
	InboxPoll         time.Duration
	StaleTaskAge      time.Duration

	// MaxWorkers bounds concurrently running ephemeral workers.
	MaxWorkers int

	// SystemPort and SystemProcessNames feed the shell guard that keeps
	// agents from killing their own host.
	SystemPort         int
	SystemProcessNames []string
}

// Normalize fills defaults and makes every path absolute. It does not touch
// the filesystem.
func (c Config) Normalize() (Config, error) {
	if c.WorkspacePath == "" {
		return c, fmt.Errorf("workspace path is required")
	}
	abs, err := filepath.Abs(c.WorkspacePath)
	if err != nil {
		return c, fmt.Errorf("resolving workspace path: %w", err)
	}
	c.WorkspacePath = abs

	if c.SharedDir == "" {
		c.SharedDir = filepath.Join(filepath.Dir(abs), SharedDirName)
	} else if c.SharedDir, err = filepath.Abs(c.SharedDir); err != nil {
		return c, fmt.Errorf("resolving shared dir: %w", err)
	}
	if c.ProjectsDir == "" {
		c.ProjectsDir = filepath.Join(filepath.Dir(c.SharedDir), ProjectsDirName)
	} else if c.ProjectsDir, err = filepath.Abs(c.ProjectsDir); err != nil {
		return c, fmt.Errorf("resolving projects dir: %w", err)
	}
	if c.AuthorizedKeysPath == "" {
		c.AuthorizedKeysPath = filepath.Join(c.SharedDir, AuthorizedKeysFile)
	}

	if c.PortMin <= 0 {
		c.PortMin = DefaultPortMin
	}
	if c.PortMax <= 0 {
		c.PortMax = DefaultPortMax
	}
	if c.PortMax < c.PortMin {
		return c, fmt.Errorf("port range %d-%d is inverted", c.PortMin, c.PortMax)
	}

	if c.Role == "" {
		c.Role = string(registry.RoleSupervisor)
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = registry.DefaultHeartbeatInterval
	}
	if c.OnlineWindow <= 0 {
		c.OnlineWindow = registry.DefaultOnlineWindow
	}
	if c.InboxPoll <= 0 {
		c.InboxPoll = bus.DefaultPollInterval
	}
	if c.StaleTaskAge <= 0 {
		c.StaleTaskAge = DefaultStaleTaskAge
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = worker.DefaultMaxConcurrent
	}
	return c, nil
}

// PausePath is the maintenance-pause marker location.
func (c Config) PausePath() string {
	return filepath.Join(c.SharedDir, PauseFile)
}

// SkillsPath is the global skills tree location.
func (c Config) SkillsPath() string {
	return filepath.Join(c.SharedDir, SkillsDirName)
}

// HistoryPath is the transcript database location.
func (c Config) HistoryPath() string {
	return filepath.Join(c.SharedDir, HistoryFile)
}

// IDPath is where a generated agent id is persisted.
func (c Config) IDPath() string {
	return filepath.Join(c.WorkspacePath, IDFile)
}
