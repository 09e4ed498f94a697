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
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/society-labs/society/pkg/runtime"
)

const (
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "society"
)

// Config is the full CLI configuration, populated from flags, the config
// file, SOCIETY_* environment variables, and defaults.
type Config struct {
	// Workspace is the agent's own directory. The runtime persists the
	// generated agent id there.
	Workspace string `mapstructure:"workspace"`

	// SharedDir is the coordination root all agents on this host share:
	// registry snapshot, inboxes, task pools, skills.
	SharedDir string `mapstructure:"shared_dir"`

	// ProjectsDir holds per-project workspace folders.
	ProjectsDir string `mapstructure:"projects_dir"`

	Agent   AgentConfig   `mapstructure:"agent"`
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Signing SigningConfig `mapstructure:"signing"`
	Bus     BusConfig     `mapstructure:"bus"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Workers WorkersConfig `mapstructure:"workers"`
	Protect ProtectConfig `mapstructure:"protect"`
	Logging LoggingConfig `mapstructure:"logging"`

	// DataDir is resolved from SOCIETY_DATA_DIR (default ~/.society-agent),
	// not from the config file.
	DataDir string `mapstructure:"-"`
}

// AgentConfig describes this process's identity.
type AgentConfig struct {
	// ID pins the agent id; empty uses the id persisted in the workspace.
	ID string `mapstructure:"id"`

	// Role seeds generated ids and the registry entry.
	Role string `mapstructure:"role"`

	// Capabilities advertise what this agent is good at.
	Capabilities []string `mapstructure:"capabilities"`

	// HeartbeatInterval is how often the runtime refreshes its registry
	// entry; OnlineWindow is how stale a heartbeat may be before peers
	// treat the agent as offline.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	OnlineWindow      time.Duration `mapstructure:"online_window"`
}

// ServerConfig bounds the peer HTTP server port scan.
type ServerConfig struct {
	PortMin int `mapstructure:"port_min"`
	PortMax int `mapstructure:"port_max"`
}

// LLMConfig sets the process-wide provider defaults. Project and per-agent
// configuration in the project store override them.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// SigningConfig points at the Ed25519 material for message signing.
type SigningConfig struct {
	// Identity is a PEM or JWK private key; empty sends unsigned.
	Identity string `mapstructure:"identity"`

	// AuthorizedKeys is the public-key roster; a missing file accepts
	// every sender.
	AuthorizedKeys string `mapstructure:"authorized_keys"`
}

// BusConfig tunes inbox processing.
type BusConfig struct {
	// PollInterval is the fallback inbox scan cadence behind the
	// filesystem watcher.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// TasksConfig tunes the task-pool maintenance sweep.
type TasksConfig struct {
	// StaleAge is how long a claimed task may sit before the sweep
	// returns it to the pool.
	StaleAge time.Duration `mapstructure:"stale_age"`
}

// WorkersConfig bounds ephemeral workers.
type WorkersConfig struct {
	Max int `mapstructure:"max"`
}

// ProtectConfig feeds the shell guard so agents cannot kill their own host.
type ProtectConfig struct {
	// Port is this process's own service port; kill-by-port commands
	// naming it are refused.
	Port int `mapstructure:"port"`

	// Processes are process names agents must not kill.
	Processes []string `mapstructure:"processes"`
}

// LoggingConfig selects the global logger's level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GetDataDir returns the society data directory, respecting the
// SOCIETY_DATA_DIR environment variable and falling back to ~/.society-agent.
func GetDataDir() string {
	if dataDir := os.Getenv("SOCIETY_DATA_DIR"); dataDir != "" {
		return dataDir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir cannot be determined
		return runtime.SharedDirName
	}
	return filepath.Join(homeDir, runtime.SharedDirName)
}

// LoadConfig loads configuration from multiple sources with proper priority:
// 1. Command line flags (highest priority)
// 2. Config file
// 3. Environment variables
// 4. Defaults (lowest priority)
func LoadConfig(cfgFile string) (*Config, error) {
	// Set defaults
	setDefaults()

	// Setup config file
	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in standard locations
		viper.AddConfigPath(GetDataDir())          // Data directory (respects SOCIETY_DATA_DIR)
		viper.AddConfigPath(".")                   // Current directory
		viper.AddConfigPath("/etc/society/")       // System-wide
		viper.SetConfigName(DefaultConfigFileName) // society.yaml
		viper.SetConfigType("yaml")
	}

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	// Bind environment variables: SOCIETY_LLM_PROVIDER -> llm.provider
	viper.SetEnvPrefix("SOCIETY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Unmarshal config
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set DataDir from environment or default
	// This must be done after unmarshal since it's not loaded from config file
	config.DataDir = GetDataDir()

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	dataDir := GetDataDir()

	// Layout defaults keep everything under the data dir; explicit paths
	// support the sibling layout (several workspaces next to one shared dir).
	viper.SetDefault("workspace", filepath.Join(dataDir, "workspace"))
	viper.SetDefault("shared_dir", dataDir)
	viper.SetDefault("projects_dir", filepath.Join(dataDir, runtime.ProjectsDirName))

	// Agent defaults
	viper.SetDefault("agent.role", "supervisor")
	viper.SetDefault("agent.heartbeat_interval", 30*time.Second)
	viper.SetDefault("agent.online_window", 2*time.Minute)

	// Peer server defaults
	viper.SetDefault("server.port_min", runtime.DefaultPortMin)
	viper.SetDefault("server.port_max", runtime.DefaultPortMax)

	// LLM defaults
	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.model", "claude-sonnet-4-5")

	// Bus defaults
	viper.SetDefault("bus.poll_interval", 3*time.Second)

	// Task pool defaults
	viper.SetDefault("tasks.stale_age", runtime.DefaultStaleTaskAge)

	// Worker defaults
	viper.SetDefault("workers.max", 5)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// runtimeConfig maps the CLI configuration onto the runtime's config. The
// runtime normalizes it again, so zero values stay "use the default".
func (c *Config) runtimeConfig() runtime.Config {
	return runtime.Config{
		ID:                 c.Agent.ID,
		WorkspacePath:      c.Workspace,
		SharedDir:          c.SharedDir,
		ProjectsDir:        c.ProjectsDir,
		PortMin:            c.Server.PortMin,
		PortMax:            c.Server.PortMax,
		Role:               c.Agent.Role,
		Capabilities:       c.Agent.Capabilities,
		IdentityPath:       c.Signing.Identity,
		AuthorizedKeysPath: c.Signing.AuthorizedKeys,
		Provider:           c.LLM.Provider,
		Model:              c.LLM.Model,
		HeartbeatInterval:  c.Agent.HeartbeatInterval,
		OnlineWindow:       c.Agent.OnlineWindow,
		InboxPoll:          c.Bus.PollInterval,
		StaleTaskAge:       c.Tasks.StaleAge,
		MaxWorkers:         c.Workers.Max,
		SystemPort:         c.Protect.Port,
		SystemProcessNames: c.Protect.Processes,
	}
}

// GenerateExampleConfig returns an example society.yaml.
func GenerateExampleConfig() string {
	return `# Society Agent Configuration
# Priority: CLI flags > config file > environment variables > defaults
# Environment variables use the SOCIETY_ prefix: SOCIETY_LLM_PROVIDER, etc.

# Layout. Defaults keep everything under the data dir; point several
# agent processes at sibling workspaces to run a team on one host.
# workspace: ~/.society-agent/workspace
# shared_dir: ~/.society-agent
# projects_dir: ~/.society-agent/projects

agent:
  # id:                 # default: persisted in {workspace}/.agent-id
  role: supervisor      # supervisor, backend, frontend, tester, devops, security
  # capabilities: [go, sql]
  heartbeat_interval: 30s
  online_window: 2m

server:
  port_min: 3000        # peer HTTP server scans this range
  port_max: 4000

llm:
  # Provider options: anthropic, openai, ollama (API keys come from the
  # provider's usual environment variables)
  provider: anthropic
  model: claude-sonnet-4-5

signing:
  # identity: ~/.society-agent/identity.pem     # Ed25519 PEM or JWK
  # authorized_keys: ~/.society-agent/authorized_keys.json

bus:
  poll_interval: 3s     # inbox scan cadence behind the fs watcher

tasks:
  stale_age: 5m         # claimed tasks older than this return to the pool

workers:
  max: 5                # concurrent ephemeral workers

# protect:
#   port: 8080          # this host's own service port, refuse kills on it
#   processes: [society-agent]

logging:
  level: info           # debug, info, warn, error
  format: text          # text, json
`
}
