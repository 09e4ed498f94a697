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

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/society-labs/society/pkg/errkind"
)

// ConfigFile is the server catalog, relative to the shared directory.
const ConfigFile = "mcp.json"

// ServerConfig describes how to launch one stdio MCP server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// envList renders Env as KEY=VALUE pairs for the subprocess, sorted so the
// launch is deterministic.
func (c ServerConfig) envList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

type catalog struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// load reads the server catalog. A missing file means no servers are
// configured, which is a normal state, not an error.
func (m *Manager) load() (map[string]ServerConfig, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var cat catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, errkind.ParseError("mcp config %s is not valid JSON: %v", m.path, err)
	}
	for name, cfg := range cat.Servers {
		if cfg.Command == "" {
			return nil, errkind.InvalidState("mcp server %s has no command", name)
		}
	}
	return cat.Servers, nil
}
