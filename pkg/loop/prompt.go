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

package loop

import (
	"fmt"
	"strings"
	"time"

	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/tools"
)

const promptDivider = "\n\n---\n\n"

// briefingLineLen caps each tool line in the briefing.
const briefingLineLen = 120

// composeSystemPrompt layers the prompt: universal operating rules, the
// agent's role prompt, project knowledge, the memory summary, and a tool
// briefing. The loop recomposes it every iteration so config edits land
// mid-run.
func composeSystemPrompt(cfg *project.AgentConfig, proj *project.Project, catalog []tools.Tool, now time.Time) string {
	sections := make([]string, 0, 5)
	sections = append(sections, universalSection(cfg, proj, now))

	if role := roleSection(cfg); role != "" {
		sections = append(sections, role)
	}
	if proj != nil && strings.TrimSpace(proj.Knowledge) != "" {
		sections = append(sections, "Project knowledge:\n\n"+strings.TrimSpace(proj.Knowledge))
	}
	if cfg != nil && strings.TrimSpace(cfg.MemorySummary) != "" {
		sections = append(sections, "What you remember from earlier work:\n\n"+strings.TrimSpace(cfg.MemorySummary))
	}
	if briefing := toolBriefing(catalog); briefing != "" {
		sections = append(sections, briefing)
	}
	return strings.Join(sections, promptDivider)
}

func universalSection(cfg *project.AgentConfig, proj *project.Project, now time.Time) string {
	name, home := "agent", "."
	if cfg != nil {
		if cfg.Name != "" {
			name = cfg.Name
		} else if cfg.ID != "" {
			name = cfg.ID
		}
		if cfg.HomeFolder != "" {
			home = cfg.HomeFolder
		}
	}
	projectName := "an unnamed project"
	if proj != nil && proj.Name != "" {
		projectName = fmt.Sprintf("project %q", proj.Name)
	}

	return fmt.Sprintf(`You are %s, an autonomous agent collaborating with a team on %s.

Operating rules:
- Act through your tools; never fabricate tool output or invent file contents.
- Work inside your home folder (%s) unless a tool result says otherwise.
- Coordinate through messages and the task pool instead of guessing at teammates' state.
- Report meaningful progress to your supervisor and raise blockers early.
- Finish the work, not just the analysis: reading without acting completes nothing.

Current time: %s`, name, projectName, home, now.Format(time.RFC1123))
}

func roleSection(cfg *project.AgentConfig) string {
	if cfg == nil {
		return ""
	}
	if strings.TrimSpace(cfg.SystemPrompt) != "" {
		return strings.TrimSpace(cfg.SystemPrompt)
	}
	if cfg.Role != "" {
		return fmt.Sprintf("Your role: %s.", cfg.Role)
	}
	return ""
}

// toolBriefing renders one line per catalog entry, first line of the
// description only.
func toolBriefing(catalog []tools.Tool) string {
	if len(catalog) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, tool := range catalog {
		desc := tool.Description()
		if idx := strings.IndexByte(desc, '\n'); idx >= 0 {
			desc = desc[:idx]
		}
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), truncateRunes(strings.TrimSpace(desc), briefingLineLen))
	}
	return strings.TrimRight(b.String(), "\n")
}
