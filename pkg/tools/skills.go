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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFile is the manifest each skill directory must carry.
const SkillFile = "SKILL.md"

// skillMeta is the yaml front-matter at the top of a SKILL.md.
type skillMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// splitFrontMatter separates the yaml header from the markdown body. Content
// without a front-matter block comes back with empty meta.
func splitFrontMatter(content string) (skillMeta, string) {
	var meta skillMeta
	rest, found := strings.CutPrefix(content, "---\n")
	if !found {
		return meta, content
	}
	header, body, found := strings.Cut(rest, "\n---")
	if !found {
		return meta, content
	}
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return skillMeta{}, content
	}
	return meta, strings.TrimLeft(body, "-\n")
}

// validSkillName rejects anything that could walk out of the skills tree.
func validSkillName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\") && !strings.Contains(name, "..")
}

// listGlobalSkillsTool lists the skills every agent can read.
type listGlobalSkillsTool struct {
	deps *Deps
}

func (t *listGlobalSkillsTool) Name() string { return "list_global_skills" }

func (t *listGlobalSkillsTool) Description() string {
	return "List the shared skills available to all agents, with their descriptions."
}

func (t *listGlobalSkillsTool) InputSchema() *JSONSchema {
	return NewObjectSchema("No parameters", map[string]*JSONSchema{}, nil)
}

func (t *listGlobalSkillsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	entries, err := os.ReadDir(t.deps.SkillsDir)
	if os.IsNotExist(err) {
		return ok(map[string]any{"skills": []any{}, "count": 0}), nil
	}
	if err != nil {
		return fail("LIST_FAILED", fmt.Sprintf("Cannot read the skills tree: %v", err), ""), nil
	}

	type skill struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	var skills []skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.deps.SkillsDir, entry.Name(), SkillFile))
		if err != nil {
			continue
		}
		meta, _ := splitFrontMatter(string(data))
		s := skill{Name: entry.Name(), Description: meta.Description}
		if meta.Name != "" {
			s.Name = meta.Name
		}
		skills = append(skills, s)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })

	return ok(map[string]any{"skills": skills, "count": len(skills)}), nil
}

// readGlobalSkillTool returns one skill's full instructions.
type readGlobalSkillTool struct {
	deps *Deps
}

func (t *readGlobalSkillTool) Name() string { return "read_global_skill" }

func (t *readGlobalSkillTool) Description() string {
	return "Read the full instructions of a shared skill by name."
}

func (t *readGlobalSkillTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for reading a skill",
		map[string]*JSONSchema{
			"name": NewStringSchema("The skill's directory name, as shown by list_global_skills"),
		},
		[]string{"name"},
	)
}

func (t *readGlobalSkillTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	name, hasName := stringParam(params, "name")
	if !hasName {
		return fail("INVALID_PARAMS", "name is required", ""), nil
	}
	if !validSkillName(name) {
		return fail("INVALID_NAME",
			fmt.Sprintf("%q is not a valid skill name", name),
			"Skill names are bare directory names with no path separators."), nil
	}

	dir := filepath.Join(t.deps.SkillsDir, name)
	data, err := os.ReadFile(filepath.Join(dir, SkillFile))
	if os.IsNotExist(err) {
		return fail("SKILL_NOT_FOUND",
			fmt.Sprintf("No skill named %q", name),
			"Use list_global_skills to see what exists."), nil
	}
	if err != nil {
		return fail("READ_FAILED", fmt.Sprintf("Cannot read skill %q: %v", name, err), ""), nil
	}
	meta, body := splitFrontMatter(string(data))

	// Supporting files ship alongside the manifest.
	var extras []string
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || entry.Name() == SkillFile {
				continue
			}
			extras = append(extras, entry.Name())
		}
	}

	out := map[string]any{
		"name":    name,
		"content": strings.TrimSpace(body),
	}
	if meta.Description != "" {
		out["description"] = meta.Description
	}
	if len(extras) > 0 {
		out["supportingFiles"] = extras
	}
	return ok(out), nil
}
