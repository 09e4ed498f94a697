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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// MaxProjectListing caps list_project_files output.
const MaxProjectListing = 500

// correctProjectPath repairs the path mistakes models make against the
// project tree: a leading `projects/` or `projects/{id}/` prefix, absolute
// paths that really point inside the project, and misspelled first segments
// that resolve to exactly one existing folder.
func correctProjectPath(sandbox *Sandbox, projectID, raw string) (string, []string) {
	var notes []string
	p := filepath.ToSlash(strings.TrimSpace(raw))

	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(sandbox.Root(), p); err == nil && !strings.HasPrefix(rel, "..") {
			p = filepath.ToSlash(rel)
			notes = append(notes, fmt.Sprintf("converted absolute path to %q", p))
		}
	}

	for _, prefix := range []string{"projects/" + projectID + "/", "projects/"} {
		if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
			p = strings.TrimPrefix(p, prefix)
			notes = append(notes, fmt.Sprintf("stripped %q prefix", prefix))
			break
		}
	}

	// First-segment correction: when the leading folder does not exist,
	// prefer a unique prefix match among the real folders, then the fuzzy
	// closest one.
	first, rest, nested := strings.Cut(p, "/")
	if first != "" && first != "." {
		if _, err := os.Stat(filepath.Join(sandbox.Root(), first)); os.IsNotExist(err) {
			if corrected, found := closestFolder(sandbox.Root(), first); found {
				notes = append(notes, fmt.Sprintf("corrected %q to %q", first, corrected))
				if nested {
					p = corrected + "/" + rest
				} else {
					p = corrected
				}
			}
		}
	}

	return filepath.FromSlash(p), notes
}

// closestFolder finds the folder name to substitute for a missing first
// segment: a unique prefix match wins, otherwise the best fuzzy match.
func closestFolder(root, name string) (string, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}
	var folders []string
	for _, e := range entries {
		if e.IsDir() && !excludedDirs[e.Name()] {
			folders = append(folders, e.Name())
		}
	}
	if len(folders) == 0 {
		return "", false
	}

	var prefixed []string
	lower := strings.ToLower(name)
	for _, f := range folders {
		if strings.HasPrefix(strings.ToLower(f), lower) {
			prefixed = append(prefixed, f)
		}
	}
	if len(prefixed) == 1 {
		return prefixed[0], true
	}

	matches := fuzzy.Find(name, folders)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].Str, true
}

// readProjectFileTool reads any file in the project, read-only.
type readProjectFileTool struct {
	deps *Deps
}

func (t *readProjectFileTool) Name() string { return "read_project_file" }

func (t *readProjectFileTool) Description() string {
	return "Read a file from anywhere in the project (read-only), including other agents' folders. Paths are relative to the project root."
}

func (t *readProjectFileTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for reading a project file",
		map[string]*JSONSchema{
			"path":      NewStringSchema("File path relative to the project root"),
			"max_lines": NewNumberSchema("Maximum lines to return (default 1000, 0 = unlimited)"),
		},
		[]string{"path"},
	)
}

func (t *readProjectFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	rawPath, hasPath := stringParam(params, "path")
	if !hasPath {
		return fail("INVALID_PARAMS", "path is required", ""), nil
	}

	path, notes := correctProjectPath(t.deps.ProjectRoot, t.deps.ProjectID, rawPath)
	abs, err := t.deps.ProjectRoot.Resolve(path)
	if err != nil {
		return accessDenied(rawPath, err), nil
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		details := map[string]any{"requested": rawPath, "corrections": notes}
		if sibs := siblingEntries(abs); len(sibs) > 0 {
			details["siblings"] = sibs
		}
		return failDetails("FILE_NOT_FOUND",
			fmt.Sprintf("File not found in project: %s", path),
			"Use list_project_files to see what exists.",
			details), nil
	}
	if err != nil {
		return fail("STAT_FAILED", fmt.Sprintf("Failed to stat %s: %v", path, err), ""), nil
	}
	if info.IsDir() {
		return fail("IS_DIRECTORY", fmt.Sprintf("%s is a directory", path),
			"Use list_project_files for directories."), nil
	}
	if info.Size() > MaxFileReadSize {
		return fail("FILE_TOO_LARGE",
			fmt.Sprintf("File too large: %d bytes (max %d)", info.Size(), MaxFileReadSize), ""), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fail("READ_FAILED", fmt.Sprintf("Failed to read %s: %v", path, err), ""), nil
	}

	maxLines := int(optionalNumber(params, "max_lines", DefaultMaxLines))
	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)
	truncated := false
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}

	result := map[string]any{
		"path":       filepath.ToSlash(path),
		"content":    strings.Join(lines, "\n"),
		"totalLines": totalLines,
		"truncated":  truncated,
	}
	if len(notes) > 0 {
		result["pathCorrections"] = notes
	}
	return ok(result), nil
}

// listProjectFilesTool lists the project tree, read-only.
type listProjectFilesTool struct {
	deps *Deps
}

func (t *listProjectFilesTool) Name() string { return "list_project_files" }

func (t *listProjectFilesTool) Description() string {
	return "List files across the whole project tree (read-only), including other agents' folders. Dependency and build directories are skipped."
}

func (t *listProjectFilesTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for listing project files",
		map[string]*JSONSchema{
			"path": NewStringSchema("Subdirectory relative to the project root (default '.')").
				WithDefault("."),
		},
		nil,
	)
}

func (t *listProjectFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	rawPath := optionalString(params, "path", ".")

	path, notes := correctProjectPath(t.deps.ProjectRoot, t.deps.ProjectID, rawPath)
	abs, err := t.deps.ProjectRoot.Resolve(path)
	if err != nil {
		return accessDenied(rawPath, err), nil
	}

	var files []string
	truncated := false
	walkErr := walkSandbox(abs, func(p string, d fs.DirEntry) error {
		if truncated || d.IsDir() {
			return nil
		}
		files = append(files, filepath.ToSlash(t.deps.ProjectRoot.Relative(p)))
		if len(files) >= MaxProjectListing {
			truncated = true
		}
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return failDetails("DIR_NOT_FOUND",
				fmt.Sprintf("Directory not found in project: %s", path), "",
				map[string]any{"requested": rawPath, "corrections": notes}), nil
		}
		return fail("LIST_FAILED", fmt.Sprintf("Failed to list %s: %v", path, walkErr), ""), nil
	}
	sort.Strings(files)

	result := map[string]any{
		"path":      filepath.ToSlash(path),
		"files":     files,
		"count":     len(files),
		"truncated": truncated,
	}
	if len(notes) > 0 {
		result["pathCorrections"] = notes
	}
	return ok(result), nil
}
