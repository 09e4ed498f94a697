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
	"strings"

	"github.com/society-labs/society/pkg/events"
)

// writeFileTool creates or overwrites a file inside the agent home.
type writeFileTool struct {
	deps *Deps
}

func (t *writeFileTool) Name() string { return "write_file" }

func (t *writeFileTool) Description() string {
	return "Write content to a file in your working folder, creating parent directories as needed. Overwrites existing files."
}

func (t *writeFileTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for writing a file",
		map[string]*JSONSchema{
			"path":    NewStringSchema("File path relative to your working folder"),
			"content": NewStringSchema("Full file content to write"),
		},
		[]string{"path", "content"},
	)
}

func (t *writeFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, hasPath := stringParam(params, "path")
	if !hasPath {
		return fail("INVALID_PARAMS", "path is required", ""), nil
	}
	content, _ := params["content"].(string)

	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}

	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fail("WRITE_FAILED", fmt.Sprintf("Failed to create parent directories: %v", err), ""), nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fail("WRITE_FAILED", fmt.Sprintf("Failed to write %s: %v", path, err), ""), nil
	}

	if created {
		t.deps.Broker.Emit(events.TypeFileCreated, t.deps.AgentID, t.deps.ProjectID,
			map[string]any{"path": path})
	}

	return ok(map[string]any{
		"path":    path,
		"bytes":   len(content),
		"created": created,
	}), nil
}

// patchFileTool replaces one exact-unique region of a file.
type patchFileTool struct {
	deps *Deps
}

func (t *patchFileTool) Name() string { return "patch_file" }

func (t *patchFileTool) Description() string {
	return "Replace an exact text region in a file. old_text must appear exactly once; include enough surrounding lines to make it unique."
}

func (t *patchFileTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for patching a file",
		map[string]*JSONSchema{
			"path":     NewStringSchema("File path relative to your working folder"),
			"old_text": NewStringSchema("Exact text to find (must match exactly once, whitespace included)"),
			"new_text": NewStringSchema("Replacement text"),
		},
		[]string{"path", "old_text", "new_text"},
	)
}

func (t *patchFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, hasPath := stringParam(params, "path")
	if !hasPath {
		return fail("INVALID_PARAMS", "path is required", ""), nil
	}
	oldText, hasOld := params["old_text"].(string)
	newText, hasNew := params["new_text"].(string)
	if !hasOld || oldText == "" || !hasNew {
		return fail("INVALID_PARAMS", "old_text and new_text are required", ""), nil
	}

	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}

	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return fail("FILE_NOT_FOUND", fmt.Sprintf("File not found: %s", path), ""), nil
	}
	if err != nil {
		return fail("READ_FAILED", fmt.Sprintf("Failed to read %s: %v", path, err), ""), nil
	}

	content := string(data)
	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		return failDetails("PATCH_NOT_FOUND",
			fmt.Sprintf("old_text not found in %s", path),
			"Read the file and copy the target region exactly, whitespace included.",
			map[string]any{"path": path}), nil
	case count > 1:
		return failDetails("PATCH_NOT_UNIQUE",
			fmt.Sprintf("old_text appears %d times in %s; it must be unique", count, path),
			"Include more surrounding lines so the match is unambiguous.",
			map[string]any{"path": path, "occurrences": count}), nil
	}

	patched := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(patched), 0o644); err != nil {
		return fail("WRITE_FAILED", fmt.Sprintf("Failed to write %s: %v", path, err), ""), nil
	}

	return ok(map[string]any{
		"path":         path,
		"bytesBefore":  len(content),
		"bytesAfter":   len(patched),
		"replacements": 1,
	}), nil
}

// deleteFileTool removes a file or empty directory inside the agent home.
type deleteFileTool struct {
	deps *Deps
}

func (t *deleteFileTool) Name() string { return "delete_file" }

func (t *deleteFileTool) Description() string {
	return "Delete a file or empty directory in your working folder."
}

func (t *deleteFileTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for deleting a path",
		map[string]*JSONSchema{
			"path": NewStringSchema("Path relative to your working folder"),
		},
		[]string{"path"},
	)
}

func (t *deleteFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, hasPath := stringParam(params, "path")
	if !hasPath {
		return fail("INVALID_PARAMS", "path is required", ""), nil
	}

	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return fail("FILE_NOT_FOUND", fmt.Sprintf("Path not found: %s", path), ""), nil
	}
	if err := os.Remove(abs); err != nil {
		return fail("DELETE_FAILED", fmt.Sprintf("Failed to delete %s: %v", path, err),
			"Directories must be empty; delete their contents first."), nil
	}

	t.deps.Broker.Emit(events.TypeFileDeleted, t.deps.AgentID, t.deps.ProjectID,
		map[string]any{"path": path})
	return ok(map[string]any{"path": path, "deleted": true}), nil
}

// moveFileTool renames a path inside the agent home.
type moveFileTool struct {
	deps *Deps
}

func (t *moveFileTool) Name() string { return "move_file" }

func (t *moveFileTool) Description() string {
	return "Move or rename a file or directory within your working folder."
}

func (t *moveFileTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for moving a path",
		map[string]*JSONSchema{
			"from": NewStringSchema("Current path, relative to your working folder"),
			"to":   NewStringSchema("New path, relative to your working folder"),
		},
		[]string{"from", "to"},
	)
}

func (t *moveFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	from, okFrom := stringParam(params, "from")
	to, okTo := stringParam(params, "to")
	if !okFrom || !okTo {
		return fail("INVALID_PARAMS", "from and to are required", ""), nil
	}

	absFrom, err := t.deps.Home.Resolve(from)
	if err != nil {
		return accessDenied(from, err), nil
	}
	absTo, err := t.deps.Home.Resolve(to)
	if err != nil {
		return accessDenied(to, err), nil
	}

	if _, err := os.Stat(absFrom); os.IsNotExist(err) {
		return fail("FILE_NOT_FOUND", fmt.Sprintf("Path not found: %s", from), ""), nil
	}
	if err := os.MkdirAll(filepath.Dir(absTo), 0o755); err != nil {
		return fail("MOVE_FAILED", fmt.Sprintf("Failed to create destination parent: %v", err), ""), nil
	}
	if err := os.Rename(absFrom, absTo); err != nil {
		return fail("MOVE_FAILED", fmt.Sprintf("Failed to move %s to %s: %v", from, to, err), ""), nil
	}

	t.deps.Broker.Emit(events.TypeFileMoved, t.deps.AgentID, t.deps.ProjectID,
		map[string]any{"from": from, "to": to})
	return ok(map[string]any{"from": from, "to": to, "moved": true}), nil
}

// createDirectoryTool mkdir -p's inside the agent home.
type createDirectoryTool struct {
	deps *Deps
}

func (t *createDirectoryTool) Name() string { return "create_directory" }

func (t *createDirectoryTool) Description() string {
	return "Create a directory (and any missing parents) in your working folder."
}

func (t *createDirectoryTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for creating a directory",
		map[string]*JSONSchema{
			"path": NewStringSchema("Directory path relative to your working folder"),
		},
		[]string{"path"},
	)
}

func (t *createDirectoryTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, hasPath := stringParam(params, "path")
	if !hasPath {
		return fail("INVALID_PARAMS", "path is required", ""), nil
	}

	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fail("MKDIR_FAILED", fmt.Sprintf("Failed to create %s: %v", path, err), ""), nil
	}

	return ok(map[string]any{"path": path, "created": true}), nil
}
