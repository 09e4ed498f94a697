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
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// MaxFileReadSize caps reads to keep single tool results bounded.
	MaxFileReadSize = 10 * 1024 * 1024

	// DefaultMaxLines limits text output to prevent context bloat.
	DefaultMaxLines = 1000

	// MaxSearchMatches caps search_in_files output.
	MaxSearchMatches = 200
)

// excludedDirs are skipped by every walking tool, unconditionally. Build
// output and dependency trees drown the model in noise.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
	".next":        true,
	".cache":       true,
}

// readFileTool reads a file inside the agent home.
type readFileTool struct {
	deps *Deps
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Description() string {
	return "Read a file from your working folder. Returns the text content; large files are truncated by max_lines."
}

func (t *readFileTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for reading a file",
		map[string]*JSONSchema{
			"path":       NewStringSchema("File path relative to your working folder"),
			"max_lines":  NewNumberSchema("Maximum lines to return (default 1000, 0 = unlimited)"),
			"start_line": NewNumberSchema("Start reading from this 1-based line (default 1)"),
		},
		[]string{"path"},
	)
}

func (t *readFileTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, hasPath := stringParam(params, "path")
	if !hasPath {
		return fail("INVALID_PARAMS", "path is required", "Provide a file path, e.g. 'src/server.js'."), nil
	}

	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		res := fail("FILE_NOT_FOUND", fmt.Sprintf("File not found: %s", path),
			"Check the path with list_files first.")
		if sibs := siblingEntries(abs); len(sibs) > 0 {
			res.Error.Details = map[string]any{"siblings": sibs}
		}
		return res, nil
	}
	if err != nil {
		return fail("STAT_FAILED", fmt.Sprintf("Failed to stat %s: %v", path, err), ""), nil
	}
	if info.IsDir() {
		return fail("IS_DIRECTORY", fmt.Sprintf("%s is a directory, not a file", path),
			"Use list_files for directories."), nil
	}
	if info.Size() > MaxFileReadSize {
		return fail("FILE_TOO_LARGE",
			fmt.Sprintf("File too large: %d bytes (max %d)", info.Size(), MaxFileReadSize),
			"Use start_line and max_lines to read a portion."), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fail("READ_FAILED", fmt.Sprintf("Failed to read %s: %v", path, err), ""), nil
	}

	maxLines := int(optionalNumber(params, "max_lines", DefaultMaxLines))
	startLine := int(optionalNumber(params, "start_line", 1))
	if startLine < 1 {
		startLine = 1
	}

	lines := strings.Split(string(data), "\n")
	totalLines := len(lines)
	if startLine > 1 {
		if startLine > len(lines) {
			lines = nil
		} else {
			lines = lines[startLine-1:]
		}
	}
	truncated := false
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}

	return ok(map[string]any{
		"path":       path,
		"content":    strings.Join(lines, "\n"),
		"totalLines": totalLines,
		"startLine":  startLine,
		"truncated":  truncated,
		"sizeBytes":  info.Size(),
	}), nil
}

// listFilesTool lists one directory level inside the agent home.
type listFilesTool struct {
	deps *Deps
}

func (t *listFilesTool) Name() string { return "list_files" }

func (t *listFilesTool) Description() string {
	return "List files and directories at a path in your working folder (non-recursive)."
}

func (t *listFilesTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for listing a directory",
		map[string]*JSONSchema{
			"path": NewStringSchema("Directory path relative to your working folder (default '.')").
				WithDefault("."),
		},
		nil,
	)
}

func (t *listFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path := optionalString(params, "path", ".")

	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}

	entries, err := os.ReadDir(abs)
	if os.IsNotExist(err) {
		return fail("DIR_NOT_FOUND", fmt.Sprintf("Directory not found: %s", path), ""), nil
	}
	if err != nil {
		return fail("LIST_FAILED", fmt.Sprintf("Failed to list %s: %v", path, err), ""), nil
	}

	type entry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"isDir"`
		Size  int64  `json:"size,omitempty"`
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		item := entry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return ok(map[string]any{"path": path, "entries": out, "count": len(out)}), nil
}

// getFileInfoTool stats one path inside the agent home.
type getFileInfoTool struct {
	deps *Deps
}

func (t *getFileInfoTool) Name() string { return "get_file_info" }

func (t *getFileInfoTool) Description() string {
	return "Get size, type, and modification time for a path in your working folder."
}

func (t *getFileInfoTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for stating a path",
		map[string]*JSONSchema{
			"path": NewStringSchema("Path relative to your working folder"),
		},
		[]string{"path"},
	)
}

func (t *getFileInfoTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	path, hasPath := stringParam(params, "path")
	if !hasPath {
		return fail("INVALID_PARAMS", "path is required", ""), nil
	}

	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return accessDenied(path, err), nil
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fail("FILE_NOT_FOUND", fmt.Sprintf("Path not found: %s", path), ""), nil
	}
	if err != nil {
		return fail("STAT_FAILED", fmt.Sprintf("Failed to stat %s: %v", path, err), ""), nil
	}

	return ok(map[string]any{
		"path":       path,
		"isDir":      info.IsDir(),
		"sizeBytes":  info.Size(),
		"modifiedAt": info.ModTime().UTC().Format(time.RFC3339),
		"mode":       info.Mode().String(),
	}), nil
}

// findFilesTool walks the agent home matching a glob against file names.
type findFilesTool struct {
	deps *Deps
}

func (t *findFilesTool) Name() string { return "find_files" }

func (t *findFilesTool) Description() string {
	return "Find files by name pattern (glob, e.g. '*.test.js') anywhere under your working folder. Dependency and build directories are always skipped."
}

func (t *findFilesTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for finding files",
		map[string]*JSONSchema{
			"pattern": NewStringSchema("Glob matched against file names, e.g. '*.go' or 'server.*'"),
			"path":    NewStringSchema("Subdirectory to search under (default '.')").WithDefault("."),
		},
		[]string{"pattern"},
	)
}

func (t *findFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	pattern, hasPattern := stringParam(params, "pattern")
	if !hasPattern {
		return fail("INVALID_PARAMS", "pattern is required", "Provide a glob, e.g. '*.go'."), nil
	}
	if _, err := filepath.Match(pattern, "probe"); err != nil {
		return fail("INVALID_PARAMS", fmt.Sprintf("bad glob pattern %q: %v", pattern, err), ""), nil
	}
	root := optionalString(params, "path", ".")

	abs, err := t.deps.Home.Resolve(root)
	if err != nil {
		return accessDenied(root, err), nil
	}

	var matches []string
	walkErr := walkSandbox(abs, func(p string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		if matched, _ := filepath.Match(pattern, d.Name()); matched {
			matches = append(matches, t.deps.Home.Relative(p))
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return fail("FIND_FAILED", fmt.Sprintf("Search failed: %v", walkErr), ""), nil
	}
	sort.Strings(matches)

	return ok(map[string]any{"pattern": pattern, "matches": matches, "count": len(matches)}), nil
}

// searchInFilesTool greps file contents under the agent home.
type searchInFilesTool struct {
	deps *Deps
}

func (t *searchInFilesTool) Name() string { return "search_in_files" }

func (t *searchInFilesTool) Description() string {
	return "Search file contents under your working folder. Matches come back as 'path:line: text'. Set regex=true for regular-expression search."
}

func (t *searchInFilesTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for searching file contents",
		map[string]*JSONSchema{
			"query":          NewStringSchema("Substring or regular expression to search for"),
			"path":           NewStringSchema("Subdirectory to search under (default '.')").WithDefault("."),
			"regex":          NewBooleanSchema("Treat query as a regular expression").WithDefault(false),
			"file_pattern":   NewStringSchema("Only search files whose name matches this glob"),
			"case_sensitive": NewBooleanSchema("Case-sensitive match (default false)").WithDefault(false),
		},
		[]string{"query"},
	)
}

func (t *searchInFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	query, hasQuery := stringParam(params, "query")
	if !hasQuery {
		return fail("INVALID_PARAMS", "query is required", ""), nil
	}
	root := optionalString(params, "path", ".")
	useRegex := optionalBool(params, "regex", false)
	filePattern := optionalString(params, "file_pattern", "")
	caseSensitive := optionalBool(params, "case_sensitive", false)

	abs, err := t.deps.Home.Resolve(root)
	if err != nil {
		return accessDenied(root, err), nil
	}

	var re *regexp.Regexp
	if useRegex {
		expr := query
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err = regexp.Compile(expr)
		if err != nil {
			return fail("INVALID_PARAMS", fmt.Sprintf("bad regex %q: %v", query, err),
				"Fix the expression or set regex=false for a plain substring search."), nil
		}
	}
	needle := query
	if !caseSensitive {
		needle = strings.ToLower(needle)
	}

	var matches []string
	truncated := false
	walkErr := walkSandbox(abs, func(p string, d fs.DirEntry) error {
		if truncated || d.IsDir() {
			return nil
		}
		if filePattern != "" {
			if matched, _ := filepath.Match(filePattern, d.Name()); !matched {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > MaxFileReadSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil || !isProbablyText(data) {
			return nil
		}
		rel := t.deps.Home.Relative(p)
		for i, line := range strings.Split(string(data), "\n") {
			var hit bool
			if re != nil {
				hit = re.MatchString(line)
			} else if caseSensitive {
				hit = strings.Contains(line, needle)
			} else {
				hit = strings.Contains(strings.ToLower(line), needle)
			}
			if !hit {
				continue
			}
			matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
			if len(matches) >= MaxSearchMatches {
				truncated = true
				return nil
			}
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return fail("SEARCH_FAILED", fmt.Sprintf("Search failed: %v", walkErr), ""), nil
	}

	return ok(map[string]any{
		"query":     query,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}), nil
}

// compareFilesTool diffs two files inside the agent home.
type compareFilesTool struct {
	deps *Deps
}

func (t *compareFilesTool) Name() string { return "compare_files" }

func (t *compareFilesTool) Description() string {
	return "Compare two files in your working folder and return a readable diff."
}

func (t *compareFilesTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for comparing two files",
		map[string]*JSONSchema{
			"path_a": NewStringSchema("First file, relative to your working folder"),
			"path_b": NewStringSchema("Second file, relative to your working folder"),
		},
		[]string{"path_a", "path_b"},
	)
}

func (t *compareFilesTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	pathA, okA := stringParam(params, "path_a")
	pathB, okB := stringParam(params, "path_b")
	if !okA || !okB {
		return fail("INVALID_PARAMS", "path_a and path_b are required", ""), nil
	}

	contentA, res := t.readOne(pathA)
	if res != nil {
		return res, nil
	}
	contentB, res := t.readOne(pathB)
	if res != nil {
		return res, nil
	}

	if contentA == contentB {
		return ok(map[string]any{"identical": true, "diff": ""}), nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(contentA, contentB, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", pathA, pathB)
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			writePrefixed(&b, "+ ", diff.Text)
		case diffmatchpatch.DiffDelete:
			writePrefixed(&b, "- ", diff.Text)
		case diffmatchpatch.DiffEqual:
			lines := strings.Split(diff.Text, "\n")
			if len(lines) > 4 {
				b.WriteString("  " + lines[0] + "\n  ...\n  " + lines[len(lines)-1] + "\n")
			} else {
				writePrefixed(&b, "  ", diff.Text)
			}
		}
	}

	return ok(map[string]any{"identical": false, "diff": b.String()}), nil
}

func (t *compareFilesTool) readOne(path string) (string, *Result) {
	abs, err := t.deps.Home.Resolve(path)
	if err != nil {
		return "", accessDenied(path, err)
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return "", fail("FILE_NOT_FOUND", fmt.Sprintf("File not found: %s", path), "")
	}
	if err != nil {
		return "", fail("READ_FAILED", fmt.Sprintf("Failed to read %s: %v", path, err), "")
	}
	return string(data), nil
}

func writePrefixed(b *strings.Builder, prefix, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b.WriteString(prefix + line + "\n")
	}
}

// walkSandbox walks root depth-first, skipping the excluded directory names
// everywhere they appear.
func walkSandbox(root string, fn func(path string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && excludedDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fn(path, d)
	})
}

// siblingEntries lists what actually exists next to a missing path.
// Directories get a trailing slash; the list is capped to stay readable.
func siblingEntries(absMissing string) []string {
	entries, err := os.ReadDir(filepath.Dir(absMissing))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if excludedDirs[name] {
				continue
			}
			name += "/"
		}
		names = append(names, name)
		if len(names) >= 20 {
			break
		}
	}
	return names
}

// isProbablyText rejects binary content by sniffing for NUL bytes in the
// first KiB.
func isProbablyText(data []byte) bool {
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return true
}
