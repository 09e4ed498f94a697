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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/events"
)

func writeHomeFile(t *testing.T, td *testDeps, rel, content string) {
	t.Helper()
	abs := filepath.Join(td.Home.Root(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestReadFile(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "src/app.js", "line1\nline2\nline3")

	tool := &readFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path": "src/app.js"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "line1\nline2\nline3", data["content"])
	assert.Equal(t, 3, data["totalLines"])
	assert.Equal(t, false, data["truncated"])
}

func TestReadFileWindow(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "big.txt", "a\nb\nc\nd\ne")

	tool := &readFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"path":       "big.txt",
		"start_line": float64(2),
		"max_lines":  float64(2),
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, "b\nc", data["content"])
	assert.Equal(t, 5, data["totalLines"])
	assert.Equal(t, true, data["truncated"])
}

func TestReadFileNotFound(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "notes.txt", "x")

	tool := &readFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path": "missing.txt"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "FILE_NOT_FOUND", res.Error.Code)
	siblings, isList := res.Error.Details["siblings"].([]string)
	require.True(t, isList)
	assert.Contains(t, siblings, "notes.txt")
}

func TestReadFileRejectsEscape(t *testing.T) {
	td := newTestDeps(t)

	tool := &readFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path": "../../../etc/passwd"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "ACCESS_DENIED", res.Error.Code)
}

func TestWriteFileCreatesParentsAndEmitsEvent(t *testing.T) {
	td := newTestDeps(t)
	ch, cancel := td.Broker.Subscribe(events.TypeFileCreated, 2)
	defer cancel()

	tool := &writeFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"path":    "deep/nested/out.txt",
		"content": "hello",
	})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["created"])

	onDisk, err := os.ReadFile(filepath.Join(td.Home.Root(), "deep/nested/out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(onDisk))

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeFileCreated, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("no file-created event")
	}
}

func TestWriteFileOverwriteIsNotCreate(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "out.txt", "old")
	ch, cancel := td.Broker.Subscribe(events.TypeFileCreated, 2)
	defer cancel()

	tool := &writeFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path": "out.txt", "content": "new"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, false, data["created"])
	select {
	case <-ch:
		t.Fatal("overwrite must not emit file-created")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPatchFileReplacesUniqueMatch(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "main.go", "func a() {}\nfunc b() {}\n")

	tool := &patchFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"path":     "main.go",
		"old_text": "func b() {}",
		"new_text": "func b() { return }",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	onDisk, err := os.ReadFile(filepath.Join(td.Home.Root(), "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "func a() {}\nfunc b() { return }\n", string(onDisk))
}

func TestPatchFileNotFoundText(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "main.go", "func a() {}\n")

	tool := &patchFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"path":     "main.go",
		"old_text": "func missing()",
		"new_text": "x",
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "PATCH_NOT_FOUND", res.Error.Code)
	assert.Contains(t, res.Error.Suggestion, "exactly")
}

func TestPatchFileAmbiguousMatch(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "main.go", "x := 1\nx := 1\n")

	tool := &patchFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"path":     "main.go",
		"old_text": "x := 1",
		"new_text": "x := 2",
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "PATCH_NOT_UNIQUE", res.Error.Code)
	assert.Equal(t, 2, res.Error.Details["occurrences"])
}

func TestListFiles(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "b.txt", "b")
	writeHomeFile(t, td, "a.txt", "a")
	require.NoError(t, os.MkdirAll(filepath.Join(td.Home.Root(), "sub"), 0o755))

	tool := &listFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 3, data["count"])
}

func TestDeleteFile(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "gone.txt", "x")

	tool := &deleteFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path": "gone.txt"})
	require.NoError(t, err)
	require.True(t, res.Success)

	_, statErr := os.Stat(filepath.Join(td.Home.Root(), "gone.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMoveFile(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "old/name.txt", "content")

	tool := &moveFileTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"from": "old/name.txt",
		"to":   "new/dir/name.txt",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	onDisk, err := os.ReadFile(filepath.Join(td.Home.Root(), "new/dir/name.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(onDisk))
}

func TestFindFilesSkipsExcludedDirs(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "src/app.test.js", "x")
	writeHomeFile(t, td, "node_modules/dep/dep.test.js", "x")
	writeHomeFile(t, td, "src/app.js", "x")

	tool := &findFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": "*.test.js"})
	require.NoError(t, err)

	data := resultData(t, res)
	matches, ok := data["matches"].([]string)
	require.True(t, ok)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0], "app.test.js")
}

func TestFindFilesRejectsBadGlob(t *testing.T) {
	td := newTestDeps(t)

	tool := &findFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": "[unclosed"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_PARAMS", res.Error.Code)
}

func TestSearchInFiles(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "a.go", "package main\n// TODO: fix this\n")
	writeHomeFile(t, td, "b.go", "package main\n")

	tool := &searchInFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"query": "todo"})
	require.NoError(t, err)

	data := resultData(t, res)
	matches, ok := data["matches"].([]string)
	require.True(t, ok)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0], "a.go:2:")
}

func TestSearchInFilesRegex(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "a.go", "func Alpha() {}\nfunc beta() {}\n")

	tool := &searchInFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{
		"query":          `func [A-Z]\w+`,
		"regex":          true,
		"case_sensitive": true,
	})
	require.NoError(t, err)

	data := resultData(t, res)
	matches := data["matches"].([]string)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0], "Alpha")
}

func TestSearchInFilesSkipsBinary(t *testing.T) {
	td := newTestDeps(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(td.Home.Root(), "blob.bin"),
		append([]byte{0, 1, 2}, []byte("needle")...), 0o644))

	tool := &searchInFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"query": "needle"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, 0, data["count"])
}

func TestCompareFilesIdentical(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "a.txt", "same\ncontent\n")
	writeHomeFile(t, td, "b.txt", "same\ncontent\n")

	tool := &compareFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path_a": "a.txt", "path_b": "b.txt"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, true, data["identical"])
}

func TestCompareFilesDiff(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "a.txt", "alpha\nshared\n")
	writeHomeFile(t, td, "b.txt", "beta\nshared\n")

	tool := &compareFilesTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path_a": "a.txt", "path_b": "b.txt"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, false, data["identical"])
	diff := data["diff"].(string)
	assert.True(t, strings.HasPrefix(diff, "--- a.txt\n+++ b.txt\n"))
	assert.Contains(t, diff, "alpha")
	assert.Contains(t, diff, "beta")
}

func TestGetFileInfo(t *testing.T) {
	td := newTestDeps(t)
	writeHomeFile(t, td, "info.txt", "12345")

	tool := &getFileInfoTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path": "info.txt"})
	require.NoError(t, err)

	data := resultData(t, res)
	assert.Equal(t, false, data["isDir"])
	assert.Equal(t, int64(5), data["sizeBytes"])
}

func TestCreateDirectory(t *testing.T) {
	td := newTestDeps(t)

	tool := &createDirectoryTool{td.Deps}
	res, err := tool.Execute(context.Background(), map[string]any{"path": "a/b/c"})
	require.NoError(t, err)
	require.True(t, res.Success)

	info, err := os.Stat(filepath.Join(td.Home.Root(), "a/b/c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
