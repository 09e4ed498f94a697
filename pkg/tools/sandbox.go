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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox confines tool-supplied paths to one root directory. Absolute
// paths are rejected outright, and relative paths are rejected when their
// symlink-resolved target lands outside the root.
type Sandbox struct {
	root string
}

// NewSandbox creates a sandbox rooted at root. The root need not exist yet;
// write tools create it on first use.
func NewSandbox(root string) *Sandbox {
	return &Sandbox{root: filepath.Clean(root)}
}

// Root returns the sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a tool-supplied path to an absolute path inside the sandbox.
// The returned path may not exist; callers doing writes create it.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}

	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the working area: %s", rel)
	}

	abs := filepath.Join(s.root, clean)

	// Lexical containment catches plain traversal; symlink resolution of the
	// deepest existing ancestor catches links pointing out of the root.
	rootReal := resolveExisting(s.root)
	absReal := resolveExisting(abs)
	if !within(absReal, rootReal) {
		return "", fmt.Errorf("path escapes the working area: %s", rel)
	}
	return abs, nil
}

// Relative converts an absolute path inside the sandbox back to the
// root-relative form tools report in results.
func (s *Sandbox) Relative(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

// resolveExisting resolves symlinks on the deepest existing ancestor of
// path and re-appends the missing remainder lexically. Paths that do not
// exist yet still get a truthful escape check this way.
func resolveExisting(path string) string {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder)
		}
		if !os.IsNotExist(err) {
			return filepath.Join(current, remainder)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Join(current, remainder)
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// within reports whether path is root or inside it.
func within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// accessDenied is the structured result every sandboxed tool returns for a
// rejected path.
func accessDenied(path string, err error) *Result {
	return failDetails("ACCESS_DENIED",
		fmt.Sprintf("Access denied: %v", err),
		"Use a relative path inside your home folder.",
		map[string]any{"path": path})
}
