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
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/project"
)

func TestResolveProject(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store := project.NewStore(base, base+"/projects")

	shop, err := store.Create(ctx, "Shop", "shop")
	require.NoError(t, err)
	blog, err := store.Create(ctx, "Blog", "blog")
	require.NoError(t, err)

	byID, err := resolveProject(ctx, store, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, shop.ID, byID.ID)

	byName, err := resolveProject(ctx, store, "blog")
	require.NoError(t, err)
	assert.Equal(t, blog.ID, byName.ID)

	_, err = resolveProject(ctx, store, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--project")

	_, err = resolveProject(ctx, store, "warehouse")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindNotFound))
}

func TestResolveProjectDefaultsToSoleProject(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store := project.NewStore(base, base+"/projects")

	shop, err := store.Create(ctx, "Shop", "shop")
	require.NoError(t, err)

	proj, err := resolveProject(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, shop.ID, proj.ID)
}

func TestResolveProjectEmptyStore(t *testing.T) {
	base := t.TempDir()
	store := project.NewStore(base, base+"/projects")

	_, err := resolveProject(context.Background(), store, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no projects")
}

func TestPrintTasksTable(t *testing.T) {
	now := time.Now()
	claimed := now.Add(-2 * time.Minute)
	tasks := []project.Task{
		{
			ID:        "task-1",
			Title:     "Fix login",
			Priority:  8,
			Status:    project.TaskAvailable,
			CreatedBy: "lead-1",
			CreatedAt: now.Add(-10 * time.Minute),
		},
		{
			ID:        "task-2",
			Title:     "A very long task title that should get truncated in the listing",
			Priority:  5,
			Status:    project.TaskInProgress,
			CreatedBy: "lead-1",
			CreatedAt: now.Add(-8 * time.Minute),
			ClaimedBy: "backend-1a2b3c4d",
			ClaimedAt: &claimed,
		},
		{
			ID:        "task-3",
			Title:     "Write docs",
			Priority:  3,
			Status:    project.TaskCompleted,
			CreatedBy: "lead-1",
			CreatedAt: now.Add(-6 * time.Minute),
		},
	}

	var buf bytes.Buffer
	printTasks(&buf, tasks, now)
	out := buf.String()

	assert.Contains(t, out, "task-1")
	assert.Contains(t, out, "backend-1a2b3c4d")
	assert.Contains(t, out, "Total: 3 task(s), 2 open")

	// Long titles are cut to keep the table readable.
	assert.NotContains(t, out, "truncated in the listing")
	assert.Contains(t, out, "...")

	// Rows keep creation order.
	assert.Less(t, strings.Index(out, "task-1"), strings.Index(out, "task-3"))
}

func TestPrintTasksEmpty(t *testing.T) {
	var buf bytes.Buffer
	printTasks(&buf, nil, time.Now())
	assert.Contains(t, buf.String(), "No tasks in the pool")
}
