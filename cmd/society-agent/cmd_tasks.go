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
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/project"
	"github.com/society-labs/society/pkg/taskpool"
	"go.uber.org/zap"
)

var tasksProject string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List a project's task pool",
	Long: heredoc.Doc(`
		List the tasks of a project: available, claimed, in progress,
		completed, and failed, with who holds each claim.

		With a single project in the store --project may be omitted.
	`),
	Run: runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)

	tasksCmd.Flags().StringVar(&tasksProject, "project", "", "project id or name")
}

func runTasks(cmd *cobra.Command, args []string) {
	rcfg, err := config.runtimeConfig().Normalize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	store := project.NewStore(rcfg.SharedDir, rcfg.ProjectsDir, project.WithLogger(zap.NewNop()))
	ctx := context.Background()

	proj, err := resolveProject(ctx, store, tasksProject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	pool := taskpool.New(store, taskpool.WithLogger(zap.NewNop()))
	tasks, err := pool.List(ctx, proj.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Reading task pool: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Project: %s (%s)\n\n", proj.Name, proj.ID)
	printTasks(os.Stdout, tasks, time.Now())
}

// resolveProject finds a project by id or name. With an empty key it returns
// the sole project, or an error naming the candidates.
func resolveProject(ctx context.Context, store *project.Store, key string) (*project.Project, error) {
	projects, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	if key == "" {
		switch len(projects) {
		case 0:
			return nil, fmt.Errorf("no projects exist yet")
		case 1:
			return projects[0], nil
		default:
			ids := make([]string, len(projects))
			for i, p := range projects {
				ids[i] = p.ID
			}
			return nil, fmt.Errorf("several projects exist, pick one with --project: %s", strings.Join(ids, ", "))
		}
	}

	for _, p := range projects {
		if p.ID == key || strings.EqualFold(p.Name, key) {
			return p, nil
		}
	}
	return nil, errkind.NotFound("project %q not found", key)
}

// printTasks renders the pool as a table in creation order.
func printTasks(w io.Writer, tasks []project.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks in the pool")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRI\tTITLE\tCLAIMED BY\tAGE")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	open := 0
	for _, t := range tasks {
		if t.Status == project.TaskAvailable || t.Active() {
			open++
		}

		title := t.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%v\n",
			t.ID, t.Status, t.Priority, title, t.ClaimedBy, now.Sub(t.CreatedAt).Round(time.Second))
	}

	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d task(s), %d open\n", len(tasks), open)
}
