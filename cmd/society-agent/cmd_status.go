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
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/society-labs/society/pkg/registry"
	"github.com/society-labs/society/pkg/statestore"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registered agents and their liveness",
	Long: heredoc.Doc(`
		Show every agent registered in the shared directory.

		Liveness is derived from heartbeats: an agent whose last heartbeat is older
		than the online window is reported offline regardless of its recorded status.
	`),
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	rcfg, err := config.runtimeConfig().Normalize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	reg := registry.New(rcfg.SharedDir, statestore.New(),
		registry.WithLogger(zap.NewNop()),
		registry.WithOnlineWindow(rcfg.OnlineWindow))

	regs, err := reg.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Reading registry: %v\n", err)
		os.Exit(1)
	}

	printStatus(os.Stdout, regs, rcfg.OnlineWindow, time.Now())
}

// printStatus renders the registry as a table, newest heartbeat first.
func printStatus(w io.Writer, regs []registry.Registration, window time.Duration, now time.Time) {
	if len(regs) == 0 {
		fmt.Fprintln(w, "No agents registered")
		return
	}

	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].LastHeartbeat.Equal(regs[j].LastHeartbeat) {
			return regs[i].LastHeartbeat.After(regs[j].LastHeartbeat)
		}
		return regs[i].ID < regs[j].ID
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tROLE\tSTATUS\tLAST HEARTBEAT\tURL")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	online := 0
	for _, r := range regs {
		status := effectiveStatus(r, window, now)
		if status != registry.StatusOffline {
			online++
		}

		heartbeat := "never"
		if !r.LastHeartbeat.IsZero() {
			heartbeat = fmt.Sprintf("%v ago", now.Sub(r.LastHeartbeat).Round(time.Second))
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Role, status, heartbeat, r.URL)
	}

	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d agent(s), %d online\n", len(regs), online)
}

// effectiveStatus downgrades a recorded status to offline once the heartbeat
// falls outside the liveness window.
func effectiveStatus(r registry.Registration, window time.Duration, now time.Time) registry.Status {
	if r.Status == registry.StatusOffline {
		return registry.StatusOffline
	}
	if r.LastHeartbeat.Before(now.Add(-window)) {
		return registry.StatusOffline
	}
	return r.Status
}
