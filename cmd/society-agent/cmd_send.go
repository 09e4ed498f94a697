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
	"os"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/society-labs/society/internal/log"
	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/peer"
	"github.com/society-labs/society/pkg/registry"
	"github.com/society-labs/society/pkg/runtime"
	"github.com/society-labs/society/pkg/statestore"
)

var (
	sendTo       string
	sendType     string
	sendContent  string
	sendTitle    string
	sendPriority int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a one-shot message on the bus",
	Long: heredoc.Doc(`
		Send a message to another agent from this workspace's identity.

		The message is appended to the recipient's durable inbox; if the recipient
		is online it is also delivered live over its peer HTTP endpoint. Offline
		recipients pick it up on their next catch-up.

		Examples:
		  society-agent send --to backend-1a2b3c4d --content "How is the migration going?"
		  society-agent send --to backend-1a2b3c4d --type question --content "Which schema version?"
		  society-agent send --to backend-1a2b3c4d --type task_assign --title "Fix login" --priority 8 --content "Session cookie expires too early."
		  society-agent send --to broadcast --type shutdown --content "maintenance window"
	`),
	Run: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient agent id, or 'broadcast'")
	sendCmd.Flags().StringVar(&sendType, "type", "message", "message type (message, question, task_assign, task_complete, status_update, shutdown)")
	sendCmd.Flags().StringVar(&sendContent, "content", "", "message body")
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "task title (task_assign only)")
	sendCmd.Flags().IntVar(&sendPriority, "priority", 0, "task priority 1-10 (task_assign only)")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("content")
}

func runSend(cmd *cobra.Command, args []string) {
	if err := log.Setup(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
	logger := log.Logger()

	rcfg, err := config.runtimeConfig().Normalize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	for _, dir := range []string{rcfg.WorkspacePath, rcfg.SharedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Creating %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	id, err := runtime.ResolveID(rcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	content, err := messageContent(bus.Type(sendType), sendContent, sendTitle, sendPriority)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	states := statestore.New(statestore.WithLogger(logger))
	reg := registry.New(rcfg.SharedDir, states,
		registry.WithLogger(logger),
		registry.WithOnlineWindow(rcfg.OnlineWindow))

	busOpts := []bus.Option{
		bus.WithLogger(logger),
		bus.WithPoster(peer.NewClient()),
	}
	if rcfg.IdentityPath != "" {
		signer, err := bus.LoadSigner(rcfg.IdentityPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Loading signing key: %v\n", err)
			os.Exit(1)
		}
		busOpts = append(busOpts, bus.WithSigner(signer))
	}
	b := bus.New(rcfg.SharedDir, id, reg, busOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, err := b.Send(ctx, sendTo, bus.Type(sendType), content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Send failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Sent %s to %s as %s (id: %s)\n", msg.Type, msg.To, msg.From, msg.ID)
}

// messageContent builds the typed payload for a one-shot send.
func messageContent(typ bus.Type, body, title string, priority int) (bus.Content, error) {
	switch typ {
	case bus.TypeTaskAssign:
		if title == "" {
			return nil, fmt.Errorf("task_assign requires --title")
		}
		return bus.TaskAssignContent{Title: title, Description: body, Priority: priority}, nil
	case bus.TypeStatusUpdate:
		return bus.StatusUpdateContent{Status: "update", Summary: body}, nil
	case bus.TypeMessage, bus.TypeQuestion, bus.TypeTaskComplete, bus.TypeShutdown:
		return bus.TextContent{Body: body}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q (valid: message, question, task_assign, task_complete, status_update, shutdown)", typ)
	}
}
