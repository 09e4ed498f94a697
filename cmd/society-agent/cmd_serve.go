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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/society-labs/society/internal/log"
	"github.com/society-labs/society/pkg/runtime"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent runtime",
	Long: heredoc.Doc(`
		Run the agent runtime until interrupted.

		The process will:
		- Register in the shared directory and heartbeat
		- Serve peer HTTP deliveries on a port from the configured range
		- Catch up on inbox messages missed while offline, then watch and poll
		- Sweep stale tasks and silent agents on a maintenance schedule

		Press Ctrl+C to gracefully shutdown.
	`),
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// shutdownTimeout bounds teardown after the run context is cancelled.
const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) {
	if err := log.Setup(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
	logger := log.Logger()
	defer func() { _ = log.Sync() }()

	logger.Info("starting society agent", zap.String("version", rootCmd.Version))

	// Show actual config file used (not just the --config flag)
	if configFileUsed := viper.ConfigFileUsed(); configFileUsed != "" {
		logger.Info("config file loaded", zap.String("path", configFileUsed))
	} else {
		logger.Info("no config file found, using defaults and environment",
			zap.String("searched", "$SOCIETY_DATA_DIR/society.yaml, ./society.yaml, /etc/society/society.yaml"))
	}

	rt, err := runtime.New(config.runtimeConfig(), logger)
	if err != nil {
		logger.Fatal("failed to build agent runtime", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := rt.Start(ctx)

	// Restore default signal handling before teardown: a second Ctrl+C
	// kills the process instead of waiting on a stuck shutdown.
	stop()
	logger.Info("shutting down gracefully (press Ctrl+C again to force)")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal("agent runtime failed", zap.Error(runErr))
	}
}
