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
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/society-labs/society/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "society-agent",
	Short: "Society Agent - autonomous multi-agent runtime",
	Long: heredoc.Doc(`
		Society Agent runs one autonomous LLM agent as a long-lived process: it
		registers in the shared directory, heartbeats, answers peer HTTP deliveries,
		polls its file inbox, and works tasks with sandboxed tools. Several
		processes sharing one directory form a society.
	`),
	Version: version.Get(),
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $SOCIETY_DATA_DIR/society.yaml)")

	// Workspace flags
	rootCmd.PersistentFlags().String("workspace", "", "agent workspace directory (required for serve)")
	rootCmd.PersistentFlags().String("shared-dir", "", "shared coordination directory (default: sibling of workspace)")
	rootCmd.PersistentFlags().String("projects-dir", "", "project workspaces directory (default: sibling of shared dir)")

	// Identity flags
	rootCmd.PersistentFlags().String("id", "", "agent id (default: persisted workspace id, generated on first boot)")
	rootCmd.PersistentFlags().String("role", "supervisor", "agent role (supervisor, backend, frontend, tester, devops, security)")

	// Peer server flags
	rootCmd.PersistentFlags().Int("port-min", 3000, "low end of the peer HTTP port scan")
	rootCmd.PersistentFlags().Int("port-max", 4000, "high end of the peer HTTP port scan")

	// LLM flags
	rootCmd.PersistentFlags().String("llm-provider", "anthropic", "default LLM provider (project and agent configs override)")
	rootCmd.PersistentFlags().String("llm-model", "claude-sonnet-4-5", "default LLM model")

	// Signing flags
	rootCmd.PersistentFlags().String("identity", "", "Ed25519 signing key (PEM or JWK); empty sends unsigned")
	rootCmd.PersistentFlags().String("authorized-keys", "", "authorized keys roster (default: {shared}/authorized_keys.json)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("shared_dir", rootCmd.PersistentFlags().Lookup("shared-dir"))
	_ = viper.BindPFlag("projects_dir", rootCmd.PersistentFlags().Lookup("projects-dir"))

	_ = viper.BindPFlag("agent.id", rootCmd.PersistentFlags().Lookup("id"))
	_ = viper.BindPFlag("agent.role", rootCmd.PersistentFlags().Lookup("role"))

	_ = viper.BindPFlag("server.port_min", rootCmd.PersistentFlags().Lookup("port-min"))
	_ = viper.BindPFlag("server.port_max", rootCmd.PersistentFlags().Lookup("port-max"))

	_ = viper.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("llm-model"))

	_ = viper.BindPFlag("signing.identity", rootCmd.PersistentFlags().Lookup("identity"))
	_ = viper.BindPFlag("signing.authorized_keys", rootCmd.PersistentFlags().Lookup("authorized-keys"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
