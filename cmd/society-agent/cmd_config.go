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
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage society-agent configuration",
	Long:  `Manage the society.yaml configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example society.yaml configuration file in the data directory.`,
	Run:   runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration (merged from all sources).`,
	Run:   runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configDir := GetDataDir()
	configPath := filepath.Join(configDir, "society.yaml")

	// Create directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists: %s\n", configPath)
		fmt.Print("Overwrite? (y/N): ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	if err := os.WriteFile(configPath, []byte(GenerateExampleConfig()), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Config file created: %s\n", configPath)
	fmt.Println("Edit it, then start the agent with: society-agent serve")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("Config file: %s\n", used)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Printf("Data dir: %s\n", config.DataDir)
	fmt.Println()

	fmt.Println("Layout:")
	fmt.Printf("  Workspace: %s\n", config.Workspace)
	fmt.Printf("  Shared dir: %s\n", config.SharedDir)
	fmt.Printf("  Projects dir: %s\n", config.ProjectsDir)
	fmt.Println()

	fmt.Println("Agent:")
	if config.Agent.ID != "" {
		fmt.Printf("  ID: %s\n", config.Agent.ID)
	} else {
		fmt.Printf("  ID: (persisted in %s)\n", filepath.Join(config.Workspace, ".agent-id"))
	}
	fmt.Printf("  Role: %s\n", config.Agent.Role)
	if len(config.Agent.Capabilities) > 0 {
		fmt.Printf("  Capabilities: %v\n", config.Agent.Capabilities)
	}
	fmt.Printf("  Heartbeat interval: %v\n", config.Agent.HeartbeatInterval)
	fmt.Printf("  Online window: %v\n", config.Agent.OnlineWindow)
	fmt.Println()

	fmt.Println("Peer server:")
	fmt.Printf("  Port range: %d-%d\n", config.Server.PortMin, config.Server.PortMax)
	fmt.Println()

	fmt.Println("LLM:")
	fmt.Printf("  Provider: %s\n", config.LLM.Provider)
	fmt.Printf("  Model: %s\n", config.LLM.Model)
	fmt.Println()

	fmt.Println("Signing:")
	if config.Signing.Identity != "" {
		fmt.Printf("  Identity: %s\n", config.Signing.Identity)
	} else {
		fmt.Println("  Identity: (not set, messages are sent unsigned)")
	}
	if config.Signing.AuthorizedKeys != "" {
		fmt.Printf("  Authorized keys: %s\n", config.Signing.AuthorizedKeys)
	} else {
		fmt.Println("  Authorized keys: (default: {shared}/authorized_keys.json)")
	}
	fmt.Println()

	fmt.Println("Bus:")
	fmt.Printf("  Poll interval: %v\n", config.Bus.PollInterval)
	fmt.Println()

	fmt.Println("Tasks:")
	fmt.Printf("  Stale age: %v\n", config.Tasks.StaleAge)
	fmt.Println()

	fmt.Println("Workers:")
	fmt.Printf("  Max concurrent: %d\n", config.Workers.Max)
	fmt.Println()

	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", config.Logging.Level)
	fmt.Printf("  Format: %s\n", config.Logging.Format)
}
