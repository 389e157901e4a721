// Package cmd implements the gateway's CLI surface (§6 "CLI surface"):
// start, doctor, version, config, setup, hooks, skill, plugins, migrate.
// setup, hooks, skill and plugins are stubs that only print a pointer to
// doctor/start; the others carry real behavior.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0x7f/microclaw/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/0x7f/microclaw/cmd.Version=v1.0.0".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "microclaw",
	Short: "MicroClaw — multi-channel AI agent gateway",
	Long:  "MicroClaw: a single-process AI agent runtime that drives one tool-use loop across Telegram, Discord, Slack, Feishu, and a local web console, with MCP tool federation and scheduled runs.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $MICROCLAW_CONFIG, ./microclaw.config.yaml, ./microclaw.config.yml, or ~/.microclaw/config.yaml)")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(hooksCmd())
	rootCmd.AddCommand(skillCmd())
	rootCmd.AddCommand(pluginsCmd())
	rootCmd.AddCommand(migrateCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("microclaw %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DiscoverPath()
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
