// Package main provides the CLI entry point for agentcore, a terminal
// driver for the Session Supervisor: one REPL loop per process, one
// session per run.
//
// # Basic Usage
//
// Start an interactive session:
//
//	agentcore chat --config agentcore.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key, used when provider is "anthropic"
//   - OPENAI_API_KEY: OpenAI API key, used when provider is "openai"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - interactive coding-assistant agent loop",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "agentcore.yaml", "Path to config file")

	rootCmd.AddCommand(
		buildChatCmd(),
	)
	return rootCmd
}
