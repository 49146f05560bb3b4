package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforge/commands"
	"github.com/clipforge/clipforge/logger"
)

var rootCmd = &cobra.Command{
	Use:   "clipforge",
	Short: "ClipForge - clip pipeline and publishing engine",
	Long: `ClipForge - durable media pipeline for short-form clips.

ClipForge ingests long-form source video, transcribes it, detects highlight
moments, renders vertical clips, and publishes them to connected platform
accounts. All work runs through a durable SQLite-backed job queue.

Available commands:
  worker - Run the worker pool (claims and processes jobs)
  jobs   - Inspect and manage queued jobs
  admin  - Operational commands (recovery, rate-limit seeding)
  db     - Manage the ClipForge database
  config - Show and manage configuration

Examples:
  clipforge worker start       # Start the worker pool in foreground
  clipforge jobs ls            # List jobs
  clipforge db stats           # Show queue and database statistics
  clipforge config show        # Show current configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip logger setup for commands whose stdout is machine-read.
		if cmd.Name() == "show" || cmd.Name() == "ready" {
			return nil
		}
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.ReadyCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.AdminCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
