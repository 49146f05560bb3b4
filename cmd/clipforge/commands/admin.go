package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/admission"
	"github.com/clipforge/clipforge/logger"
	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// AdminCmd represents the admin command - operational interventions
var AdminCmd = &cobra.Command{
	Use:   "admin",
	Short: sym.Admit + " Operational commands",
	Long: sym.Admit + ` Admin - operational interventions.

Commands:
  clipforge admin recover   # Re-queue stale running jobs
  clipforge admin seed      # Seed rate-limit buckets from workspace plans`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var adminRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Re-queue stale running jobs",
	Long: `Re-queue running jobs whose heartbeat is older than the stale threshold.

The running worker does this on a ticker; this command is for manual
intervention when no worker is up.

Example:
  clipforge admin recover --stale-after 300`,
	RunE: func(cmd *cobra.Command, args []string) error {
		staleSeconds, _ := cmd.Flags().GetInt("stale-after")
		return runAdminRecover(staleSeconds)
	},
}

var adminSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed rate-limit buckets from workspace plans",
	Long: `Create or refresh the per-workspace rate-limit buckets from each
workspace's active subscription plan. Run after plan changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdminSeed()
	},
}

func init() {
	adminRecoverCmd.Flags().Int("stale-after", 900, "Heartbeat age in seconds before a running job counts as stale")

	AdminCmd.AddCommand(adminRecoverCmd)
	AdminCmd.AddCommand(adminSeedCmd)
}

func runAdminRecover(staleSeconds int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database, queue.SystemClock(), logger.Logger)
	recovered, err := q.RecoverStuck(time.Duration(staleSeconds) * time.Second)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	if recovered == 0 {
		pterm.Info.Println("No stale jobs found")
		return nil
	}
	pterm.Success.Printf("Recovered %d stale job(s)\n", recovered)
	return nil
}

func runAdminSeed() error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	controller := admission.NewController(database, queue.SystemClock(), logger.Logger)
	seeded, err := controller.SeedRateLimits()
	if err != nil {
		return fmt.Errorf("seeding rate limits failed: %w", err)
	}

	pterm.Success.Printf("Seeded rate-limit buckets for %d workspace(s)\n", seeded)
	return nil
}
