package commands

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/config"
	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/logger"
	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the ClipForge database",
	Long: sym.DB + ` db — Database operations.

Examples:
  clipforge db migrate    # Apply pending schema migrations
  clipforge db stats      # Show queue and pipeline statistics`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and pipeline statistics",
	Long:  "Display job counts per state, project and clip counts, and database size",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openDatabase migrates as a side effect of opening.
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("%s Migrations applied\n", sym.DB)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	q := queue.NewQueue(database, queue.SystemClock(), logger.Logger)
	stats, err := q.GetStats()
	if err != nil {
		return fmt.Errorf("failed to query queue stats: %w", err)
	}

	var projects, clips, posts int
	err = database.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM projects),
			(SELECT COUNT(*) FROM clips),
			(SELECT COUNT(*) FROM variant_posts)
	`).Scan(&projects, &clips, &posts)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query pipeline stats: %w", err)
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n", cfg.Database.Path)
	if info, err := os.Stat(cfg.Database.Path); err == nil {
		fmt.Printf("Database Size:  %.1f MB\n", float64(info.Size())/(1024*1024))
	}
	fmt.Println()

	fmt.Printf("Queue:\n")
	fmt.Printf("  Queued:       %d\n", stats.Queued)
	fmt.Printf("  Running:      %d\n", stats.Running)
	fmt.Printf("  Succeeded:    %d\n", stats.Succeeded)
	fmt.Printf("  Dead letter:  %d\n", stats.DeadLetter)
	fmt.Println()

	fmt.Printf("Pipeline:\n")
	fmt.Printf("  Projects:     %d\n", projects)
	fmt.Printf("  Clips:        %d\n", clips)
	fmt.Printf("  Posts:        %d\n", posts)
	return nil
}
