package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/logger"
	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// JobsCmd represents the jobs command - queue inspection and management
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Queue + " Inspect and manage queued jobs",
	Long: sym.Queue + ` Jobs - durable queue management.

Job management commands:
  clipforge jobs ls              # List jobs
  clipforge jobs status <id>     # Show job details
  clipforge jobs requeue <id>    # Re-queue a dead-lettered job

State filters:
  queued      - Jobs waiting to be claimed
  running     - Jobs currently held by a worker
  succeeded   - Completed jobs
  dead_letter - Jobs that exhausted retries or failed fatally`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	Long: `List jobs, optionally filtered by state.

Examples:
  clipforge jobs ls                        # List all jobs
  clipforge jobs ls --state dead_letter    # List dead-lettered jobs
  clipforge jobs ls --limit 50             # Show up to 50 jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stateFilter, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(stateFilter, limit)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show job details",
	Long: `Display full detail for one job: kind, state, attempts, lock holder,
heartbeat, last error, and payload.

Example:
  clipforge jobs status 6e1f...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Re-queue a dead-lettered job",
	Long: `Move a dead-lettered job back to queued with a fresh retry budget.

Only dead-lettered jobs can be re-queued; anything else is rejected.

Example:
  clipforge jobs requeue 6e1f...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsRequeue(args[0])
	},
}

func init() {
	jobsLsCmd.Flags().String("state", "", "Filter by state (queued, running, succeeded, dead_letter)")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsRequeueCmd)
}

func runJobsLs(stateFilter string, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := queue.NewStore(database)

	var state *queue.JobState
	if stateFilter != "" {
		if !queue.IsValidState(stateFilter) {
			return fmt.Errorf("unknown state %q", stateFilter)
		}
		s := queue.JobState(stateFilter)
		state = &s
	}

	jobs, err := store.ListJobs(state, limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Printf("%s No jobs found\n", sym.Queue)
		return nil
	}

	fmt.Printf("%-36s %-12s %-18s %-9s %s\n", "JOB ID", "STATE", "KIND", "ATTEMPTS", "CREATED")
	fmt.Printf("%-36s %-12s %-18s %-9s %s\n", "------", "-----", "----", "--------", "-------")
	for _, job := range jobs {
		fmt.Printf("%-36s %-12s %-18s %-9s %s\n",
			job.ID,
			job.State,
			job.Kind,
			fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsStatus(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := queue.NewStore(database)
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("%s Job ID: %s\n", sym.Queue, job.ID)
	fmt.Printf("  Workspace: %s\n", job.WorkspaceID)
	fmt.Printf("  Kind:      %s\n", job.Kind)
	fmt.Printf("  State:     %s\n", job.State)
	fmt.Printf("  Attempts:  %d/%d\n", job.Attempts, job.MaxAttempts)
	fmt.Printf("  Run at:    %s\n", job.RunAt.Format("2006-01-02 15:04:05"))
	if job.LockedBy != "" {
		fmt.Printf("  Locked by: %s\n", job.LockedBy)
	}
	if job.HeartbeatAt != nil {
		fmt.Printf("  Heartbeat: %s\n", job.HeartbeatAt.Format("2006-01-02 15:04:05"))
	}
	if job.LastError != "" {
		fmt.Printf("  Last error: %s\n", job.LastError)
	}
	if len(job.Payload) > 0 {
		var pretty json.RawMessage = job.Payload
		out, err := json.MarshalIndent(pretty, "  ", "  ")
		if err == nil {
			fmt.Printf("  Payload:   %s\n", string(out))
		}
	}
	fmt.Printf("  Created:   %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Updated:   %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runJobsRequeue(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	q := queue.NewQueue(database, queue.SystemClock(), logger.Logger)
	if err := q.RequeueDeadLetter(jobID); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	fmt.Printf("%s Job %s re-queued\n", sym.Queue, jobID)
	return nil
}
