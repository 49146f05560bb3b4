package queue

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clipforge/clipforge/errors"
)

// Store handles persistence of jobs. Every mutation is a single conditional
// statement, so concurrent workers racing on the same row resolve through
// rows-affected checks rather than explicit locks.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, workspace_id, kind, payload, state,
			attempts, max_attempts, run_at,
			locked_at, locked_by, heartbeat_at, last_error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		job.ID,
		job.WorkspaceID,
		job.Kind,
		nullString(string(job.Payload)),
		job.State,
		job.Attempts,
		job.MaxAttempts,
		job.RunAt,
		nullTime(job.LockedAt),
		nullString(job.LockedBy),
		nullTime(job.HeartbeatAt),
		nullString(job.LastError),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ClaimJob atomically claims the oldest eligible queued job for workerID and
// returns it, or nil when nothing is eligible. Eligibility: state='queued',
// run_at <= now, optionally filtered by workspace and kinds. Ordering is
// run_at then created_at (FIFO with delay).
//
// SQLite has no SKIP LOCKED; the claim runs inside a transaction whose
// conditional UPDATE (state='queued' guard) is atomic under the writer lock,
// so no two workers can ever claim the same row.
func (s *Store) ClaimJob(workerID string, kinds []JobKind, workspaceID string, now time.Time) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	where := "state = ? AND run_at <= ?"
	args := []interface{}{JobStateQueued, now}
	if workspaceID != "" {
		where += " AND workspace_id = ?"
		args = append(args, workspaceID)
	}
	if len(kinds) > 0 {
		placeholders := strings.Repeat("?,", len(kinds))
		where += fmt.Sprintf(" AND kind IN (%s)", placeholders[:len(placeholders)-1])
		for _, k := range kinds {
			args = append(args, k)
		}
	}

	selectQuery := `SELECT id FROM jobs WHERE ` + where + ` ORDER BY run_at ASC, created_at ASC LIMIT 1`
	var id string
	err = tx.QueryRow(selectQuery, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // nothing eligible
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select claimable job")
	}

	res, err := tx.Exec(`
		UPDATE jobs
		SET state = ?, locked_at = ?, locked_by = ?, heartbeat_at = ?,
		    attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND state = ?`,
		JobStateRunning, now, workerID, now, now, id, JobStateQueued,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another worker between SELECT and UPDATE.
		return nil, nil
	}

	job, err := scanJob(tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read claimed job")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}
	return job, nil
}

// CompleteJob marks a running job succeeded and clears its lock.
func (s *Store) CompleteJob(id string, now time.Time) error {
	return s.transition(id, `
		UPDATE jobs
		SET state = ?, locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		JobStateSucceeded, now, id, JobStateRunning)
}

// RetryJob reschedules a running job: back to queued with a future run_at.
// Attempts are never reset on a normal retry.
func (s *Store) RetryJob(id string, jobErr string, runAt, now time.Time) error {
	return s.transition(id, `
		UPDATE jobs
		SET state = ?, last_error = ?, run_at = ?,
		    locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		JobStateQueued, jobErr, runAt, now, id, JobStateRunning)
}

// DeadLetterJob moves a running job to the terminal dead_letter state,
// preserving the error for operators.
func (s *Store) DeadLetterJob(id string, jobErr string, now time.Time) error {
	return s.transition(id, `
		UPDATE jobs
		SET state = ?, last_error = ?,
		    locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		JobStateDeadLetter, jobErr, now, id, JobStateRunning)
}

// HeartbeatJob refreshes heartbeat_at for a job still owned by workerID.
func (s *Store) HeartbeatJob(id, workerID string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND state = ? AND locked_by = ?`,
		at, at, id, JobStateRunning, workerID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to heartbeat job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewConflictError("job %s is no longer running under this worker", id)
	}
	return nil
}

// RecoverStuckJobs re-queues running jobs whose heartbeat is older than
// staleBefore. This is the only path that mutates a running job from outside
// its owning worker. Returns the number of jobs recovered.
func (s *Store) RecoverStuckJobs(staleBefore, now time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET state = ?, run_at = ?,
		    locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE state = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		JobStateQueued, now, now, JobStateRunning, staleBefore,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover stuck jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// RequeueDeadLetter puts a dead-letter job back in the queue with a fresh
// attempt budget. The conditional update on state='dead_letter' prevents
// races; a concurrent state change surfaces as a conflict.
func (s *Store) RequeueDeadLetter(id string, now time.Time) error {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET state = ?, attempts = 0, run_at = ?,
		    locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		JobStateQueued, now, now, id, JobStateDeadLetter,
	)
	if err != nil {
		return errors.Wrap(err, "failed to requeue dead-letter job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewConflictError("job %s is not in dead_letter", id)
	}
	return nil
}

// ListJobs returns jobs, optionally filtered by state, newest first.
func (s *Store) ListJobs(state *JobState, limit int) ([]*Job, error) {
	var (
		query string
		args  []interface{}
	)
	base := `SELECT ` + jobColumns + ` FROM jobs`
	if state != nil {
		query = base + ` WHERE state = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*state, limit}
	} else {
		query = base + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// Stats returns job counts per state.
func (s *Store) Stats() (map[JobState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	stats := make(map[JobState]int)
	for rows.Next() {
		var (
			state JobState
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// DeleteSucceededBefore removes succeeded jobs older than cutoff.
// Dead-letter jobs are kept for operators.
func (s *Store) DeleteSucceededBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(
		`DELETE FROM jobs WHERE state = ? AND updated_at < ?`,
		JobStateSucceeded, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// transition runs a guarded single-row UPDATE and converts "no rows changed"
// into a conflict so callers see stale-state races explicitly.
func (s *Store) transition(id, query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to transition job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewConflictError("job %s not in expected state", id)
	}
	return nil
}
