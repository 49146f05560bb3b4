package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/sym"
)

// RetryableMarker lets error types declare whether the job may be retried.
// Errors without the marker default to retryable (transient until proven
// otherwise); the pipeline taxonomy marks fatal kinds explicitly.
type RetryableMarker interface {
	JobRetryable() bool
}

// RetryAfterMarker lets error types override the backoff delay, e.g. the
// posting guard schedules the retry exactly when the rate window reopens.
type RetryAfterMarker interface {
	JobRetryAfter() time.Duration
}

// Queue is the durable queue engine: enqueue, claim, heartbeat, and the
// finalize step that turns a handler result into complete / retry /
// dead-letter.
type Queue struct {
	store *Store
	clock Clock
	log   *zap.SugaredLogger
}

// NewQueue creates a queue engine over an open database.
func NewQueue(db *sql.DB, clock Clock, log *zap.SugaredLogger) *Queue {
	if clock == nil {
		clock = SystemClock()
	}
	return &Queue{
		store: NewStore(db),
		clock: clock,
		log:   log.Named("queue"),
	}
}

// Store exposes the underlying job store for admin commands and tests.
func (q *Queue) Store() *Store { return q.store }

// Enqueue validates and inserts a new job. scheduledFor of zero means "now".
// An active (queued or running) job with identical workspace, kind, and
// payload is returned instead of inserting a duplicate. The dedup is
// check-then-insert with no unique index behind it, so two processes racing
// on the same triple can both insert; it trims noise, it is not a guarantee.
// Correctness does not depend on it: every handler short-circuits on
// already-done work.
func (q *Queue) Enqueue(workspaceID string, kind JobKind, payload json.RawMessage, scheduledFor time.Time) (*Job, error) {
	existing, err := q.findActiveDuplicate(workspaceID, kind, payload)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		q.log.Debugw("Skipping duplicate enqueue",
			"symbol", sym.Queue, "kind", kind, "existing_job_id", existing.ID)
		return existing, nil
	}

	job, err := NewJob(workspaceID, kind, payload, scheduledFor)
	if err != nil {
		return nil, err
	}
	if err := q.store.CreateJob(job); err != nil {
		return nil, errors.Wrapf(err, "failed to enqueue %s job", kind)
	}

	q.log.Debugw("Job enqueued",
		"symbol", sym.Queue, "job_id", job.ID, "kind", kind, "run_at", job.RunAt)
	return job, nil
}

// Claim atomically claims one eligible job for workerID, or returns nil.
func (q *Queue) Claim(workerID string, kinds []JobKind, workspaceID string) (*Job, error) {
	return q.store.ClaimJob(workerID, kinds, workspaceID, q.clock.Now())
}

// Heartbeat refreshes the heartbeat for a running job.
func (q *Queue) Heartbeat(jobID, workerID string) error {
	return q.store.HeartbeatJob(jobID, workerID, q.clock.Now())
}

// Finalize settles a claimed job after its handler returned.
//
//	nil error                      -> succeeded
//	retryable, attempts remaining  -> queued with backoff
//	otherwise                      -> dead_letter
func (q *Queue) Finalize(job *Job, handlerErr error) error {
	now := q.clock.Now()

	if handlerErr == nil {
		if err := q.store.CompleteJob(job.ID, now); err != nil {
			return err
		}
		q.log.Infow("Job succeeded",
			"symbol", sym.Queue, "job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts)
		return nil
	}

	if isRetryable(handlerErr) && !job.AttemptsExhausted() {
		delay := retryDelay(handlerErr, job.Attempts)
		runAt := now.Add(delay)
		if err := q.store.RetryJob(job.ID, handlerErr.Error(), runAt, now); err != nil {
			return err
		}
		q.log.Warnw("Job scheduled for retry",
			"symbol", sym.Queue, "job_id", job.ID, "kind", job.Kind,
			"attempts", job.Attempts, "max_attempts", job.MaxAttempts,
			"delay", delay, "error", handlerErr)
		return nil
	}

	if err := q.store.DeadLetterJob(job.ID, handlerErr.Error(), now); err != nil {
		return err
	}
	q.log.Errorw("Job dead-lettered",
		"symbol", sym.Queue, "job_id", job.ID, "kind", job.Kind,
		"attempts", job.Attempts, "error", handlerErr)
	return nil
}

// RecoverStuck re-queues running jobs whose heartbeat is older than
// staleAfter. Safe to run from every worker; idempotent.
func (q *Queue) RecoverStuck(staleAfter time.Duration) (int, error) {
	now := q.clock.Now()
	count, err := q.store.RecoverStuckJobs(now.Add(-staleAfter), now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		q.log.Warnw("Recovered stuck jobs", "symbol", sym.Queue, "count", count, "stale_after", staleAfter)
	}
	return count, nil
}

// RequeueDeadLetter is the admin path out of dead_letter: back to queued
// with attempts reset, last_error preserved.
func (q *Queue) RequeueDeadLetter(jobID string) error {
	if err := q.store.RequeueDeadLetter(jobID, q.clock.Now()); err != nil {
		return err
	}
	q.log.Infow("Dead-letter job requeued", "symbol", sym.Queue, "job_id", jobID)
	return nil
}

// QueueStats summarizes job counts per state.
type QueueStats struct {
	Queued     int `json:"queued"`
	Running    int `json:"running"`
	Succeeded  int `json:"succeeded"`
	DeadLetter int `json:"dead_letter"`
	Total      int `json:"total"`
}

// GetStats returns queue statistics.
func (q *Queue) GetStats() (*QueueStats, error) {
	counts, err := q.store.Stats()
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{
		Queued:     counts[JobStateQueued],
		Running:    counts[JobStateRunning],
		Succeeded:  counts[JobStateSucceeded],
		DeadLetter: counts[JobStateDeadLetter],
	}
	for _, c := range counts {
		stats.Total += c
	}
	return stats, nil
}

// findActiveDuplicate looks for a queued/running job with the same identity.
func (q *Queue) findActiveDuplicate(workspaceID string, kind JobKind, payload json.RawMessage) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE workspace_id = ? AND kind = ? AND state IN (?, ?)
		  AND COALESCE(payload, '') = ?
		ORDER BY created_at DESC LIMIT 1`
	job, err := scanJob(q.store.db.QueryRow(query,
		workspaceID, kind, JobStateQueued, JobStateRunning, string(payload)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to check for duplicate job")
	}
	return job, nil
}

// isRetryable consults the error's marker; cancellation is always retryable
// (the runtime re-queues), unknown errors default to retryable.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var marker RetryableMarker
	if errors.As(err, &marker) {
		return marker.JobRetryable()
	}
	return true
}

// retryDelay prefers an explicit retry-after from the error, else backoff.
func retryDelay(err error, attempts int) time.Duration {
	var marker RetryAfterMarker
	if errors.As(err, &marker) {
		if d := marker.JobRetryAfter(); d > 0 {
			return d
		}
	}
	return DefaultDelay(attempts)
}
