// Package queue implements the durable job queue: claim, heartbeat, retry,
// dead-letter, and stuck-job recovery over a SQL store.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/errors"
)

// JobState represents the current state of a job.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateRunning    JobState = "running"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
	JobStateDeadLetter JobState = "dead_letter"
)

// IsValidState returns true if the state string is a valid JobState.
func IsValidState(s string) bool {
	switch JobState(s) {
	case JobStateQueued, JobStateRunning, JobStateSucceeded,
		JobStateFailed, JobStateDeadLetter:
		return true
	default:
		return false
	}
}

// JobKind identifies which pipeline handler executes the job.
type JobKind string

const (
	KindIngestURL       JobKind = "INGEST_URL"
	KindTranscribe      JobKind = "TRANSCRIBE"
	KindHighlightDetect JobKind = "HIGHLIGHT_DETECT"
	KindClipRender      JobKind = "CLIP_RENDER"
	KindThumbnailGen    JobKind = "THUMBNAIL_GEN"
	KindPublishTikTok   JobKind = "PUBLISH_TIKTOK"
	KindPublishYouTube  JobKind = "PUBLISH_YOUTUBE"
	KindCleanupStorage  JobKind = "CLEANUP_STORAGE"
)

// AllKinds lists every job kind the dispatcher knows about.
func AllKinds() []JobKind {
	return []JobKind{
		KindIngestURL, KindTranscribe, KindHighlightDetect, KindClipRender,
		KindThumbnailGen, KindPublishTikTok, KindPublishYouTube, KindCleanupStorage,
	}
}

// IsValidKind returns true if the kind string is a known JobKind.
func IsValidKind(k string) bool {
	for _, kind := range AllKinds() {
		if JobKind(k) == kind {
			return true
		}
	}
	return false
}

// DefaultMaxAttempts is the retry budget for a job unless overridden.
const DefaultMaxAttempts = 3

// Job represents one unit of pipeline work.
//
// State transitions:
//
//	queued  --claim-->  running
//	running --complete--> succeeded                       (terminal)
//	running --fail(retryable, attempts<max)--> queued     (run_at += backoff)
//	running --fail(otherwise)--> dead_letter              (terminal)
//	dead_letter --admin requeue--> queued                 (attempts := 0)
//	running --stale heartbeat + recovery--> queued
type Job struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	LockedBy    string          `json:"locked_by,omitempty"`
	HeartbeatAt *time.Time      `json:"heartbeat_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for the given workspace. The workspace id must
// be a UUID; non-UUID values are rejected at this boundary.
func NewJob(workspaceID string, kind JobKind, payload json.RawMessage, runAt time.Time) (*Job, error) {
	if _, err := uuid.Parse(workspaceID); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "workspace_id %q is not a UUID", workspaceID)
	}
	if !IsValidKind(string(kind)) {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown job kind %q", kind)
	}

	now := time.Now()
	if runAt.IsZero() {
		runAt = now
	}
	return &Job{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Kind:        kind,
		Payload:     payload,
		State:       JobStateQueued,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool {
	return j.State == JobStateSucceeded || j.State == JobStateDeadLetter
}

// AttemptsExhausted reports whether the retry budget is spent.
func (j *Job) AttemptsExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
