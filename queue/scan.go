package queue

import (
	"database/sql"
	"encoding/json"
	"time"
)

// jobColumns is the canonical column list for every job SELECT.
const jobColumns = `id, workspace_id, kind, payload, state, attempts, max_attempts,
	run_at, locked_at, locked_by, heartbeat_at, last_error, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob reads one job row into a Job, converting nullable columns.
func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		payload     sql.NullString
		lockedAt    sql.NullTime
		lockedBy    sql.NullString
		heartbeatAt sql.NullTime
		lastError   sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.WorkspaceID,
		&job.Kind,
		&payload,
		&job.State,
		&job.Attempts,
		&job.MaxAttempts,
		&job.RunAt,
		&lockedAt,
		&lockedBy,
		&heartbeatAt,
		&lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		job.LockedAt = &t
	}
	job.LockedBy = lockedBy.String
	if heartbeatAt.Valid {
		t := heartbeatAt.Time
		job.HeartbeatAt = &t
	}
	job.LastError = lastError.String

	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
