package logger

import "go.uber.org/zap"

// Standard field names for consistent structured logging across ClipForge.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID       = "job_id"
	FieldJobKind     = "kind"
	FieldWorkspaceID = "workspace_id"
	FieldProjectID   = "project_id"
	FieldClipID      = "clip_id"
	FieldWorkerID    = "worker_id"

	// Operations
	FieldOperation = "operation"
	FieldStage     = "stage"
	FieldPlatform  = "platform"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldRunAt      = "run_at"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"
	FieldRetryable = "retryable"
	FieldAttempts  = "attempts"

	// Symbol marker consumed by the minimal console encoder
	FieldSymbol = "symbol"
)

// AddSymbol returns a child logger with a subsystem symbol pre-attached.
// The minimal encoder renders the symbol at the front of each line.
func AddSymbol(log *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	return log.With(FieldSymbol, symbol)
}
