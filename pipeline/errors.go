package pipeline

import (
	"fmt"
	"time"
)

// ErrorKind is the categorical tag of a pipeline error. The kind, not the
// message, decides whether the queue retries or dead-letters the job.
type ErrorKind string

const (
	KindInvalidPayload       ErrorKind = "invalid_payload"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindPreconditionFailed   ErrorKind = "precondition_failed"
	KindUsageLimitExceeded   ErrorKind = "usage_limit_exceeded"
	KindPostingLimitExceeded ErrorKind = "posting_limit_exceeded"
	KindProviderAuth         ErrorKind = "provider_auth"
	KindProviderRateLimited  ErrorKind = "provider_rate_limited"
	KindProviderTransient    ErrorKind = "provider_transient"
	KindTranscoderTimeout    ErrorKind = "transcoder_timeout"
	KindTranscoderFailed     ErrorKind = "transcoder_failed"
	KindCancelled            ErrorKind = "cancelled"
	KindInternal             ErrorKind = "internal"
)

// Error is the tagged pipeline error. It implements the queue's retryable
// and retry-after markers so Finalize can settle jobs without importing
// this package.
type Error struct {
	Kind           ErrorKind
	Message        string
	Retryable      bool
	ProviderStatus int           // HTTP status from a platform API, when present
	RetryAfter     time.Duration // explicit re-run delay, e.g. posting guard windows
	Hint           string        // operator/user guidance ("reconnect account")
	cause          error
}

func (e *Error) Error() string {
	if e.ProviderStatus != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.ProviderStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// JobRetryable reports whether the queue may retry the job.
func (e *Error) JobRetryable() bool { return e.Retryable }

// JobRetryAfter returns the explicit retry delay, or 0 for default backoff.
func (e *Error) JobRetryAfter() time.Duration { return e.RetryAfter }

// WithCause attaches an underlying error for logging; classification is
// unchanged.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func newError(kind ErrorKind, retryable bool, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Retryable: retryable, Message: fmt.Sprintf(format, args...)}
}

// InvalidPayload: schema mismatch; dead-letters on first encounter.
func InvalidPayload(format string, args ...interface{}) *Error {
	return newError(KindInvalidPayload, false, format, args...)
}

// NotFoundErr: a referenced row is missing.
func NotFoundErr(format string, args ...interface{}) *Error {
	return newError(KindNotFound, false, format, args...)
}

// ConflictErr: uniqueness violated or state went stale; the converging
// short-circuit will handle the next arrival.
func ConflictErr(format string, args ...interface{}) *Error {
	return newError(KindConflict, false, format, args...)
}

// PreconditionFailed: a stage guard failed or a resource is not ready.
func PreconditionFailed(format string, args ...interface{}) *Error {
	return newError(KindPreconditionFailed, false, format, args...)
}

// UsageLimitExceeded: quota exhausted; dead-letters so operators see it.
func UsageLimitExceeded(metric string, used, limit int) *Error {
	return newError(KindUsageLimitExceeded, false,
		"%s quota exhausted: used %d of %d", metric, used, limit)
}

// PostingLimitExceeded: rate guard tripped; retried exactly when the
// window reopens.
func PostingLimitExceeded(reason string, remaining time.Duration) *Error {
	e := newError(KindPostingLimitExceeded, true,
		"posting limit: %s (retry in %s)", reason, remaining.Round(time.Second))
	e.RetryAfter = remaining
	return e
}

// ProviderAuth: 401/403 from a platform; the account needs reconnecting.
func ProviderAuth(status int, format string, args ...interface{}) *Error {
	e := newError(KindProviderAuth, false, format, args...)
	e.ProviderStatus = status
	e.Hint = "reconnect the account to refresh authorization"
	return e
}

// ProviderRateLimited: 429 from a platform.
func ProviderRateLimited(status int, format string, args ...interface{}) *Error {
	e := newError(KindProviderRateLimited, true, format, args...)
	e.ProviderStatus = status
	return e
}

// ProviderTransient: 5xx, network failure, or timeout talking to a platform.
func ProviderTransient(status int, format string, args ...interface{}) *Error {
	e := newError(KindProviderTransient, true, format, args...)
	e.ProviderStatus = status
	return e
}

// TranscoderTimeout: the transcoder exceeded its hard deadline.
func TranscoderTimeout(format string, args ...interface{}) *Error {
	return newError(KindTranscoderTimeout, true, format, args...)
}

// TranscoderFailed: the transcoder exited non-zero or produced bad output.
func TranscoderFailed(format string, args ...interface{}) *Error {
	return newError(KindTranscoderFailed, true, format, args...)
}

// Cancelled: the runtime cancelled the handler; requeued with backoff.
func Cancelled(format string, args ...interface{}) *Error {
	return newError(KindCancelled, true, format, args...)
}

// Internal: unknown failure; retryable and reported.
func Internal(format string, args ...interface{}) *Error {
	return newError(KindInternal, true, format, args...)
}
