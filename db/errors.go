package db

import (
	"strings"

	"github.com/clipforge/clipforge/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database. This occurs during graceful shutdown when the connection is
// closed before every worker goroutine has finished.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is
// closed. The string fallback is needed because the sql driver returns its
// own error types that cannot be wrapped at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "sql: database is closed")
}

// IsUniqueViolation reports whether an error came from a SQLite UNIQUE
// constraint. Used by upsert paths to convert driver errors into
// errors.ErrConflict.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
