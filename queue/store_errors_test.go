package queue

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/errors"
)

var errDriver = errors.New("driver: connection lost")

// These tests drive the store against a mocked driver to reach branches an
// in-memory database cannot: driver failures and the claim lost-race path
// where the guarded UPDATE matches zero rows.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestClaimJobLostRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1"))
	// Another worker claimed the row between SELECT and UPDATE.
	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	job, err := store.ClaimJob("worker-a", nil, "", time.Now())
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJobBeginFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errDriver)

	_, err := store.ClaimJob("worker-a", nil, "", time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to begin claim transaction")
}

func TestCreateJobDriverFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(errDriver)

	job, err := NewJob("7f0e8a1c-93dd-4c4e-9fe5-000000000001", KindIngestURL, nil, time.Time{})
	require.NoError(t, err)
	err = store.CreateJob(job)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to create job")
}

func TestStatsDriverFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT state, COUNT").WillReturnError(errDriver)

	_, err := store.Stats()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to count jobs")
}

func TestHeartbeatJobDriverFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET heartbeat_at").WillReturnError(errDriver)

	err := store.HeartbeatJob("job-1", "worker-a", time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to heartbeat job")
}
