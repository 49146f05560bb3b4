package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/internal/dbtest"
)

const (
	testWorkspace      = "11111111-1111-1111-1111-111111111111"
	testOtherWorkspace = "22222222-2222-2222-2222-222222222222"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbtest.CreateTestDB(t))
}

func mustNewJob(t *testing.T, workspaceID string, kind JobKind, runAt time.Time) *Job {
	t.Helper()
	job, err := NewJob(workspaceID, kind, json.RawMessage(`{"project_id":"p1"}`), runAt)
	require.NoError(t, err)
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)

	job := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, testWorkspace, got.WorkspaceID)
	assert.Equal(t, KindTranscribe, got.Kind)
	assert.Equal(t, JobStateQueued, got.State)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, DefaultMaxAttempts, got.MaxAttempts)
	assert.JSONEq(t, `{"project_id":"p1"}`, string(got.Payload))
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob("nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestNewJobRejectsInvalidInput(t *testing.T) {
	_, err := NewJob("not-a-uuid", KindTranscribe, nil, time.Time{})
	assert.Error(t, err)

	_, err = NewJob(testWorkspace, JobKind("MYSTERY"), nil, time.Time{})
	assert.Error(t, err)
}

func TestClaimJob(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	require.NoError(t, store.CreateJob(job))

	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, JobStateRunning, claimed.State)
	assert.Equal(t, "worker-1", claimed.LockedBy)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.HeartbeatAt)

	// Exclusivity: a second claim finds nothing.
	again, err := store.ClaimJob("worker-2", nil, "", now)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestClaimJobHonorsRunAt(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindClipRender, now.Add(time.Hour))
	require.NoError(t, store.CreateJob(job))

	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = store.ClaimJob("worker-1", nil, "", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestClaimJobOrdering(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	late := mustNewJob(t, testWorkspace, KindTranscribe, now.Add(-time.Minute))
	early := mustNewJob(t, testWorkspace, KindTranscribe, now.Add(-time.Hour))
	require.NoError(t, store.CreateJob(late))
	require.NoError(t, store.CreateJob(early))

	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, early.ID, claimed.ID, "oldest run_at should be claimed first")
}

func TestClaimJobFilters(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	transcribe := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	render := mustNewJob(t, testOtherWorkspace, KindClipRender, time.Time{})
	require.NoError(t, store.CreateJob(transcribe))
	require.NoError(t, store.CreateJob(render))

	claimed, err := store.ClaimJob("worker-1", []JobKind{KindClipRender}, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, render.ID, claimed.ID)

	claimed, err = store.ClaimJob("worker-1", nil, testWorkspace, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, transcribe.ID, claimed.ID)

	claimed, err = store.ClaimJob("worker-1", []JobKind{KindPublishTikTok}, "", now)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestCompleteJob(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	require.NoError(t, store.CreateJob(job))
	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, store.CompleteJob(claimed.ID, now))

	got, err := store.GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, got.State)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)
	assert.Nil(t, got.HeartbeatAt)

	// Completing a job that is no longer running is a conflict.
	err = store.CompleteJob(claimed.ID, now)
	assert.True(t, errors.IsConflictError(err))
}

func TestRetryJobKeepsAttempts(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	require.NoError(t, store.CreateJob(job))
	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	runAt := now.Add(4 * time.Second)
	require.NoError(t, store.RetryJob(claimed.ID, "provider timeout", runAt, now))

	got, err := store.GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.Equal(t, 1, got.Attempts, "retry must not reset attempts")
	assert.Equal(t, "provider timeout", got.LastError)
	assert.WithinDuration(t, runAt, got.RunAt, time.Second)
	assert.Empty(t, got.LockedBy)
}

func TestDeadLetterJob(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindPublishTikTok, time.Time{})
	require.NoError(t, store.CreateJob(job))
	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, store.DeadLetterJob(claimed.ID, "token revoked", now))

	got, err := store.GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateDeadLetter, got.State)
	assert.Equal(t, "token revoked", got.LastError)
	assert.True(t, got.Terminal())

	// Dead-letter jobs are never claimable.
	again, err := store.ClaimJob("worker-1", nil, "", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestHeartbeatJob(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	require.NoError(t, store.CreateJob(job))
	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	later := now.Add(30 * time.Second)
	require.NoError(t, store.HeartbeatJob(claimed.ID, "worker-1", later))

	got, err := store.GetJob(claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HeartbeatAt)
	assert.WithinDuration(t, later, *got.HeartbeatAt, time.Second)

	// A worker that lost ownership gets a conflict, not a silent success.
	err = store.HeartbeatJob(claimed.ID, "worker-2", later)
	assert.True(t, errors.IsConflictError(err))
}

func TestRecoverStuckJobs(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	stuck := mustNewJob(t, testWorkspace, KindClipRender, time.Time{})
	healthy := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	require.NoError(t, store.CreateJob(stuck))
	require.NoError(t, store.CreateJob(healthy))

	// Claim both; backdate one heartbeat by 30 minutes.
	first, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := store.ClaimJob("worker-2", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, second)

	require.NoError(t, store.HeartbeatJob(first.ID, "worker-1", now.Add(-30*time.Minute)))

	count, err := store.RecoverStuckJobs(now.Add(-15*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recovered, err := store.GetJob(first.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, recovered.State)
	assert.Equal(t, 1, recovered.Attempts, "recovery must not change attempts")
	assert.Empty(t, recovered.LockedBy)
	assert.Nil(t, recovered.HeartbeatAt)

	untouched, err := store.GetJob(second.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, untouched.State)
}

func TestRequeueDeadLetter(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindPublishYouTube, time.Time{})
	require.NoError(t, store.CreateJob(job))
	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.DeadLetterJob(claimed.ID, "quota exceeded", now))

	require.NoError(t, store.RequeueDeadLetter(claimed.ID, now))

	got, err := store.GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.Equal(t, 0, got.Attempts, "requeue grants a fresh attempt budget")
	assert.Equal(t, "quota exceeded", got.LastError, "last error stays visible")

	// Only dead_letter jobs can be requeued.
	err = store.RequeueDeadLetter(claimed.ID, now)
	assert.True(t, errors.IsConflictError(err))
}

func TestListJobsAndStats(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateJob(mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})))
	}
	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.CompleteJob(claimed.ID, now))

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	queued := JobStateQueued
	onlyQueued, err := store.ListJobs(&queued, 10)
	require.NoError(t, err)
	assert.Len(t, onlyQueued, 2)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats[JobStateQueued])
	assert.Equal(t, 1, stats[JobStateSucceeded])
}

func TestDeleteSucceededBefore(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	job := mustNewJob(t, testWorkspace, KindTranscribe, time.Time{})
	require.NoError(t, store.CreateJob(job))
	claimed, err := store.ClaimJob("worker-1", nil, "", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.CompleteJob(claimed.ID, now.Add(-48*time.Hour)))

	deleted, err := store.DeleteSucceededBefore(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.GetJob(claimed.ID)
	assert.True(t, errors.IsNotFoundError(err))
}
