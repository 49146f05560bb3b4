package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/internal/dbtest"
)

// fakeClock is a manually advanced Clock for deterministic queue tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// fatalErr is a test error marked non-retryable.
type fatalErr struct{ msg string }

func (e *fatalErr) Error() string      { return e.msg }
func (e *fatalErr) JobRetryable() bool { return false }

// pacedErr is a retryable test error carrying an explicit retry delay.
type pacedErr struct {
	msg   string
	after time.Duration
}

func (e *pacedErr) Error() string                { return e.msg }
func (e *pacedErr) JobRetryable() bool           { return true }
func (e *pacedErr) JobRetryAfter() time.Duration { return e.after }

func newTestQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(dbtest.CreateTestDB(t), clock, zap.NewNop().Sugar())
	return q, clock
}

func TestEnqueueAndClaim(t *testing.T) {
	q, _ := newTestQueue(t)

	job, err := q.Enqueue(testWorkspace, KindIngestURL, json.RawMessage(`{"url":"https://example.com/v"}`), time.Time{})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobStateQueued, job.State)

	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestEnqueueDeduplicatesActiveJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	payload := json.RawMessage(`{"project_id":"p1"}`)

	first, err := q.Enqueue(testWorkspace, KindTranscribe, payload, time.Time{})
	require.NoError(t, err)

	second, err := q.Enqueue(testWorkspace, KindTranscribe, payload, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "identical active job should be returned, not duplicated")

	// Different payload is a different job.
	third, err := q.Enqueue(testWorkspace, KindTranscribe, json.RawMessage(`{"project_id":"p2"}`), time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
}

func TestEnqueueAllowsNewJobAfterTerminal(t *testing.T) {
	q, clock := newTestQueue(t)
	payload := json.RawMessage(`{"project_id":"p1"}`)

	first, err := q.Enqueue(testWorkspace, KindTranscribe, payload, time.Time{})
	require.NoError(t, err)
	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, q.Finalize(claimed, nil))

	clock.Advance(time.Minute)
	second, err := q.Enqueue(testWorkspace, KindTranscribe, payload, time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestFinalizeSuccess(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(testWorkspace, KindTranscribe, nil, time.Time{})
	require.NoError(t, err)
	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, q.Finalize(claimed, nil))

	got, err := q.Store().GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, got.State)
}

func TestFinalizeRetryableBacksOff(t *testing.T) {
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(testWorkspace, KindPublishTikTok, nil, time.Time{})
	require.NoError(t, err)
	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, q.Finalize(claimed, errors.New("provider hiccup")))

	got, err := q.Store().GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "provider hiccup", got.LastError)
	// First failure: backoff base of 2s.
	assert.WithinDuration(t, clock.Now().Add(2*time.Second), got.RunAt, time.Millisecond)

	// Not claimable until the backoff elapses.
	early, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	assert.Nil(t, early)

	clock.Advance(3 * time.Second)
	later, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, later)
	assert.Equal(t, 2, later.Attempts)
}

func TestFinalizeHonorsRetryAfter(t *testing.T) {
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(testWorkspace, KindPublishYouTube, nil, time.Time{})
	require.NoError(t, err)
	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, q.Finalize(claimed, &pacedErr{msg: "posting window closed", after: 10 * time.Minute}))

	got, err := q.Store().GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
	assert.WithinDuration(t, clock.Now().Add(10*time.Minute), got.RunAt, time.Millisecond)
}

func TestFinalizeNonRetryableDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(testWorkspace, KindClipRender, nil, time.Time{})
	require.NoError(t, err)
	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, q.Finalize(claimed, &fatalErr{msg: "clip not found"}))

	got, err := q.Store().GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateDeadLetter, got.State)
	assert.Equal(t, 1, got.Attempts)
}

func TestFinalizeExhaustedAttemptsDeadLetters(t *testing.T) {
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(testWorkspace, KindTranscribe, nil, time.Time{})
	require.NoError(t, err)

	// Burn through the full attempt budget with retryable failures.
	for i := 1; i < DefaultMaxAttempts; i++ {
		claimed, err := q.Claim("worker-1", nil, "")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.NoError(t, q.Finalize(claimed, errors.New("transient")))
		clock.Advance(2 * time.Minute)
	}

	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, DefaultMaxAttempts, claimed.Attempts)

	require.NoError(t, q.Finalize(claimed, errors.New("transient")))

	got, err := q.Store().GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStateDeadLetter, got.State, "retryable error with no attempts left dead-letters")
}

func TestRequeueDeadLetterRoundTrip(t *testing.T) {
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(testWorkspace, KindPublishTikTok, nil, time.Time{})
	require.NoError(t, err)
	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, q.Finalize(claimed, &fatalErr{msg: "account disconnected"}))

	require.NoError(t, q.RequeueDeadLetter(claimed.ID))

	clock.Advance(time.Second)
	again, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, claimed.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
}

func TestRecoverStuck(t *testing.T) {
	q, clock := newTestQueue(t)

	_, err := q.Enqueue(testWorkspace, KindClipRender, nil, time.Time{})
	require.NoError(t, err)
	claimed, err := q.Claim("worker-1", nil, "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Heartbeat goes silent; 20 minutes pass.
	clock.Advance(20 * time.Minute)

	count, err := q.RecoverStuck(15 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reclaimed, err := q.Claim("worker-2", nil, "")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, claimed.ID, reclaimed.ID)
	assert.Equal(t, "worker-2", reclaimed.LockedBy)
}

func TestIsRetryableDefaults(t *testing.T) {
	assert.True(t, isRetryable(errors.New("anonymous failure")))
	assert.False(t, isRetryable(&fatalErr{msg: "bad payload"}))
	assert.True(t, isRetryable(&pacedErr{msg: "paced", after: time.Second}))
	assert.True(t, isRetryable(errors.Wrap(&pacedErr{msg: "paced"}, "outer")))
	assert.False(t, isRetryable(errors.Wrap(&fatalErr{msg: "fatal"}, "outer")))
}
