package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/internal/dbtest"
	"github.com/clipforge/clipforge/queue"
)

const (
	testWorkspace = "11111111-1111-1111-1111-111111111111"
	testProjectID = "22222222-2222-2222-2222-222222222222"
	testAccountID = "33333333-3333-3333-3333-333333333333"
)

// fixedClock is a manually advanced clock.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time          { return c.now }
func (c *fixedClock) Sleep(d time.Duration)   { c.now = c.now.Add(d) }
func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeStorage is an in-memory blob store with create-if-absent uploads.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
}

func (f *fakeStorage) Exists(_ context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeStorage) Upload(_ context.Context, bucket, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[bucket+"/"+key]; ok {
		return nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = data
	return nil
}

func (f *fakeStorage) Download(_ context.Context, bucket, key, localPath string) error {
	f.mu.Lock()
	data, ok := f.objects[bucket+"/"+key]
	f.mu.Unlock()
	if !ok {
		return errors.Newf("object %s/%s not found", bucket, key)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakeStorage) Open(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.objects[bucket+"/"+key]
	f.mu.Unlock()
	if !ok {
		return nil, errors.Newf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) List(_ context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if len(k) > len(bucket)+1 && k[:len(bucket)+1] == bucket+"/" {
			key := k[len(bucket)+1:]
			if prefix == "" || (len(key) >= len(prefix) && key[:len(prefix)] == prefix) {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

func (f *fakeStorage) Remove(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, bucket+"/"+key)
	return nil
}

func (f *fakeStorage) RemoveBatch(ctx context.Context, bucket string, keys []string) error {
	for _, key := range keys {
		if err := f.Remove(ctx, bucket, key); err != nil {
			return err
		}
	}
	return nil
}

// fakeAdmission lets tests force guard outcomes and records usage.
type fakeAdmission struct {
	plan     PlanLimits
	usageErr error
	postErr  error
	recorded map[string]int
}

func newFakeAdmission(plan PlanLimits) *fakeAdmission {
	return &fakeAdmission{plan: plan, recorded: make(map[string]int)}
}

func (f *fakeAdmission) ResolvePlan(string) (PlanLimits, error) { return f.plan, nil }

func (f *fakeAdmission) AssertWithinUsage(_, _ string, _ int) error { return f.usageErr }

func (f *fakeAdmission) RecordUsage(_, metric string, delta int) error {
	f.recorded[metric] += delta
	return nil
}

func (f *fakeAdmission) EnforcePostLimits(_, _, _ string, _ time.Time) error { return f.postErr }

// fakePublisher counts uploads.
type fakePublisher struct {
	result *UploadResult
	err    error
	calls  int
}

func (f *fakePublisher) Upload(_ context.Context, _ UploadRequest) (*UploadResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeTokens returns a static token.
type fakeTokens struct{ token string }

func (f *fakeTokens) AccessToken(_ context.Context, _ *ConnectedAccount) (string, error) {
	return f.token, nil
}

// fakeTranscoder writes a placeholder output file and reports success.
type fakeTranscoder struct {
	calls []TranscodeRequest
	fail  bool
}

func (f *fakeTranscoder) Run(_ context.Context, req TranscodeRequest) (*TranscodeResult, error) {
	f.calls = append(f.calls, req)
	if f.fail {
		return &TranscodeResult{OK: false, ExitCode: 1, StderrSummary: "synthetic failure"}, nil
	}
	if req.OutputPath != "" {
		if err := os.WriteFile(req.OutputPath, []byte("media"), 0o644); err != nil {
			return nil, err
		}
	}
	return &TranscodeResult{OK: true}, nil
}

// fakeTranscriber produces static artifacts.
type fakeTranscriber struct {
	durationSec float64
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (*TranscribeResult, error) {
	dir, err := os.MkdirTemp("", "transcriber")
	if err != nil {
		return nil, err
	}
	srt := dir + "/t.srt"
	js := dir + "/t.json"
	if err := os.WriteFile(srt, []byte("1\n00:00:00,000 --> 00:00:01,000\nhello\n"), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(js, []byte(`{"durationSec":90,"segments":[]}`), 0o644); err != nil {
		return nil, err
	}
	return &TranscribeResult{SRTPath: srt, JSONPath: js, DurationSec: f.durationSec}, nil
}

// fakeDownloader writes a placeholder source file.
type fakeDownloader struct{ calls int }

func (f *fakeDownloader) Download(_ context.Context, _, destPath string) error {
	f.calls++
	return os.WriteFile(destPath, []byte("video"), 0o644)
}

type testEnv struct {
	wc        *WorkerContext
	store     *Store
	jobs      *queue.Queue
	storage   *fakeStorage
	admission *fakeAdmission
	tiktok    *fakePublisher
	youtube   *fakePublisher
	transcode *fakeTranscoder
	clock     *fixedClock
}

func basicPlan() PlanLimits {
	return PlanLimits{
		Name:            "basic",
		ClipsPerProject: 3,
		ClipsPerMonth:   450,
		PostsPerMonth:   30,
		PostsPerDay:     4,
		PostsPerHour:    2,
		PostCooldown:    15 * time.Minute,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := dbtest.CreateTestDB(t)
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	log := zap.NewNop().Sugar()

	env := &testEnv{
		store:     NewStore(conn),
		jobs:      queue.NewQueue(conn, clock, log),
		storage:   newFakeStorage(),
		admission: newFakeAdmission(basicPlan()),
		tiktok:    &fakePublisher{result: &UploadResult{PlatformPostID: "tt-post-1"}},
		youtube:   &fakePublisher{result: &UploadResult{PlatformPostID: "yt-post-1"}},
		transcode: &fakeTranscoder{},
		clock:     clock,
	}
	env.wc = &WorkerContext{
		Store:      env.store,
		Jobs:       env.jobs,
		JobStore:   env.jobs.Store(),
		Storage:    env.storage,
		Clock:      clock,
		Log:        log,
		Transcribe: &fakeTranscriber{durationSec: 90},
		Transcode:  env.transcode,
		Download:   &fakeDownloader{},
		Tokens:     &fakeTokens{token: "token-1"},
		Publishers: map[string]Publisher{
			PlatformTikTok:  env.tiktok,
			PlatformYouTube: env.youtube,
		},
		Admission: env.admission,
		TempRoot:  t.TempDir(),
		WorkerID:  "test-worker",
	}
	return env
}

func (e *testEnv) createProject(t *testing.T, stage Stage, sourcePath string) *Project {
	t.Helper()
	p := &Project{
		ID:            testProjectID,
		WorkspaceID:   testWorkspace,
		Status:        ProjectStatusProcessing,
		PipelineStage: stage,
		SourcePath:    sourcePath,
	}
	require.NoError(t, e.store.CreateProject(p))
	return p
}

func (e *testEnv) createAccount(t *testing.T, platform string) *ConnectedAccount {
	t.Helper()
	a := &ConnectedAccount{
		ID:             testAccountID,
		WorkspaceID:    testWorkspace,
		Platform:       platform,
		ExternalID:     "ext-user-1",
		AccessTokenRef: "ref-1",
	}
	require.NoError(t, e.store.CreateConnectedAccount(a))
	return a
}

func (e *testEnv) job(t *testing.T, kind queue.JobKind, payload string) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(testWorkspace, kind, []byte(payload), e.clock.Now())
	require.NoError(t, err)
	job.Attempts = 1
	return job
}
