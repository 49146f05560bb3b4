package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/clipforge/clipforge/queue"
)

// Ports consumed by the handlers. Production implementations live in the
// storage, transcoder, downloader, publish, and admission packages; tests
// use in-memory fakes.

// Storage is the blob-store port. Upload is create-if-absent: uploading to
// an existing key is a no-op success.
type Storage interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Upload(ctx context.Context, bucket, key, localPath string) error
	Download(ctx context.Context, bucket, key, localPath string) error
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Remove(ctx context.Context, bucket, key string) error
	RemoveBatch(ctx context.Context, bucket string, keys []string) error
}

// Enqueuer lets handlers schedule successor jobs.
type Enqueuer interface {
	Enqueue(workspaceID string, kind queue.JobKind, payload json.RawMessage, scheduledFor time.Time) (*queue.Job, error)
}

// TranscriptSegment is one recognized span of speech.
type TranscriptSegment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Transcript is the JSON artifact produced by transcription.
type Transcript struct {
	DurationSec float64             `json:"durationSec"`
	Segments    []TranscriptSegment `json:"segments"`
}

// TranscribeResult carries the artifact paths produced by a Transcriber.
type TranscribeResult struct {
	SRTPath     string
	JSONPath    string
	DurationSec float64
}

// Transcriber converts a local media file to transcript artifacts.
type Transcriber interface {
	Transcribe(ctx context.Context, localPath string) (*TranscribeResult, error)
}

// TranscodeRequest is one bounded transcoder invocation.
type TranscodeRequest struct {
	Args               []string
	Timeout            time.Duration
	MaxDurationSeconds float64 // 0 disables output-duration validation
	OutputPath         string
}

// TranscodeResult reports how the transcoder run ended.
type TranscodeResult struct {
	OK              bool
	DurationSeconds float64
	ExitCode        int
	Signal          string
	StderrSummary   string
}

// Transcoder runs the external media transcoder with a hard deadline.
type Transcoder interface {
	Run(ctx context.Context, req TranscodeRequest) (*TranscodeResult, error)
}

// Downloader fetches a remote source video to a local path.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destPath string) error
}

// TokenProvider returns a fresh access token for a connected account,
// refreshing through the platform's token endpoint when expired.
type TokenProvider interface {
	AccessToken(ctx context.Context, account *ConnectedAccount) (string, error)
}

// UploadRequest carries the platform-specific metadata for one publish.
type UploadRequest struct {
	FilePath     string
	AccessToken  string
	Caption      string
	Title        string
	Description  string
	Tags         []string
	Visibility   string
	PrivacyLevel string
}

// UploadResult is the platform's identifier for the published post.
type UploadResult struct {
	PlatformPostID string
}

// Publisher uploads one rendered clip to a platform. Errors are returned
// pre-classified (ProviderAuth / ProviderRateLimited / ProviderTransient).
type Publisher interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// ErrorReporter receives Internal errors with context for out-of-band alerting.
type ErrorReporter interface {
	Report(err error, fields map[string]interface{})
}

// Usage metric names tracked per workspace per month.
const (
	MetricClips         = "clips"
	MetricSourceMinutes = "source_minutes"
	MetricPosts         = "posts"
)

// PlanLimits is the resolved cap set for a workspace's plan.
type PlanLimits struct {
	Name             string
	ClipsPerProject  int
	ClipsPerMonth    int
	SourceMinutesCap int
	PostsPerMonth    int
	ConcurrentJobs   int
	PostCooldown     time.Duration
	PostsPerDay      int
	PostsPerHour     int
}

// Admission is the pre-work guard surface: plan resolution, usage caps, and
// the posting-rate guard. Implemented by the admission package.
type Admission interface {
	ResolvePlan(workspaceID string) (PlanLimits, error)
	AssertWithinUsage(workspaceID, metric string, delta int) error
	RecordUsage(workspaceID, metric string, delta int) error
	EnforcePostLimits(workspaceID, connectedAccountID, platform string, now time.Time) error
}
