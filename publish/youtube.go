package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/sym"
)

// DefaultYouTubeBaseURL is the production Data API host.
const DefaultYouTubeBaseURL = "https://www.googleapis.com"

const (
	defaultVisibility = "private"

	// youtubePace keeps resumable-session creation under the per-minute
	// quota for the videos.insert endpoint.
	youtubePace = 6 * time.Second
)

// YouTube publishes clips with the two-step resumable protocol: a session
// POST carrying the snippet metadata, then a PUT of the video bytes.
type YouTube struct {
	BaseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewYouTube creates the client.
func NewYouTube(log *zap.SugaredLogger) *YouTube {
	return &YouTube{
		BaseURL: DefaultYouTubeBaseURL,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Every(youtubePace), 1),
		log:     log.Named("youtube"),
	}
}

var _ pipeline.Publisher = (*YouTube)(nil)

type youtubeMetadata struct {
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description,omitempty"`
		Tags        []string `json:"tags,omitempty"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

// Upload opens a resumable session and streams the video into it.
func (y *YouTube) Upload(ctx context.Context, req pipeline.UploadRequest) (*pipeline.UploadResult, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "upload cancelled")
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		return nil, pipeline.Internal("render file missing: %v", err).WithCause(err)
	}

	sessionURL, err := y.openSession(ctx, req, info.Size())
	if err != nil {
		return nil, err
	}

	videoID, err := y.putVideo(ctx, sessionURL, req.FilePath, info.Size())
	if err != nil {
		return nil, err
	}

	y.log.Infow("YouTube publish complete",
		"symbol", sym.Publish, "video_id", videoID, "bytes", info.Size())
	return &pipeline.UploadResult{PlatformPostID: videoID}, nil
}

func (y *YouTube) openSession(ctx context.Context, req pipeline.UploadRequest, size int64) (string, error) {
	var meta youtubeMetadata
	meta.Snippet.Title = req.Title
	if meta.Snippet.Title == "" {
		meta.Snippet.Title = req.Caption
	}
	meta.Snippet.Description = req.Description
	meta.Snippet.Tags = req.Tags
	meta.Status.PrivacyStatus = req.Visibility
	if meta.Status.PrivacyStatus == "" {
		meta.Status.PrivacyStatus = defaultVisibility
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return "", pipeline.Internal("failed to encode video metadata: %v", err).WithCause(err)
	}

	sessCtx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(sessCtx, http.MethodPost,
		y.BaseURL+"/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status",
		bytes.NewReader(payload))
	if err != nil {
		return "", pipeline.Internal("failed to build session request: %v", err).WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Upload-Content-Type", "video/mp4")
	httpReq.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := y.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", pipeline.Cancelled("youtube session cancelled").WithCause(err)
		}
		return "", pipeline.ProviderTransient(0, "youtube session unreachable: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classify("youtube", resp.StatusCode, readBody(resp.Body))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", pipeline.ProviderTransient(resp.StatusCode,
			"youtube session returned no upload location")
	}
	return location, nil
}

func (y *YouTube) putVideo(ctx context.Context, sessionURL, filePath string, size int64) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", pipeline.Internal("failed to open render: %v", err).WithCause(err)
	}
	defer f.Close()

	putCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(putCtx, http.MethodPut, sessionURL, f)
	if err != nil {
		return "", pipeline.Internal("failed to build upload request: %v", err).WithCause(err)
	}
	httpReq.ContentLength = size
	httpReq.Header.Set("Content-Type", "video/mp4")

	resp, err := y.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", pipeline.Cancelled("youtube upload cancelled").WithCause(err)
		}
		return "", pipeline.ProviderTransient(0, "youtube upload unreachable: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw := readBody(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classify("youtube", resp.StatusCode, raw)
	}

	var video struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(raw), &video); err != nil || video.ID == "" {
		return "", pipeline.ProviderTransient(resp.StatusCode,
			"youtube upload returned no video id: %s", snippet(raw))
	}
	return video.ID, nil
}
