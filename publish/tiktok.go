package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/sym"
)

// DefaultTikTokBaseURL is the production content-posting API host.
const DefaultTikTokBaseURL = "https://open.tiktokapis.com"

const defaultPrivacyLevel = "SELF_ONLY"

// tiktokPace spaces content-posting calls; the API tolerates roughly one
// publish every couple of seconds per app.
const tiktokPace = 2 * time.Second

// TikTok publishes rendered clips through the content-posting API: an init
// call reserving an upload slot, a single-chunk PUT of the video, and the
// publish id handed back from init.
type TikTok struct {
	BaseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewTikTok creates the client. Requests are paced to stay inside the
// content-posting quota.
func NewTikTok(log *zap.SugaredLogger) *TikTok {
	return &TikTok{
		BaseURL: DefaultTikTokBaseURL,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Every(tiktokPace), 1),
		log:     log.Named("tiktok"),
	}
}

var _ pipeline.Publisher = (*TikTok)(nil)

type tiktokInitRequest struct {
	PostInfo struct {
		Title        string `json:"title"`
		PrivacyLevel string `json:"privacy_level"`
	} `json:"post_info"`
	SourceInfo struct {
		Source          string `json:"source"`
		VideoSize       int64  `json:"video_size"`
		ChunkSize       int64  `json:"chunk_size"`
		TotalChunkCount int    `json:"total_chunk_count"`
	} `json:"source_info"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload runs init and the chunk PUT. Errors come back pre-classified.
func (t *TikTok) Upload(ctx context.Context, req pipeline.UploadRequest) (*pipeline.UploadResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "upload cancelled")
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		return nil, pipeline.Internal("render file missing: %v", err).WithCause(err)
	}
	size := info.Size()

	init, err := t.initUpload(ctx, req, size)
	if err != nil {
		return nil, err
	}

	if err := t.putVideo(ctx, init.Data.UploadURL, req.FilePath, size); err != nil {
		return nil, err
	}

	t.log.Infow("TikTok publish submitted",
		"symbol", sym.Publish, "publish_id", init.Data.PublishID, "bytes", size)
	return &pipeline.UploadResult{PlatformPostID: init.Data.PublishID}, nil
}

func (t *TikTok) initUpload(ctx context.Context, req pipeline.UploadRequest, size int64) (*tiktokInitResponse, error) {
	var body tiktokInitRequest
	body.PostInfo.Title = req.Caption
	body.PostInfo.PrivacyLevel = req.PrivacyLevel
	if body.PostInfo.PrivacyLevel == "" {
		body.PostInfo.PrivacyLevel = defaultPrivacyLevel
	}
	body.SourceInfo.Source = "FILE_UPLOAD"
	body.SourceInfo.VideoSize = size
	body.SourceInfo.ChunkSize = size
	body.SourceInfo.TotalChunkCount = 1

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pipeline.Internal("failed to encode init request: %v", err).WithCause(err)
	}

	initCtx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(initCtx, http.MethodPost,
		t.BaseURL+"/v2/post/publish/video/init/", bytes.NewReader(payload))
	if err != nil {
		return nil, pipeline.Internal("failed to build init request: %v", err).WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, pipeline.Cancelled("tiktok init cancelled").WithCause(err)
		}
		return nil, pipeline.ProviderTransient(0, "tiktok init unreachable: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw := readBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, classify("tiktok", resp.StatusCode, raw)
	}

	var init tiktokInitResponse
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		return nil, pipeline.ProviderTransient(resp.StatusCode,
			"tiktok init returned unparseable body: %s", snippet(raw)).WithCause(err)
	}
	if init.Error.Code != "" && init.Error.Code != "ok" {
		return nil, pipeline.ProviderTransient(resp.StatusCode,
			"tiktok init rejected: %s (%s)", init.Error.Message, init.Error.Code)
	}
	if init.Data.UploadURL == "" || init.Data.PublishID == "" {
		return nil, pipeline.ProviderTransient(resp.StatusCode,
			"tiktok init returned no upload slot: %s", snippet(raw))
	}
	return &init, nil
}

func (t *TikTok) putVideo(ctx context.Context, uploadURL, filePath string, size int64) error {
	f, err := os.Open(filePath)
	if err != nil {
		return pipeline.Internal("failed to open render: %v", err).WithCause(err)
	}
	defer f.Close()

	putCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(putCtx, http.MethodPut, uploadURL, f)
	if err != nil {
		return pipeline.Internal("failed to build upload request: %v", err).WithCause(err)
	}
	httpReq.ContentLength = size
	httpReq.Header.Set("Content-Type", "video/mp4")
	httpReq.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", size-1, size))

	resp, err := t.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Cancelled("tiktok upload cancelled").WithCause(err)
		}
		return pipeline.ProviderTransient(0, "tiktok upload unreachable: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify("tiktok", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}
