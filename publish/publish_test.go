package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/internal/dbtest"
	"github.com/clipforge/clipforge/pipeline"
)

const (
	testWorkspace = "11111111-1111-1111-1111-111111111111"
	testAccountID = "33333333-3333-3333-3333-333333333333"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time        { return c.now }
func (c *fixedClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func videoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake-mp4-bytes"), 0o644))
	return path
}

func pipelineErr(t *testing.T, err error) *pipeline.Error {
	t.Helper()
	var perr *pipeline.Error
	require.True(t, errors.As(err, &perr), "expected a pipeline error, got %v", err)
	return perr
}

func unpacedTikTok(t *testing.T, baseURL string) *TikTok {
	t.Helper()
	tk := NewTikTok(zap.NewNop().Sugar())
	tk.BaseURL = baseURL
	tk.limiter = rate.NewLimiter(rate.Inf, 1)
	return tk
}

func TestTikTokUpload(t *testing.T) {
	var gotInit tiktokInitRequest
	var gotRange string

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotInit))
		fmt.Fprintf(w, `{"data":{"publish_id":"pub-1","upload_url":"%s/upload"},"error":{"code":"ok"}}`, srv.URL)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Content-Range")
		w.WriteHeader(http.StatusCreated)
	})

	tk := unpacedTikTok(t, srv.URL)
	result, err := tk.Upload(context.Background(), pipeline.UploadRequest{
		FilePath:    videoFile(t),
		AccessToken: "tok-123",
		Caption:     "my clip",
	})
	require.NoError(t, err)
	assert.Equal(t, "pub-1", result.PlatformPostID)
	assert.Equal(t, "my clip", gotInit.PostInfo.Title)
	assert.Equal(t, defaultPrivacyLevel, gotInit.PostInfo.PrivacyLevel)
	assert.Equal(t, "FILE_UPLOAD", gotInit.SourceInfo.Source)
	assert.Equal(t, 1, gotInit.SourceInfo.TotalChunkCount)
	assert.Equal(t, fmt.Sprintf("bytes 0-%d/%d", gotInit.SourceInfo.VideoSize-1, gotInit.SourceInfo.VideoSize), gotRange)
}

func TestTikTokAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"access_token_invalid"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	tk := unpacedTikTok(t, srv.URL)
	_, err := tk.Upload(context.Background(), pipeline.UploadRequest{
		FilePath: videoFile(t), AccessToken: "bad",
	})
	perr := pipelineErr(t, err)
	assert.Equal(t, pipeline.KindProviderAuth, perr.Kind)
	assert.False(t, perr.JobRetryable())
	assert.NotEmpty(t, perr.Hint)
}

func TestTikTokRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tk := unpacedTikTok(t, srv.URL)
	_, err := tk.Upload(context.Background(), pipeline.UploadRequest{
		FilePath: videoFile(t), AccessToken: "tok",
	})
	perr := pipelineErr(t, err)
	assert.Equal(t, pipeline.KindProviderRateLimited, perr.Kind)
	assert.True(t, perr.JobRetryable())
}

func TestTikTokServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusBadGateway)
	}))
	defer srv.Close()

	tk := unpacedTikTok(t, srv.URL)
	_, err := tk.Upload(context.Background(), pipeline.UploadRequest{
		FilePath: videoFile(t), AccessToken: "tok",
	})
	perr := pipelineErr(t, err)
	assert.Equal(t, pipeline.KindProviderTransient, perr.Kind)
	assert.True(t, perr.JobRetryable())
	assert.Equal(t, http.StatusBadGateway, perr.ProviderStatus)
}

func TestTikTokBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{},"error":{"code":"spam_risk_too_many_posts","message":"posting cap hit"}}`)
	}))
	defer srv.Close()

	tk := unpacedTikTok(t, srv.URL)
	_, err := tk.Upload(context.Background(), pipeline.UploadRequest{
		FilePath: videoFile(t), AccessToken: "tok",
	})
	perr := pipelineErr(t, err)
	assert.Equal(t, pipeline.KindProviderTransient, perr.Kind)
	assert.Contains(t, perr.Message, "posting cap hit")
}

func TestYouTubeUpload(t *testing.T) {
	var gotMeta youtubeMetadata

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/upload/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotMeta))
		w.Header().Set("Location", srv.URL+"/session-1")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/session-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		fmt.Fprint(w, `{"id":"yt-video-1"}`)
	})

	yt := NewYouTube(zap.NewNop().Sugar())
	yt.BaseURL = srv.URL
	yt.limiter = rate.NewLimiter(rate.Inf, 1)

	result, err := yt.Upload(context.Background(), pipeline.UploadRequest{
		FilePath:    videoFile(t),
		AccessToken: "tok",
		Title:       "Highlight",
		Description: "auto-generated",
		Tags:        []string{"clip"},
	})
	require.NoError(t, err)
	assert.Equal(t, "yt-video-1", result.PlatformPostID)
	assert.Equal(t, "Highlight", gotMeta.Snippet.Title)
	assert.Equal(t, defaultVisibility, gotMeta.Status.PrivacyStatus)
}

func TestYouTubeMissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	yt := NewYouTube(zap.NewNop().Sugar())
	yt.BaseURL = srv.URL
	yt.limiter = rate.NewLimiter(rate.Inf, 1)

	_, err := yt.Upload(context.Background(), pipeline.UploadRequest{
		FilePath: videoFile(t), AccessToken: "tok",
	})
	perr := pipelineErr(t, err)
	assert.Equal(t, pipeline.KindProviderTransient, perr.Kind)
}

func newTokenFixture(t *testing.T, expiresAt *time.Time) (*Tokens, *pipeline.Store, *pipeline.ConnectedAccount, *fixedClock) {
	t.Helper()
	conn := dbtest.CreateTestDB(t)
	store := pipeline.NewStore(conn)
	clock := &fixedClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}

	account := &pipeline.ConnectedAccount{
		ID: testAccountID, WorkspaceID: testWorkspace,
		Platform: pipeline.PlatformTikTok, ExternalID: "u1",
		AccessTokenRef: "stored-access", RefreshTokenRef: "stored-refresh",
		ExpiresAt: expiresAt,
	}
	require.NoError(t, store.CreateConnectedAccount(account))

	tokens := NewTokens(store, clock, TokenConfig{
		TikTokClientKey: "key", TikTokClientSecret: "secret",
	}, zap.NewNop().Sugar())
	return tokens, store, account, clock
}

func TestAccessTokenStillValid(t *testing.T) {
	future := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	tokens, _, account, _ := newTokenFixture(t, &future)

	got, err := tokens.AccessToken(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", got)
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "stored-refresh", r.Form.Get("refresh_token"))
		assert.Equal(t, "key", r.Form.Get("client_key"))
		fmt.Fprint(w, `{"access_token":"fresh-access","refresh_token":"fresh-refresh","expires_in":3600}`)
	}))
	defer srv.Close()

	past := time.Date(2025, 6, 15, 11, 0, 0, 0, time.UTC)
	tokens, store, account, clock := newTokenFixture(t, &past)
	tokens.cfg.TikTokTokenURL = srv.URL

	got, err := tokens.AccessToken(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", got)

	persisted, err := store.GetConnectedAccount(account.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", persisted.AccessTokenRef)
	assert.Equal(t, "fresh-refresh", persisted.RefreshTokenRef)
	require.NotNil(t, persisted.ExpiresAt)
	assert.WithinDuration(t, clock.Now().Add(time.Hour), *persisted.ExpiresAt, time.Second)
}

func TestAccessTokenDeadGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	past := time.Date(2025, 6, 15, 11, 0, 0, 0, time.UTC)
	tokens, _, account, _ := newTokenFixture(t, &past)
	tokens.cfg.TikTokTokenURL = srv.URL

	_, err := tokens.AccessToken(context.Background(), account)
	perr := pipelineErr(t, err)
	assert.Equal(t, pipeline.KindProviderAuth, perr.Kind)
	assert.False(t, perr.JobRetryable())
}

func TestAccessTokenMissingRefreshToken(t *testing.T) {
	past := time.Date(2025, 6, 15, 11, 0, 0, 0, time.UTC)
	tokens, _, account, _ := newTokenFixture(t, &past)
	account.RefreshTokenRef = ""

	_, err := tokens.AccessToken(context.Background(), account)
	perr := pipelineErr(t, err)
	assert.Equal(t, pipeline.KindProviderAuth, perr.Kind)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, pipeline.KindProviderAuth, classify("tiktok", 401, "").Kind)
	assert.Equal(t, pipeline.KindProviderAuth, classify("tiktok", 403, "").Kind)
	assert.Equal(t, pipeline.KindProviderRateLimited, classify("tiktok", 429, "").Kind)
	assert.Equal(t, pipeline.KindProviderTransient, classify("youtube", 500, "").Kind)
	assert.Equal(t, pipeline.KindProviderTransient, classify("youtube", 404, "").Kind)
}
