package pipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// supported ingest hosts besides direct file URLs.
var youtubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
}

// ValidateSourceURL checks that the source is an http(s) URL on a supported
// host: YouTube, or any host for direct file downloads.
func ValidateSourceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, InvalidPayload("source url %q is not a valid URL", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, InvalidPayload("source url scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return nil, InvalidPayload("source url %q has no host", raw)
	}
	return u, nil
}

// IsYouTubeURL reports whether the URL points at YouTube (downloaded through
// the media downloader rather than a direct fetch).
func IsYouTubeURL(u *url.URL) bool {
	return youtubeHosts[strings.ToLower(u.Host)]
}

// sourceExt guesses the stored extension from a direct URL path; YouTube
// downloads always produce mp4.
func sourceExt(u *url.URL) string {
	if IsYouTubeURL(u) {
		return "mp4"
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return "mp4"
	}
	return ext
}

// HandleIngest downloads a project's source video and stores it under the
// deterministic source key, then hands the project to transcription.
func HandleIngest(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParseIngestPayload(job.Payload)
	if err != nil {
		return err
	}

	project, err := wc.Store.GetProject(payload.ProjectID)
	if err != nil {
		return err
	}

	srcURL, err := ValidateSourceURL(payload.SourceURL)
	if err != nil {
		return err
	}

	now := wc.Clock.Now()
	key := SourceKey(project.WorkspaceID, project.ID, sourceExt(srcURL))
	log := wc.Log.With("symbol", sym.Pipeline, "job_id", job.ID, "project_id", project.ID)

	exists, err := wc.Storage.Exists(ctx, BucketVideos, key)
	if err != nil {
		return Internal("failed to check source presence: %v", err).WithCause(err)
	}

	if !exists {
		dir, cleanup, err := wc.TempDir(job.ID)
		if err != nil {
			return Internal("failed to create temp dir: %v", err).WithCause(err)
		}
		defer cleanup()

		localPath := filepath.Join(dir, "source."+sourceExt(srcURL))
		if err := wc.Download.Download(ctx, payload.SourceURL, localPath); err != nil {
			if ctx.Err() != nil {
				return Cancelled("source download cancelled").WithCause(err)
			}
			return ProviderTransient(0, "source download failed: %v", err).WithCause(err)
		}
		if err := wc.Storage.Upload(ctx, BucketVideos, key, localPath); err != nil {
			return Internal("failed to store source: %v", err).WithCause(err)
		}
		log.Infow("Source ingested", "key", key)
	} else {
		log.Debugw("Source already present, skipping download", "key", key)
	}

	if err := wc.Store.SetProjectSourcePath(project.ID, key, now); err != nil {
		return Internal("failed to record source path: %v", err).WithCause(err)
	}
	if project.Status == ProjectStatusQueued {
		if err := wc.Store.UpdateProjectStatus(project.ID, ProjectStatusProcessing, now); err != nil {
			return Internal("failed to update project status: %v", err).WithCause(err)
		}
	}

	successor, err := json.Marshal(TranscribePayload{ProjectID: project.ID, SourceExt: sourceExt(srcURL)})
	if err != nil {
		return Internal("failed to marshal transcribe payload: %v", err).WithCause(err)
	}
	if _, err := wc.Jobs.Enqueue(project.WorkspaceID, queue.KindTranscribe, successor, time.Time{}); err != nil {
		return Internal("failed to enqueue transcribe: %v", err).WithCause(err)
	}
	return nil
}
