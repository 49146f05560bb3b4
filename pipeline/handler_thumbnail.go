package pipeline

import (
	"context"
	"path/filepath"

	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// HandleThumbnailGen generates a standalone thumbnail for a clip, preferring
// the rendered output over the raw source. Idempotent on an existing thumb.
func HandleThumbnailGen(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParseThumbnailPayload(job.Payload)
	if err != nil {
		return err
	}

	clip, err := wc.Store.GetClip(payload.ClipID)
	if err != nil {
		return err
	}
	project, err := wc.Store.GetProject(clip.ProjectID)
	if err != nil {
		return err
	}

	log := wc.Log.With("symbol", sym.Pipeline, "job_id", job.ID, "clip_id", clip.ID)

	thumbKey := ThumbKey(project.WorkspaceID, project.ID, clip.ID)
	if clip.ThumbPath != "" {
		if ok, err := wc.Storage.Exists(ctx, BucketThumbs, clip.ThumbPath); err == nil && ok {
			log.Debugw("Thumbnail already present, skipping")
			return nil
		}
	}

	// Prefer the rendered clip; timestamps are then relative to the clip.
	// Falling back to the source means seeking to the absolute position.
	var (
		bucket    string
		inputKey  string
		frameAt   float64
		midOffset = clip.Duration() / 2
	)
	if clip.StoragePath != "" {
		bucket, inputKey, frameAt = BucketRenders, clip.StoragePath, midOffset
	} else {
		if project.SourcePath == "" {
			return PreconditionFailed("clip %s has no rendered output and project has no source", clip.ID)
		}
		bucket, inputKey, frameAt = BucketVideos, project.SourcePath, clip.StartS+midOffset
	}
	if payload.AtSec != nil {
		frameAt = *payload.AtSec
	}

	dir, cleanup, err := wc.TempDir(job.ID)
	if err != nil {
		return Internal("failed to create temp dir: %v", err).WithCause(err)
	}
	defer cleanup()

	localInput := filepath.Join(dir, filepath.Base(inputKey))
	if err := wc.Storage.Download(ctx, bucket, inputKey, localInput); err != nil {
		return Internal("failed to download thumbnail input: %v", err).WithCause(err)
	}

	localThumb := filepath.Join(dir, clip.ID+".jpg")
	if err := runTranscode(ctx, wc, TranscodeRequest{
		Args:       BuildThumbnailArgs(localInput, frameAt, localThumb),
		Timeout:    thumbnailTimeout,
		OutputPath: localThumb,
	}, "thumbnail"); err != nil {
		return err
	}

	if err := wc.Storage.Upload(ctx, BucketThumbs, thumbKey, localThumb); err != nil {
		return Internal("failed to store thumbnail: %v", err).WithCause(err)
	}
	if err := wc.Store.SetClipThumbPath(clip.ID, thumbKey, wc.Clock.Now()); err != nil {
		return Internal("failed to record thumb path: %v", err).WithCause(err)
	}
	log.Infow("Thumbnail generated", "thumb_key", thumbKey)
	return nil
}
