package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// Transcoder deadlines.
const (
	renderTimeout    = 10 * time.Minute
	thumbnailTimeout = 2 * time.Minute

	// Rendered output may exceed the requested cut by a little (keyframe
	// alignment); anything beyond this slack fails validation.
	renderDurationSlack = 2.0
)

// HandleClipRender renders one clip to the vertical output format, uploads
// the video and a thumbnail, and advances the project to RENDERED once all
// clips are terminal.
func HandleClipRender(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParseRenderPayload(job.Payload)
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

	log := wc.Log.With("symbol", sym.Pipeline, "job_id", job.ID, "clip_id", clip.ID, "project_id", project.ID)

	if IsAtLeast(project.PipelineStage, StageRendered) {
		log.Debugw("Project already rendered, skipping")
		return nil
	}

	renderKey := RenderKey(project.WorkspaceID, project.ID, clip.ID)
	thumbKey := ThumbKey(project.WorkspaceID, project.ID, clip.ID)

	rendered, err := wc.Storage.Exists(ctx, BucketRenders, renderKey)
	if err != nil {
		return Internal("failed to check render presence: %v", err).WithCause(err)
	}
	if rendered && clip.Status == ClipStatusReady {
		log.Debugw("Clip already rendered, skipping")
		return settleProjectAfterRender(wc, project, log)
	}

	now := wc.Clock.Now()
	if err := wc.Store.SetClipStatus(clip.ID, ClipStatusRendering, now); err != nil {
		return Internal("failed to mark clip rendering: %v", err).WithCause(err)
	}

	dir, cleanup, err := wc.TempDir(job.ID)
	if err != nil {
		return Internal("failed to create temp dir: %v", err).WithCause(err)
	}
	defer cleanup()

	sourceKey := project.SourcePath
	if sourceKey == "" {
		return PreconditionFailed("project %s has no source path", project.ID)
	}
	localSource := filepath.Join(dir, filepath.Base(sourceKey))
	if err := wc.Storage.Download(ctx, BucketVideos, sourceKey, localSource); err != nil {
		return Internal("failed to download source: %v", err).WithCause(err)
	}

	// Subtitles are optional: burn them in when a transcript exists.
	localSubs := ""
	srtKey := TranscriptSRTKey(project.WorkspaceID, project.ID)
	if ok, err := wc.Storage.Exists(ctx, BucketTranscripts, srtKey); err == nil && ok {
		localSubs = filepath.Join(dir, "subtitles.srt")
		if err := wc.Storage.Download(ctx, BucketTranscripts, srtKey, localSubs); err != nil {
			log.Warnw("Failed to download subtitles, rendering without", "error", err)
			localSubs = ""
		}
	}

	localRender := filepath.Join(dir, clip.ID+".mp4")
	renderErr := runTranscode(ctx, wc, TranscodeRequest{
		Args:               BuildRenderArgs(localSource, clip.StartS, clip.EndS, localSubs, localRender),
		Timeout:            renderTimeout,
		MaxDurationSeconds: clip.Duration() + renderDurationSlack,
		OutputPath:         localRender,
	}, "render")
	if renderErr != nil {
		if err := wc.Store.SetClipStatus(clip.ID, ClipStatusFailed, wc.Clock.Now()); err != nil {
			log.Warnw("Failed to mark clip failed", "error", err)
		}
		return renderErr
	}

	localThumb := filepath.Join(dir, clip.ID+".jpg")
	midpoint := clip.Duration() / 2
	if err := runTranscode(ctx, wc, TranscodeRequest{
		Args:       BuildThumbnailArgs(localRender, midpoint, localThumb),
		Timeout:    thumbnailTimeout,
		OutputPath: localThumb,
	}, "thumbnail"); err != nil {
		if serr := wc.Store.SetClipStatus(clip.ID, ClipStatusFailed, wc.Clock.Now()); serr != nil {
			log.Warnw("Failed to mark clip failed", "error", serr)
		}
		return err
	}

	if err := wc.Storage.Upload(ctx, BucketRenders, renderKey, localRender); err != nil {
		return Internal("failed to store render: %v", err).WithCause(err)
	}
	if err := wc.Storage.Upload(ctx, BucketThumbs, thumbKey, localThumb); err != nil {
		return Internal("failed to store thumbnail: %v", err).WithCause(err)
	}

	if err := wc.Store.MarkClipReady(clip.ID, renderKey, thumbKey, wc.Clock.Now()); err != nil {
		return Internal("failed to mark clip ready: %v", err).WithCause(err)
	}
	log.Infow("Clip rendered", "render_key", renderKey)

	return settleProjectAfterRender(wc, project, log)
}

// runTranscode invokes the transcoder and maps its outcome to the taxonomy.
func runTranscode(ctx context.Context, wc *WorkerContext, req TranscodeRequest, phase string) error {
	result, err := wc.Transcode.Run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled("%s cancelled", phase).WithCause(err)
		}
		return TranscoderFailed("%s invocation failed: %v", phase, err).WithCause(err)
	}
	if !result.OK {
		if result.Signal == "SIGKILL" || result.Signal == "SIGTERM" {
			return TranscoderTimeout("%s exceeded deadline: %s", phase, result.StderrSummary)
		}
		return TranscoderFailed("%s failed (exit %d): %s", phase, result.ExitCode, result.StderrSummary)
	}
	return nil
}

// settleProjectAfterRender re-evaluates the project: once every clip is
// terminal the stage advances to RENDERED and the project goes ready. The
// guard set excludes RENDERED and PUBLISHED, so concurrent renders racing
// here converge.
func settleProjectAfterRender(wc *WorkerContext, project *Project, log *zap.SugaredLogger) error {
	terminal, err := wc.Store.AllClipsTerminal(project.ID)
	if err != nil {
		return Internal("failed to evaluate clip statuses: %v", err).WithCause(err)
	}
	if !terminal {
		return nil
	}

	now := wc.Clock.Now()
	advanced, err := wc.Store.ConditionalAdvanceStage(project.ID, StageRendered, now)
	if err != nil {
		return Internal("failed to advance stage: %v", err).WithCause(err)
	}
	if advanced {
		if err := wc.Store.UpdateProjectStatus(project.ID, ProjectStatusReady, now); err != nil {
			log.Warnw("Failed to mark project ready", "error", err)
		}
		log.Infow("All clips terminal, project rendered", "project_id", project.ID)
	}
	return nil
}
