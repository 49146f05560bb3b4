package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// defaultMinGapSec separates highlight runs when the producer did not
// specify a gap.
const defaultMinGapSec = 2.0

// HandleTranscribe produces transcript artifacts for a project's source and
// advances the project to TRANSCRIBED.
func HandleTranscribe(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParseTranscribePayload(job.Payload)
	if err != nil {
		return err
	}

	project, err := wc.Store.GetProject(payload.ProjectID)
	if err != nil {
		return err
	}

	log := wc.Log.With("symbol", sym.Pipeline, "job_id", job.ID, "project_id", project.ID)
	srtKey := TranscriptSRTKey(project.WorkspaceID, project.ID)
	jsonKey := TranscriptJSONKey(project.WorkspaceID, project.ID)

	// Short-circuit: already transcribed, or both artifacts present from an
	// earlier partial run. The successor short-circuits the same way.
	if IsAtLeast(project.PipelineStage, StageTranscribed) {
		log.Debugw("Project already transcribed, skipping")
		return enqueueHighlightDetect(wc, project)
	}
	srtExists, err := wc.Storage.Exists(ctx, BucketTranscripts, srtKey)
	if err != nil {
		return Internal("failed to check transcript presence: %v", err).WithCause(err)
	}
	jsonExists, err := wc.Storage.Exists(ctx, BucketTranscripts, jsonKey)
	if err != nil {
		return Internal("failed to check transcript presence: %v", err).WithCause(err)
	}
	if srtExists && jsonExists {
		log.Debugw("Transcript artifacts already present, advancing")
		if _, err := wc.Store.ConditionalAdvanceStage(project.ID, StageTranscribed, wc.Clock.Now()); err != nil {
			return Internal("failed to advance stage: %v", err).WithCause(err)
		}
		return enqueueHighlightDetect(wc, project)
	}

	if err := wc.Admission.AssertWithinUsage(project.WorkspaceID, MetricSourceMinutes, 1); err != nil {
		return err
	}

	sourceKey := project.SourcePath
	if sourceKey == "" {
		sourceKey = SourceKey(project.WorkspaceID, project.ID, payload.SourceExt)
	}

	dir, cleanup, err := wc.TempDir(job.ID)
	if err != nil {
		return Internal("failed to create temp dir: %v", err).WithCause(err)
	}
	defer cleanup()

	localSource := filepath.Join(dir, filepath.Base(sourceKey))
	if err := wc.Storage.Download(ctx, BucketVideos, sourceKey, localSource); err != nil {
		return Internal("failed to download source %s: %v", sourceKey, err).WithCause(err)
	}

	result, err := wc.Transcribe.Transcribe(ctx, localSource)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled("transcription cancelled").WithCause(err)
		}
		return ProviderTransient(0, "transcription failed: %v", err).WithCause(err)
	}

	if err := wc.Storage.Upload(ctx, BucketTranscripts, srtKey, result.SRTPath); err != nil {
		return Internal("failed to store srt transcript: %v", err).WithCause(err)
	}
	if err := wc.Storage.Upload(ctx, BucketTranscripts, jsonKey, result.JSONPath); err != nil {
		return Internal("failed to store json transcript: %v", err).WithCause(err)
	}

	minutes := int(math.Ceil(result.DurationSec / 60))
	if minutes < 1 {
		minutes = 1
	}
	if err := wc.Admission.RecordUsage(project.WorkspaceID, MetricSourceMinutes, minutes); err != nil {
		log.Warnw("Failed to record source minutes", "error", err)
	}

	advanced, err := wc.Store.ConditionalAdvanceStage(project.ID, StageTranscribed, wc.Clock.Now())
	if err != nil {
		return Internal("failed to advance stage: %v", err).WithCause(err)
	}
	log.Infow("Project transcribed",
		"duration_sec", result.DurationSec, "source_minutes", minutes, "advanced", advanced)

	return enqueueHighlightDetect(wc, project)
}

func enqueueHighlightDetect(wc *WorkerContext, project *Project) error {
	payload, err := json.Marshal(HighlightPayload{
		ProjectID: project.ID,
		Keywords:  nil,
		MinGapSec: defaultMinGapSec,
	})
	if err != nil {
		return Internal("failed to marshal highlight payload: %v", err).WithCause(err)
	}
	if _, err := wc.Jobs.Enqueue(project.WorkspaceID, queue.KindHighlightDetect, payload, time.Time{}); err != nil {
		return Internal("failed to enqueue highlight detect: %v", err).WithCause(err)
	}
	return nil
}
