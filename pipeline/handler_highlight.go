package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// HandleHighlightDetect turns the transcript into clip proposals, persists
// them, and fans out one render job per accepted clip.
func HandleHighlightDetect(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParseHighlightPayload(job.Payload)
	if err != nil {
		return err
	}

	project, err := wc.Store.GetProject(payload.ProjectID)
	if err != nil {
		return err
	}

	log := wc.Log.With("symbol", sym.Pipeline, "job_id", job.ID, "project_id", project.ID)

	if IsAtLeast(project.PipelineStage, StageClipsGenerated) {
		log.Debugw("Clips already generated, skipping")
		return nil
	}

	transcript, err := loadTranscript(ctx, wc, project)
	if err != nil {
		return err
	}

	plan, err := wc.Admission.ResolvePlan(project.WorkspaceID)
	if err != nil {
		return Internal("failed to resolve plan: %v", err).WithCause(err)
	}
	maxClips := ComputeMaxClips(int64(transcript.DurationSec*1000), plan, payload.MaxClips)

	if err := wc.Admission.AssertWithinUsage(project.WorkspaceID, MetricClips, maxClips); err != nil {
		return err
	}

	candidates := BuildCandidates(transcript.Segments, payload.Keywords, payload.MinGapSec)

	existingClips, err := wc.Store.ListClipsByProject(project.ID)
	if err != nil {
		return Internal("failed to list existing clips: %v", err).WithCause(err)
	}
	existing := make([]Interval, len(existingClips))
	for i, c := range existingClips {
		existing[i] = Interval{StartS: c.StartS, EndS: c.EndS}
	}

	accepted := Consolidate(candidates, existing, maxClips)

	now := wc.Clock.Now()
	inserted, err := wc.Store.InsertClips(project.ID, project.WorkspaceID, accepted, now)
	if err != nil {
		return Internal("failed to insert clips: %v", err).WithCause(err)
	}

	if len(inserted) > 0 {
		if err := wc.Admission.RecordUsage(project.WorkspaceID, MetricClips, len(inserted)); err != nil {
			log.Warnw("Failed to record clip usage", "error", err)
		}
	}

	// Stage advances before the render jobs are enqueued, so a render never
	// observes a project below CLIPS_GENERATED.
	advanced, err := wc.Store.ConditionalAdvanceStage(project.ID, StageClipsGenerated, now)
	if err != nil {
		return Internal("failed to advance stage: %v", err).WithCause(err)
	}

	for _, clip := range inserted {
		renderPayload, err := json.Marshal(RenderPayload{ClipID: clip.ID})
		if err != nil {
			return Internal("failed to marshal render payload: %v", err).WithCause(err)
		}
		if _, err := wc.Jobs.Enqueue(project.WorkspaceID, queue.KindClipRender, renderPayload, time.Time{}); err != nil {
			return Internal("failed to enqueue clip render: %v", err).WithCause(err)
		}
	}

	log.Infow("Highlights detected",
		"candidates", len(candidates), "accepted", len(accepted),
		"inserted", len(inserted), "max_clips", maxClips, "advanced", advanced)
	return nil
}

// loadTranscript fetches and decodes the project's transcript JSON artifact.
func loadTranscript(ctx context.Context, wc *WorkerContext, project *Project) (*Transcript, error) {
	key := TranscriptJSONKey(project.WorkspaceID, project.ID)
	rc, err := wc.Storage.Open(ctx, BucketTranscripts, key)
	if err != nil {
		return nil, PreconditionFailed("transcript %s not readable: %v", key, err).WithCause(err)
	}
	defer rc.Close()

	var transcript Transcript
	if err := json.NewDecoder(rc).Decode(&transcript); err != nil {
		return nil, Internal("failed to decode transcript %s: %v", key, err).WithCause(err)
	}
	return &transcript, nil
}
