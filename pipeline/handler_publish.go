package pipeline

import (
	"context"
	"path/filepath"

	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// publishSpec is the platform-independent shape of one publish request.
type publishSpec struct {
	clipID       string
	accountID    string
	experimentID string
	variantID    string
	request      UploadRequest
}

// HandlePublishTikTok publishes one rendered clip to a connected TikTok
// account.
func HandlePublishTikTok(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParsePublishTikTokPayload(job.Payload)
	if err != nil {
		return err
	}
	return publishClip(ctx, job, wc, PlatformTikTok, publishSpec{
		clipID:       payload.ClipID,
		accountID:    payload.ConnectedAccountID,
		experimentID: payload.ExperimentID,
		variantID:    payload.VariantID,
		request: UploadRequest{
			Caption:      payload.Caption,
			PrivacyLevel: payload.PrivacyLevel,
		},
	})
}

// HandlePublishYouTube publishes one rendered clip to a connected YouTube
// account.
func HandlePublishYouTube(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParsePublishYouTubePayload(job.Payload)
	if err != nil {
		return err
	}
	return publishClip(ctx, job, wc, PlatformYouTube, publishSpec{
		clipID:       payload.ClipID,
		accountID:    payload.ConnectedAccountID,
		experimentID: payload.ExperimentID,
		variantID:    payload.VariantID,
		request: UploadRequest{
			Title:       payload.Title,
			Description: payload.Description,
			Tags:        payload.Tags,
			Visibility:  payload.Visibility,
		},
	})
}

// publishClip is the common publish flow: idempotency short-circuits, the
// posting and usage guards, the platform upload, then the converging
// bookkeeping. variant_posts is authoritative for dedup; clip.external_id is
// a read-only legacy fallback and is never the write target for new posts.
func publishClip(ctx context.Context, job *queue.Job, wc *WorkerContext, platform string, spec publishSpec) error {
	clip, err := wc.Store.GetClip(spec.clipID)
	if err != nil {
		return err
	}
	project, err := wc.Store.GetProject(clip.ProjectID)
	if err != nil {
		return err
	}

	log := wc.Log.With("symbol", sym.Publish, "job_id", job.ID,
		"clip_id", clip.ID, "platform", platform, "account_id", spec.accountID)

	if IsAtLeast(project.PipelineStage, StagePublished) {
		log.Debugw("Project already published, skipping")
		return nil
	}
	existing, err := wc.Store.GetVariantPost(clip.ID, spec.accountID, platform)
	if err != nil {
		return Internal("failed to check variant post: %v", err).WithCause(err)
	}
	if existing != nil && existing.Status == VariantPostPosted {
		log.Debugw("Variant already posted, skipping", "platform_post_id", existing.PlatformPostID)
		return nil
	}
	// Legacy projects predate variant_posts; a bare external_id on the clip
	// means it was posted before experiments existed.
	if clip.ExternalID != "" && spec.experimentID == "" {
		log.Debugw("Clip already published via legacy path, skipping", "external_id", clip.ExternalID)
		return nil
	}

	if clip.Status != ClipStatusReady && clip.Status != ClipStatusPublished {
		return PreconditionFailed("clip %s is %s, not ready to publish", clip.ID, clip.Status)
	}
	if clip.StoragePath == "" {
		return PreconditionFailed("clip %s has no rendered output", clip.ID)
	}

	account, err := wc.Store.GetConnectedAccount(spec.accountID)
	if err != nil {
		return err
	}
	if account.Platform != platform {
		return PreconditionFailed("account %s is a %s account, not %s", account.ID, account.Platform, platform)
	}
	if account.WorkspaceID != project.WorkspaceID {
		return PreconditionFailed("account %s does not belong to workspace %s", account.ID, project.WorkspaceID)
	}

	now := wc.Clock.Now()
	if err := wc.Admission.EnforcePostLimits(project.WorkspaceID, account.ID, platform, now); err != nil {
		return err
	}
	if err := wc.Admission.AssertWithinUsage(project.WorkspaceID, MetricPosts, 1); err != nil {
		return err
	}

	dir, cleanup, err := wc.TempDir(job.ID)
	if err != nil {
		return Internal("failed to create temp dir: %v", err).WithCause(err)
	}
	defer cleanup()

	localClip := filepath.Join(dir, clip.ID+".mp4")
	if err := wc.Storage.Download(ctx, BucketRenders, clip.StoragePath, localClip); err != nil {
		return Internal("failed to download rendered clip: %v", err).WithCause(err)
	}

	token, err := wc.Tokens.AccessToken(ctx, account)
	if err != nil {
		return err // TokenProvider returns classified errors
	}

	publisher, ok := wc.Publishers[platform]
	if !ok {
		return Internal("no publisher configured for %s", platform)
	}

	req := spec.request
	req.FilePath = localClip
	req.AccessToken = token
	result, err := publisher.Upload(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled("publish cancelled").WithCause(err)
		}
		return err // Publisher returns classified errors
	}

	// Post-success bookkeeping must not fail the job: the upload happened,
	// and the next arrival short-circuits on the variant row.
	postedAt := wc.Clock.Now()
	if err := wc.Store.MarkVariantPosted(clip.ID, account.ID, platform, spec.variantID, result.PlatformPostID, postedAt); err != nil {
		log.Errorw("Failed to record variant post after successful publish",
			"platform_post_id", result.PlatformPostID, "error", err)
	}
	if err := wc.Store.MarkClipPublished(clip.ID, result.PlatformPostID, postedAt, postedAt); err != nil {
		log.Warnw("Failed to mark clip published", "error", err)
	}
	if err := wc.Admission.RecordUsage(project.WorkspaceID, MetricPosts, 1); err != nil {
		log.Warnw("Failed to record post usage", "error", err)
	}
	if _, err := wc.Store.ConditionalAdvanceStage(project.ID, StagePublished, postedAt); err != nil {
		log.Warnw("Failed to advance stage to published", "error", err)
	}

	log.Infow("Clip published", "platform_post_id", result.PlatformPostID)
	return nil
}
