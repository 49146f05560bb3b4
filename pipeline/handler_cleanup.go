package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// Retention policy bounds.
const (
	minRetentionDays     = 7
	defaultRetentionDays = 30
	cleanupBatchSize     = 500
)

// HandleCleanupStorage is the retention job: it removes artifacts of failed
// renders past retention, sweeps orphaned render objects whose clip rows are
// gone, and prunes old succeeded jobs. Source videos and transcripts are
// never deleted. All phases are best-effort and logged.
func HandleCleanupStorage(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	payload, err := ParseCleanupPayload(job.Payload)
	if err != nil {
		return err
	}

	retentionDays := defaultRetentionDays
	if payload.RetentionDays != nil {
		retentionDays = *payload.RetentionDays
	}
	if retentionDays < minRetentionDays {
		retentionDays = minRetentionDays
	}

	now := wc.Clock.Now()
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	log := wc.Log.With("symbol", sym.Pipeline, "job_id", job.ID, "retention_days", retentionDays)

	if err := sweepFailedRenders(ctx, wc, cutoff, log); err != nil {
		log.Warnw("Failed-render sweep incomplete", "error", err)
	}
	if err := sweepOrphanedRenders(ctx, wc, payload, log); err != nil {
		log.Warnw("Orphan sweep incomplete", "error", err)
	}
	if wc.JobStore != nil {
		deleted, err := wc.JobStore.DeleteSucceededBefore(cutoff)
		if err != nil {
			log.Warnw("Old-job cleanup failed", "error", err)
		} else if deleted > 0 {
			log.Infow("Old succeeded jobs deleted", "count", deleted)
		}
	}
	return nil
}

// sweepFailedRenders deletes render and thumb artifacts of long-failed clips
// in batches, then blanks their artifact paths so they are not revisited.
func sweepFailedRenders(ctx context.Context, wc *WorkerContext, cutoff time.Time, log *zap.SugaredLogger) error {
	for {
		clips, err := wc.Store.ListFailedClipsBefore(cutoff, cleanupBatchSize)
		if err != nil {
			return err
		}

		var (
			renderKeys []string
			thumbKeys  []string
			clipIDs    []string
		)
		for _, clip := range clips {
			if clip.StoragePath == "" && clip.ThumbPath == "" {
				continue
			}
			if clip.StoragePath != "" {
				renderKeys = append(renderKeys, clip.StoragePath)
			}
			if clip.ThumbPath != "" {
				thumbKeys = append(thumbKeys, clip.ThumbPath)
			}
			clipIDs = append(clipIDs, clip.ID)
		}
		if len(clipIDs) == 0 {
			return nil
		}

		if err := wc.Storage.RemoveBatch(ctx, BucketRenders, renderKeys); err != nil {
			return err
		}
		if err := wc.Storage.RemoveBatch(ctx, BucketThumbs, thumbKeys); err != nil {
			return err
		}
		if err := wc.Store.ClearClipArtifacts(clipIDs, wc.Clock.Now()); err != nil {
			return err
		}
		log.Infow("Failed-render artifacts removed", "clips", len(clipIDs))

		if len(clips) < cleanupBatchSize {
			return nil
		}
	}
}

// sweepOrphanedRenders deletes render objects whose UUID-named key no longer
// matches an existing clip row.
func sweepOrphanedRenders(ctx context.Context, wc *WorkerContext, payload *CleanupPayload, log *zap.SugaredLogger) error {
	prefix := ""
	if payload.WorkspaceID != "" {
		prefix = payload.WorkspaceID + "/"
		if payload.ProjectID != "" {
			prefix += payload.ProjectID + "/"
		}
	}

	keys, err := wc.Storage.List(ctx, BucketRenders, prefix)
	if err != nil {
		return err
	}

	keysByClip := make(map[string][]string)
	var clipIDs []string
	for _, key := range keys {
		clipID := ClipIDFromRenderKey(key)
		if clipID == "" {
			continue
		}
		if _, seen := keysByClip[clipID]; !seen {
			clipIDs = append(clipIDs, clipID)
		}
		keysByClip[clipID] = append(keysByClip[clipID], key)
	}
	if len(clipIDs) == 0 {
		return nil
	}

	existing, err := wc.Store.ExistingClipIDs(clipIDs)
	if err != nil {
		return err
	}

	var orphaned []string
	for clipID, clipKeys := range keysByClip {
		if !existing[clipID] {
			orphaned = append(orphaned, clipKeys...)
		}
	}
	if len(orphaned) == 0 {
		return nil
	}

	for start := 0; start < len(orphaned); start += cleanupBatchSize {
		end := start + cleanupBatchSize
		if end > len(orphaned) {
			end = len(orphaned)
		}
		if err := wc.Storage.RemoveBatch(ctx, BucketRenders, orphaned[start:end]); err != nil {
			return err
		}
	}
	log.Infow("Orphaned renders removed", "keys", len(orphaned), "prefix", strings.TrimSuffix(prefix, "/"))
	return nil
}
