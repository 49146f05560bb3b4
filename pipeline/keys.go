package pipeline

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Storage buckets. With the local filesystem adapter these are top-level
// directories under the storage root.
const (
	BucketVideos      = "videos"
	BucketTranscripts = "transcripts"
	BucketRenders     = "renders"
	BucketThumbs      = "thumbs"
)

// Storage keys are deterministic functions of the owning rows, so every
// upload can use create-if-absent semantics and replays never duplicate
// artifacts.

func SourceKey(workspaceID, projectID, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("%s/%s/source.%s", workspaceID, projectID, strings.TrimPrefix(ext, "."))
}

func TranscriptSRTKey(workspaceID, projectID string) string {
	return fmt.Sprintf("%s/%s/transcript.srt", workspaceID, projectID)
}

func TranscriptJSONKey(workspaceID, projectID string) string {
	return fmt.Sprintf("%s/%s/transcript.json", workspaceID, projectID)
}

func RenderKey(workspaceID, projectID, clipID string) string {
	return fmt.Sprintf("%s/%s/%s.mp4", workspaceID, projectID, clipID)
}

func ThumbKey(workspaceID, projectID, clipID string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", workspaceID, projectID, clipID)
}

// ClipIDFromRenderKey extracts the clip id from a render key whose basename
// is a UUID-named mp4. Returns "" for keys that do not match the pattern;
// the orphan sweep skips those.
func ClipIDFromRenderKey(key string) string {
	base := path.Base(key)
	if !strings.HasSuffix(base, ".mp4") {
		return ""
	}
	id := strings.TrimSuffix(base, ".mp4")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
