package pipeline

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/queue"
)

// Platform identifiers.
const (
	PlatformTikTok  = "tiktok"
	PlatformYouTube = "youtube"
)

// WorkerContext aggregates the ports a handler may use. Handlers remain
// I/O-free except through these; the worker runtime assembles one context at
// startup and shares it across slots (all fields are safe for concurrent use).
type WorkerContext struct {
	Store      *Store
	Jobs       Enqueuer
	JobStore   *queue.Store
	Storage    Storage
	Clock      queue.Clock
	Log        *zap.SugaredLogger
	Reporter   ErrorReporter
	Transcribe Transcriber
	Transcode  Transcoder
	Download   Downloader
	Tokens     TokenProvider
	Publishers map[string]Publisher
	Admission  Admission
	TempRoot   string
	WorkerID   string
}

// TempDir creates a per-job scratch directory and returns it with a cleanup
// function. Cleanup refuses to remove suspicious paths.
func (wc *WorkerContext) TempDir(jobID string) (string, func(), error) {
	root := wc.TempRoot
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "clipforge-job-"+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, errors.Wrap(err, "failed to create temp dir")
	}
	cleanup := func() {
		if err := SafeRemoveAll(dir); err != nil {
			wc.Log.Warnw("Failed to clean temp dir", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// SafeRemoveAll deletes a directory tree, refusing "/" and "." and empty
// paths outright.
func SafeRemoveAll(dir string) error {
	cleaned := filepath.Clean(dir)
	if cleaned == "" || cleaned == "." || cleaned == string(filepath.Separator) {
		return errors.Newf("refusing to remove %q", dir)
	}
	return os.RemoveAll(cleaned)
}
