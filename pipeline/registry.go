package pipeline

import (
	"context"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// HandlerFunc executes one claimed job. The returned error is classified by
// its taxonomy tag; nil means the job succeeded.
type HandlerFunc func(ctx context.Context, job *queue.Job, wc *WorkerContext) error

// Registry maps job kinds to handlers. The map is built once at startup and
// read-only afterwards.
type Registry struct {
	handlers map[queue.JobKind]HandlerFunc
}

// NewRegistry builds the registry with every pipeline handler registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[queue.JobKind]HandlerFunc)}
	r.Register(queue.KindIngestURL, HandleIngest)
	r.Register(queue.KindTranscribe, HandleTranscribe)
	r.Register(queue.KindHighlightDetect, HandleHighlightDetect)
	r.Register(queue.KindClipRender, HandleClipRender)
	r.Register(queue.KindThumbnailGen, HandleThumbnailGen)
	r.Register(queue.KindPublishTikTok, HandlePublishTikTok)
	r.Register(queue.KindPublishYouTube, HandlePublishYouTube)
	r.Register(queue.KindCleanupStorage, HandleCleanupStorage)
	return r
}

// Register binds a handler to a job kind, replacing any previous binding.
func (r *Registry) Register(kind queue.JobKind, fn HandlerFunc) {
	r.handlers[kind] = fn
}

// Kinds returns the registered job kinds.
func (r *Registry) Kinds() []queue.JobKind {
	kinds := make([]queue.JobKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Dispatch runs the handler for the job's kind. Unknown kinds are
// non-retryable: retrying cannot make a handler appear.
func (r *Registry) Dispatch(ctx context.Context, job *queue.Job, wc *WorkerContext) error {
	handler, ok := r.handlers[job.Kind]
	if !ok {
		return InvalidPayload("no handler registered for kind %q", job.Kind)
	}

	log := wc.Log.With("symbol", sym.Pipeline, "job_id", job.ID, "kind", job.Kind, "workspace_id", job.WorkspaceID)
	log.Debugw("Dispatching job")

	err := handler(ctx, job, wc)
	if err != nil {
		// Untagged errors count as Internal: unknown, retryable, reported.
		var perr *Error
		if (!errors.As(err, &perr) || perr.Kind == KindInternal) && wc.Reporter != nil {
			wc.Reporter.Report(err, map[string]interface{}{
				"job_id":       job.ID,
				"kind":         string(job.Kind),
				"workspace_id": job.WorkspaceID,
				"attempts":     job.Attempts,
			})
		}
		return err
	}
	return nil
}
