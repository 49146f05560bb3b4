// Package transcoder runs FFmpeg under a hard deadline and validates its
// output, implementing the pipeline's Transcoder port.
package transcoder

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/sym"
)

const (
	// DefaultTimeout bounds invocations that do not bring their own.
	DefaultTimeout = 5 * time.Minute

	// stderrSummaryLimit caps how much of FFmpeg's stderr tail survives into
	// the result; FFmpeg puts the actual failure at the end.
	stderrSummaryLimit = 2048
)

// Runner shells out to ffmpeg/ffprobe. Binaries are resolved from PATH
// unless overridden.
type Runner struct {
	Binary      string
	ProbeBinary string
	log         *zap.SugaredLogger
}

// NewRunner creates a Runner with the standard binary names.
func NewRunner(log *zap.SugaredLogger) *Runner {
	return &Runner{
		Binary:      "ffmpeg",
		ProbeBinary: "ffprobe",
		log:         log.Named("transcoder"),
	}
}

var _ pipeline.Transcoder = (*Runner)(nil)

// Run executes one transcode with a hard deadline. A non-zero exit or a
// kill lands in the result, not the error; the error is reserved for
// invocation failures and caller cancellation.
func (r *Runner) Run(ctx context.Context, req pipeline.TranscodeRequest) (*pipeline.TranscodeResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.Binary, req.Args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.log.Debugw("Running transcoder",
		"symbol", sym.Worker,
		"command", shellquote.Join(append([]string{r.Binary}, req.Args...)...),
		"timeout", timeout)

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "transcode cancelled")
	}

	result := &pipeline.TranscodeResult{
		OK:            runErr == nil,
		StderrSummary: summarizeStderr(stderr.Bytes()),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, errors.Wrapf(runErr, "failed to invoke %s", r.Binary)
		}
		result.ExitCode = exitErr.ExitCode()
		result.Signal = exitSignal(exitErr)
		if runCtx.Err() == context.DeadlineExceeded {
			// CommandContext kills on deadline; name the signal even when
			// the wait status races the kill.
			result.Signal = "SIGKILL"
		}
		r.log.Warnw("Transcoder failed",
			"symbol", sym.Worker, "exit_code", result.ExitCode,
			"signal", result.Signal, "elapsed", elapsed)
		return result, nil
	}

	if req.OutputPath != "" {
		if err := checkOutputFile(req.OutputPath); err != nil {
			result.OK = false
			result.StderrSummary = err.Error()
			return result, nil
		}
	}

	if req.MaxDurationSeconds > 0 && req.OutputPath != "" {
		duration, err := r.probeDuration(runCtx, req.OutputPath)
		if err != nil {
			result.OK = false
			result.StderrSummary = "output duration probe failed: " + err.Error()
			return result, nil
		}
		result.DurationSeconds = duration
		if duration > req.MaxDurationSeconds {
			result.OK = false
			result.StderrSummary = errors.Newf(
				"output duration %.2fs exceeds maximum %.2fs",
				duration, req.MaxDurationSeconds).Error()
			return result, nil
		}
	}

	r.log.Debugw("Transcoder finished", "symbol", sym.Worker, "elapsed", elapsed)
	return result, nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func (r *Runner) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, r.ProbeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, errors.Wrap(err, "ffprobe failed")
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "unparseable ffprobe output %q", strings.TrimSpace(string(out)))
	}
	return duration, nil
}

func checkOutputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Newf("transcoder exited clean but produced no output at %s", path)
	}
	if info.Size() == 0 {
		return errors.Newf("transcoder produced an empty output at %s", path)
	}
	return nil
}

// exitSignal names the signal that killed the process, empty for a plain
// non-zero exit.
func exitSignal(exitErr *exec.ExitError) string {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return ""
	}
	switch status.Signal() {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return status.Signal().String()
	}
}

// summarizeStderr keeps the tail of stderr, trimmed to the summary limit.
func summarizeStderr(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > stderrSummaryLimit {
		s = "…" + s[len(s)-stderrSummaryLimit:]
	}
	return s
}
