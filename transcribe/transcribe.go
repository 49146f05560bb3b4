// Package transcribe adapts an external speech-to-text command to the
// pipeline's Transcriber port. The engine itself is not part of ClipForge;
// operators configure any command that accepts a media path and writes
// sibling .srt and .json artifacts next to it.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/sym"
)

// DefaultTimeout bounds one transcription run.
const DefaultTimeout = 10 * time.Minute

// Command shells out to a configured transcription command line. The media
// path is appended as the final argument; the command must produce
// <media>.srt and <media>.json where <media> is the input path without its
// extension.
type Command struct {
	argv    []string
	Timeout time.Duration
	log     *zap.SugaredLogger
}

// NewCommand parses the configured command line.
func NewCommand(commandLine string, timeout time.Duration, log *zap.SugaredLogger) (*Command, error) {
	argv, err := shellquote.Split(commandLine)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid transcribe command %q", commandLine)
	}
	if len(argv) == 0 {
		return nil, errors.New("transcribe command is empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Command{
		argv:    argv,
		Timeout: timeout,
		log:     log.With("symbol", sym.Pipeline),
	}, nil
}

var _ pipeline.Transcriber = (*Command)(nil)

// Transcribe runs the engine against localPath and collects the artifacts it
// wrote. Duration comes from the JSON artifact.
func (c *Command) Transcribe(ctx context.Context, localPath string) (*pipeline.TranscribeResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	args := append(append([]string(nil), c.argv[1:]...), localPath)
	cmd := exec.CommandContext(runCtx, c.argv[0], args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.log.Debugw("Running transcription", "command", shellquote.Join(append([]string{c.argv[0]}, args...)...))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "transcription cancelled")
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errors.Newf("transcription timed out after %s: %s",
				c.Timeout, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.Wrapf(err, "transcription failed: %s", strings.TrimSpace(stderr.String()))
	}

	base := strings.TrimSuffix(localPath, filepath.Ext(localPath))
	srtPath := base + ".srt"
	jsonPath := base + ".json"

	for _, path := range []string{srtPath, jsonPath} {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "transcription produced no artifact at %s", path)
		}
		if info.Size() == 0 {
			return nil, errors.Newf("transcription artifact %s is empty", path)
		}
	}

	duration, err := readDuration(jsonPath)
	if err != nil {
		return nil, err
	}

	return &pipeline.TranscribeResult{
		SRTPath:     srtPath,
		JSONPath:    jsonPath,
		DurationSec: duration,
	}, nil
}

func readDuration(jsonPath string) (float64, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read transcript %s", jsonPath)
	}
	var transcript pipeline.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return 0, errors.Wrapf(err, "transcript %s is not valid JSON", jsonPath)
	}
	if transcript.DurationSec > 0 {
		return transcript.DurationSec, nil
	}
	// Fall back to the last segment's end when the engine omits the total.
	if n := len(transcript.Segments); n > 0 {
		return transcript.Segments[n-1].End, nil
	}
	return 0, nil
}
