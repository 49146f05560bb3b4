// Package downloader fetches remote source videos: YouTube URLs through
// yt-dlp, everything else as a direct file fetch.
package downloader

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-getter"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/sym"
)

// DefaultTimeout bounds one source fetch end to end.
const DefaultTimeout = 15 * time.Minute

// ytdlpFormat prefers a progressive mp4 and falls back to the best mux.
const ytdlpFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// Fetcher implements the pipeline's Downloader port.
type Fetcher struct {
	Binary  string
	Timeout time.Duration
	log     *zap.SugaredLogger
}

// NewFetcher creates a Fetcher using yt-dlp from PATH.
func NewFetcher(log *zap.SugaredLogger) *Fetcher {
	return &Fetcher{
		Binary:  "yt-dlp",
		Timeout: DefaultTimeout,
		log:     log.Named("downloader"),
	}
}

var _ pipeline.Downloader = (*Fetcher)(nil)

// Download fetches sourceURL to destPath. The file is written atomically as
// far as yt-dlp allows; a partial fetch leaves no destPath behind.
func (f *Fetcher) Download(ctx context.Context, sourceURL, destPath string) error {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	if u, parseErr := url.Parse(sourceURL); parseErr == nil && pipeline.IsYouTubeURL(u) {
		err = f.ytdlp(fetchCtx, sourceURL, destPath)
	} else {
		err = f.direct(fetchCtx, sourceURL, destPath)
	}
	if err != nil {
		os.Remove(destPath)
		return err
	}

	info, statErr := os.Stat(destPath)
	if statErr != nil || info.Size() == 0 {
		os.Remove(destPath)
		return errors.Newf("download of %s produced no file at %s", sourceURL, destPath)
	}
	f.log.Infow("Source downloaded",
		"symbol", sym.Pipeline, "url", sourceURL, "bytes", info.Size())
	return nil
}

func (f *Fetcher) ytdlp(ctx context.Context, sourceURL, destPath string) error {
	args := []string{
		"-f", ytdlpFormat,
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-progress",
		"-o", destPath,
		sourceURL,
	}

	cmd := exec.CommandContext(ctx, f.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.log.Debugw("Running yt-dlp",
		"symbol", sym.Pipeline,
		"command", shellquote.Join(append([]string{f.Binary}, args...)...))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "download cancelled")
		}
		return errors.Wrapf(err, "yt-dlp failed: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}

// direct fetches a plain http(s) URL to a single file.
func (f *Fetcher) direct(ctx context.Context, sourceURL, destPath string) error {
	client := &getter.Client{
		Ctx:  ctx,
		Src:  sourceURL,
		Dst:  destPath,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "download cancelled")
		}
		return errors.Wrapf(err, "failed to fetch %s", sourceURL)
	}
	return nil
}
