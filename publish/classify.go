// Package publish holds the platform HTTP clients (TikTok, YouTube) and the
// refresh-capable token provider behind the pipeline's Publisher and
// TokenProvider ports.
package publish

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clipforge/clipforge/pipeline"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	uploadTimeout      = 10 * time.Minute

	// bodySnippetLimit caps how much of an error body ends up in messages.
	bodySnippetLimit = 300
)

// classify maps a platform HTTP status to the error taxonomy: 401/403 means
// the account must be reconnected, 429 and 5xx retry, everything else
// retries into dead-letter where operators can see the body.
func classify(platform string, status int, body string) *pipeline.Error {
	msg := snippet(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pipeline.ProviderAuth(status, "%s rejected credentials: %s", platform, msg)
	case status == http.StatusTooManyRequests:
		return pipeline.ProviderRateLimited(status, "%s rate limited: %s", platform, msg)
	default:
		return pipeline.ProviderTransient(status, "%s request failed: %s", platform, msg)
	}
}

func snippet(body string) string {
	s := strings.TrimSpace(body)
	if len(s) > bodySnippetLimit {
		s = s[:bodySnippetLimit] + "…"
	}
	if s == "" {
		return "(empty response body)"
	}
	return s
}

func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64*1024))
	return string(data)
}
