package admission

import (
	"database/sql"
	"time"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
)

// Posting guard windows.
const (
	historyWindow = 24 * time.Hour
	hourWindow    = time.Hour
)

// EnforcePostLimits rejects a publish when any of the plan's rate windows is
// violated for the target account: per-account cooldown, per-day cap, and
// per-hour cap. History is the last 24 hours of posted variant-posts. The
// returned error carries the exact delay until the tightest window reopens.
func (c *Controller) EnforcePostLimits(workspaceID, connectedAccountID, platform string, now time.Time) error {
	plan, err := c.ResolvePlan(workspaceID)
	if err != nil {
		return err
	}

	history, err := c.posts.PostedHistory(connectedAccountID, platform, now.Add(-historyWindow))
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	// A seeded rate-limit bucket overrides the plan's per-day cap. Buckets
	// are read-only configuration; a row without a positive capacity is
	// malformed and falls back to the plan cap rather than deciding anything.
	dailyCap := plan.PostsPerDay
	if capacity, ok, err := c.bucketCapacity(workspaceID, featurePosts); err != nil {
		return err
	} else if ok && capacity > 0 {
		dailyCap = capacity
	}

	// Cooldown since the most recent post. History is newest first.
	if wait := plan.PostCooldown - now.Sub(history[0]); wait > 0 {
		return pipeline.PostingLimitExceeded("account cooldown active", wait)
	}

	if len(history) >= dailyCap {
		// Window reopens when the oldest post inside the cap ages out.
		oldest := history[dailyCap-1]
		if wait := historyWindow - now.Sub(oldest); wait > 0 {
			return pipeline.PostingLimitExceeded("daily post cap reached", wait)
		}
	}

	var lastHour []time.Time
	for _, at := range history {
		if now.Sub(at) < hourWindow {
			lastHour = append(lastHour, at)
		}
	}
	if len(lastHour) >= plan.PostsPerHour {
		oldest := lastHour[plan.PostsPerHour-1]
		if wait := hourWindow - now.Sub(oldest); wait > 0 {
			return pipeline.PostingLimitExceeded("hourly post cap reached", wait)
		}
	}

	return nil
}

// bucketCapacity reads the seeded token-bucket capacity for a feature.
func (c *Controller) bucketCapacity(workspaceID, feature string) (int, bool, error) {
	var capacity int
	err := c.db.QueryRow(`
		SELECT capacity FROM rate_limits WHERE workspace_id = ? AND feature = ?`,
		workspaceID, feature,
	).Scan(&capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read rate limit bucket")
	}
	return capacity, true, nil
}
