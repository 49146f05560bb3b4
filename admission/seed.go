package admission

import (
	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/sym"
)

// Rate-limit bucket features.
const (
	featurePosts = "posts"
	featureClips = "clips"
)

// SeedRateLimits upserts one token-bucket row per (workspace, feature) at
// the capacity of the workspace's current plan. Run whenever subscriptions
// change; idempotent. Returns the number of workspaces seeded.
func (c *Controller) SeedRateLimits() (int, error) {
	rows, err := c.db.Query(`
		SELECT DISTINCT workspace_id FROM subscriptions WHERE status IN (?, ?)`,
		subStatusActive, subStatusTrialing,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list subscribed workspaces")
	}
	defer rows.Close()

	var workspaces []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return 0, errors.Wrap(err, "failed to scan workspace id")
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "error iterating workspaces")
	}

	now := c.clock.Now()
	for _, ws := range workspaces {
		plan, err := c.ResolvePlan(ws)
		if err != nil {
			return 0, err
		}
		buckets := map[string]int{
			featurePosts: plan.PostsPerDay,
			featureClips: plan.ClipsPerMonth,
		}
		for feature, capacity := range buckets {
			_, err := c.db.Exec(`
				INSERT INTO rate_limits (workspace_id, feature, capacity, refill_rate, tokens, last_refill_at)
				VALUES (?, ?, ?, 0, ?, ?)
				ON CONFLICT (workspace_id, feature) DO UPDATE SET
					capacity = excluded.capacity,
					tokens = excluded.tokens,
					last_refill_at = excluded.last_refill_at`,
				ws, feature, capacity, capacity, now,
			)
			if err != nil {
				return 0, errors.Wrapf(err, "failed to seed %s bucket for %s", feature, ws)
			}
		}
		c.log.Debugw("Rate limits seeded", "symbol", sym.Admit, "workspace_id", ws, "plan", plan.Name)
	}
	return len(workspaces), nil
}
