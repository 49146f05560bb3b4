package admission

import (
	"database/sql"
	"time"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
)

// Usage holds the open monthly counters for a workspace.
type Usage struct {
	WorkspaceID   string
	PeriodStart   time.Time
	ClipsCount    int
	SourceMinutes int
	Posts         int
}

// usageColumn maps a metric name to its counter column. The whitelist keeps
// metric names out of SQL by construction.
func usageColumn(metric string) (string, error) {
	switch metric {
	case pipeline.MetricClips:
		return "clips_count", nil
	case pipeline.MetricSourceMinutes:
		return "source_minutes", nil
	case pipeline.MetricPosts:
		return "posts", nil
	default:
		return "", errors.Newf("unknown usage metric %q", metric)
	}
}

// monthStart truncates t to the first instant of its month, UTC.
func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GetOpenUsage reads the open usage row for the month containing now. A
// missing row reads as all-zero counters.
func (c *Controller) GetOpenUsage(workspaceID string, now time.Time) (*Usage, error) {
	period := monthStart(now)
	usage := &Usage{WorkspaceID: workspaceID, PeriodStart: period}
	err := c.db.QueryRow(`
		SELECT clips_count, source_minutes, posts FROM workspace_usage
		WHERE workspace_id = ? AND period_start = ? AND period_end IS NULL`,
		workspaceID, period,
	).Scan(&usage.ClipsCount, &usage.SourceMinutes, &usage.Posts)
	if errors.Is(err, sql.ErrNoRows) {
		return usage, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read usage")
	}
	return usage, nil
}

// AssertWithinUsage rejects when used + delta would exceed the plan's cap
// for the metric. The failure is fatal for the job: quota does not free up
// by retrying.
func (c *Controller) AssertWithinUsage(workspaceID, metric string, delta int) error {
	plan, err := c.ResolvePlan(workspaceID)
	if err != nil {
		return err
	}
	usage, err := c.GetOpenUsage(workspaceID, c.clock.Now())
	if err != nil {
		return err
	}

	var used, limit int
	switch metric {
	case pipeline.MetricClips:
		used, limit = usage.ClipsCount, plan.ClipsPerMonth
	case pipeline.MetricSourceMinutes:
		used, limit = usage.SourceMinutes, plan.SourceMinutesCap
	case pipeline.MetricPosts:
		used, limit = usage.Posts, plan.PostsPerMonth
	default:
		return errors.Newf("unknown usage metric %q", metric)
	}

	if used+delta > limit {
		return pipeline.UsageLimitExceeded(metric, used, limit)
	}
	return nil
}

// RecordUsage atomically increments the open monthly counter, creating the
// row when this is the workspace's first activity of the month. Called only
// after the guarded side effect succeeded.
func (c *Controller) RecordUsage(workspaceID, metric string, delta int) error {
	column, err := usageColumn(metric)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	period := monthStart(now)

	_, err = c.db.Exec(`
		INSERT INTO workspace_usage (workspace_id, period_start, `+column+`, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id, period_start) DO UPDATE SET
			`+column+` = `+column+` + excluded.`+column+`,
			updated_at = excluded.updated_at`,
		workspaceID, period, delta, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record %s usage", metric)
	}
	return nil
}
