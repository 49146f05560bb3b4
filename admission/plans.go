// Package admission implements the pre-work guards: plan resolution, monthly
// usage caps, the posting-rate guard, and rate-limit bucket seeding.
package admission

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/errors"
	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/queue"
)

// Plan names.
const (
	PlanBasic   = "basic"
	PlanPro     = "pro"
	PlanPremium = "premium"
)

// Subscription statuses that count for plan resolution.
const (
	subStatusActive   = "active"
	subStatusTrialing = "trialing"
)

// planCatalog holds the cap set per plan. Unknown plans resolve to basic.
var planCatalog = map[string]pipeline.PlanLimits{
	PlanBasic: {
		Name:             PlanBasic,
		ClipsPerProject:  3,
		ClipsPerMonth:    450,
		SourceMinutesCap: 300,
		PostsPerMonth:    30,
		ConcurrentJobs:   2,
		PostCooldown:     15 * time.Minute,
		PostsPerDay:      4,
		PostsPerHour:     2,
	},
	PlanPro: {
		Name:             PlanPro,
		ClipsPerProject:  10,
		ClipsPerMonth:    1500,
		SourceMinutesCap: 1200,
		PostsPerMonth:    120,
		ConcurrentJobs:   4,
		PostCooldown:     5 * time.Minute,
		PostsPerDay:      12,
		PostsPerHour:     4,
	},
	PlanPremium: {
		Name:             PlanPremium,
		ClipsPerProject:  30,
		ClipsPerMonth:    6000,
		SourceMinutesCap: 6000,
		PostsPerMonth:    600,
		ConcurrentJobs:   8,
		PostCooldown:     2 * time.Minute,
		PostsPerDay:      30,
		PostsPerHour:     8,
	},
}

// PlanByName returns the limits for a plan name, defaulting to basic.
func PlanByName(name string) pipeline.PlanLimits {
	if plan, ok := planCatalog[name]; ok {
		return plan
	}
	return planCatalog[PlanBasic]
}

// Controller implements pipeline.Admission over the shared database.
type Controller struct {
	db    *sql.DB
	posts *pipeline.Store
	clock queue.Clock
	log   *zap.SugaredLogger
}

// NewController creates the admission controller.
func NewController(db *sql.DB, clock queue.Clock, log *zap.SugaredLogger) *Controller {
	if clock == nil {
		clock = queue.SystemClock()
	}
	return &Controller{
		db:    db,
		posts: pipeline.NewStore(db),
		clock: clock,
		log:   log.Named("admission"),
	}
}

// ResolvePlan picks the workspace's plan: the active or trialing
// subscription with the latest current_period_end. Missing or unknown plans
// fall back to basic.
func (c *Controller) ResolvePlan(workspaceID string) (pipeline.PlanLimits, error) {
	var planName string
	err := c.db.QueryRow(`
		SELECT plan FROM subscriptions
		WHERE workspace_id = ? AND status IN (?, ?)
		ORDER BY current_period_end DESC LIMIT 1`,
		workspaceID, subStatusActive, subStatusTrialing,
	).Scan(&planName)
	if errors.Is(err, sql.ErrNoRows) {
		return planCatalog[PlanBasic], nil
	}
	if err != nil {
		return pipeline.PlanLimits{}, errors.Wrap(err, "failed to resolve plan")
	}
	return PlanByName(planName), nil
}
