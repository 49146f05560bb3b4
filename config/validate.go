package config

import "github.com/clipforge/clipforge/errors"

// Validate checks the configuration for values the runtime cannot operate
// with. Zero worker values mean "use the built-in default" and pass.
func (c *Config) Validate() error {
	if c.Worker.Slots < 0 {
		return errors.Newf("worker.slots must be >= 0, got %d", c.Worker.Slots)
	}
	if c.Worker.HeartbeatSeconds < 0 {
		return errors.Newf("worker.heartbeat_seconds must be >= 0, got %d", c.Worker.HeartbeatSeconds)
	}
	if c.Worker.StaleAfterSeconds < 0 {
		return errors.Newf("worker.stale_after_seconds must be >= 0, got %d", c.Worker.StaleAfterSeconds)
	}

	// A stale threshold under three heartbeats lets recovery steal jobs
	// from live workers.
	if c.Worker.HeartbeatSeconds > 0 && c.Worker.StaleAfterSeconds > 0 &&
		c.Worker.StaleAfterSeconds < 3*c.Worker.HeartbeatSeconds {
		return errors.Newf(
			"worker.stale_after_seconds (%d) must be at least 3x worker.heartbeat_seconds (%d)",
			c.Worker.StaleAfterSeconds, c.Worker.HeartbeatSeconds)
	}

	if c.Worker.IdlePollMinMs < 0 || c.Worker.IdlePollMaxMs < 0 {
		return errors.New("worker idle poll intervals must be >= 0")
	}
	if c.Worker.IdlePollMinMs > 0 && c.Worker.IdlePollMaxMs > 0 &&
		c.Worker.IdlePollMaxMs < c.Worker.IdlePollMinMs {
		return errors.Newf(
			"worker.idle_poll_max_ms (%d) must be >= worker.idle_poll_min_ms (%d)",
			c.Worker.IdlePollMaxMs, c.Worker.IdlePollMinMs)
	}

	if c.Worker.DrainTimeoutSeconds < 0 {
		return errors.Newf("worker.drain_timeout_seconds must be >= 0, got %d", c.Worker.DrainTimeoutSeconds)
	}
	if c.Worker.RecoveryIntervalSeconds < 0 {
		return errors.Newf("worker.recovery_interval_seconds must be >= 0, got %d", c.Worker.RecoveryIntervalSeconds)
	}
	if c.Transcribe.TimeoutSeconds < 0 {
		return errors.Newf("transcribe.timeout_seconds must be >= 0, got %d", c.Transcribe.TimeoutSeconds)
	}
	return nil
}
