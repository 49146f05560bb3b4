// Package worker runs the claim-dispatch-finalize loop: a bounded pool of
// slots over the job queue, with heartbeat pumps, a stuck-job recovery
// ticker, and graceful drain on shutdown.
package worker

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clipforge/clipforge/pipeline"
	"github.com/clipforge/clipforge/queue"
	"github.com/clipforge/clipforge/sym"
)

// Poll and lifecycle defaults.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRecoveryInterval  = 5 * time.Minute
	DefaultStaleAfter        = 15 * time.Minute
	DefaultIdlePollMin       = 200 * time.Millisecond
	DefaultIdlePollMax       = 5 * time.Second
	DefaultDrainTimeout      = 30 * time.Second

	maxDefaultSlots = 8
)

// Config tunes the worker pool.
type Config struct {
	Slots             int
	HeartbeatInterval time.Duration
	RecoveryInterval  time.Duration
	StaleAfter        time.Duration
	IdlePollMin       time.Duration
	IdlePollMax       time.Duration
	DrainTimeout      time.Duration
	WorkerID          string
}

// DefaultConfig returns the production defaults. Slot count is CPU-based;
// plan-level concurrency is enforced per workspace by admission, not here.
func DefaultConfig() Config {
	slots := runtime.NumCPU()
	if slots > maxDefaultSlots {
		slots = maxDefaultSlots
	}
	host, _ := os.Hostname()
	return Config{
		Slots:             slots,
		HeartbeatInterval: DefaultHeartbeatInterval,
		RecoveryInterval:  DefaultRecoveryInterval,
		StaleAfter:        DefaultStaleAfter,
		IdlePollMin:       DefaultIdlePollMin,
		IdlePollMax:       DefaultIdlePollMax,
		DrainTimeout:      DefaultDrainTimeout,
		WorkerID:          fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// Pool claims jobs from the queue and dispatches them to handlers. Slots
// share nothing but the database.
type Pool struct {
	cfg      Config
	queue    *queue.Queue
	registry *pipeline.Registry
	wc       *pipeline.WorkerContext
	log      *zap.SugaredLogger

	claimCtx    context.Context
	claimCancel context.CancelFunc
	runCtx      context.Context
	runCancel   context.CancelFunc
	wg          sync.WaitGroup

	mu     sync.Mutex
	active int
}

// NewPool wires a pool over an assembled worker context. Zero config fields
// fall back to defaults.
func NewPool(cfg Config, q *queue.Queue, registry *pipeline.Registry, wc *pipeline.WorkerContext, log *zap.SugaredLogger) *Pool {
	def := DefaultConfig()
	if cfg.Slots <= 0 {
		cfg.Slots = def.Slots
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = def.RecoveryInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.IdlePollMin <= 0 {
		cfg.IdlePollMin = def.IdlePollMin
	}
	if cfg.IdlePollMax < cfg.IdlePollMin {
		cfg.IdlePollMax = def.IdlePollMax
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = def.WorkerID
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		registry: registry,
		wc:       wc,
		log:      log.Named("worker"),
	}
}

// Start recovers jobs orphaned by a previous crash, then launches the slots
// and the recovery ticker. Returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.runCtx, p.runCancel = context.WithCancel(ctx)
	p.claimCtx, p.claimCancel = context.WithCancel(p.runCtx)

	if recovered, err := p.queue.RecoverStuck(p.cfg.StaleAfter); err != nil {
		p.log.Warnw("Startup recovery failed", "symbol", sym.Opening, "error", err)
	} else if recovered > 0 {
		p.log.Infow("Recovered jobs from previous run", "symbol", sym.Opening, "count", recovered)
	}

	if warning := p.checkMemoryPressure(); warning != "" {
		p.log.Warnw("Memory pressure warning", "symbol", sym.Worker, "warning", warning, "slots", p.cfg.Slots)
	}

	p.log.Infow("Worker pool starting",
		"symbol", sym.Opening, "worker_id", p.cfg.WorkerID,
		"slots", p.cfg.Slots, "heartbeat", p.cfg.HeartbeatInterval)

	for i := 0; i < p.cfg.Slots; i++ {
		p.wg.Add(1)
		go p.slot(i)
	}
	p.wg.Add(1)
	go p.recoveryLoop()
}

// Stop drains the pool: no new claims, then up to DrainTimeout for in-flight
// handlers. Jobs still running after the drain lose their heartbeat and are
// re-queued by recovery once the stale threshold passes.
func (p *Pool) Stop() {
	drain := p.drainTimeout()
	p.claimCancel()
	p.log.Infow("Worker pool draining", "symbol", sym.Closing, "drain_timeout", drain)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Infow("Worker pool stopped", "symbol", sym.Closing)
	case <-time.After(drain):
		p.runCancel()
		p.log.Warnw("Drain timeout, abandoning in-flight jobs to recovery",
			"symbol", sym.Closing, "active", p.Active())
		<-done
	}
	p.runCancel()
}

// Active returns the number of slots currently executing a handler.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Retune adjusts the idle poll bounds and drain timeout of a running pool.
// Slot count and heartbeat interval require a restart.
func (p *Pool) Retune(idlePollMin, idlePollMax, drainTimeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idlePollMin > 0 {
		p.cfg.IdlePollMin = idlePollMin
	}
	if idlePollMax >= p.cfg.IdlePollMin {
		p.cfg.IdlePollMax = idlePollMax
	}
	if drainTimeout > 0 {
		p.cfg.DrainTimeout = drainTimeout
	}
	p.log.Infow("Worker pool retuned",
		"symbol", sym.Worker, "idle_poll_min", p.cfg.IdlePollMin,
		"idle_poll_max", p.cfg.IdlePollMax, "drain_timeout", p.cfg.DrainTimeout)
}

func (p *Pool) idlePollBounds() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.IdlePollMin, p.cfg.IdlePollMax
}

func (p *Pool) drainTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.DrainTimeout
}

// slot is one claim loop. Idle slots back off exponentially between polls;
// a successful claim resets the backoff.
func (p *Pool) slot(id int) {
	defer p.wg.Done()

	workerID := fmt.Sprintf("%s/%d", p.cfg.WorkerID, id)
	kinds := p.registry.Kinds()
	pollMin, pollMax := p.idlePollBounds()
	backoff := pollMin

	for {
		select {
		case <-p.claimCtx.Done():
			return
		default:
		}

		pollMin, pollMax = p.idlePollBounds()

		job, err := p.queue.Claim(workerID, kinds, "")
		if err != nil {
			p.log.Errorw("Claim failed", "symbol", sym.Worker, "worker_id", workerID, "error", err)
			if !p.sleep(backoff) {
				return
			}
			backoff = growBackoff(backoff, pollMax)
			continue
		}
		if job == nil {
			if !p.sleep(backoff) {
				return
			}
			backoff = growBackoff(backoff, pollMax)
			continue
		}

		backoff = pollMin
		p.runJob(workerID, job)
	}
}

// runJob dispatches one claimed job with a heartbeat pump alongside, then
// finalizes it from the handler's error.
func (p *Pool) runJob(workerID string, job *queue.Job) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	jobCtx, cancel := context.WithCancel(p.runCtx)
	defer cancel()

	pumpDone := make(chan struct{})
	go p.heartbeatPump(jobCtx, cancel, job.ID, workerID, pumpDone)

	wc := *p.wc
	wc.WorkerID = workerID
	err := p.registry.Dispatch(jobCtx, job, &wc)

	cancel()
	<-pumpDone

	if finErr := p.queue.Finalize(job, err); finErr != nil {
		p.log.Errorw("Finalize failed",
			"symbol", sym.Worker, "job_id", job.ID, "kind", job.Kind, "error", finErr)
	}
}

// heartbeatPump refreshes the job's heartbeat until the handler returns. A
// heartbeat conflict means the job was recovered out from under us; the
// handler is cancelled so its result cannot clobber the new owner's.
func (p *Pool) heartbeatPump(ctx context.Context, cancel context.CancelFunc, jobID, workerID string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(jobID, workerID); err != nil {
				p.log.Warnw("Heartbeat lost, cancelling handler",
					"symbol", sym.Worker, "job_id", jobID, "worker_id", workerID, "error", err)
				cancel()
				return
			}
		}
	}
}

// recoveryLoop periodically re-queues stale running jobs and logs a queue
// status line.
func (p *Pool) recoveryLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.claimCtx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.RecoverStuck(p.cfg.StaleAfter); err != nil {
				p.log.Errorw("Stuck-job recovery failed", "symbol", sym.Worker, "error", err)
			}
			if stats, err := p.queue.GetStats(); err == nil {
				p.log.Debugw("Queue status",
					"symbol", sym.Worker, "queued", stats.Queued, "running", stats.Running,
					"dead_letter", stats.DeadLetter, "active_slots", p.Active())
			}
		}
	}
}

// sleep waits for d or until claims are shut down. Returns false on shutdown.
func (p *Pool) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.claimCtx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func growBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
