package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lucidspace/atelier-api/internal/deadletter"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/ratelimit"
)

// defaultPollInterval is how long an idle consumer waits before asking the
// store for work again.
const defaultPollInterval = 250 * time.Millisecond

// ProcessFunc executes one job. It must be idempotent: stall recovery
// permits up to Attempts duplicate executions of the same record.
type ProcessFunc func(ctx context.Context, rec *job.Record) error

// EventKind classifies job lifecycle events surfaced by a pool.
type EventKind string

// Lifecycle event kinds.
const (
	EventCompleted    EventKind = "completed"
	EventFailed       EventKind = "failed"
	EventStalled      EventKind = "stalled"
	EventDeadLettered EventKind = "dead_lettered"
)

// Event is a job lifecycle notification.
type Event struct {
	Kind   EventKind
	Record *job.Record
	Err    error
}

// Listener receives job lifecycle events. Listeners must not block.
type Listener func(Event)

// Pool is a consumer group for one job type: a bounded set of goroutines
// that claim, execute, and acknowledge jobs, plus a scanner that reclaims
// stalled claims.
type Pool struct {
	typ     job.Type
	fn      ProcessFunc
	profile Profile

	store   job.Store
	dlq     *deadletter.Queue
	limiter *ratelimit.Bucket
	logger  *slog.Logger

	pollInterval time.Duration

	mu        sync.Mutex
	listeners []Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PoolOption customizes pool construction.
type PoolOption func(*Pool)

// WithOverrides applies a partial profile patch on top of the compiled
// profile. A patch consisting only of Concurrency is the common case.
func WithOverrides(o Overrides) PoolOption {
	return func(p *Pool) {
		p.profile = p.profile.Apply(o)
	}
}

// WithConcurrency overrides only the concurrency ceiling.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		p.profile.Concurrency = n
	}
}

// WithPollInterval overrides the idle polling interval. Test use mostly.
func WithPollInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		p.pollInterval = interval
	}
}

// NewPool binds a job type to a processing function using the profile
// compiled in the registry. The effective profile (after overrides) is
// validated before the pool is returned.
func NewPool(
	typ job.Type,
	fn ProcessFunc,
	registry Registry,
	store job.Store,
	dlq *deadletter.Queue,
	logger *slog.Logger,
	opts ...PoolOption,
) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("process function cannot be nil")
	}
	if store == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if dlq == nil {
		return nil, errors.New("dead letter queue cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	profile, err := registry.Profile(typ)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		typ:          typ,
		fn:           fn,
		profile:      profile,
		store:        store,
		dlq:          dlq,
		logger:       logger.With("component", "worker_pool", "job_type", typ),
		pollInterval: defaultPollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.profile.Validate(); err != nil {
		cancel()
		return nil, fmt.Errorf("effective profile for %s: %w", typ, err)
	}

	if p.profile.RateLimiter != nil {
		p.limiter = ratelimit.NewBucket(p.profile.RateLimiter.Capacity, p.profile.RateLimiter.Window)
	}

	return p, nil
}

// OnEvent registers a lifecycle event listener.
func (p *Pool) OnEvent(listener Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listener)
}

// emit delivers an event to all listeners.
func (p *Pool) emit(event Event) {
	p.mu.Lock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Start launches the consumer goroutines and the stall scanner.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool",
		"concurrency", p.profile.Concurrency,
		"attempts", p.profile.Attempts,
		"lock_duration", p.profile.LockDuration)

	for i := 0; i < p.profile.Concurrency; i++ {
		p.wg.Add(1)
		go p.consume(i)
	}

	p.wg.Add(1)
	go p.stallScanner()
}

// Stop shuts the pool down and waits for in-flight executions to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// consume is one consumer slot: claim, execute, acknowledge, repeat.
func (p *Pool) consume(slot int) {
	defer p.wg.Done()

	logger := p.logger.With("slot", slot)
	logger.Debug("consumer started")

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("consumer stopping")
			return
		default:
		}

		// Reserve a rate limit token before claiming, so a claimed job is
		// never left waiting on the limiter while holding its lock. Tokens
		// are only spent when there is actually work pending.
		if p.limiter != nil {
			pending, err := p.store.CountPending(p.ctx, p.typ)
			if err != nil || pending == 0 {
				p.sleep()
				continue
			}
			if err := p.limiter.Take(); err != nil {
				p.sleep()
				continue
			}
		}

		rec, err := p.store.Claim(p.ctx, p.typ, p.profile.LockDuration)
		if err != nil {
			if !errors.Is(err, job.ErrNoJob) && !errors.Is(err, context.Canceled) {
				logger.Error("failed to claim job", "error", err)
			}
			p.sleep()
			continue
		}

		p.execute(rec, logger)
	}
}

// sleep waits one poll interval or until shutdown.
func (p *Pool) sleep() {
	select {
	case <-p.ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

// execute runs one claimed job under the timeout guard with lock heartbeat.
func (p *Pool) execute(rec *job.Record, logger *slog.Logger) {
	logger = logger.With("job_id", rec.ID, "attempts_made", rec.AttemptsMade)
	logger.Info("processing job")

	runCtx, cancelRun := context.WithCancel(p.ctx)
	defer cancelRun()

	// Heartbeat renews the lock while the job runs. If renewal discovers
	// the lock is lost, the execution context is canceled to stop wasted
	// work on a record someone else now owns.
	heartbeatDone := make(chan struct{})
	go p.heartbeat(runCtx, rec, cancelRun, heartbeatDone)

	err := p.runWithTimeout(runCtx, rec)
	cancelRun()
	<-heartbeatDone

	switch {
	case errors.Is(err, errProcessTimeout):
		// The timeout guard distinguishes a hung call from an application
		// error: the job is neither acked nor nacked, leaving the expired
		// lock for stall detection to reclaim.
		logger.Warn("job processing timed out, leaving for stall detection",
			"timeout", p.profile.ProcessTimeout)
		p.emit(Event{Kind: EventStalled, Record: rec, Err: err})

	case errors.Is(err, context.Canceled) && p.ctx.Err() != nil:
		// Shutdown interrupted the attempt, which is not an execution
		// failure: no attempt is consumed and nothing is dead-lettered.
		// The lock expires and the job is redelivered after restart.
		logger.Info("job interrupted by shutdown, leaving for redelivery")

	case err != nil:
		p.fail(rec, err, logger)

	default:
		if ackErr := p.store.Ack(context.Background(), rec.ID, rec.LockToken); ackErr != nil {
			logger.Error("failed to ack completed job", "error", ackErr)
			return
		}
		logger.Info("job completed")
		p.emit(Event{Kind: EventCompleted, Record: rec})
	}
}

// errProcessTimeout distinguishes the timeout guard from application errors.
var errProcessTimeout = errors.New("processing exceeded timeout budget")

// runWithTimeout invokes the processing function under the profile's
// timeout budget. A hung call is abandoned, not force-killed: its goroutine
// keeps running but its result is discarded.
func (p *Pool) runWithTimeout(ctx context.Context, rec *job.Record) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.profile.ProcessTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.fn(timeoutCtx, rec)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		select {
		case err := <-done:
			// The function returned in the race window; honor its result.
			return err
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errProcessTimeout
	}
}

// heartbeat renews the job's lock at a third of its duration until the
// execution context ends.
func (p *Pool) heartbeat(ctx context.Context, rec *job.Record, cancelRun context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.profile.LockDuration / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.RenewLock(ctx, rec.ID, rec.LockToken, p.profile.LockDuration); err != nil {
				if errors.Is(err, job.ErrLockLost) || errors.Is(err, job.ErrNotFound) {
					p.logger.Warn("job lock lost during execution, canceling",
						"job_id", rec.ID, "error", err)
					cancelRun()
					return
				}
				p.logger.Error("failed to renew job lock", "job_id", rec.ID, "error", err)
			}
		}
	}
}

// fail records a failed attempt, forwarding terminal failures to the dead
// letter store.
func (p *Pool) fail(rec *job.Record, cause error, logger *slog.Logger) {
	// Use a fresh context: the pool may be shutting down, but the failure
	// must still be recorded.
	updated, terminal, err := p.store.Nack(context.Background(), rec.ID, rec.LockToken, p.profile.Backoff)
	if err != nil {
		logger.Error("failed to nack job", "error", err, "cause", cause)
		return
	}

	if terminal {
		logger.Error("job exhausted retry budget",
			"attempts_made", updated.AttemptsMade,
			"error", cause)
		p.dlq.MoveToDeadLetter(context.Background(), updated, cause.Error())
		p.emit(Event{Kind: EventDeadLettered, Record: updated, Err: cause})
		return
	}

	logger.Warn("job attempt failed, rescheduled",
		"attempts_made", updated.AttemptsMade,
		"next_run_at", updated.NextRunAt,
		"error", cause)
	p.emit(Event{Kind: EventFailed, Record: updated, Err: cause})
}

// stallScanner periodically reclaims expired locks. Jobs that stalled too
// many times are treated as terminal failures and follow the dead-letter
// path.
func (p *Pool) stallScanner() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.profile.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			terminal, err := p.store.ReclaimStalled(p.ctx, p.typ, p.profile.MaxStalledCount)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Error("stall scan failed", "error", err)
				}
				continue
			}

			for _, rec := range terminal {
				p.logger.Error("job exceeded max stalled count",
					"job_id", rec.ID,
					"stall_count", rec.StallCount)
				reason := fmt.Sprintf("stalled %d times without lock renewal", rec.StallCount)
				p.dlq.MoveToDeadLetter(context.Background(), rec, reason)
				p.emit(Event{Kind: EventStalled, Record: rec})
				p.emit(Event{Kind: EventDeadLettered, Record: rec})
			}
		}
	}
}
