package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/lucidspace/atelier-api/internal/job"
)

// Profile validation errors.
var (
	ErrInvalidConcurrency  = errors.New("concurrency must be at least 1")
	ErrInvalidTimeout      = errors.New("process timeout must be positive")
	ErrLockTooShort        = errors.New("lock duration must exceed process timeout")
	ErrInvalidStallConfig  = errors.New("stalled interval must be positive and max stalled count at least 1")
	ErrInvalidAttempts     = errors.New("attempts must be at least 1")
	ErrInvalidBackoff      = errors.New("backoff must be exponential with a positive delay")
	ErrInvalidRateLimit    = errors.New("rate limit requires positive capacity and window")
	ErrUnexpectedRateLimit = errors.New("rate limit is only permitted on externally rate-limited job types")
	ErrUnknownJobType      = errors.New("profile registered for unknown job type")
	ErrMissingProfile      = errors.New("no profile registered for job type")
)

// RateLimit bounds how often a job type may execute, protecting calls to
// external paid APIs. Capacity tokens refill once per Window.
type RateLimit struct {
	Capacity int
	Window   time.Duration
}

// Profile is the static per-job-type tuning. Profiles are compiled into a
// Registry at startup and never mutated afterwards.
type Profile struct {
	// Concurrency bounds simultaneous executions of this job type.
	Concurrency int

	// ProcessTimeout is the processing function's own time budget.
	ProcessTimeout time.Duration

	// LockDuration is how long a claim holds the job. Must exceed
	// ProcessTimeout, otherwise a live job would be reclaimed as stalled.
	LockDuration time.Duration

	// StalledInterval is how often expired locks are scanned for.
	StalledInterval time.Duration

	// MaxStalledCount is how many reclaims a job survives before it is
	// treated as a terminal failure.
	MaxStalledCount int

	// Attempts is the total execution budget, including the first try.
	Attempts int

	// Backoff schedules non-terminal retries.
	Backoff job.Backoff

	// RateLimiter is attached only to job types that call an external
	// rate-limited or paid API.
	RateLimiter *RateLimit
}

// Validate checks the profile invariants.
func (p Profile) Validate() error {
	if p.Concurrency < 1 {
		return ErrInvalidConcurrency
	}
	if p.ProcessTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if p.LockDuration <= p.ProcessTimeout {
		return ErrLockTooShort
	}
	if p.StalledInterval <= 0 || p.MaxStalledCount < 1 {
		return ErrInvalidStallConfig
	}
	if p.Attempts < 1 {
		return ErrInvalidAttempts
	}
	if !p.Backoff.Exponential || p.Backoff.Delay <= 0 {
		return ErrInvalidBackoff
	}
	if p.RateLimiter != nil {
		if p.RateLimiter.Capacity < 1 || p.RateLimiter.Window <= 0 {
			return ErrInvalidRateLimit
		}
	}
	return nil
}

// Overrides is a partial profile patch. Nil fields fall back to the
// compiled profile.
type Overrides struct {
	Concurrency     *int
	ProcessTimeout  *time.Duration
	LockDuration    *time.Duration
	StalledInterval *time.Duration
	MaxStalledCount *int
	Attempts        *int
	Backoff         *job.Backoff
}

// Apply returns a copy of the profile with the overrides applied.
func (p Profile) Apply(o Overrides) Profile {
	out := p
	if o.Concurrency != nil {
		out.Concurrency = *o.Concurrency
	}
	if o.ProcessTimeout != nil {
		out.ProcessTimeout = *o.ProcessTimeout
	}
	if o.LockDuration != nil {
		out.LockDuration = *o.LockDuration
	}
	if o.StalledInterval != nil {
		out.StalledInterval = *o.StalledInterval
	}
	if o.MaxStalledCount != nil {
		out.MaxStalledCount = *o.MaxStalledCount
	}
	if o.Attempts != nil {
		out.Attempts = *o.Attempts
	}
	if o.Backoff != nil {
		out.Backoff = *o.Backoff
	}
	return out
}

// rateLimitedTypes are the job types that call an external rate-limited or
// paid API and therefore may carry a rate limiter.
var rateLimitedTypes = map[job.Type]bool{
	job.TypeNotificationSend: true,
	job.TypeAIRenderGenerate: true,
}

// Registry is the immutable per-job-type profile table, loaded once at
// startup. No runtime mutation.
type Registry map[job.Type]Profile

// DefaultRegistry returns the compiled profile table for every canonical
// job type.
func DefaultRegistry() Registry {
	return Registry{
		job.TypeImageVariantOptimize: {
			Concurrency:     4,
			ProcessTimeout:  30 * time.Second,
			LockDuration:    45 * time.Second,
			StalledInterval: 15 * time.Second,
			MaxStalledCount: 3,
			Attempts:        3,
			Backoff:         job.Backoff{Exponential: true, Delay: 2 * time.Second},
		},
		job.TypeAIMessageProcess: {
			Concurrency:     2,
			ProcessTimeout:  60 * time.Second,
			LockDuration:    90 * time.Second,
			StalledInterval: 30 * time.Second,
			MaxStalledCount: 2,
			Attempts:        2,
			Backoff:         job.Backoff{Exponential: true, Delay: time.Second},
		},
		job.TypeDocumentGenerate: {
			Concurrency:     2,
			ProcessTimeout:  2 * time.Minute,
			LockDuration:    3 * time.Minute,
			StalledInterval: 30 * time.Second,
			MaxStalledCount: 2,
			Attempts:        3,
			Backoff:         job.Backoff{Exponential: true, Delay: 5 * time.Second},
		},
		job.TypeNotificationSend: {
			Concurrency:     8,
			ProcessTimeout:  10 * time.Second,
			LockDuration:    20 * time.Second,
			StalledInterval: 10 * time.Second,
			MaxStalledCount: 3,
			Attempts:        5,
			Backoff:         job.Backoff{Exponential: true, Delay: time.Second},
			RateLimiter:     &RateLimit{Capacity: 30, Window: time.Minute},
		},
		job.TypeAIRenderGenerate: {
			Concurrency:     2,
			ProcessTimeout:  5 * time.Minute,
			LockDuration:    6 * time.Minute,
			StalledInterval: time.Minute,
			MaxStalledCount: 2,
			Attempts:        3,
			Backoff:         job.Backoff{Exponential: true, Delay: 10 * time.Second},
			RateLimiter:     &RateLimit{Capacity: 10, Window: time.Minute},
		},
	}
}

// Validate checks every profile in the registry, that every canonical job
// type has a profile, and that rate limiters only appear on job types that
// call external rate-limited APIs.
func (r Registry) Validate() error {
	for typ := range r {
		if !typ.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownJobType, typ)
		}
	}

	for _, typ := range job.Types() {
		profile, ok := r[typ]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingProfile, typ)
		}
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("profile for %s: %w", typ, err)
		}
		if profile.RateLimiter != nil && !rateLimitedTypes[typ] {
			return fmt.Errorf("%w: %s", ErrUnexpectedRateLimit, typ)
		}
	}

	return nil
}

// Profile returns the compiled profile for a job type.
func (r Registry) Profile(typ job.Type) (Profile, error) {
	profile, ok := r[typ]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrMissingProfile, typ)
	}
	return profile, nil
}
