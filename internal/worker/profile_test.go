package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidspace/atelier-api/internal/job"
)

func validProfile() Profile {
	return Profile{
		Concurrency:     2,
		ProcessTimeout:  time.Second,
		LockDuration:    3 * time.Second,
		StalledInterval: time.Second,
		MaxStalledCount: 2,
		Attempts:        3,
		Backoff:         job.Backoff{Exponential: true, Delay: 100 * time.Millisecond},
	}
}

func TestProfileValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*Profile)
		wantErr error
	}{
		{"valid", func(p *Profile) {}, nil},
		{"zero concurrency", func(p *Profile) { p.Concurrency = 0 }, ErrInvalidConcurrency},
		{"zero timeout", func(p *Profile) { p.ProcessTimeout = 0 }, ErrInvalidTimeout},
		{
			"lock not above timeout",
			func(p *Profile) { p.LockDuration = p.ProcessTimeout },
			ErrLockTooShort,
		},
		{
			"lock below timeout",
			func(p *Profile) { p.LockDuration = p.ProcessTimeout / 2 },
			ErrLockTooShort,
		},
		{"zero stalled interval", func(p *Profile) { p.StalledInterval = 0 }, ErrInvalidStallConfig},
		{"zero max stalled", func(p *Profile) { p.MaxStalledCount = 0 }, ErrInvalidStallConfig},
		{"zero attempts", func(p *Profile) { p.Attempts = 0 }, ErrInvalidAttempts},
		{"zero backoff delay", func(p *Profile) { p.Backoff.Delay = 0 }, ErrInvalidBackoff},
		{
			"non-exponential backoff",
			func(p *Profile) { p.Backoff.Exponential = false },
			ErrInvalidBackoff,
		},
		{
			"bad rate limit",
			func(p *Profile) { p.RateLimiter = &RateLimit{Capacity: 0, Window: time.Minute} },
			ErrInvalidRateLimit,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			profile := validProfile()
			tc.mutate(&profile)

			err := profile.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestDefaultRegistryIsValid(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	require.NoError(t, registry.Validate())

	// Every canonical job type has a profile with a lock exceeding the
	// processing timeout.
	for _, typ := range job.Types() {
		profile, err := registry.Profile(typ)
		require.NoError(t, err, "missing profile for %s", typ)
		assert.Greater(t, profile.LockDuration, profile.ProcessTimeout, typ)
		assert.Positive(t, profile.Backoff.Delay, typ)
	}

	// Rate limiters only where an external paid API is called.
	assert.NotNil(t, registry[job.TypeNotificationSend].RateLimiter)
	assert.NotNil(t, registry[job.TypeAIRenderGenerate].RateLimiter)
	assert.Nil(t, registry[job.TypeImageVariantOptimize].RateLimiter)
	assert.Nil(t, registry[job.TypeDocumentGenerate].RateLimiter)
	assert.Nil(t, registry[job.TypeAIMessageProcess].RateLimiter)
}

func TestRegistryValidate(t *testing.T) {
	t.Parallel()

	t.Run("missing profile", func(t *testing.T) {
		t.Parallel()

		registry := DefaultRegistry()
		delete(registry, job.TypeDocumentGenerate)
		assert.ErrorIs(t, registry.Validate(), ErrMissingProfile)
	})

	t.Run("unknown job type", func(t *testing.T) {
		t.Parallel()

		registry := DefaultRegistry()
		registry[job.Type("mystery")] = validProfile()
		assert.ErrorIs(t, registry.Validate(), ErrUnknownJobType)
	})

	t.Run("rate limiter on unlimited type", func(t *testing.T) {
		t.Parallel()

		registry := DefaultRegistry()
		profile := registry[job.TypeDocumentGenerate]
		profile.RateLimiter = &RateLimit{Capacity: 5, Window: time.Minute}
		registry[job.TypeDocumentGenerate] = profile
		assert.ErrorIs(t, registry.Validate(), ErrUnexpectedRateLimit)
	})

	t.Run("invalid profile surfaces job type", func(t *testing.T) {
		t.Parallel()

		registry := DefaultRegistry()
		profile := registry[job.TypeAIRenderGenerate]
		profile.LockDuration = profile.ProcessTimeout
		registry[job.TypeAIRenderGenerate] = profile

		err := registry.Validate()
		require.ErrorIs(t, err, ErrLockTooShort)
		assert.Contains(t, err.Error(), string(job.TypeAIRenderGenerate))
	})
}

func TestProfileApplyOverrides(t *testing.T) {
	t.Parallel()

	base := validProfile()

	concurrency := 7
	attempts := 1
	backoff := job.Backoff{Exponential: true, Delay: time.Second}

	patched := base.Apply(Overrides{
		Concurrency: &concurrency,
		Attempts:    &attempts,
		Backoff:     &backoff,
	})

	assert.Equal(t, 7, patched.Concurrency)
	assert.Equal(t, 1, patched.Attempts)
	assert.Equal(t, time.Second, patched.Backoff.Delay)
	// Unspecified fields fall back to the compiled profile.
	assert.Equal(t, base.LockDuration, patched.LockDuration)
	assert.Equal(t, base.ProcessTimeout, patched.ProcessTimeout)

	// The base profile is untouched.
	assert.Equal(t, 2, base.Concurrency)
}
