package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrRetriesExhausted is returned once an object's retry count has reached
// the cap. Callers branch on it to escalate instead of rescheduling.
var ErrRetriesExhausted = errors.New("retry attempts exhausted")

// Manager gates repeated validation attempts per storage object.
type Manager struct {
	meta        MetadataStore
	locker      Locker
	maxRetries  int
	leaseTTL    time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// Config carries the Manager knobs.
type Config struct {
	MaxRetries  int
	LeaseTTL    time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// NewManager constructs a Manager.
func NewManager(meta MetadataStore, locker Locker, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		meta:        meta,
		locker:      locker,
		maxRetries:  cfg.MaxRetries,
		leaseTTL:    cfg.LeaseTTL,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		now:         time.Now,
		log:         log,
	}
}

// Pending reports whether the object has any retry state recorded.
func (m *Manager) Pending(ctx context.Context, obj ObjectRef) (bool, error) {
	state, err := m.meta.RetryState(ctx, obj)
	if err != nil {
		return false, fmt.Errorf("read retry state for %s: %w", obj, err)
	}
	return state.Count > 0 || !state.DelayExpiresAt.IsZero(), nil
}

// IsReadyToRetry reports whether the recorded delay (if any) has expired.
// This is the lock-free fast path; it may race with a concurrent writer,
// which is fine because the subsequent write is leased.
func (m *Manager) IsReadyToRetry(ctx context.Context, obj ObjectRef) (bool, error) {
	state, err := m.meta.RetryState(ctx, obj)
	if err != nil {
		return false, fmt.Errorf("read retry state for %s: %w", obj, err)
	}
	if state.DelayExpiresAt.IsZero() {
		return true, nil
	}
	return !m.now().UTC().Before(state.DelayExpiresAt), nil
}

// SetRetryDelayIfPossible bumps the retry count and records the next delay
// expiration under an exclusive lease. Once the cap is reached it returns
// false with ErrRetriesExhausted. It returns false without error when
// another worker holds the lease this cycle; contention is an expected
// outcome, never a failure.
func (m *Manager) SetRetryDelayIfPossible(ctx context.Context, obj ObjectRef) (bool, error) {
	state, err := m.meta.RetryState(ctx, obj)
	if err != nil {
		return false, fmt.Errorf("read retry state for %s: %w", obj, err)
	}
	if state.Count >= m.maxRetries {
		m.log.Info().Str("object", obj.String()).Int("count", state.Count).Msg("retry cap reached, giving up")
		return false, ErrRetriesExhausted
	}

	key := "lease:" + obj.String()
	token, ok, err := m.locker.Acquire(ctx, key, m.leaseTTL)
	if err != nil {
		return false, fmt.Errorf("acquire lease for %s: %w", obj, err)
	}
	if !ok {
		m.log.Debug().Str("object", obj.String()).Msg("lease held elsewhere, skipping this cycle")
		return false, nil
	}
	defer func() {
		if releaseErr := m.locker.Release(ctx, key, token); releaseErr != nil {
			// Expiry makes release best-effort only.
			m.log.Debug().Err(releaseErr).Str("object", obj.String()).Msg("lease release failed")
		}
	}()

	usable, err := m.locker.Verify(ctx, key, token)
	if err != nil {
		return false, fmt.Errorf("verify lease for %s: %w", obj, err)
	}
	if !usable {
		return false, nil
	}

	// Re-read under the lease; the pre-lease read may be stale if another
	// worker wrote between that read and our acquire.
	state, err = m.meta.RetryState(ctx, obj)
	if err != nil {
		return false, fmt.Errorf("read retry state for %s: %w", obj, err)
	}
	if state.Count >= m.maxRetries {
		return false, ErrRetriesExhausted
	}

	state.Count++
	state.DelayExpiresAt = m.now().UTC().Add(m.backoff(state.Count - 1))
	if err := m.meta.SetRetryState(ctx, obj, state); err != nil {
		return false, fmt.Errorf("write retry state for %s: %w", obj, err)
	}
	m.log.Info().
		Str("object", obj.String()).
		Int("count", state.Count).
		Time("delay_expires_at", state.DelayExpiresAt).
		Msg("retry delay recorded")
	return true, nil
}

// backoff grows exponentially with the prior retry count, capped. The
// exact curve is policy; monotonic growth is the only property relied on.
func (m *Manager) backoff(prior int) time.Duration {
	delay := m.backoffBase
	for i := 0; i < prior; i++ {
		delay *= 2
		if delay >= m.backoffCap {
			return m.backoffCap
		}
	}
	return delay
}
