// Package lease coordinates retry backoff state for repeated external
// validation calls. State lives in object metadata; mutation happens under
// a short-lived distributed lease so only one worker writes at a time.
package lease

import (
	"context"
	"time"
)

// ObjectRef names one storage object.
type ObjectRef struct {
	Container string
	Name      string
}

func (o ObjectRef) String() string { return o.Container + "/" + o.Name }

// RetryState is the retry side-metadata carried on a storage object. A zero
// DelayExpiresAt means no delay has been recorded yet.
type RetryState struct {
	Count          int
	DelayExpiresAt time.Time
}

// MetadataStore reads and writes retry state on the underlying object.
// Reads never take a lock.
type MetadataStore interface {
	RetryState(ctx context.Context, obj ObjectRef) (RetryState, error)
	SetRetryState(ctx context.Context, obj ObjectRef, state RetryState) error
}

// Locker is the distributed mutual-exclusion primitive. Acquire is
// non-blocking: losing the race returns ok=false, never an error.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Verify(ctx context.Context, key, token string) (bool, error)
	Release(ctx context.Context, key, token string) error
}
