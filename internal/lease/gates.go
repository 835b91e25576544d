package lease

import "context"

// FreshGate admits only objects with no recorded retry state. The ingest
// pass uses it so archives that already failed once are left to the
// validation-retry pass.
type FreshGate struct {
	M *Manager
}

func (g FreshGate) IsReadyToRetry(ctx context.Context, obj ObjectRef) (bool, error) {
	pending, err := g.M.Pending(ctx, obj)
	if err != nil {
		return false, err
	}
	return !pending, nil
}

func (g FreshGate) SetRetryDelayIfPossible(ctx context.Context, obj ObjectRef) (bool, error) {
	return g.M.SetRetryDelayIfPossible(ctx, obj)
}

// RetryGate admits only objects that already recorded a retry delay and
// whose delay has expired.
type RetryGate struct {
	M *Manager
}

func (g RetryGate) IsReadyToRetry(ctx context.Context, obj ObjectRef) (bool, error) {
	pending, err := g.M.Pending(ctx, obj)
	if err != nil || !pending {
		return false, err
	}
	return g.M.IsReadyToRetry(ctx, obj)
}

func (g RetryGate) SetRetryDelayIfPossible(ctx context.Context, obj ObjectRef) (bool, error) {
	return g.M.SetRetryDelayIfPossible(ctx, obj)
}
