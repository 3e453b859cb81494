package conversation

import (
	"context"
	"errors"

	redisclient "github.com/careloop/clinic-inbox/internal/redis"
)

var ErrSweepInProgress = errors.New("a reconciliation sweep is already running")

// LockedRunner wraps a Sweeper in the distributed sweep lock so the worker
// and the manual HTTP trigger can't run sweeps concurrently.
type LockedRunner struct {
	sweeper *Sweeper
	locker  redisclient.Locker
}

func NewLockedRunner(sweeper *Sweeper, locker redisclient.Locker) *LockedRunner {
	return &LockedRunner{
		sweeper: sweeper,
		locker:  locker,
	}
}

func (r *LockedRunner) Run(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary

	err := r.locker.WithSweepLock(ctx, func(lockCtx context.Context) error {
		var runErr error
		summary, runErr = r.sweeper.Run(lockCtx)
		return runErr
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return summary, ErrSweepInProgress
	}

	return summary, err
}
