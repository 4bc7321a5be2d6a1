package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/zap"
)

const jobLockPrefix = "storefront:scheduler:"

// withJobLock runs fn only when this replica holds the job's lock. A lock
// held elsewhere skips the run.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	unlock, ok, err := s.locker.TryAcquire(ctx, jobLockPrefix+job, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		obsmetrics.Scheduler().IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", job), zap.String("reason", "lock_held"))
		return nil
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("scheduler.job.unlock_failed", zap.String("job", job), zap.Error(err))
		}
	}()
	return fn(ctx)
}
