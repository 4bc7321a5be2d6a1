package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/scheduler/guard"
	"go.uber.org/zap"
)

var syncableStatuses = []paymentdomain.Status{
	paymentdomain.StatusPending,
	paymentdomain.StatusProcessing,
}

// SyncPendingPaymentsJob asks the gateway about payments that have been
// pending or processing longer than the threshold, recovering lost webhooks.
// One batch per run; payments the gateway still reports as open are retried
// on the next tick.
func (s *Scheduler) SyncPendingPaymentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSyncPendingPayments, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cutoff := s.clock.Now().Add(-s.cfg.PendingThreshold)

	payments, err := s.repo.ListStale(ctx, s.db, syncableStatuses, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.payments.list_failed", nil, err)
		return err
	}

	var (
		jobErr    error
		processed int
	)
	for i := range payments {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		payment := &payments[i]
		if err := guard.EnsurePaymentCanSync(payment.Status, payment.UpdatedAt, cutoff); err != nil {
			s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonSettled, payment)
			continue
		}

		err := s.syncer.Sync(ctx, payment)
		switch {
		case errors.Is(err, paymentdomain.ErrGatewayUnavailable), errors.Is(err, paymentdomain.ErrGatewayNotConfigured):
			s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonGatewayUnavailable, payment, zap.Error(err))
			continue
		case err != nil:
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.payment.sync_failed", payment, err)
			continue
		}
		processed++
	}

	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobSyncPendingPayments, "payments", processed)
	return jobErr
}
