package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"github.com/smallbiznis/storefront/internal/scheduler/guard"
	"go.uber.org/zap"
)

// SyncPendingRefundsJob settles refunds the gateway accepted but whose
// outcome never arrived by webhook.
func (s *Scheduler) SyncPendingRefundsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSyncPendingRefunds, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cutoff := s.clock.Now().Add(-s.cfg.PendingThreshold)

	refunds, err := s.repo.ListPendingRefunds(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.refunds.list_failed", nil, err)
		return err
	}

	var (
		jobErr    error
		processed int
	)
	for i := range refunds {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		refund := &refunds[i]
		if err := guard.EnsureRefundCanSync(refund.Status, refund.GatewayRefundID); err != nil {
			s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonNotSupported, nil,
				zap.String("refund_id", refund.ID.String()))
			continue
		}

		settled, err := s.syncRefund(ctx, run, refund)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if settled {
			processed++
		}
	}

	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobSyncPendingRefunds, "refunds", processed)
	return jobErr
}

func (s *Scheduler) syncRefund(ctx context.Context, run *jobRun, refund *paymentdomain.Refund) (bool, error) {
	payment, err := s.repo.FindByID(ctx, s.db, refund.PaymentID, false)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.refund.sync_failed", nil, err, zap.String("refund_id", refund.ID.String()))
		return false, err
	}
	if payment == nil {
		err := paymentdomain.ErrPaymentNotFound
		s.logSchedulerError(ctx, run, "scheduler.refund.sync_failed", nil, err, zap.String("refund_id", refund.ID.String()))
		return false, err
	}
	refundField := zap.String("refund_id", refund.ID.String())

	client, err := s.adapters.Client(payment.Gateway)
	if err != nil {
		s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonGatewayUnavailable, payment, refundField, zap.Error(err))
		return false, nil
	}
	remote, err := client.FetchRefund(ctx, payment, refund)
	switch {
	case errors.Is(err, paymentdomain.ErrRefundNotSupported):
		s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonNotSupported, payment, refundField)
		return false, nil
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonGatewayUnavailable, payment, refundField, zap.Error(err))
		return false, nil
	case err != nil:
		s.logSchedulerError(ctx, run, "scheduler.refund.sync_failed", payment, err, refundField)
		return false, err
	}
	if !remote.Status.IsTerminal() {
		s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonStillPending, payment, refundField)
		return false, nil
	}

	_, err = s.engine.ApplyRefundOutcome(ctx, reconcile.RefundOutcome{
		PaymentID:       payment.ID,
		RefundID:        refund.ID,
		Status:          remote.Status,
		GatewayRefundID: remote.GatewayRefundID,
	})
	switch {
	case errors.Is(err, reconcile.ErrDuplicateEvent), errors.Is(err, paymentdomain.ErrRefundFinalized):
		// Settled by a webhook since the list was taken.
		s.logDeferred(ctx, run, obsmetrics.SchedulerBatchDeferredReasonSettled, payment, refundField)
		return false, nil
	case err != nil:
		s.logSchedulerError(ctx, run, "scheduler.refund.sync_failed", payment, err, refundField)
		return false, err
	}
	return true, nil
}
