package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefundDispatch submits an accepted refund to the gateway. It runs while the
// payment lock is held and may return paymentdomain.ErrRefundNotSupported to
// leave the refund pending for manual resolution.
type RefundDispatch func(ctx context.Context, payment *paymentdomain.Payment, amount int64, idempotencyKey string) (*paymentdomain.GatewayRefund, error)

type RefundRecord struct {
	PaymentID snowflake.ID
	// Amount defaults to everything still refundable.
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// RefundOutcome settles a pending refund.
type RefundOutcome struct {
	PaymentID       snowflake.ID
	RefundID        snowflake.ID
	Status          paymentdomain.RefundStatus
	GatewayRefundID string
}

// RecordRefund validates a refund against the refundable balance, hands it
// to dispatch and appends the pending sub-record. A terminal status reported
// by the gateway is applied in the same transaction.
func (e *Engine) RecordRefund(ctx context.Context, req RefundRecord, dispatch RefundDispatch) (Result, error) {
	if req.Amount != nil && *req.Amount <= 0 {
		return Result{}, paymentdomain.ErrInvalidAmount
	}
	payment, err := e.paymentRepo.FindByID(ctx, e.db, req.PaymentID, false)
	if err != nil {
		return Result{}, err
	}
	if payment == nil {
		return Result{}, paymentdomain.ErrPaymentNotFound
	}
	log := e.paymentLogger(ctx, payment)

	var (
		result   Result
		previous orderdomain.Status
	)
	err = e.withLock(ctx, paymentLockKey(payment.Gateway, payment.ExternalPaymentID), func() error {
		current, err := e.paymentRepo.FindByID(ctx, e.db, req.PaymentID, false)
		if err != nil {
			return err
		}
		amount, err := refundAmount(current, req.Amount)
		if err != nil {
			return err
		}

		var submitted *paymentdomain.GatewayRefund
		if dispatch != nil {
			submitted, err = dispatch(ctx, current, amount, req.IdempotencyKey)
			switch {
			case errors.Is(err, paymentdomain.ErrRefundNotSupported):
				submitted = nil
			case err != nil:
				return err
			}
		}

		return e.withRetry(ctx, func() error {
			return e.transaction(ctx, func(tx *gorm.DB) error {
				payment, err := e.paymentRepo.FindByID(ctx, tx, req.PaymentID, true)
				if err != nil {
					return err
				}
				if _, err := refundAmount(payment, &amount); err != nil {
					return err
				}
				order, err := e.orderRepo.FindByID(ctx, tx, payment.OrderID, true)
				if err != nil {
					return err
				}
				if order == nil {
					return orderdomain.ErrOrderNotFound
				}
				previous = order.Status

				now := e.now()
				reason := strings.TrimSpace(req.Reason)
				if reason == "" {
					reason = paymentdomain.DefaultRefundReason
				}
				refund := paymentdomain.Refund{
					ID:             e.genID.Generate(),
					PaymentID:      payment.ID,
					Amount:         amount,
					Reason:         reason,
					Status:         paymentdomain.RefundStatusPending,
					IdempotencyKey: req.IdempotencyKey,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if submitted != nil && submitted.GatewayRefundID != "" {
					gatewayID := submitted.GatewayRefundID
					refund.GatewayRefundID = &gatewayID
				}
				if err := e.paymentRepo.InsertRefund(ctx, tx, &refund); err != nil {
					return err
				}
				payment.Refunds = append(payment.Refunds, refund)

				if submitted != nil && submitted.Status.IsTerminal() {
					settled, err := e.settleRefund(ctx, tx, payment, order, payment.FindRefund(refund.ID), submitted.Status, "")
					if err != nil {
						return err
					}
					result = settled
					return nil
				}

				if err := e.writePayment(ctx, tx, payment); err != nil {
					return err
				}
				result = Result{Payment: payment, Order: order, Refund: payment.FindRefund(refund.ID)}
				return nil
			})
		})
	})
	if err != nil {
		return Result{}, err
	}

	log.Info("refund recorded",
		zap.String("refund_id", result.Refund.ID.String()),
		zap.Int64("amount", result.Refund.Amount),
		zap.String("refund_status", string(result.Refund.Status)),
	)
	e.metrics.RecordRefund(ctx, string(payment.Gateway), string(result.Refund.Status))
	e.notify(ctx, ChangeRefund, previous, result)
	return result, nil
}

// ApplyRefundOutcome moves a pending refund to a terminal status. Terminal
// refunds are final: the same status again is a duplicate, any other status
// is ErrRefundFinalized.
func (e *Engine) ApplyRefundOutcome(ctx context.Context, req RefundOutcome) (Result, error) {
	if !req.Status.IsTerminal() {
		return Result{}, paymentdomain.ErrInvalidRefundStatus
	}
	payment, err := e.paymentRepo.FindByID(ctx, e.db, req.PaymentID, false)
	if err != nil {
		return Result{}, err
	}
	if payment == nil {
		return Result{}, paymentdomain.ErrPaymentNotFound
	}
	log := e.paymentLogger(ctx, payment)

	var (
		result   Result
		previous orderdomain.Status
	)
	err = e.withLock(ctx, paymentLockKey(payment.Gateway, payment.ExternalPaymentID), func() error {
		return e.withRetry(ctx, func() error {
			return e.transaction(ctx, func(tx *gorm.DB) error {
				payment, err := e.paymentRepo.FindByID(ctx, tx, req.PaymentID, true)
				if err != nil {
					return err
				}
				refund := payment.FindRefund(req.RefundID)
				if refund == nil {
					return paymentdomain.ErrRefundNotFound
				}
				order, err := e.orderRepo.FindByID(ctx, tx, payment.OrderID, true)
				if err != nil {
					return err
				}
				if order == nil {
					return orderdomain.ErrOrderNotFound
				}
				previous = order.Status

				settled, err := e.settleRefund(ctx, tx, payment, order, refund, req.Status, req.GatewayRefundID)
				if err != nil {
					return err
				}
				result = settled
				return nil
			})
		})
	})
	if err != nil {
		return Result{}, err
	}

	log.Info("refund settled",
		zap.String("refund_id", result.Refund.ID.String()),
		zap.String("refund_status", string(result.Refund.Status)),
	)
	e.metrics.RecordRefund(ctx, string(payment.Gateway), string(result.Refund.Status))
	e.notify(ctx, ChangeRefund, previous, result)
	return result, nil
}

func (e *Engine) applyRefundEvent(ctx context.Context, tx *gorm.DB, event paymentdomain.VerifiedEvent, payment *paymentdomain.Payment, order *orderdomain.Order) (Result, error) {
	status, _ := event.Outcome.RefundStatus()
	if refund := payment.FindRefundByGatewayID(event.ExternalRefundID); refund != nil {
		return e.settleRefund(ctx, tx, payment, order, refund, status, "")
	}

	// A refund issued outside the storefront, for example from the gateway
	// dashboard. Only successful ones carry money movement worth recording.
	if status != paymentdomain.RefundStatusSucceeded || event.ExternalRefundID == "" {
		return Result{}, paymentdomain.ErrRefundNotFound
	}
	if payment.Status == paymentdomain.StatusRefunded {
		return Result{}, ErrDuplicateEvent
	}
	amount := event.Amount
	if _, err := refundAmount(payment, &amount); err != nil {
		return Result{}, err
	}

	now := e.now()
	gatewayID := event.ExternalRefundID
	refund := paymentdomain.Refund{
		ID:              e.genID.Generate(),
		PaymentID:       payment.ID,
		Amount:          amount,
		Reason:          paymentdomain.DefaultRefundReason,
		Status:          paymentdomain.RefundStatusPending,
		GatewayRefundID: &gatewayID,
		IdempotencyKey:  event.EventID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(refund.IdempotencyKey) > 64 {
		refund.IdempotencyKey = refund.IdempotencyKey[:64]
	}
	if err := e.paymentRepo.InsertRefund(ctx, tx, &refund); err != nil {
		return Result{}, err
	}
	payment.Refunds = append(payment.Refunds, refund)
	return e.settleRefund(ctx, tx, payment, order, payment.FindRefund(refund.ID), status, "")
}

// settleRefund moves a pending refund to status, bumps the payment version
// and drives the payment to refunded once succeeded refunds cover it.
func (e *Engine) settleRefund(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, order *orderdomain.Order, refund *paymentdomain.Refund, status paymentdomain.RefundStatus, gatewayRefundID string) (Result, error) {
	if refund.Status.IsTerminal() {
		if refund.Status == status {
			return Result{}, ErrDuplicateEvent
		}
		return Result{}, paymentdomain.ErrRefundFinalized
	}

	refund.Status = status
	refund.UpdatedAt = e.now()
	if gatewayRefundID = strings.TrimSpace(gatewayRefundID); gatewayRefundID != "" {
		refund.GatewayRefundID = &gatewayRefundID
	}
	ok, err := e.paymentRepo.UpdateRefund(ctx, tx, refund, paymentdomain.RefundStatusPending)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrPersistenceConflict
	}

	fullyRefunded := status == paymentdomain.RefundStatusSucceeded &&
		payment.Status == paymentdomain.StatusSucceeded &&
		payment.RefundedAmount(paymentdomain.RefundStatusSucceeded) >= payment.Amount
	if fullyRefunded {
		payment.Status = paymentdomain.StatusRefunded
	}
	if err := e.writePayment(ctx, tx, payment); err != nil {
		return Result{}, err
	}

	result := Result{Payment: payment, Order: order, Refund: refund}
	if !fullyRefunded {
		return result, nil
	}
	previous := order.Status
	note, _ := e.applyPaymentToOrder(order, payment)
	entry, err := e.writeOrder(ctx, tx, order, previous, note)
	if err != nil {
		return Result{}, err
	}
	result.Entry = entry
	return result, nil
}

// refundAmount resolves the requested amount against what is still open.
func refundAmount(payment *paymentdomain.Payment, requested *int64) (int64, error) {
	if payment == nil {
		return 0, paymentdomain.ErrPaymentNotFound
	}
	if payment.Status != paymentdomain.StatusSucceeded {
		return 0, paymentdomain.ErrPaymentNotRefundable
	}
	available := payment.Refundable()
	amount := available
	if requested != nil {
		amount = *requested
	}
	if amount <= 0 {
		if requested != nil {
			return 0, paymentdomain.ErrInvalidAmount
		}
		return 0, paymentdomain.ErrRefundAmountExceedsAvailable
	}
	if amount > available {
		return 0, paymentdomain.ErrRefundAmountExceedsAvailable
	}
	return amount, nil
}

func (e *Engine) paymentLogger(ctx context.Context, payment *paymentdomain.Payment) *zap.Logger {
	return logger.WithPayment(logger.WithContext(ctx, e.log), string(payment.Gateway), payment.ExternalPaymentID).
		With(zap.String("payment_id", payment.ID.String()))
}
