package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApplyEvent records a verified gateway event and applies it to the payment
// and its order in one transaction. Duplicate, out-of-order and already-paid
// events are recorded with their result and returned as errors the caller
// acknowledges.
func (e *Engine) ApplyEvent(ctx context.Context, event paymentdomain.VerifiedEvent) (Result, error) {
	if err := event.Validate(); err != nil {
		return Result{}, err
	}

	externalID, err := e.resolveExternalID(ctx, event)
	if err != nil {
		return Result{}, err
	}
	event.ExternalPaymentID = externalID
	log := e.eventLogger(ctx, event)

	var (
		result   Result
		previous orderdomain.Status
		kind     = ChangePayment
	)
	if event.Outcome.IsRefund() {
		kind = ChangeRefund
	}

	err = e.withLock(ctx, paymentLockKey(event.Gateway, externalID), func() error {
		record, err := e.recordEvent(ctx, event)
		if err != nil {
			return err
		}

		applyErr := e.withRetry(ctx, func() error {
			var txErr error
			result, previous, txErr = e.applyOnce(ctx, event, record)
			return txErr
		})
		if applyErr == nil {
			return nil
		}

		outcome, permanent := eventResultFor(applyErr)
		if !permanent {
			return applyErr
		}
		result.Outcome = outcome
		if err := e.paymentRepo.MarkEventProcessed(ctx, e.db, record.ID, outcome, e.now()); err != nil {
			log.Warn("mark event processed failed", zap.Error(err))
		}
		return applyErr
	})

	if errors.Is(err, ErrDuplicateEvent) && result.Outcome == "" {
		result.Outcome = paymentdomain.EventResultDuplicate
	}
	resultLabel := string(result.Outcome)
	if resultLabel == "" {
		resultLabel = "error"
	}
	e.metrics.RecordPaymentEvent(ctx, string(event.Gateway), string(event.Outcome), resultLabel)

	switch {
	case err == nil:
		log.Info("event applied",
			zap.String("payment_status", string(result.Payment.Status)),
			zap.String("order_status", string(result.Order.Status)),
		)
		if kind == ChangeRefund && result.Refund != nil {
			e.metrics.RecordRefund(ctx, string(event.Gateway), string(result.Refund.Status))
		}
		e.notify(ctx, kind, previous, result)
		return result, nil
	case errors.Is(err, ErrDuplicateEvent):
		log.Info("duplicate event acknowledged")
	case errors.Is(err, ErrOutOfOrderEvent):
		log.Warn("out of order event acknowledged")
	case errors.Is(err, ErrOrderAlreadyPaid):
		log.Error("second successful payment for a paid order, manual refund required")
		e.auditDuplicatePayment(ctx, event)
	case errors.Is(err, ErrCapturedAfterFailure):
		log.Error("capture received for a failed payment, manual reconciliation required",
			zap.String("transaction_id", event.TransactionID),
			zap.Int64("event_amount", event.Amount),
		)
		e.auditCapturedAfterFailure(ctx, event)
		e.alertCapturedAfterFailure(ctx, event)
	case errors.Is(err, paymentdomain.ErrAmountMismatch):
		log.Error("event amount does not match payment", zap.Int64("event_amount", event.Amount))
	default:
		log.Warn("event not applied", zap.Error(err))
	}
	return result, err
}

// resolveExternalID finds the payment key for events that only carry the
// settled transaction id.
func (e *Engine) resolveExternalID(ctx context.Context, event paymentdomain.VerifiedEvent) (string, error) {
	if event.ExternalPaymentID != "" {
		return event.ExternalPaymentID, nil
	}
	payment, err := e.paymentRepo.FindByTransactionID(ctx, e.db, event.Gateway, event.TransactionID, false)
	if err != nil {
		return "", err
	}
	if payment == nil {
		return "", paymentdomain.ErrPaymentNotFound
	}
	return payment.ExternalPaymentID, nil
}

// recordEvent writes the event log row. A row that was already processed is
// a redelivery; an unprocessed row is a retry after a failed attempt.
func (e *Engine) recordEvent(ctx context.Context, event paymentdomain.VerifiedEvent) (*paymentdomain.EventRecord, error) {
	record := &paymentdomain.EventRecord{
		ID:                e.genID.Generate(),
		Gateway:           event.Gateway,
		EventID:           event.EventID,
		Outcome:           event.Outcome,
		ExternalPaymentID: event.ExternalPaymentID,
		Payload:           eventPayload(event.RawPayload),
		ReceivedAt:        e.now(),
	}
	inserted, err := e.paymentRepo.InsertEvent(ctx, e.db, record)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	if inserted {
		return record, nil
	}

	existing, err := e.paymentRepo.FindEvent(ctx, e.db, event.Gateway, event.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("event %s vanished after conflict", event.EventID)
	}
	if existing.ProcessedAt != nil {
		return nil, ErrDuplicateEvent
	}
	return existing, nil
}

func (e *Engine) applyOnce(ctx context.Context, event paymentdomain.VerifiedEvent, record *paymentdomain.EventRecord) (Result, orderdomain.Status, error) {
	var (
		result   Result
		previous orderdomain.Status
	)
	err := e.transaction(ctx, func(tx *gorm.DB) error {
		payment, err := e.paymentRepo.FindByExternalID(ctx, tx, event.Gateway, event.ExternalPaymentID, true)
		if err != nil {
			return err
		}
		if payment == nil && event.TransactionID != "" {
			payment, err = e.paymentRepo.FindByTransactionID(ctx, tx, event.Gateway, event.TransactionID, true)
			if err != nil {
				return err
			}
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		order, err := e.orderRepo.FindByID(ctx, tx, payment.OrderID, true)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		previous = order.Status

		if event.Outcome.IsRefund() {
			result, err = e.applyRefundEvent(ctx, tx, event, payment, order)
		} else {
			result, err = e.applyPaymentEvent(ctx, tx, event, payment, order)
		}
		if err != nil {
			return err
		}

		result.Outcome = paymentdomain.EventResultApplied
		return e.paymentRepo.MarkEventProcessed(ctx, tx, record.ID, paymentdomain.EventResultApplied, e.now())
	})
	return result, previous, err
}

func (e *Engine) applyPaymentEvent(ctx context.Context, tx *gorm.DB, event paymentdomain.VerifiedEvent, payment *paymentdomain.Payment, order *orderdomain.Order) (Result, error) {
	target, _ := event.Outcome.PaymentStatus()
	if payment.Status == paymentdomain.StatusFailed && target == paymentdomain.StatusSucceeded {
		return Result{}, ErrCapturedAfterFailure
	}
	switch paymentdomain.Decide(payment.Status, target) {
	case paymentdomain.DecisionDuplicate:
		return Result{}, ErrDuplicateEvent
	case paymentdomain.DecisionOutOfOrder:
		return Result{}, ErrOutOfOrderEvent
	}

	if target == paymentdomain.StatusSucceeded {
		if err := checkAmount(event, payment); err != nil {
			return Result{}, err
		}
		paid, err := e.paymentRepo.FindSucceededByOrder(ctx, tx, order.ID)
		if err != nil {
			return Result{}, err
		}
		if paid != nil && paid.ID != payment.ID {
			return Result{}, ErrOrderAlreadyPaid
		}
	}

	payment.Status = target
	if event.TransactionID != "" {
		txn := event.TransactionID
		payment.GatewayTransactionID = &txn
	}
	if event.PaymentMethod != "" {
		payment.PaymentMethod = event.PaymentMethod
	}
	if payment.ExternalOrderID == "" && event.ExternalOrderID != "" {
		payment.ExternalOrderID = event.ExternalOrderID
	}
	if event.ReceiptURL != "" {
		url := event.ReceiptURL
		payment.ReceiptURL = &url
	}
	if target == paymentdomain.StatusFailed {
		reason := strings.TrimSpace(event.FailureReason)
		if reason == "" {
			reason = "Payment failed"
		}
		payment.FailureReason = &reason
	}
	if err := e.writePayment(ctx, tx, payment); err != nil {
		return Result{}, err
	}

	previous := order.Status
	note, changed := e.applyPaymentToOrder(order, payment)
	result := Result{Payment: payment, Order: order}
	if !changed {
		return result, nil
	}
	entry, err := e.writeOrder(ctx, tx, order, previous, note)
	if err != nil {
		return Result{}, err
	}
	result.Entry = entry
	return result, nil
}

// applyPaymentToOrder mirrors a payment status onto its order. It returns the
// timeline note for a status move and whether anything changed.
func (e *Engine) applyPaymentToOrder(order *orderdomain.Order, payment *paymentdomain.Payment) (string, bool) {
	now := e.now()
	switch payment.Status {
	case paymentdomain.StatusSucceeded:
		order.PaymentStatus = orderdomain.PaymentStatusCompleted
		order.PaidAt = &now
		order.PaymentMethod = string(payment.Gateway)
		txn := payment.ExternalPaymentID
		if payment.GatewayTransactionID != nil && *payment.GatewayTransactionID != "" {
			txn = *payment.GatewayTransactionID
		}
		order.PaymentTransactionID = &txn
		switch order.Status {
		case orderdomain.StatusPending, orderdomain.StatusPaymentFailed:
			order.Status = orderdomain.StatusConfirmed
		case orderdomain.StatusCancelled:
			e.log.Warn("payment succeeded for a cancelled order",
				zap.String("order_id", order.ID.String()),
				zap.String("payment_id", payment.ID.String()),
			)
		}
		return "Payment received via " + string(payment.Gateway), true

	case paymentdomain.StatusFailed:
		if order.PaymentStatus == orderdomain.PaymentStatusCompleted {
			return "", false
		}
		order.PaymentStatus = orderdomain.PaymentStatusFailed
		if order.Status == orderdomain.StatusPending || order.Status == orderdomain.StatusConfirmed {
			order.Status = orderdomain.StatusPaymentFailed
		}
		note := "Payment failed"
		if payment.FailureReason != nil && *payment.FailureReason != "" && *payment.FailureReason != note {
			note += ": " + *payment.FailureReason
		}
		return note, true

	case paymentdomain.StatusCanceled:
		if order.PaymentStatus == orderdomain.PaymentStatusCompleted {
			return "", false
		}
		order.PaymentStatus = orderdomain.PaymentStatusCancelled
		return "", true

	case paymentdomain.StatusRefunded:
		order.PaymentStatus = orderdomain.PaymentStatusRefunded
		order.RefundedAt = &now
		if order.Status == orderdomain.StatusDelivered {
			order.Status = orderdomain.StatusReturned
		} else {
			order.Status = orderdomain.StatusCancelled
		}
		return "Payment refunded", true
	}
	return "", false
}

func checkAmount(event paymentdomain.VerifiedEvent, payment *paymentdomain.Payment) error {
	if event.Amount > 0 && event.Amount != payment.Amount {
		return paymentdomain.ErrAmountMismatch
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, payment.Currency) {
		return paymentdomain.ErrAmountMismatch
	}
	return nil
}

// eventResultFor maps an apply error to the result recorded on the event.
// Errors without a result leave the event unprocessed for redelivery.
func eventResultFor(err error) (paymentdomain.EventResult, bool) {
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		return paymentdomain.EventResultDuplicate, true
	case errors.Is(err, ErrOutOfOrderEvent):
		return paymentdomain.EventResultOutOfOrder, true
	case errors.Is(err, ErrOrderAlreadyPaid),
		errors.Is(err, ErrCapturedAfterFailure),
		errors.Is(err, paymentdomain.ErrAmountMismatch),
		errors.Is(err, paymentdomain.ErrRefundFinalized),
		errors.Is(err, paymentdomain.ErrRefundAmountExceedsAvailable),
		errors.Is(err, paymentdomain.ErrPaymentNotRefundable),
		errors.Is(err, paymentdomain.ErrRefundNotFound),
		errors.Is(err, paymentdomain.ErrInvalidAmount):
		return paymentdomain.EventResultRejected, true
	}
	return "", false
}

func eventPayload(raw []byte) datatypes.JSON {
	if len(raw) > 0 && json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(wrapped)
}

func (e *Engine) auditDuplicatePayment(ctx context.Context, event paymentdomain.VerifiedEvent) {
	if e.auditSvc == nil {
		return
	}
	target := event.ExternalPaymentID
	_ = e.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeGateway), nil, auditdomain.ActionDuplicatePayment, "payment", &target, map[string]any{
		"gateway":        string(event.Gateway),
		"event_id":       event.EventID,
		"transaction_id": event.TransactionID,
		"amount":         event.Amount,
	})
}

func (e *Engine) auditCapturedAfterFailure(ctx context.Context, event paymentdomain.VerifiedEvent) {
	if e.auditSvc == nil {
		return
	}
	target := event.ExternalPaymentID
	if err := e.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeGateway), nil, auditdomain.ActionCapturedAfterFailure, "payment", &target, map[string]any{
		"gateway":        string(event.Gateway),
		"event_id":       event.EventID,
		"transaction_id": event.TransactionID,
		"amount":         event.Amount,
		"currency":       event.Currency,
	}); err != nil {
		e.log.Warn("failed to write capture audit log", zap.Error(err))
	}
}

func (e *Engine) alertCapturedAfterFailure(ctx context.Context, event paymentdomain.VerifiedEvent) {
	message := fmt.Sprintf(":rotating_light: %s captured %d %s on payment %s after it was marked failed (event %s, transaction %s). Reconcile the order manually.",
		event.Gateway, event.Amount, strings.ToUpper(event.Currency), event.ExternalPaymentID, event.EventID, event.TransactionID)
	if err := e.slack.PostMessage(ctx, reconcileChannel, message); err != nil {
		e.log.Warn("failed to post reconciliation alert", zap.Error(err))
	}
}
