package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatch struct {
	calls  int
	amount int64
	result *paymentdomain.GatewayRefund
	err    error
}

func (s *stubDispatch) dispatch(_ context.Context, _ *paymentdomain.Payment, amount int64, _ string) (*paymentdomain.GatewayRefund, error) {
	s.calls++
	s.amount = amount
	return s.result, s.err
}

func (h *harness) paidPayment(total int64, gateway paymentdomain.Gateway, externalID string) (*orderdomain.Order, *paymentdomain.Payment) {
	h.t.Helper()
	order := h.order(total, orderdomain.StatusPending)
	payment := h.payment(order, gateway, externalID, paymentdomain.StatusPending)
	_, err := h.engine.ApplyEvent(context.Background(), succeeded(gateway, "evt_paid_"+externalID, externalID, total))
	require.NoError(h.t, err)
	return order, h.reloadPayment(payment.ID)
}

func (h *harness) refund(payment *paymentdomain.Payment, amount int64, status paymentdomain.RefundStatus) {
	h.t.Helper()
	now := h.clock.Now()
	require.NoError(h.t, h.payments.InsertRefund(context.Background(), h.db, &paymentdomain.Refund{
		ID:             h.node.Generate(),
		PaymentID:      payment.ID,
		Amount:         amount,
		Reason:         paymentdomain.DefaultRefundReason,
		Status:         status,
		IdempotencyKey: "seed",
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func int64Ptr(v int64) *int64 { return &v }

func TestRefundBeyondAvailableIsRejectedBeforeGateway(t *testing.T) {
	h := newHarness(t)
	_, payment := h.paidPayment(1000, paymentdomain.GatewayStripe, "pi_refund")
	h.refund(payment, 700, paymentdomain.RefundStatusSucceeded)

	stub := &stubDispatch{result: &paymentdomain.GatewayRefund{GatewayRefundID: "re_1", Status: paymentdomain.RefundStatusPending}}
	_, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID, Amount: int64Ptr(400)}, stub.dispatch)
	assert.ErrorIs(t, err, paymentdomain.ErrRefundAmountExceedsAvailable)
	assert.Zero(t, stub.calls)

	stored := h.reloadPayment(payment.ID)
	assert.Len(t, stored.Refunds, 1)
	assert.Equal(t, int64(700), stored.RefundedAmount(paymentdomain.RefundStatusSucceeded))
}

func TestRefundDefaultsToRemainingAmount(t *testing.T) {
	h := newHarness(t)
	_, payment := h.paidPayment(1000, paymentdomain.GatewayStripe, "pi_rest")
	h.refund(payment, 700, paymentdomain.RefundStatusSucceeded)

	stub := &stubDispatch{result: &paymentdomain.GatewayRefund{GatewayRefundID: "re_2", Status: paymentdomain.RefundStatusPending}}
	result, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID, IdempotencyKey: "idem-1"}, stub.dispatch)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, int64(300), stub.amount)
	require.NotNil(t, result.Refund)
	assert.Equal(t, paymentdomain.RefundStatusPending, result.Refund.Status)
	assert.Equal(t, paymentdomain.DefaultRefundReason, result.Refund.Reason)
	require.NotNil(t, result.Refund.GatewayRefundID)
	assert.Equal(t, "re_2", *result.Refund.GatewayRefundID)

	// The pending refund reserves the remaining balance.
	_, err = h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID, Amount: int64Ptr(1)}, stub.dispatch)
	assert.ErrorIs(t, err, paymentdomain.ErrRefundAmountExceedsAvailable)

	stored := h.reloadPayment(payment.ID)
	assert.Equal(t, paymentdomain.StatusSucceeded, stored.Status)
	assert.Equal(t, int64(0), stored.Refundable())
}

func TestConcurrentRefundsNeverExceedPaidAmount(t *testing.T) {
	h := newHarness(t)
	_, payment := h.paidPayment(1000, paymentdomain.GatewayStripe, "pi_race")

	var dispatched atomic.Int32
	dispatch := func(context.Context, *paymentdomain.Payment, int64, string) (*paymentdomain.GatewayRefund, error) {
		n := dispatched.Add(1)
		return &paymentdomain.GatewayRefund{GatewayRefundID: fmt.Sprintf("re_race_%d", n), Status: paymentdomain.RefundStatusPending}, nil
	}

	const attempts = 8
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		rejected atomic.Int32
		unknown  = make(chan error, attempts)
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID, Amount: int64Ptr(600)}, dispatch)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, paymentdomain.ErrRefundAmountExceedsAvailable):
				rejected.Add(1)
			default:
				unknown <- err
			}
		}()
	}
	wg.Wait()
	close(unknown)
	for err := range unknown {
		t.Errorf("unexpected refund error: %v", err)
	}

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())
	assert.Equal(t, int32(1), dispatched.Load())

	stored := h.reloadPayment(payment.ID)
	assert.Len(t, stored.Refunds, 1)
	assert.Equal(t, int64(600), stored.RefundedAmount(paymentdomain.RefundStatusPending))
	assert.Equal(t, int64(400), stored.Refundable())
}

func TestTerminalGatewayRefundIsAppliedImmediately(t *testing.T) {
	h := newHarness(t)
	order, payment := h.paidPayment(1000, paymentdomain.GatewayRazorpay, "order_full")

	stub := &stubDispatch{result: &paymentdomain.GatewayRefund{GatewayRefundID: "rfnd_full", Status: paymentdomain.RefundStatusSucceeded}}
	result, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID}, stub.dispatch)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusSucceeded, result.Refund.Status)
	assert.Equal(t, paymentdomain.StatusRefunded, result.Payment.Status)

	updated := h.reloadOrder(order.ID)
	assert.Equal(t, orderdomain.StatusCancelled, updated.Status)
	assert.Equal(t, orderdomain.PaymentStatusRefunded, updated.PaymentStatus)

	// The gateway's own webhook for the same refund is a duplicate.
	_, err = h.engine.ApplyEvent(context.Background(), paymentdomain.VerifiedEvent{
		Gateway:           paymentdomain.GatewayRazorpay,
		EventID:           "refund.processed:rfnd_full",
		ExternalPaymentID: "order_full",
		ExternalRefundID:  "rfnd_full",
		Amount:            1000,
		Outcome:           paymentdomain.OutcomeRefundSucceeded,
	})
	assert.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestRefundOfDeliveredOrderReturnsIt(t *testing.T) {
	h := newHarness(t)
	order, payment := h.paidPayment(1000, paymentdomain.GatewayStripe, "pi_delivered")
	require.NoError(t, h.db.Exec(`UPDATE orders SET status = ? WHERE id = ?`, orderdomain.StatusDelivered, order.ID).Error)

	stub := &stubDispatch{result: &paymentdomain.GatewayRefund{GatewayRefundID: "re_d", Status: paymentdomain.RefundStatusSucceeded}}
	_, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID}, stub.dispatch)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusReturned, h.reloadOrder(order.ID).Status)
}

func TestRefundRequiresSucceededPayment(t *testing.T) {
	h := newHarness(t)
	order := h.order(1000, orderdomain.StatusPending)
	payment := h.payment(order, paymentdomain.GatewayStripe, "pi_unpaid", paymentdomain.StatusPending)

	stub := &stubDispatch{}
	_, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID}, stub.dispatch)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotRefundable)
	assert.Zero(t, stub.calls)

	_, err = h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: h.node.Generate()}, stub.dispatch)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)

	_, err = h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID, Amount: int64Ptr(0)}, stub.dispatch)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
}

func TestGatewayFailureRecordsNothing(t *testing.T) {
	h := newHarness(t)
	_, payment := h.paidPayment(1000, paymentdomain.GatewayStripe, "pi_down")

	stub := &stubDispatch{err: paymentdomain.ErrGatewayUnavailable}
	_, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID}, stub.dispatch)
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)
	assert.Empty(t, h.reloadPayment(payment.ID).Refunds)
}

func TestManualRefundResolution(t *testing.T) {
	h := newHarness(t)
	order, payment := h.paidPayment(5000, paymentdomain.GatewayPayU, "T999")

	stub := &stubDispatch{err: paymentdomain.ErrRefundNotSupported}
	recorded, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID, Amount: int64Ptr(2000)}, stub.dispatch)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusPending, recorded.Refund.Status)
	assert.Nil(t, recorded.Refund.GatewayRefundID)

	_, err = h.engine.ApplyRefundOutcome(context.Background(), RefundOutcome{
		PaymentID: payment.ID,
		RefundID:  recorded.Refund.ID,
		Status:    paymentdomain.RefundStatusPending,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRefundStatus)

	settled, err := h.engine.ApplyRefundOutcome(context.Background(), RefundOutcome{
		PaymentID:       payment.ID,
		RefundID:        recorded.Refund.ID,
		Status:          paymentdomain.RefundStatusSucceeded,
		GatewayRefundID: "PAYU-REF-1",
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusSucceeded, settled.Refund.Status)
	require.NotNil(t, settled.Refund.GatewayRefundID)
	assert.Equal(t, "PAYU-REF-1", *settled.Refund.GatewayRefundID)
	// Partial refund leaves the payment and order untouched.
	assert.Equal(t, paymentdomain.StatusSucceeded, settled.Payment.Status)
	assert.Equal(t, orderdomain.StatusConfirmed, h.reloadOrder(order.ID).Status)

	_, err = h.engine.ApplyRefundOutcome(context.Background(), RefundOutcome{
		PaymentID: payment.ID,
		RefundID:  recorded.Refund.ID,
		Status:    paymentdomain.RefundStatusSucceeded,
	})
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	_, err = h.engine.ApplyRefundOutcome(context.Background(), RefundOutcome{
		PaymentID: payment.ID,
		RefundID:  recorded.Refund.ID,
		Status:    paymentdomain.RefundStatusFailed,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundFinalized)

	_, err = h.engine.ApplyRefundOutcome(context.Background(), RefundOutcome{
		PaymentID: payment.ID,
		RefundID:  snowflake.ID(42),
		Status:    paymentdomain.RefundStatusFailed,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundNotFound)
}

func TestFailedRefundReleasesReservation(t *testing.T) {
	h := newHarness(t)
	_, payment := h.paidPayment(1000, paymentdomain.GatewayStripe, "pi_release")

	stub := &stubDispatch{result: &paymentdomain.GatewayRefund{GatewayRefundID: "re_f", Status: paymentdomain.RefundStatusPending}}
	recorded, err := h.engine.RecordRefund(context.Background(), RefundRecord{PaymentID: payment.ID}, stub.dispatch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), recorded.Payment.Refundable())

	_, err = h.engine.ApplyEvent(context.Background(), paymentdomain.VerifiedEvent{
		Gateway:           paymentdomain.GatewayStripe,
		EventID:           "evt_refund_failed",
		ExternalPaymentID: "pi_release",
		ExternalRefundID:  "re_f",
		Outcome:           paymentdomain.OutcomeRefundFailed,
	})
	require.NoError(t, err)

	stored := h.reloadPayment(payment.ID)
	assert.Equal(t, int64(1000), stored.Refundable())
	assert.Equal(t, paymentdomain.RefundStatusFailed, stored.Refunds[0].Status)
}
