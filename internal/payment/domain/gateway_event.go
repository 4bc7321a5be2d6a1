package domain

import (
	"strings"
	"time"
)

// GatewayEvent is a parsed gateway payload. Only the variants below
// implement it.
type GatewayEvent interface {
	gateway() Gateway
}

type StripeEvent struct {
	ID      string
	Type    string
	Created time.Time

	PaymentIntentID  string
	Amount           int64
	AmountReceived   int64
	Currency         string
	PaymentMethod    string
	LastPaymentError string
	LatestChargeID   string
	ReceiptURL       string
	Metadata         map[string]string

	RefundID     string
	RefundStatus string
	RefundAmount int64

	Raw []byte
}

type RazorpayEvent struct {
	ID        string
	Event     string
	Created   time.Time
	OrderID   string
	PaymentID string
	Amount    int64
	Currency  string
	Method    string
	ErrorText string

	RefundID     string
	RefundAmount int64

	Raw []byte
}

// RazorpayCallback is the checkout handler callback, signed over
// order_id|payment_id. It only ever reports a successful capture.
const RazorpayCallback = "checkout.callback"

type PayUEvent struct {
	TxnID        string
	MihPayID     string
	Status       string
	Amount       int64
	Mode         string
	ErrorMessage string
	ProductInfo  string
	Received     time.Time

	Raw []byte
}

func (StripeEvent) gateway() Gateway   { return GatewayStripe }
func (RazorpayEvent) gateway() Gateway { return GatewayRazorpay }
func (PayUEvent) gateway() Gateway     { return GatewayPayU }

const defaultFailureReason = "Payment failed"

// Normalize maps a gateway variant onto the canonical event.
// ErrEventIgnored is returned for event types that carry no state change.
func Normalize(event GatewayEvent) (VerifiedEvent, error) {
	switch ev := event.(type) {
	case StripeEvent:
		return normalizeStripe(ev)
	case *StripeEvent:
		return normalizeStripe(*ev)
	case RazorpayEvent:
		return normalizeRazorpay(ev)
	case *RazorpayEvent:
		return normalizeRazorpay(*ev)
	case PayUEvent:
		return normalizePayU(ev)
	case *PayUEvent:
		return normalizePayU(*ev)
	}
	return VerifiedEvent{}, ErrInvalidEvent
}

func normalizeStripe(ev StripeEvent) (VerifiedEvent, error) {
	out := VerifiedEvent{
		Gateway:           GatewayStripe,
		EventID:           ev.ID,
		ExternalPaymentID: ev.PaymentIntentID,
		ExternalOrderID:   ev.Metadata["orderId"],
		TransactionID:     ev.LatestChargeID,
		Currency:          strings.ToUpper(ev.Currency),
		PaymentMethod:     ParseMethod(ev.PaymentMethod),
		ReceiptURL:        ev.ReceiptURL,
		OccurredAt:        ev.Created,
		RawPayload:        ev.Raw,
	}
	switch ev.Type {
	case "payment_intent.succeeded":
		out.Outcome = OutcomeSucceeded
		out.Amount = ev.AmountReceived
		if out.Amount <= 0 {
			out.Amount = ev.Amount
		}
	case "payment_intent.processing":
		out.Outcome = OutcomeProcessing
		out.Amount = ev.Amount
	case "payment_intent.payment_failed":
		out.Outcome = OutcomeFailed
		out.Amount = ev.Amount
		out.FailureReason = firstNonEmpty(ev.LastPaymentError, defaultFailureReason)
	case "payment_intent.canceled":
		out.Outcome = OutcomeCanceled
		out.Amount = ev.Amount
	case "refund.created", "refund.updated", "charge.refund.updated", "refund.failed":
		out.ExternalRefundID = ev.RefundID
		out.Amount = ev.RefundAmount
		switch normalize(ev.RefundStatus) {
		case "succeeded":
			out.Outcome = OutcomeRefundSucceeded
		case "failed", "canceled":
			out.Outcome = OutcomeRefundFailed
		default:
			return VerifiedEvent{}, ErrEventIgnored
		}
	default:
		return VerifiedEvent{}, ErrEventIgnored
	}
	return out, nil
}

func normalizeRazorpay(ev RazorpayEvent) (VerifiedEvent, error) {
	out := VerifiedEvent{
		Gateway:           GatewayRazorpay,
		EventID:           ev.ID,
		ExternalPaymentID: ev.OrderID,
		TransactionID:     ev.PaymentID,
		Amount:            ev.Amount,
		Currency:          strings.ToUpper(ev.Currency),
		PaymentMethod:     ParseMethod(ev.Method),
		OccurredAt:        ev.Created,
		RawPayload:        ev.Raw,
	}
	if out.EventID == "" {
		out.EventID = ev.Event + ":" + firstNonEmpty(ev.RefundID, ev.PaymentID, ev.OrderID)
	}
	switch ev.Event {
	case RazorpayCallback:
		out.EventID = "callback:" + ev.PaymentID
		out.Outcome = OutcomeSucceeded
	case "payment.captured", "order.paid":
		out.Outcome = OutcomeSucceeded
	case "payment.authorized":
		out.Outcome = OutcomeProcessing
	case "payment.failed":
		out.Outcome = OutcomeFailed
		out.FailureReason = firstNonEmpty(ev.ErrorText, defaultFailureReason)
	case "refund.processed":
		out.Outcome = OutcomeRefundSucceeded
		out.ExternalRefundID = ev.RefundID
		out.Amount = ev.RefundAmount
	case "refund.failed":
		out.Outcome = OutcomeRefundFailed
		out.ExternalRefundID = ev.RefundID
		out.Amount = ev.RefundAmount
	default:
		return VerifiedEvent{}, ErrEventIgnored
	}
	return out, nil
}

func normalizePayU(ev PayUEvent) (VerifiedEvent, error) {
	status := normalize(ev.Status)
	out := VerifiedEvent{
		Gateway:           GatewayPayU,
		EventID:           ev.TxnID + ":" + status,
		ExternalPaymentID: ev.TxnID,
		TransactionID:     ev.MihPayID,
		Amount:            ev.Amount,
		Currency:          "INR",
		PaymentMethod:     ParseMethod(ev.Mode),
		OccurredAt:        ev.Received,
		RawPayload:        ev.Raw,
	}
	switch status {
	case "success":
		out.Outcome = OutcomeSucceeded
	case "failure", "failed":
		out.Outcome = OutcomeFailed
		out.FailureReason = firstNonEmpty(ev.ErrorMessage, defaultFailureReason)
	case "usercancelled", "cancelled", "canceled", "dropped", "bounced":
		out.Outcome = OutcomeCanceled
	case "pending", "in progress":
		out.Outcome = OutcomeProcessing
	default:
		return VerifiedEvent{}, ErrEventIgnored
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
