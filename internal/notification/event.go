package notification

import (
	"time"

	"github.com/smallbiznis/storefront/internal/reconcile"
)

// Event names on the admin live feed.
const (
	EventOrderUpdated   = "order-updated"
	EventPaymentUpdated = "payment-updated"
)

// Event is the wire form of a committed change, shared by the live feed and
// the Kafka topic.
type Event struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"order_id,omitempty"`
	OrderNumber    string    `json:"order_number,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	PaymentStatus  string    `json:"payment_status,omitempty"`
	Note           string    `json:"note,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Gateway        string    `json:"gateway,omitempty"`
	PaymentState   string    `json:"payment_state,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	RefundID       string    `json:"refund_id,omitempty"`
	RefundStatus   string    `json:"refund_status,omitempty"`
	RefundAmount   int64     `json:"refund_amount,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func EventFromChange(change reconcile.Change) Event {
	event := Event{
		Type:       EventOrderUpdated,
		OccurredAt: change.OccurredAt.UTC(),
	}
	if change.Kind != reconcile.ChangeOrder {
		event.Type = EventPaymentUpdated
	}
	if order := change.Order; order != nil {
		event.OrderID = order.ID.String()
		event.OrderNumber = order.OrderNumber
		event.UserID = order.UserID
		event.Status = string(order.Status)
		event.PaymentStatus = string(order.PaymentStatus)
		if change.PreviousStatus != order.Status {
			event.PreviousStatus = string(change.PreviousStatus)
		}
	}
	if change.Entry != nil {
		event.Note = change.Entry.Note
	}
	if payment := change.Payment; payment != nil {
		event.PaymentID = payment.ID.String()
		event.Gateway = string(payment.Gateway)
		event.PaymentState = string(payment.Status)
		event.Amount = payment.Amount
		event.Currency = payment.Currency
	}
	if refund := change.Refund; refund != nil {
		event.RefundID = refund.ID.String()
		event.RefundStatus = string(refund.Status)
		event.RefundAmount = refund.Amount
	}
	return event
}

// Key partitions events by order so a consumer sees one order's history in
// commit order.
func (e Event) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.PaymentID
}
