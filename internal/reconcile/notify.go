package reconcile

import (
	"context"
	"time"

	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

type ChangeKind string

const (
	ChangeOrder   ChangeKind = "order"
	ChangePayment ChangeKind = "payment"
	ChangeRefund  ChangeKind = "refund"
)

// Change describes committed state. Order and Payment are snapshots owned by
// the receiver.
type Change struct {
	Kind           ChangeKind
	Order          *orderdomain.Order
	Payment        *paymentdomain.Payment
	Refund         *paymentdomain.Refund
	PreviousStatus orderdomain.Status
	Entry          *orderdomain.TimelineEntry
	OccurredAt     time.Time
}

// StatusChanged reports whether the order moved to a new status.
func (c Change) StatusChanged() bool {
	return c.Order != nil && c.Entry != nil && c.PreviousStatus != c.Order.Status
}

// Notifier receives changes after commit. Implementations must not block
// and their failures never affect the committed state.
type Notifier interface {
	Notify(ctx context.Context, change Change)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Change) {}
