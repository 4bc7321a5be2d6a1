package notification

import (
	"context"
	"strings"

	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/providers/email"
	"github.com/smallbiznis/storefront/internal/reconcile"
)

// Mailer tells the customer about status moves, settled payments and
// settled refunds.
type Mailer struct {
	email email.Provider
}

func NewMailer(provider email.Provider) *Mailer {
	return &Mailer{email: provider}
}

func (m *Mailer) Send(ctx context.Context, change reconcile.Change) error {
	order := change.Order
	if m == nil || m.email == nil || order == nil {
		return nil
	}
	shipping := order.ShippingAddress.Data()
	to := strings.TrimSpace(shipping.Email)
	if to == "" {
		return nil
	}
	money := func(minor int64) string { return orderdomain.FormatMoney(order.Currency, minor) }
	data := map[string]any{
		"name":         shipping.FirstName,
		"order_number": order.OrderNumber,
	}

	switch {
	case change.Kind == reconcile.ChangeRefund:
		refund := change.Refund
		if refund == nil || !refund.Status.IsTerminal() {
			return nil
		}
		data["status"] = string(refund.Status)
		data["amount"] = money(refund.Amount)
		return m.email.SendTemplate(ctx, []string{to}, email.TemplateRefundUpdate, data)

	case change.Kind == reconcile.ChangePayment && change.StatusChanged() &&
		change.Payment != nil && change.Payment.Status == paymentdomain.StatusSucceeded:
		data["amount"] = money(change.Payment.Amount)
		data["gateway"] = string(change.Payment.Gateway)
		if change.Payment.ReceiptURL != nil {
			data["receipt_url"] = *change.Payment.ReceiptURL
		}
		return m.email.SendTemplate(ctx, []string{to}, email.TemplatePaymentReceived, data)

	case change.StatusChanged():
		tracking := order.Tracking.Data()
		data["status"] = string(order.Status)
		data["total"] = money(order.Total)
		data["carrier"] = tracking.Carrier
		data["tracking_number"] = tracking.TrackingNumber
		data["tracking_url"] = tracking.TrackingURL
		if change.Entry != nil {
			data["note"] = change.Entry.Note
		}
		return m.email.SendTemplate(ctx, []string{to}, email.TemplateOrderStatus, data)
	}
	return nil
}
