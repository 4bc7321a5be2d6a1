package guard

import (
	"errors"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

var (
	ErrPaymentSettled     = errors.New("payment_already_settled")
	ErrPaymentTooRecent   = errors.New("payment_too_recent")
	ErrRefundSettled      = errors.New("refund_already_settled")
	ErrRefundNotSubmitted = errors.New("refund_not_submitted")
)

// EnsurePaymentCanSync rejects payments that settled or moved since they
// were listed.
func EnsurePaymentCanSync(status paymentdomain.Status, updatedAt, cutoff time.Time) error {
	if status != paymentdomain.StatusPending && status != paymentdomain.StatusProcessing {
		return ErrPaymentSettled
	}
	if !updatedAt.Before(cutoff) {
		return ErrPaymentTooRecent
	}
	return nil
}

// EnsureRefundCanSync rejects refunds the gateway never saw. Manual refunds
// are resolved by an admin.
func EnsureRefundCanSync(status paymentdomain.RefundStatus, gatewayRefundID *string) error {
	if status != paymentdomain.RefundStatusPending {
		return ErrRefundSettled
	}
	if gatewayRefundID == nil || strings.TrimSpace(*gatewayRefundID) == "" {
		return ErrRefundNotSubmitted
	}
	return nil
}
