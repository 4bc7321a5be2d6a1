package domain

import "errors"

var (
	ErrInvalidSignature             = errors.New("invalid_signature")
	ErrInvalidPayload               = errors.New("invalid_payload")
	ErrInvalidEvent                 = errors.New("invalid_event")
	ErrEventIgnored                 = errors.New("event_ignored")
	ErrInvalidGateway               = errors.New("invalid_gateway")
	ErrGatewayNotConfigured         = errors.New("gateway_not_configured")
	ErrGatewayUnavailable           = errors.New("gateway_unavailable")
	ErrGatewayRejected              = errors.New("gateway_rejected")
	ErrRefundNotSupported           = errors.New("refund_not_supported")
	ErrPaymentNotFound              = errors.New("payment_not_found")
	ErrPaymentNotRefundable         = errors.New("payment_not_refundable")
	ErrRefundAmountExceedsAvailable = errors.New("refund_amount_exceeds_available")
	ErrRefundNotFound               = errors.New("refund_not_found")
	ErrRefundFinalized              = errors.New("refund_finalized")
	ErrInvalidAmount                = errors.New("invalid_amount")
	ErrInvalidCurrency              = errors.New("invalid_currency")
	ErrAmountMismatch               = errors.New("amount_mismatch")
	ErrInvalidTimeRange             = errors.New("invalid_time_range")
	ErrInvalidRefundStatus          = errors.New("invalid_refund_status")
	ErrReceiptUnavailable           = errors.New("receipt_unavailable")
	ErrRateLimited                  = errors.New("rate_limited")
)
