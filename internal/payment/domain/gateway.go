package domain

import (
	"context"
	"net/http"
)

// Verifier authenticates an inbound gateway request. It has no side effects.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) (*VerifiedEvent, error)
}

type Customer struct {
	UserID    string
	Email     string
	FirstName string
	Phone     string
}

type IntentRequest struct {
	// Reference is the storefront payment id, used where the gateway
	// expects the merchant to name the transaction.
	Reference   string
	OrderID     string
	OrderNumber string
	Amount      int64
	Currency    string
	Method      Method
	Customer    Customer
	Metadata    map[string]string
}

type Intent struct {
	ExternalPaymentID string
	ExternalOrderID   string
	ClientSecret      string
	Status            Status
	// Fields is the form a client posts to a redirect-style gateway.
	Fields     map[string]string
	PaymentURL string
	PublicKey  string
}

type RefundRequest struct {
	Payment        *Payment
	Amount         int64
	Reason         string
	IdempotencyKey string
}

type GatewayRefund struct {
	GatewayRefundID string
	Status          RefundStatus
}

// Client is a configured gateway: it verifies inbound events and makes the
// outbound calls. Every call is bounded by the client's timeout; transport
// failures, timeouts and 5xx answers surface as ErrGatewayUnavailable.
type Client interface {
	Verifier
	Name() Gateway
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// FetchPayment asks the gateway for the current state of a payment.
	// It returns ErrEventIgnored when the gateway reports nothing new.
	FetchPayment(ctx context.Context, payment *Payment) (*VerifiedEvent, error)
	// CreateRefund returns ErrRefundNotSupported for gateways whose refunds
	// are reconciled by hand.
	CreateRefund(ctx context.Context, req RefundRequest) (*GatewayRefund, error)
	FetchRefund(ctx context.Context, payment *Payment, refund *Refund) (*GatewayRefund, error)
}
