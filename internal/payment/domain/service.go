package domain

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type CreateIntentRequest struct {
	OrderID       string            `json:"order_id"`
	Gateway       string            `json:"gateway"`
	Amount        *int64            `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
	Customer      *Customer         `json:"customer"`
}

type CreateIntentResponse struct {
	PaymentID         string            `json:"payment_id"`
	Gateway           Gateway           `json:"gateway"`
	ExternalPaymentID string            `json:"external_payment_id"`
	ClientSecret      string            `json:"client_secret,omitempty"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	PublicKey         string            `json:"public_key,omitempty"`
	PaymentURL        string            `json:"payment_url,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
}

type ListPaymentRequest struct {
	pagination.Pagination
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type AnalyticsRequest struct {
	Start time.Time
	End   time.Time
}

type AnalyticsResponse struct {
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	ByStatus      []StatusSummary `json:"byStatus"`
	TotalPayments int64           `json:"totalPayments"`
	TotalRevenue  int64           `json:"totalRevenue"`
}

type Receipt struct {
	Filename string
	Content  io.Reader
}

type Service interface {
	CreatePaymentIntent(ctx context.Context, caller identity.Caller, req CreateIntentRequest) (*CreateIntentResponse, error)
	// Confirm re-reads the payment from its gateway and reconciles it.
	Confirm(ctx context.Context, caller identity.Caller, paymentID string) (*Payment, error)
	Get(ctx context.Context, caller identity.Caller, paymentID string) (*Payment, error)
	List(ctx context.Context, caller identity.Caller, req ListPaymentRequest) (ListPaymentResponse, error)
	Analytics(ctx context.Context, caller identity.Caller, req AnalyticsRequest) (*AnalyticsResponse, error)
	Receipt(ctx context.Context, caller identity.Caller, paymentID string) (*Receipt, error)
}

type CreateRefundRequest struct {
	PaymentID string
	Amount    *int64
	Reason    string
	Actor     identity.Caller
}

type ResolveRefundRequest struct {
	PaymentID       string
	RefundID        string
	Status          RefundStatus
	GatewayRefundID string
	Actor           identity.Caller
}

type RefundService interface {
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error)
	ResolveRefund(ctx context.Context, req ResolveRefundRequest) (*Refund, error)
}

// WebhookService authenticates and applies one inbound gateway request.
type WebhookService interface {
	Ingest(ctx context.Context, source string, payload []byte, headers http.Header) error
}
