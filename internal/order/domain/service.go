package domain

import (
	"context"

	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

type CreateOrderRequest struct {
	Items           []LineItem `json:"items"`
	ShippingAddress Address    `json:"shipping_address"`
	BillingAddress  *Address   `json:"billing_address"`
	Notes           string     `json:"notes"`
	Currency        string     `json:"currency"`
}

type ListOrderRequest struct {
	pagination.Pagination
	Status string `form:"status"`
	Search string `form:"search"`
}

type ListOrderResponse struct {
	pagination.PageInfo
	Orders       []Order          `json:"orders"`
	StatusCounts map[Status]int64 `json:"status_counts,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status         Status `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	AdminNotes     string `json:"admin_notes"`
}

type UpdateTrackingRequest struct {
	Tracking
}

type Service interface {
	Create(ctx context.Context, caller identity.Caller, req CreateOrderRequest) (*Order, error)
	Get(ctx context.Context, caller identity.Caller, id string) (*Order, error)
	List(ctx context.Context, caller identity.Caller, req ListOrderRequest) (ListOrderResponse, error)
	ListAll(ctx context.Context, caller identity.Caller, req ListOrderRequest) (ListOrderResponse, error)
	Cancel(ctx context.Context, caller identity.Caller, id string, req CancelOrderRequest) (*Order, error)
	UpdateStatus(ctx context.Context, caller identity.Caller, id string, req UpdateStatusRequest) (*Order, error)
	UpdateTracking(ctx context.Context, caller identity.Caller, id string, req UpdateTrackingRequest) (*Order, error)
}
