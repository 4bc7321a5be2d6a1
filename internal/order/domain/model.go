package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusConfirmed     Status = "confirmed"
	StatusProcessing    Status = "processing"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
	StatusPaymentFailed Status = "payment_failed"
	StatusReturned      Status = "returned"
)

// PaymentStatus is the order's mirror of its settled payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type LineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

func (i LineItem) Total() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
}

func (a Address) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

type Tracking struct {
	Carrier           string     `json:"carrier,omitempty"`
	TrackingNumber    string     `json:"tracking_number,omitempty"`
	TrackingURL       string     `json:"tracking_url,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
}

func (t Tracking) IsZero() bool {
	return t.Carrier == "" && t.TrackingNumber == "" && t.TrackingURL == "" && t.EstimatedDelivery == nil
}

type Order struct {
	ID                   snowflake.ID                  `json:"id" gorm:"primaryKey"`
	OrderNumber          string                        `json:"order_number" gorm:"type:varchar(32);not null;uniqueIndex"`
	UserID               string                        `json:"user_id" gorm:"type:varchar(128);not null;index"`
	Items                datatypes.JSONSlice[LineItem] `json:"items" gorm:"not null"`
	ShippingAddress      datatypes.JSONType[Address]   `json:"shipping_address" gorm:"not null"`
	BillingAddress       datatypes.JSONType[Address]   `json:"billing_address" gorm:"not null"`
	Notes                string                        `json:"notes,omitempty" gorm:"type:text"`
	Subtotal             int64                         `json:"subtotal" gorm:"not null"`
	ShippingFee          int64                         `json:"shipping_fee" gorm:"not null"`
	Tax                  int64                         `json:"tax" gorm:"not null"`
	Total                int64                         `json:"total" gorm:"not null"`
	Currency             string                        `json:"currency" gorm:"type:varchar(3);not null"`
	Status               Status                        `json:"status" gorm:"type:varchar(32);not null;index"`
	PaymentMethod        string                        `json:"payment_method,omitempty" gorm:"type:varchar(32)"`
	PaymentStatus        PaymentStatus                 `json:"payment_status" gorm:"type:varchar(32);not null"`
	PaymentTransactionID *string                       `json:"payment_transaction_id,omitempty"`
	PaidAt               *time.Time                    `json:"paid_at,omitempty"`
	RefundedAt           *time.Time                    `json:"refunded_at,omitempty"`
	Tracking             datatypes.JSONType[Tracking]  `json:"tracking"`
	CancelReason         *string                       `json:"cancel_reason,omitempty"`
	AdminNotes           *string                       `json:"admin_notes,omitempty"`
	Version              int64                         `json:"version" gorm:"not null;default:1"`
	CreatedAt            time.Time                     `json:"created_at" gorm:"not null;index"`
	UpdatedAt            time.Time                     `json:"updated_at" gorm:"not null"`

	Timeline []TimelineEntry `json:"timeline,omitempty" gorm:"-"`
}

func (Order) TableName() string { return "orders" }

// TimelineEntry is one row of the append-only order history.
type TimelineEntry struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID   snowflake.ID `json:"order_id" gorm:"not null;index"`
	Status    Status       `json:"status" gorm:"type:varchar(32);not null"`
	Note      string       `json:"note" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (TimelineEntry) TableName() string { return "order_timeline_entries" }

// IsTerminal reports whether admin edits are closed for the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusPaymentFailed, StatusReturned:
		return true
	}
	return false
}

// IsAdminTarget reports whether an admin may move an order into s.
func (s Status) IsAdminTarget() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// IsPayable reports whether a new payment intent may be opened for the order.
func (o *Order) IsPayable() bool {
	if o == nil || o.PaymentStatus == PaymentStatusCompleted {
		return false
	}
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusPaymentFailed:
		return true
	}
	return false
}

// CustomerCancellable reports whether the owner may still cancel the order.
func (o *Order) CustomerCancellable() bool {
	if o == nil {
		return false
	}
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

func (o *Order) IsPaid() bool {
	return o != nil && o.PaymentStatus == PaymentStatusCompleted
}
