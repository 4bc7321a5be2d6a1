package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Gateway string

const (
	GatewayStripe   Gateway = "stripe"
	GatewayRazorpay Gateway = "razorpay"
	GatewayPayU     Gateway = "payu"
)

func ParseGateway(raw string) (Gateway, error) {
	switch g := Gateway(normalize(raw)); g {
	case GatewayStripe, GatewayRazorpay, GatewayPayU:
		return g, nil
	}
	return "", ErrInvalidGateway
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusRefunded   Status = "refunded"
)

type Method string

const (
	MethodCard       Method = "card"
	MethodUPI        Method = "upi"
	MethodNetbanking Method = "netbanking"
	MethodWallet     Method = "wallet"
	MethodOther      Method = "other"
)

// ParseMethod maps gateway specific method names onto the storefront set.
func ParseMethod(raw string) Method {
	switch normalize(raw) {
	case "card", "cc", "dc", "credit_card", "debit_card", "emi":
		return MethodCard
	case "upi":
		return MethodUPI
	case "netbanking", "nb":
		return MethodNetbanking
	case "wallet", "cash", "paylater":
		return MethodWallet
	case "":
		return ""
	}
	return MethodOther
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
	RefundStatusCanceled  RefundStatus = "canceled"
)

func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusSucceeded || s == RefundStatusFailed || s == RefundStatusCanceled
}

func (s RefundStatus) Valid() bool {
	return s == RefundStatusPending || s.IsTerminal()
}

const DefaultRefundReason = "requested_by_customer"

type Payment struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrderID              snowflake.ID      `json:"order_id" gorm:"not null;index"`
	UserID               string            `json:"user_id" gorm:"type:varchar(128);not null;index"`
	Gateway              Gateway           `json:"gateway" gorm:"type:varchar(32);not null;uniqueIndex:ux_payments_gateway_external,priority:1"`
	ExternalPaymentID    string            `json:"external_payment_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_payments_gateway_external,priority:2"`
	ExternalOrderID      string            `json:"external_order_id,omitempty" gorm:"type:varchar(128)"`
	GatewayTransactionID *string           `json:"gateway_transaction_id,omitempty" gorm:"type:varchar(128);index"`
	Amount               int64             `json:"amount" gorm:"not null"`
	Currency             string            `json:"currency" gorm:"type:varchar(3);not null"`
	Status               Status            `json:"status" gorm:"type:varchar(32);not null;index"`
	PaymentMethod        Method            `json:"payment_method,omitempty" gorm:"type:varchar(32)"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty"`
	FailureReason        *string           `json:"failure_reason,omitempty"`
	ReceiptURL           *string           `json:"receipt_url,omitempty"`
	Version              int64             `json:"version" gorm:"not null;default:1"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null;index"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"not null"`

	Refunds []Refund `json:"refunds" gorm:"-"`
}

func (Payment) TableName() string { return "payments" }

type Refund struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID       snowflake.ID `json:"payment_id" gorm:"not null;index"`
	Amount          int64        `json:"amount" gorm:"not null"`
	Reason          string       `json:"reason" gorm:"type:text"`
	Status          RefundStatus `json:"status" gorm:"type:varchar(32);not null"`
	GatewayRefundID *string      `json:"gateway_refund_id,omitempty" gorm:"type:varchar(128);index"`
	IdempotencyKey  string       `json:"-" gorm:"type:varchar(64);not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "payment_refunds" }

// RefundedAmount sums the refunds that reached the given statuses.
func (p *Payment) RefundedAmount(statuses ...RefundStatus) int64 {
	var total int64
	for _, refund := range p.Refunds {
		for _, status := range statuses {
			if refund.Status == status {
				total += refund.Amount
				break
			}
		}
	}
	return total
}

// Refundable is the amount still open for new refunds. Pending refunds
// reserve their amount until they resolve.
func (p *Payment) Refundable() int64 {
	available := p.Amount - p.RefundedAmount(RefundStatusSucceeded, RefundStatusPending)
	if available < 0 {
		return 0
	}
	return available
}

func (p *Payment) FindRefund(id snowflake.ID) *Refund {
	for i := range p.Refunds {
		if p.Refunds[i].ID == id {
			return &p.Refunds[i]
		}
	}
	return nil
}

func (p *Payment) FindRefundByGatewayID(gatewayRefundID string) *Refund {
	if gatewayRefundID == "" {
		return nil
	}
	for i := range p.Refunds {
		if p.Refunds[i].GatewayRefundID != nil && *p.Refunds[i].GatewayRefundID == gatewayRefundID {
			return &p.Refunds[i]
		}
	}
	return nil
}

// EventRecord is the log row written for every verified inbound event.
type EventRecord struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Gateway           Gateway        `json:"gateway" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_gateway_event,priority:1"`
	EventID           string         `json:"event_id" gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_gateway_event,priority:2"`
	Outcome           Outcome        `json:"outcome" gorm:"type:varchar(32);not null"`
	ExternalPaymentID string         `json:"external_payment_id" gorm:"type:varchar(128);index"`
	Payload           datatypes.JSON `json:"payload"`
	Result            *EventResult   `json:"result,omitempty" gorm:"type:varchar(32)"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt       *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

type EventResult string

const (
	EventResultApplied    EventResult = "applied"
	EventResultDuplicate  EventResult = "duplicate"
	EventResultOutOfOrder EventResult = "out_of_order"
	EventResultRejected   EventResult = "rejected"
)
