package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID string
	Limit  int
	Offset int
}

type StatusSummary struct {
	Status      Status `json:"status"`
	Count       int64  `json:"count"`
	TotalAmount int64  `json:"totalAmount"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	// Find methods return nil when nothing matches. Refunds are loaded.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Payment, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, gateway Gateway, externalPaymentID string, forUpdate bool) (*Payment, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, gateway Gateway, transactionID string, forUpdate bool) (*Payment, error)
	FindSucceededByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Payment, error)
	ListByUser(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payment, int64, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Payment, error)
	ListStale(ctx context.Context, db *gorm.DB, statuses []Status, before time.Time, limit int) ([]Payment, error)
	SummarizeByStatus(ctx context.Context, db *gorm.DB, start, end time.Time) ([]StatusSummary, error)
	// UpdateState is a compare-and-swap on version.
	UpdateState(ctx context.Context, db *gorm.DB, payment *Payment, expectedVersion int64) (bool, error)

	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	UpdateRefund(ctx context.Context, db *gorm.DB, refund *Refund, expectedStatus RefundStatus) (bool, error)
	// ListPendingRefunds skips refunds that were never submitted to a gateway.
	ListPendingRefunds(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Refund, error)

	// InsertEvent reports false when (gateway, event_id) already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, gateway Gateway, eventID string) (*EventRecord, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, result EventResult, processedAt time.Time) error
}
