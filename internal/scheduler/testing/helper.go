// Package testing holds helpers that backdate payment rows so scheduler jobs
// pick them up without waiting out the pending threshold.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// BackdatePayment sets the payment's last update to at.
func (ta *TimeAccelerator) BackdatePayment(ctx context.Context, paymentID snowflake.ID, at time.Time) error {
	return ta.backdate(ctx, "payments", paymentID, at)
}

// BackdateRefund sets the refund's last update to at.
func (ta *TimeAccelerator) BackdateRefund(ctx context.Context, refundID snowflake.ID, at time.Time) error {
	return ta.backdate(ctx, "payment_refunds", refundID, at)
}

func (ta *TimeAccelerator) backdate(ctx context.Context, table string, id snowflake.ID, at time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE `+table+` SET updated_at = ? WHERE id = ?`,
		at.UTC(),
		id,
	).Error
}
