package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"gorm.io/gorm"
)

const paymentColumns = `id, order_id, user_id, gateway, external_payment_id, external_order_id,
	gateway_transaction_id, amount, currency, status, payment_method, metadata,
	failure_reason, receipt_url, version, created_at, updated_at`

const refundColumns = `id, payment_id, amount, reason, status, gateway_refund_id,
	idempotency_key, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.Gateway,
		payment.ExternalPaymentID,
		payment.ExternalOrderID,
		payment.GatewayTransactionID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.PaymentMethod,
		payment.Metadata,
		payment.FailureReason,
		payment.ReceiptURL,
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `id = ?`, forUpdate, id)
}

func (r *repo) FindByExternalID(ctx context.Context, conn *gorm.DB, gateway domain.Gateway, externalPaymentID string, forUpdate bool) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `gateway = ? AND external_payment_id = ?`, forUpdate, gateway, externalPaymentID)
}

func (r *repo) FindByTransactionID(ctx context.Context, conn *gorm.DB, gateway domain.Gateway, transactionID string, forUpdate bool) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `gateway = ? AND gateway_transaction_id = ?`, forUpdate, gateway, transactionID)
}

func (r *repo) FindSucceededByOrder(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `order_id = ? AND status = ?`, false, orderID, domain.StatusSucceeded)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, where string, forUpdate bool, args ...any) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where + ` LIMIT 1`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	var payment domain.Payment
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	refunds, err := r.listRefunds(ctx, conn, []snowflake.ID{payment.ID})
	if err != nil {
		return nil, err
	}
	payment.Refunds = refunds[payment.ID]
	return &payment, nil
}

func (r *repo) ListByUser(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Payment, int64, error) {
	stmt := conn.WithContext(ctx).Model(&domain.Payment{})
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}

	var total int64
	if err := stmt.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	payments := []domain.Payment{}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	if err := r.attachRefunds(ctx, conn, payments); err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *repo) ListByOrder(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) ([]domain.Payment, error) {
	payments := []domain.Payment{}
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orderID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	if err := r.attachRefunds(ctx, conn, payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) ListStale(ctx context.Context, conn *gorm.DB, statuses []domain.Status, before time.Time, limit int) ([]domain.Payment, error) {
	payments := []domain.Payment{}
	if len(statuses) == 0 {
		return payments, nil
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status IN ? AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		statuses,
		before,
		limit,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) SummarizeByStatus(ctx context.Context, conn *gorm.DB, start, end time.Time) ([]domain.StatusSummary, error) {
	rows := []domain.StatusSummary{}
	err := conn.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total_amount
		 FROM payments
		 WHERE created_at >= ? AND created_at <= ?
		 GROUP BY status
		 ORDER BY status ASC`,
		start,
		end,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpdateState(ctx context.Context, conn *gorm.DB, payment *domain.Payment, expectedVersion int64) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, external_order_id = ?, gateway_transaction_id = ?, payment_method = ?,
			metadata = ?, failure_reason = ?, receipt_url = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		payment.Status,
		payment.ExternalOrderID,
		payment.GatewayTransactionID,
		payment.PaymentMethod,
		payment.Metadata,
		payment.FailureReason,
		payment.ReceiptURL,
		payment.UpdatedAt,
		payment.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	payment.Version = expectedVersion + 1
	return true, nil
}

func (r *repo) InsertRefund(ctx context.Context, conn *gorm.DB, refund *domain.Refund) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_refunds (`+refundColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.PaymentID,
		refund.Amount,
		refund.Reason,
		refund.Status,
		refund.GatewayRefundID,
		refund.IdempotencyKey,
		refund.CreatedAt,
		refund.UpdatedAt,
	).Error
}

func (r *repo) UpdateRefund(ctx context.Context, conn *gorm.DB, refund *domain.Refund, expectedStatus domain.RefundStatus) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_refunds
		 SET status = ?, gateway_refund_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		refund.Status,
		refund.GatewayRefundID,
		refund.UpdatedAt,
		refund.ID,
		expectedStatus,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListPendingRefunds(ctx context.Context, conn *gorm.DB, before time.Time, limit int) ([]domain.Refund, error) {
	refunds := []domain.Refund{}
	err := conn.WithContext(ctx).Raw(
		`SELECT `+refundColumns+` FROM payment_refunds
		 WHERE status = ? AND gateway_refund_id IS NOT NULL AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		domain.RefundStatusPending,
		before,
		limit,
	).Scan(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repo) attachRefunds(ctx context.Context, conn *gorm.DB, payments []domain.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	ids := make([]snowflake.ID, 0, len(payments))
	for _, payment := range payments {
		ids = append(ids, payment.ID)
	}
	refunds, err := r.listRefunds(ctx, conn, ids)
	if err != nil {
		return err
	}
	for i := range payments {
		payments[i].Refunds = refunds[payments[i].ID]
	}
	return nil
}

func (r *repo) listRefunds(ctx context.Context, conn *gorm.DB, paymentIDs []snowflake.ID) (map[snowflake.ID][]domain.Refund, error) {
	var rows []domain.Refund
	err := conn.WithContext(ctx).Raw(
		`SELECT `+refundColumns+` FROM payment_refunds
		 WHERE payment_id IN ?
		 ORDER BY created_at ASC, id ASC`,
		paymentIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID][]domain.Refund, len(paymentIDs))
	for _, row := range rows {
		out[row.PaymentID] = append(out[row.PaymentID], row)
	}
	return out, nil
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, gateway, event_id, outcome, external_payment_id, payload, result, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gateway, event_id) DO NOTHING`,
		event.ID,
		event.Gateway,
		event.EventID,
		event.Outcome,
		event.ExternalPaymentID,
		event.Payload,
		event.Result,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, gateway domain.Gateway, eventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT id, gateway, event_id, outcome, external_payment_id, payload, result, received_at, processed_at
		 FROM payment_events
		 WHERE gateway = ? AND event_id = ?
		 LIMIT 1`,
		gateway,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, result domain.EventResult, processedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET result = ?, processed_at = ?
		 WHERE id = ?`,
		result,
		processedAt,
		id,
	).Error
}
