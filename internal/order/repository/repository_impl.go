package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"gorm.io/gorm"
)

const orderColumns = `id, order_number, user_id, items, shipping_address, billing_address, notes,
	subtotal, shipping_fee, tax, total, currency, status, payment_method, payment_status,
	payment_transaction_id, paid_at, refunded_at, tracking, cancel_reason, admin_notes,
	version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrderNumber,
		order.UserID,
		order.Items,
		order.ShippingAddress,
		order.BillingAddress,
		order.Notes,
		order.Subtotal,
		order.ShippingFee,
		order.Tax,
		order.Total,
		order.Currency,
		order.Status,
		order.PaymentMethod,
		order.PaymentStatus,
		order.PaymentTransactionID,
		order.PaidAt,
		order.RefundedAt,
		order.Tracking,
		order.CancelReason,
		order.AdminNotes,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) InsertTimeline(ctx context.Context, conn *gorm.DB, entry *domain.TimelineEntry) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO order_timeline_entries (id, order_id, status, note, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrderID,
		entry.Status,
		entry.Note,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if forUpdate {
		query += db.ForUpdate(conn)
	}
	var order domain.Order
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&order).Error; err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindByNumber(ctx context.Context, conn *gorm.DB, orderNumber string) (*domain.Order, error) {
	var order domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE order_number = ?`,
		strings.TrimSpace(orderNumber),
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]domain.Order, int64, error) {
	stmt := conn.WithContext(ctx).Model(&domain.Order{})
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		stmt = stmt.Where("LOWER(order_number) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := stmt.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orders := []domain.Order{}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *repo) CountByStatus(ctx context.Context, conn *gorm.DB, userID string) (map[domain.Status]int64, error) {
	type row struct {
		Status domain.Status
		Count  int64
	}
	var rows []row
	stmt := conn.WithContext(ctx).Model(&domain.Order{}).Select("status, COUNT(*) AS count")
	if userID != "" {
		stmt = stmt.Where("user_id = ?", userID)
	}
	if err := stmt.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.Status]int64, len(rows))
	for _, item := range rows {
		counts[item.Status] = item.Count
	}
	return counts, nil
}

func (r *repo) UpdateState(ctx context.Context, conn *gorm.DB, order *domain.Order, expectedVersion int64) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, payment_method = ?, payment_status = ?, payment_transaction_id = ?,
			paid_at = ?, refunded_at = ?, tracking = ?, cancel_reason = ?, admin_notes = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		order.Status,
		order.PaymentMethod,
		order.PaymentStatus,
		order.PaymentTransactionID,
		order.PaidAt,
		order.RefundedAt,
		order.Tracking,
		order.CancelReason,
		order.AdminNotes,
		order.UpdatedAt,
		order.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	order.Version = expectedVersion + 1
	return true, nil
}

func (r *repo) ListTimeline(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) ([]domain.TimelineEntry, error) {
	entries := []domain.TimelineEntry{}
	err := conn.WithContext(ctx).Raw(
		`SELECT id, order_id, status, note, created_at
		 FROM order_timeline_entries
		 WHERE order_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orderID,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
