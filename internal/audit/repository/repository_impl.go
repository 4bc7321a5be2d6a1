package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/storefront/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends an entry. Audit rows are never updated.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, int64, error) {
	query := db.WithContext(ctx).Model(&domain.AuditLog{}).Scopes(matching(filter)).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	var entries []*domain.AuditLog
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Scopes(page(filter.Limit, filter.Offset)).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func matching(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		columns := map[string]string{
			"action":      filter.Action,
			"target_type": filter.TargetType,
			"target_id":   filter.TargetID,
			"actor_type":  filter.ActorType,
		}
		for column, value := range columns {
			if value = strings.TrimSpace(value); value != "" {
				tx = tx.Where(column+" = ?", value)
			}
		}
		if filter.StartAt != nil {
			tx = tx.Where("created_at >= ?", filter.StartAt.UTC())
		}
		if filter.EndAt != nil {
			tx = tx.Where("created_at <= ?", filter.EndAt.UTC())
		}
		return tx
	}
}

func page(limit, offset int) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if limit > 0 {
			tx = tx.Limit(limit)
		}
		if offset > 0 {
			tx = tx.Offset(offset)
		}
		return tx
	}
}
