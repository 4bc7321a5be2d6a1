package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID string
	Status Status
	Search string
	Limit  int
	Offset int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertTimeline(ctx context.Context, db *gorm.DB, entry *TimelineEntry) error
	// FindByID returns nil when the order does not exist.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Order, error)
	FindByNumber(ctx context.Context, db *gorm.DB, orderNumber string) (*Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Order, int64, error)
	CountByStatus(ctx context.Context, db *gorm.DB, userID string) (map[Status]int64, error)
	// UpdateState writes the mutable order columns when the stored version
	// still equals expectedVersion, bumping it. It reports false on a lost race.
	UpdateState(ctx context.Context, db *gorm.DB, order *Order, expectedVersion int64) (bool, error)
	ListTimeline(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]TimelineEntry, error)
}
