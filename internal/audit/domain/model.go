package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)

// Service records and lists the audit trail. AuditLog masks metadata before
// it is persisted.
type Service interface {
	AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeCustomer ActorType = "customer"
	ActorTypeAdmin    ActorType = "admin"
	ActorTypeGateway  ActorType = "gateway"
)

const (
	ActionOrderStatusUpdated   = "order.status_updated"
	ActionOrderTrackingUpdated = "order.tracking_updated"
	ActionOrderCancelled       = "order.cancelled"
	ActionRefundRequested      = "payment.refund_requested"
	ActionRefundResolved       = "payment.refund_resolved"
	ActionSignatureRejected    = "webhook.signature_rejected"
	ActionDuplicatePayment     = "payment.duplicate_success"
	ActionCapturedAfterFailure = "payment.captured_after_failure"
	ActionAuthorizationDenied  = "authorization.denied"
)

var knownActions = map[string]struct{}{
	ActionOrderStatusUpdated:   {},
	ActionOrderTrackingUpdated: {},
	ActionOrderCancelled:       {},
	ActionRefundRequested:      {},
	ActionRefundResolved:       {},
	ActionSignatureRejected:    {},
	ActionDuplicatePayment:     {},
	ActionCapturedAfterFailure: {},
	ActionAuthorizationDenied:  {},
}

// IsKnownAction reports whether action is one the service writes.
func IsKnownAction(action string) bool {
	_, ok := knownActions[action]
	return ok
}

type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   *string           `json:"target_id,omitempty" gorm:"index"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Limit      int
	Offset     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, int64, error)
}

// Actor maps a caller onto the audit actor columns.
func Actor(caller identity.Caller) (string, *string) {
	actorType := ActorTypeCustomer
	switch caller.Role {
	case identity.RoleAdmin:
		actorType = ActorTypeAdmin
	case identity.RoleSystem:
		actorType = ActorTypeSystem
	}
	if caller.UserID == "" {
		return string(actorType), nil
	}
	id := caller.UserID
	return string(actorType), &id
}
