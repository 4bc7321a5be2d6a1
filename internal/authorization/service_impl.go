package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder            = "order"
	ObjectPayment          = "payment"
	ObjectRefund           = "refund"
	ObjectPaymentAnalytics = "payment_analytics"
	ObjectAuditLog         = "audit_log"
)

const (
	ActionOrderCreate         = "order.create"
	ActionOrderView           = "order.view"
	ActionOrderCancel         = "order.cancel"
	ActionOrderUpdateStatus   = "order.update_status"
	ActionOrderUpdateTracking = "order.update_tracking"
	ActionOrderStream         = "order.stream"
	ActionOrderListAll        = "order.list_all"

	ActionPaymentCreateIntent = "payment.create_intent"
	ActionPaymentView         = "payment.view"
	ActionPaymentConfirm      = "payment.confirm"

	ActionRefundCreate  = "refund.create"
	ActionRefundResolve = "refund.resolve"

	ActionPaymentAnalyticsView = "payment_analytics.view"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, caller identity.Caller, object string, action string) error {
	if strings.TrimSpace(caller.UserID) == "" || caller.Role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := caller.Subject()
	roleName := "role:" + string(caller.Role)
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, caller, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject; the role claimed by
// the identity headers may change between requests.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, caller identity.Caller, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	actorID := caller.UserID
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, string(caller.Role), &actorID, auditdomain.ActionAuthorizationDenied, "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": caller.Subject(),
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	customer := [][]string{
		{ObjectOrder, ActionOrderCreate},
		{ObjectOrder, ActionOrderView},
		{ObjectOrder, ActionOrderCancel},
		{ObjectPayment, ActionPaymentCreateIntent},
		{ObjectPayment, ActionPaymentView},
		{ObjectPayment, ActionPaymentConfirm},
		{ObjectRefund, ActionRefundCreate},
	}
	admin := append([][]string{
		{ObjectOrder, ActionOrderUpdateStatus},
		{ObjectOrder, ActionOrderUpdateTracking},
		{ObjectOrder, ActionOrderStream},
		{ObjectOrder, ActionOrderListAll},
		{ObjectRefund, ActionRefundResolve},
		{ObjectPaymentAnalytics, ActionPaymentAnalyticsView},
		{ObjectAuditLog, ActionAuditLogView},
	}, customer...)

	policies := make([][]string, 0, len(customer)+2*len(admin))
	for _, rule := range customer {
		policies = append(policies, []string{"role:customer", rule[0], rule[1]})
	}
	for _, rule := range admin {
		policies = append(policies, []string{"role:admin", rule[0], rule[1]})
		policies = append(policies, []string{"role:system", rule[0], rule[1]})
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
