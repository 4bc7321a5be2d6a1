package refund

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     paymentdomain.Repository
	Adapters *adapters.Registry
	Engine   *reconcile.Engine
	Authz    authorization.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     paymentdomain.Repository
	adapters *adapters.Registry
	engine   *reconcile.Engine
	authz    authorization.Service
	auditSvc auditdomain.Service
}

func NewService(p Params) paymentdomain.RefundService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.refund"),
		repo:     p.Repo,
		adapters: p.Adapters,
		engine:   p.Engine,
		authz:    p.Authz,
		auditSvc: p.AuditSvc,
	}
}

// CreateRefund records a refund request against a payment and submits it to
// the payment's gateway. Gateways without an API leave it pending.
func (s *Service) CreateRefund(ctx context.Context, req paymentdomain.CreateRefundRequest) (*paymentdomain.Refund, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectRefund, authorization.ActionRefundCreate); err != nil {
		return nil, err
	}
	payment, err := s.load(ctx, req.Actor, req.PaymentID)
	if err != nil {
		return nil, err
	}
	client, err := s.adapters.Client(payment.Gateway)
	if err != nil {
		return nil, err
	}

	dispatch := func(ctx context.Context, payment *paymentdomain.Payment, amount int64, key string) (*paymentdomain.GatewayRefund, error) {
		return client.CreateRefund(ctx, paymentdomain.RefundRequest{
			Payment:        payment,
			Amount:         amount,
			Reason:         req.Reason,
			IdempotencyKey: key,
		})
	}
	result, err := s.engine.RecordRefund(ctx, reconcile.RefundRecord{
		PaymentID:      payment.ID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: ulid.Make().String(),
	}, dispatch)
	if err != nil {
		return nil, err
	}

	refund := result.Refund
	s.audit(ctx, req.Actor, auditdomain.ActionRefundRequested, refund, map[string]any{
		"payment_id": payment.ID.String(),
		"amount":     refund.Amount,
		"reason":     refund.Reason,
		"status":     string(refund.Status),
	})
	return refund, nil
}

// ResolveRefund settles a pending refund by hand.
func (s *Service) ResolveRefund(ctx context.Context, req paymentdomain.ResolveRefundRequest) (*paymentdomain.Refund, error) {
	if err := s.authz.Authorize(ctx, req.Actor, authorization.ObjectRefund, authorization.ActionRefundResolve); err != nil {
		return nil, err
	}
	paymentID, err := snowflake.ParseString(strings.TrimSpace(req.PaymentID))
	if err != nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	refundID, err := snowflake.ParseString(strings.TrimSpace(req.RefundID))
	if err != nil {
		return nil, paymentdomain.ErrRefundNotFound
	}

	result, err := s.engine.ApplyRefundOutcome(ctx, reconcile.RefundOutcome{
		PaymentID:       paymentID,
		RefundID:        refundID,
		Status:          req.Status,
		GatewayRefundID: strings.TrimSpace(req.GatewayRefundID),
	})
	if errors.Is(err, reconcile.ErrDuplicateEvent) {
		return s.current(ctx, paymentID, refundID)
	}
	if err != nil {
		return nil, err
	}

	refund := result.Refund
	logger.WithActor(logger.WithContext(ctx, s.log), string(req.Actor.Role), req.Actor.UserID).Info("refund resolved",
		zap.String("payment_id", paymentID.String()),
		zap.String("refund_id", refund.ID.String()),
		zap.String("refund_status", string(refund.Status)),
	)
	s.audit(ctx, req.Actor, auditdomain.ActionRefundResolved, refund, map[string]any{
		"payment_id": paymentID.String(),
		"status":     string(refund.Status),
	})
	return refund, nil
}

// current answers a repeated resolution with the refund as already settled.
func (s *Service) current(ctx context.Context, paymentID, refundID snowflake.ID) (*paymentdomain.Refund, error) {
	payment, err := s.repo.FindByID(ctx, s.db, paymentID, false)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if refund := payment.FindRefund(refundID); refund != nil {
		return refund, nil
	}
	return nil, paymentdomain.ErrRefundNotFound
}

func (s *Service) load(ctx context.Context, actor identity.Caller, paymentID string) (*paymentdomain.Payment, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	payment, err := s.repo.FindByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if !actor.Owns(payment.UserID) {
		return nil, authorization.ErrForbidden
	}
	return payment, nil
}

func (s *Service) audit(ctx context.Context, actor identity.Caller, action string, refund *paymentdomain.Refund, metadata map[string]any) {
	if s.auditSvc == nil || refund == nil {
		return
	}
	actorType, actorID := auditdomain.Actor(actor)
	targetID := refund.ID.String()
	if err := s.auditSvc.AuditLog(ctx, actorType, actorID, action, "refund", &targetID, metadata); err != nil {
		s.log.Warn("failed to write refund audit log", zap.Error(err))
	}
}
