package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/order/number"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxNumberAttempts   = 5
	maxItems            = 100
	cancelRefundReason  = "Order cancelled"
	initialTimelineNote = "Order placed"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Engine   *reconcile.Engine
	Authz    authorization.Service
	Numbers  *number.Generator           `optional:"true"`
	Refunds  paymentdomain.RefundService `optional:"true"`
	AuditSvc auditdomain.Service         `optional:"true"`
	Pricing  *domain.Pricing             `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	engine   *reconcile.Engine
	authz    authorization.Service
	numbers  *number.Generator
	refunds  paymentdomain.RefundService
	auditSvc auditdomain.Service
	pricing  domain.Pricing
}

func NewService(p Params) domain.Service {
	numbers := p.Numbers
	if numbers == nil {
		numbers = number.NewGenerator()
	}
	pricing := domain.DefaultPricing()
	if p.Pricing != nil {
		pricing = *p.Pricing
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		engine:   p.Engine,
		authz:    p.Authz,
		numbers:  numbers,
		refunds:  p.Refunds,
		auditSvc: p.AuditSvc,
		pricing:  pricing,
	}
}

// Create prices the cart and stores a pending order with its first timeline
// entry. Item prices are locked at creation.
func (s *Service) Create(ctx context.Context, caller identity.Caller, req domain.CreateOrderRequest) (*domain.Order, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectOrder, authorization.ActionOrderCreate); err != nil {
		return nil, err
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return nil, err
	}
	shipping, err := normalizeAddress(req.ShippingAddress)
	if err != nil {
		return nil, err
	}
	billing := shipping
	if req.BillingAddress != nil {
		if billing, err = normalizeAddress(*req.BillingAddress); err != nil {
			return nil, err
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.pricing.Currency
	}
	if currency != s.pricing.Currency {
		return nil, domain.ErrInvalidCurrency
	}

	totals := s.pricing.Compute(items)
	now := s.clock.Now().UTC()
	order := &domain.Order{
		ID:              s.genID.Generate(),
		UserID:          caller.UserID,
		Items:           datatypes.NewJSONSlice(items),
		ShippingAddress: datatypes.NewJSONType(shipping),
		BillingAddress:  datatypes.NewJSONType(billing),
		Notes:           strings.TrimSpace(req.Notes),
		Subtotal:        totals.Subtotal,
		ShippingFee:     totals.ShippingFee,
		Tax:             totals.Tax,
		Total:           totals.Total,
		Currency:        currency,
		Status:          domain.StatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Tracking:        datatypes.NewJSONType(domain.Tracking{}),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry := domain.TimelineEntry{
		ID:        s.genID.Generate(),
		OrderID:   order.ID,
		Status:    domain.StatusPending,
		Note:      initialTimelineNote,
		CreatedAt: now,
	}

	if err := s.insertWithNumber(ctx, order, &entry, now); err != nil {
		return nil, err
	}
	order.Timeline = []domain.TimelineEntry{entry}

	logger.WithContext(ctx, s.log).Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", order.UserID),
		zap.Int64("total", order.Total),
	)
	return order, nil
}

// insertWithNumber draws order numbers until one is free.
func (s *Service) insertWithNumber(ctx context.Context, order *domain.Order, entry *domain.TimelineEntry, now time.Time) error {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		orderNumber, err := s.numbers.Next(now)
		if err != nil {
			return err
		}
		order.OrderNumber = orderNumber
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.Insert(ctx, tx, order); err != nil {
				return err
			}
			return s.repo.InsertTimeline(ctx, tx, entry)
		})
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("insert order: %w", err)
		}
		s.log.Warn("order number collision, retrying", zap.String("order_number", orderNumber), zap.Int("attempt", attempt+1))
	}
	return domain.ErrOrderNumberExhausted
}

func normalizeItems(in []domain.LineItem) ([]domain.LineItem, error) {
	if len(in) == 0 || len(in) > maxItems {
		return nil, domain.ErrInvalidItems
	}
	out := make([]domain.LineItem, 0, len(in))
	for _, item := range in {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		if item.ProductID == "" || item.Name == "" {
			return nil, domain.ErrInvalidItems
		}
		if item.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if item.UnitPrice <= 0 {
			return nil, domain.ErrInvalidPrice
		}
		out = append(out, item)
	}
	return out, nil
}

func normalizeAddress(a domain.Address) (domain.Address, error) {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Email = strings.TrimSpace(a.Email)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Address = strings.TrimSpace(a.Address)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.ZipCode = strings.TrimSpace(a.ZipCode)
	a.Country = strings.TrimSpace(a.Country)
	if a.FirstName == "" || a.Address == "" || a.City == "" {
		return domain.Address{}, domain.ErrInvalidAddress
	}
	if a.Email != "" && !strings.Contains(a.Email, "@") {
		return domain.Address{}, domain.ErrInvalidAddress
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, caller identity.Caller, id string) (*domain.Order, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectOrder, authorization.ActionOrderView); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.withTimeline(ctx, order)
}

func (s *Service) load(ctx context.Context, caller identity.Caller, id string) (*domain.Order, error) {
	orderID, err := s.parseID(id)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.FindByID(ctx, s.db, orderID, false)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if !caller.Owns(order.UserID) {
		return nil, authorization.ErrForbidden
	}
	return order, nil
}

func (s *Service) parseID(id string) (snowflake.ID, error) {
	orderID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return 0, domain.ErrOrderNotFound
	}
	return orderID, nil
}

func (s *Service) withTimeline(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	entries, err := s.repo.ListTimeline(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Timeline = entries
	return order, nil
}

func (s *Service) List(ctx context.Context, caller identity.Caller, req domain.ListOrderRequest) (domain.ListOrderResponse, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectOrder, authorization.ActionOrderView); err != nil {
		return domain.ListOrderResponse{}, err
	}
	return s.list(ctx, caller.UserID, req)
}

// ListAll is the admin view across customers.
func (s *Service) ListAll(ctx context.Context, caller identity.Caller, req domain.ListOrderRequest) (domain.ListOrderResponse, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectOrder, authorization.ActionOrderListAll); err != nil {
		return domain.ListOrderResponse{}, err
	}
	return s.list(ctx, "", req)
}

func (s *Service) list(ctx context.Context, userID string, req domain.ListOrderRequest) (domain.ListOrderResponse, error) {
	status := domain.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if status != "" && !status.Valid() {
		return domain.ListOrderResponse{}, domain.ErrInvalidStatus
	}
	page := req.Pagination.Normalize()
	orders, total, err := s.repo.List(ctx, s.db, domain.ListFilter{
		UserID: userID,
		Status: status,
		Search: req.Search,
		Limit:  page.Limit,
		Offset: page.Skip,
	})
	if err != nil {
		return domain.ListOrderResponse{}, err
	}
	counts, err := s.repo.CountByStatus(ctx, s.db, userID)
	if err != nil {
		return domain.ListOrderResponse{}, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return domain.ListOrderResponse{
		PageInfo:     pagination.BuildPageInfo(page, total),
		Orders:       orders,
		StatusCounts: counts,
	}, nil
}

// Cancel lets the owner cancel a pending or confirmed order. A paid order is
// refunded in full once the cancellation has committed.
func (s *Service) Cancel(ctx context.Context, caller identity.Caller, id string, req domain.CancelOrderRequest) (*domain.Order, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectOrder, authorization.ActionOrderCancel); err != nil {
		return nil, err
	}
	order, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.TransitionOrder(ctx, reconcile.OrderTransition{
		OrderID: order.ID,
		Target:  domain.StatusCancelled,
		Caller:  caller,
		Reason:  req.Reason,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, caller, auditdomain.ActionOrderCancelled, result.Order, map[string]any{
		"from":   string(result.PreviousStatus),
		"reason": strings.TrimSpace(req.Reason),
	})
	s.refundCancelled(ctx, caller, result)
	return s.withTimeline(ctx, result.Order)
}

func (s *Service) refundCancelled(ctx context.Context, caller identity.Caller, result reconcile.TransitionResult) {
	if result.RefundDue == nil {
		return
	}
	log := logger.WithPayment(logger.WithContext(ctx, s.log), string(result.RefundDue.Gateway), result.RefundDue.ExternalPaymentID)
	if s.refunds == nil {
		log.Error("cancelled order needs a refund but no refund service is wired",
			zap.String("order_id", result.Order.ID.String()))
		return
	}
	refund, err := s.refunds.CreateRefund(ctx, paymentdomain.CreateRefundRequest{
		PaymentID: result.RefundDue.ID.String(),
		Reason:    cancelRefundReason,
		Actor:     caller,
	})
	if err != nil {
		log.Error("refund for cancelled order failed, manual refund required",
			zap.String("order_id", result.Order.ID.String()),
			zap.Error(err))
		return
	}
	log.Info("refund requested for cancelled order",
		zap.String("order_id", result.Order.ID.String()),
		zap.String("refund_id", refund.ID.String()),
		zap.Int64("amount", refund.Amount))
}

func (s *Service) UpdateStatus(ctx context.Context, caller identity.Caller, id string, req domain.UpdateStatusRequest) (*domain.Order, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectOrder, authorization.ActionOrderUpdateStatus); err != nil {
		return nil, err
	}
	target := domain.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !target.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	order, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	transition := reconcile.OrderTransition{
		OrderID: order.ID,
		Target:  target,
		Caller:  caller,
	}
	if trackingNumber := strings.TrimSpace(req.TrackingNumber); trackingNumber != "" {
		tracking := order.Tracking.Data()
		tracking.TrackingNumber = trackingNumber
		transition.Tracking = &tracking
	}
	if notes := strings.TrimSpace(req.AdminNotes); notes != "" {
		transition.AdminNotes = &notes
	}

	result, err := s.engine.TransitionOrder(ctx, transition)
	if err != nil {
		return nil, err
	}
	if result.Updated {
		s.audit(ctx, caller, auditdomain.ActionOrderStatusUpdated, result.Order, map[string]any{
			"from": string(result.PreviousStatus),
			"to":   string(result.Order.Status),
		})
	}
	s.refundCancelled(ctx, caller, result)
	return s.withTimeline(ctx, result.Order)
}

// UpdateTracking records shipment details. A processing order moves to
// shipped with it.
func (s *Service) UpdateTracking(ctx context.Context, caller identity.Caller, id string, req domain.UpdateTrackingRequest) (*domain.Order, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectOrder, authorization.ActionOrderUpdateTracking); err != nil {
		return nil, err
	}
	tracking := req.Tracking
	tracking.Carrier = strings.TrimSpace(tracking.Carrier)
	tracking.TrackingNumber = strings.TrimSpace(tracking.TrackingNumber)
	tracking.TrackingURL = strings.TrimSpace(tracking.TrackingURL)
	if tracking.TrackingNumber == "" {
		return nil, domain.ErrInvalidTracking
	}
	order, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.TransitionOrder(ctx, reconcile.OrderTransition{
		OrderID:  order.ID,
		Caller:   caller,
		Tracking: &tracking,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, caller, auditdomain.ActionOrderTrackingUpdated, result.Order, map[string]any{
		"carrier":         tracking.Carrier,
		"tracking_number": tracking.TrackingNumber,
		"status":          string(result.Order.Status),
	})
	return s.withTimeline(ctx, result.Order)
}

func (s *Service) audit(ctx context.Context, caller identity.Caller, action string, order *domain.Order, metadata map[string]any) {
	if s.auditSvc == nil || order == nil {
		return
	}
	actorType, actorID := auditdomain.Actor(caller)
	targetID := order.ID.String()
	metadata["order_number"] = order.OrderNumber
	if err := s.auditSvc.AuditLog(ctx, actorType, actorID, action, "order", &targetID, metadata); err != nil {
		s.log.Warn("failed to write order audit log", zap.Error(err))
	}
}
