package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/providers/pdf"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultAnalyticsWindow = 30 * 24 * time.Hour

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      paymentdomain.Repository
	OrderRepo orderdomain.Repository
	Adapters  *adapters.Registry
	Engine    *reconcile.Engine
	Authz     authorization.Service
	Limiter   *ratelimit.Limiter `optional:"true"`
	PDF       pdf.Provider       `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      paymentdomain.Repository
	orderRepo orderdomain.Repository
	adapters  *adapters.Registry
	engine    *reconcile.Engine
	authz     authorization.Service
	limiter   *ratelimit.Limiter
	pdf       pdf.Provider
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		orderRepo: p.OrderRepo,
		adapters:  p.Adapters,
		engine:    p.Engine,
		authz:     p.Authz,
		limiter:   p.Limiter,
		pdf:       p.PDF,
	}
}

func (s *Service) CreatePaymentIntent(ctx context.Context, caller identity.Caller, req paymentdomain.CreateIntentRequest) (*paymentdomain.CreateIntentResponse, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectPayment, authorization.ActionPaymentCreateIntent); err != nil {
		return nil, err
	}
	if !s.limiter.AllowIntent(ctx, caller.UserID) {
		return nil, paymentdomain.ErrRateLimited
	}

	gateway, err := paymentdomain.ParseGateway(req.Gateway)
	if err != nil {
		return nil, err
	}
	orderID, err := snowflake.ParseString(strings.TrimSpace(req.OrderID))
	if err != nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	order, err := s.orderRepo.FindByID(ctx, s.db, orderID, false)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	if !caller.Owns(order.UserID) {
		return nil, authorization.ErrForbidden
	}
	if !order.IsPayable() {
		return nil, orderdomain.ErrOrderNotPayable
	}

	amount := order.Total
	if req.Amount != nil && *req.Amount != order.Total {
		return nil, paymentdomain.ErrAmountMismatch
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = order.Currency
	}
	if currency != order.Currency {
		return nil, paymentdomain.ErrInvalidCurrency
	}

	client, err := s.adapters.Client(gateway)
	if err != nil {
		return nil, err
	}

	paymentID := s.genID.Generate()
	method := paymentdomain.ParseMethod(req.PaymentMethod)
	intent, err := client.CreateIntent(ctx, paymentdomain.IntentRequest{
		Reference:   paymentID.String(),
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Amount:      amount,
		Currency:    currency,
		Method:      method,
		Customer:    customerFor(order, caller, req.Customer),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	payment := paymentdomain.Payment{
		ID:                paymentID,
		OrderID:           order.ID,
		UserID:            order.UserID,
		Gateway:           gateway,
		ExternalPaymentID: intent.ExternalPaymentID,
		ExternalOrderID:   intent.ExternalOrderID,
		Amount:            amount,
		Currency:          currency,
		Status:            paymentdomain.StatusPending,
		PaymentMethod:     method,
		Metadata:          metadataMap(req.Metadata),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		return nil, fmt.Errorf("persist payment %s: %w", intent.ExternalPaymentID, err)
	}

	logger.WithPayment(logger.WithContext(ctx, s.log), string(gateway), intent.ExternalPaymentID).Info("payment intent created",
		zap.String("payment_id", paymentID.String()),
		zap.String("order_id", order.ID.String()),
		zap.Int64("amount", amount),
	)

	return &paymentdomain.CreateIntentResponse{
		PaymentID:         paymentID.String(),
		Gateway:           gateway,
		ExternalPaymentID: intent.ExternalPaymentID,
		ClientSecret:      intent.ClientSecret,
		Amount:            amount,
		Currency:          currency,
		PublicKey:         intent.PublicKey,
		PaymentURL:        intent.PaymentURL,
		Fields:            intent.Fields,
	}, nil
}

func customerFor(order *orderdomain.Order, caller identity.Caller, override *paymentdomain.Customer) paymentdomain.Customer {
	shipping := order.ShippingAddress.Data()
	customer := paymentdomain.Customer{
		UserID:    order.UserID,
		Email:     shipping.Email,
		FirstName: shipping.FirstName,
		Phone:     shipping.Phone,
	}
	if customer.Email == "" && caller.UserID == order.UserID {
		customer.Email = caller.Email
	}
	if override != nil {
		if override.Email != "" {
			customer.Email = override.Email
		}
		if override.FirstName != "" {
			customer.FirstName = override.FirstName
		}
		if override.Phone != "" {
			customer.Phone = override.Phone
		}
	}
	return customer
}

func metadataMap(in map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range in {
		out[key] = value
	}
	return out
}

// Confirm asks the gateway for the payment's current state and runs it
// through the engine like any other event.
func (s *Service) Confirm(ctx context.Context, caller identity.Caller, paymentID string) (*paymentdomain.Payment, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectPayment, authorization.ActionPaymentConfirm); err != nil {
		return nil, err
	}
	payment, err := s.load(ctx, caller, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.Sync(ctx, payment); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, payment.ID, false)
}

// Sync reconciles one payment against its gateway. Replays and regressions
// are not errors here.
func (s *Service) Sync(ctx context.Context, payment *paymentdomain.Payment) error {
	client, err := s.adapters.Client(payment.Gateway)
	if err != nil {
		return err
	}
	event, err := client.FetchPayment(ctx, payment)
	if errors.Is(err, paymentdomain.ErrEventIgnored) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.engine.ApplyEvent(ctx, *event)
	switch {
	case errors.Is(err, reconcile.ErrDuplicateEvent), errors.Is(err, reconcile.ErrOutOfOrderEvent):
		return nil
	case err != nil:
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, caller identity.Caller, paymentID string) (*paymentdomain.Payment, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectPayment, authorization.ActionPaymentView); err != nil {
		return nil, err
	}
	return s.load(ctx, caller, paymentID)
}

func (s *Service) load(ctx context.Context, caller identity.Caller, paymentID string) (*paymentdomain.Payment, error) {
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
	if !caller.Owns(payment.UserID) {
		return nil, authorization.ErrForbidden
	}
	return payment, nil
}

func (s *Service) List(ctx context.Context, caller identity.Caller, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectPayment, authorization.ActionPaymentView); err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	page := req.Pagination.Normalize()
	payments, total, err := s.repo.ListByUser(ctx, s.db, paymentdomain.ListFilter{
		UserID: caller.UserID,
		Limit:  page.Limit,
		Offset: page.Skip,
	})
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	if payments == nil {
		payments = []paymentdomain.Payment{}
	}
	return paymentdomain.ListPaymentResponse{
		PageInfo: pagination.BuildPageInfo(page, total),
		Payments: payments,
	}, nil
}

func (s *Service) Analytics(ctx context.Context, caller identity.Caller, req paymentdomain.AnalyticsRequest) (*paymentdomain.AnalyticsResponse, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectPaymentAnalytics, authorization.ActionPaymentAnalyticsView); err != nil {
		return nil, err
	}
	end := req.End
	if end.IsZero() {
		end = s.clock.Now().UTC()
	}
	start := req.Start
	if start.IsZero() {
		start = end.Add(-defaultAnalyticsWindow)
	}
	if !start.Before(end) {
		return nil, paymentdomain.ErrInvalidTimeRange
	}

	summaries, err := s.repo.SummarizeByStatus(ctx, s.db, start, end)
	if err != nil {
		return nil, err
	}
	resp := &paymentdomain.AnalyticsResponse{Start: start, End: end, ByStatus: summaries}
	if resp.ByStatus == nil {
		resp.ByStatus = []paymentdomain.StatusSummary{}
	}
	for _, summary := range summaries {
		resp.TotalPayments += summary.Count
		if summary.Status == paymentdomain.StatusSucceeded {
			resp.TotalRevenue += summary.TotalAmount
		}
	}
	return resp, nil
}

func (s *Service) Receipt(ctx context.Context, caller identity.Caller, paymentID string) (*paymentdomain.Receipt, error) {
	if err := s.authz.Authorize(ctx, caller, authorization.ObjectPayment, authorization.ActionPaymentView); err != nil {
		return nil, err
	}
	payment, err := s.load(ctx, caller, paymentID)
	if err != nil {
		return nil, err
	}
	if s.pdf == nil {
		return nil, paymentdomain.ErrReceiptUnavailable
	}
	if payment.Status != paymentdomain.StatusSucceeded && payment.Status != paymentdomain.StatusRefunded {
		return nil, paymentdomain.ErrReceiptUnavailable
	}
	order, err := s.orderRepo.FindByID(ctx, s.db, payment.OrderID, false)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}

	content, err := s.pdf.GenerateReceipt(ctx, receiptData(payment, order))
	if err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return &paymentdomain.Receipt{
		Filename: "receipt-" + order.OrderNumber + ".pdf",
		Content:  content,
	}, nil
}

func receiptData(payment *paymentdomain.Payment, order *orderdomain.Order) pdf.ReceiptData {
	money := func(minor int64) string { return orderdomain.FormatMoney(payment.Currency, minor) }
	shipping := order.ShippingAddress.Data()
	billing := order.BillingAddress.Data()

	data := pdf.ReceiptData{
		StoreName:     "Storefront",
		ReceiptNumber: payment.ID.String(),
		OrderNumber:   order.OrderNumber,
		PaymentMethod: string(payment.PaymentMethod),
		Gateway:       string(payment.Gateway),
		BillToName:    billing.FullName(),
		BillToAddress: formatAddress(billing),
		BillToEmail:   billing.Email,
		ShipToName:    shipping.FullName(),
		ShipToAddress: formatAddress(shipping),
		Subtotal:      money(order.Subtotal),
		Shipping:      money(order.ShippingFee),
		Tax:           money(order.Tax),
		Total:         money(payment.Amount),
	}
	if payment.GatewayTransactionID != nil {
		data.TransactionID = *payment.GatewayTransactionID
	}
	if order.PaidAt != nil {
		data.DatePaid = order.PaidAt.UTC().Format("2006-01-02")
	}
	if refunded := payment.RefundedAmount(paymentdomain.RefundStatusSucceeded); refunded > 0 {
		data.Refunded = money(refunded)
	}
	for _, item := range order.Items {
		data.Items = append(data.Items, pdf.ReceiptItem{
			Description: item.Name,
			Qty:         item.Quantity,
			UnitPrice:   money(item.UnitPrice),
			Amount:      money(item.Total()),
		})
	}
	return data
}

func formatAddress(a orderdomain.Address) string {
	parts := []string{}
	for _, part := range []string{a.Address, a.City, a.State, a.ZipCode, a.Country} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
