package service

import (
	"bytes"
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/order/number"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/refund"
	"github.com/smallbiznis/storefront/internal/testutil/fixtures"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type testService struct {
	domain.Service
	env     *fixtures.Env
	gateway *fixtures.Gateway
}

func newTestService(t *testing.T, numbers *number.Generator) *testService {
	t.Helper()
	env := fixtures.New(t)
	gateway := &fixtures.Gateway{
		Gateway: paymentdomain.GatewayStripe,
		CreateRefundFunc: func(req paymentdomain.RefundRequest) (*paymentdomain.GatewayRefund, error) {
			return &paymentdomain.GatewayRefund{GatewayRefundID: "re_cancel", Status: paymentdomain.RefundStatusPending}, nil
		},
	}
	refunds := refund.NewService(refund.Params{
		DB:       env.DB,
		Log:      zap.NewNop(),
		Repo:     env.Payments,
		Adapters: adapters.NewRegistry(gateway),
		Engine:   env.Engine,
		Authz:    env.Authz,
		AuditSvc: env.Audit,
	})
	svc := NewService(Params{
		DB:       env.DB,
		Log:      zap.NewNop(),
		GenID:    env.Node,
		Clock:    env.Clock,
		Repo:     env.Orders,
		Engine:   env.Engine,
		Authz:    env.Authz,
		Numbers:  numbers,
		Refunds:  refunds,
		AuditSvc: env.Audit,
	})
	return &testService{Service: svc, env: env, gateway: gateway}
}

func cart() domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		Items: []domain.LineItem{
			{ProductID: "kurta-1", Name: "Cotton Kurta", UnitPrice: 50000, Quantity: 2},
		},
		ShippingAddress: domain.Address{
			FirstName: "Meera",
			LastName:  "Iyer",
			Email:     "meera@example.com",
			Address:   "12 MG Road",
			City:      "Pune",
			ZipCode:   "411001",
			Country:   "IN",
		},
	}
}

func TestCreatePricesAndStoresOrder(t *testing.T) {
	svc := newTestService(t, nil)
	order, err := svc.Create(context.Background(), fixtures.Customer("user-1"), cart())
	require.NoError(t, err)

	assert.Equal(t, int64(100000), order.Subtotal)
	assert.Equal(t, int64(10000), order.ShippingFee)
	assert.Equal(t, int64(18000), order.Tax)
	assert.Equal(t, int64(128000), order.Total)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Regexp(t, `^ORD250401\d{6}$`, order.OrderNumber)
	assert.Equal(t, "Meera", order.BillingAddress.Data().FirstName)

	timeline := svc.env.Timeline(order.ID)
	require.Len(t, timeline, 1)
	assert.Equal(t, "Order placed", timeline[0].Note)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	empty := cart()
	empty.Items = nil
	noQuantity := cart()
	noQuantity.Items[0].Quantity = 0
	free := cart()
	free.Items[0].UnitPrice = 0
	noCity := cart()
	noCity.ShippingAddress.City = " "
	dollars := cart()
	dollars.Currency = "usd"

	cases := []struct {
		name string
		req  domain.CreateOrderRequest
		err  error
	}{
		{"no items", empty, domain.ErrInvalidItems},
		{"zero quantity", noQuantity, domain.ErrInvalidQuantity},
		{"zero price", free, domain.ErrInvalidPrice},
		{"incomplete address", noCity, domain.ErrInvalidAddress},
		{"foreign currency", dollars, domain.ErrInvalidCurrency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, fixtures.Customer("user-1"), tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCreateRetriesOrderNumberCollision(t *testing.T) {
	source := bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 0, 1})
	svc := newTestService(t, number.NewGeneratorWithSource(source))
	ctx := context.Background()

	first, err := svc.Create(ctx, fixtures.Customer("user-1"), cart())
	require.NoError(t, err)
	assert.Equal(t, "ORD250401000000", first.OrderNumber)

	second, err := svc.Create(ctx, fixtures.Customer("user-1"), cart())
	require.NoError(t, err)
	assert.Equal(t, "ORD250401000001", second.OrderNumber)
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	svc := newTestService(t, number.NewGeneratorWithSource(zeroReader{}))
	ctx := context.Background()

	_, err := svc.Create(ctx, fixtures.Customer("user-1"), cart())
	require.NoError(t, err)
	_, err = svc.Create(ctx, fixtures.Customer("user-1"), cart())
	assert.ErrorIs(t, err, domain.ErrOrderNumberExhausted)
}

func TestGetAndList(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	mine := svc.env.Order("user-1", 50000, domain.StatusPending)
	svc.env.Order("user-1", 70000, domain.StatusConfirmed)
	svc.env.Order("user-2", 90000, domain.StatusPending)

	got, err := svc.Get(ctx, fixtures.Customer("user-1"), mine.ID.String())
	require.NoError(t, err)
	assert.Len(t, got.Timeline, 1)

	_, err = svc.Get(ctx, fixtures.Customer("user-2"), mine.ID.String())
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	_, err = svc.Get(ctx, fixtures.Customer("user-1"), "not-an-id")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	listed, err := svc.List(ctx, fixtures.Customer("user-1"), domain.ListOrderRequest{Pagination: pagination.Pagination{Limit: 10}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), listed.Total)
	assert.Equal(t, int64(1), listed.StatusCounts[domain.StatusConfirmed])

	filtered, err := svc.List(ctx, fixtures.Customer("user-1"), domain.ListOrderRequest{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, filtered.Orders, 1)
	assert.Equal(t, mine.ID, filtered.Orders[0].ID)

	_, err = svc.List(ctx, fixtures.Customer("user-1"), domain.ListOrderRequest{Status: "lost"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = svc.ListAll(ctx, fixtures.Customer("user-1"), domain.ListOrderRequest{})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	all, err := svc.ListAll(ctx, fixtures.Admin(), domain.ListOrderRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
}

func TestCancelUnpaidOrder(t *testing.T) {
	svc := newTestService(t, nil)
	order := svc.env.Order("user-1", 50000, domain.StatusPending)

	cancelled, err := svc.Cancel(context.Background(), fixtures.Customer("user-1"), order.ID.String(), domain.CancelOrderRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.PaymentStatus)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "Cancelled by customer", *cancelled.CancelReason)
	assert.Len(t, cancelled.Timeline, 2)
	assert.Zero(t, svc.gateway.Calls("create_refund"))

	_, err = svc.Cancel(context.Background(), fixtures.Customer("user-1"), order.ID.String(), domain.CancelOrderRequest{})
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
}

func TestCancelPaidOrderRequestsRefund(t *testing.T) {
	svc := newTestService(t, nil)
	order := svc.env.Order("user-1", 50000, domain.StatusPending)
	payment := svc.env.Payment(order, paymentdomain.GatewayStripe, "pi_cancel", paymentdomain.StatusPending)
	svc.env.Paid(payment, "ch_cancel")

	cancelled, err := svc.Cancel(context.Background(), fixtures.Customer("user-1"), order.ID.String(), domain.CancelOrderRequest{Reason: "changed my mind"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, 1, svc.gateway.Calls("create_refund"))

	stored := svc.env.ReloadPayment(payment.ID)
	require.Len(t, stored.Refunds, 1)
	assert.Equal(t, int64(50000), stored.Refunds[0].Amount)
	assert.Equal(t, paymentdomain.RefundStatusPending, stored.Refunds[0].Status)
	assert.Equal(t, []string{auditdomain.ActionOrderCancelled, auditdomain.ActionRefundRequested}, svc.env.Audit.Actions())
}

func TestUpdateStatusAndTracking(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	order := svc.env.Order("user-1", 50000, domain.StatusConfirmed)

	_, err := svc.UpdateStatus(ctx, fixtures.Customer("user-1"), order.ID.String(), domain.UpdateStatusRequest{Status: domain.StatusProcessing})
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	_, err = svc.UpdateStatus(ctx, fixtures.Admin(), order.ID.String(), domain.UpdateStatusRequest{Status: "teleported"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	processing, err := svc.UpdateStatus(ctx, fixtures.Admin(), order.ID.String(), domain.UpdateStatusRequest{
		Status:     domain.StatusProcessing,
		AdminNotes: "gift wrap",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, processing.Status)
	require.NotNil(t, processing.AdminNotes)
	assert.Equal(t, "gift wrap", *processing.AdminNotes)

	_, err = svc.UpdateTracking(ctx, fixtures.Admin(), order.ID.String(), domain.UpdateTrackingRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidTracking)

	shipped, err := svc.UpdateTracking(ctx, fixtures.Admin(), order.ID.String(), domain.UpdateTrackingRequest{
		Tracking: domain.Tracking{Carrier: "Delhivery", TrackingNumber: "DL123", TrackingURL: "https://track.example/DL123"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, shipped.Status)
	assert.Equal(t, "DL123", shipped.Tracking.Data().TrackingNumber)

	delivered, err := svc.UpdateStatus(ctx, fixtures.Admin(), order.ID.String(), domain.UpdateStatusRequest{Status: domain.StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, delivered.Status)

	_, err = svc.UpdateStatus(ctx, fixtures.Admin(), order.ID.String(), domain.UpdateStatusRequest{Status: domain.StatusProcessing})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, []string{
		auditdomain.ActionOrderStatusUpdated,
		auditdomain.ActionOrderTrackingUpdated,
		auditdomain.ActionOrderStatusUpdated,
	}, svc.env.Audit.Actions())
}
