package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/identity"
	"github.com/smallbiznis/storefront/internal/notification"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPaymentService struct{ mock.Mock }

func (m *mockPaymentService) CreatePaymentIntent(ctx context.Context, caller identity.Caller, req paymentdomain.CreateIntentRequest) (*paymentdomain.CreateIntentResponse, error) {
	args := m.Called(ctx, caller, req)
	resp, _ := args.Get(0).(*paymentdomain.CreateIntentResponse)
	return resp, args.Error(1)
}

func (m *mockPaymentService) Confirm(ctx context.Context, caller identity.Caller, paymentID string) (*paymentdomain.Payment, error) {
	args := m.Called(ctx, caller, paymentID)
	payment, _ := args.Get(0).(*paymentdomain.Payment)
	return payment, args.Error(1)
}

func (m *mockPaymentService) Get(ctx context.Context, caller identity.Caller, paymentID string) (*paymentdomain.Payment, error) {
	args := m.Called(ctx, caller, paymentID)
	payment, _ := args.Get(0).(*paymentdomain.Payment)
	return payment, args.Error(1)
}

func (m *mockPaymentService) List(ctx context.Context, caller identity.Caller, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	args := m.Called(ctx, caller, req)
	return args.Get(0).(paymentdomain.ListPaymentResponse), args.Error(1)
}

func (m *mockPaymentService) Analytics(ctx context.Context, caller identity.Caller, req paymentdomain.AnalyticsRequest) (*paymentdomain.AnalyticsResponse, error) {
	args := m.Called(ctx, caller, req)
	resp, _ := args.Get(0).(*paymentdomain.AnalyticsResponse)
	return resp, args.Error(1)
}

func (m *mockPaymentService) Receipt(ctx context.Context, caller identity.Caller, paymentID string) (*paymentdomain.Receipt, error) {
	args := m.Called(ctx, caller, paymentID)
	receipt, _ := args.Get(0).(*paymentdomain.Receipt)
	return receipt, args.Error(1)
}

type mockRefundService struct{ mock.Mock }

func (m *mockRefundService) CreateRefund(ctx context.Context, req paymentdomain.CreateRefundRequest) (*paymentdomain.Refund, error) {
	args := m.Called(ctx, req)
	refund, _ := args.Get(0).(*paymentdomain.Refund)
	return refund, args.Error(1)
}

func (m *mockRefundService) ResolveRefund(ctx context.Context, req paymentdomain.ResolveRefundRequest) (*paymentdomain.Refund, error) {
	args := m.Called(ctx, req)
	refund, _ := args.Get(0).(*paymentdomain.Refund)
	return refund, args.Error(1)
}

type mockWebhookService struct{ mock.Mock }

func (m *mockWebhookService) Ingest(ctx context.Context, source string, payload []byte, headers http.Header) error {
	args := m.Called(ctx, source, payload, headers)
	return args.Error(0)
}

type mockOrderService struct{ mock.Mock }

func (m *mockOrderService) Create(ctx context.Context, caller identity.Caller, req orderdomain.CreateOrderRequest) (*orderdomain.Order, error) {
	args := m.Called(ctx, caller, req)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) Get(ctx context.Context, caller identity.Caller, id string) (*orderdomain.Order, error) {
	args := m.Called(ctx, caller, id)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) List(ctx context.Context, caller identity.Caller, req orderdomain.ListOrderRequest) (orderdomain.ListOrderResponse, error) {
	args := m.Called(ctx, caller, req)
	return args.Get(0).(orderdomain.ListOrderResponse), args.Error(1)
}

func (m *mockOrderService) ListAll(ctx context.Context, caller identity.Caller, req orderdomain.ListOrderRequest) (orderdomain.ListOrderResponse, error) {
	args := m.Called(ctx, caller, req)
	return args.Get(0).(orderdomain.ListOrderResponse), args.Error(1)
}

func (m *mockOrderService) Cancel(ctx context.Context, caller identity.Caller, id string, req orderdomain.CancelOrderRequest) (*orderdomain.Order, error) {
	args := m.Called(ctx, caller, id, req)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) UpdateStatus(ctx context.Context, caller identity.Caller, id string, req orderdomain.UpdateStatusRequest) (*orderdomain.Order, error) {
	args := m.Called(ctx, caller, id, req)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

func (m *mockOrderService) UpdateTracking(ctx context.Context, caller identity.Caller, id string, req orderdomain.UpdateTrackingRequest) (*orderdomain.Order, error) {
	args := m.Called(ctx, caller, id, req)
	order, _ := args.Get(0).(*orderdomain.Order)
	return order, args.Error(1)
}

type mockAuditService struct{ mock.Mock }

func (m *mockAuditService) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (m *mockAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(auditdomain.ListAuditLogResponse), args.Error(1)
}

// adminOnly grants admin-scoped capabilities to admins and everything else
// to any caller.
type adminOnly struct{}

func (adminOnly) Authorize(ctx context.Context, caller identity.Caller, object string, action string) error {
	switch action {
	case authorization.ActionOrderStream, authorization.ActionAuditLogView:
		if !caller.IsAdmin() {
			return authorization.ErrForbidden
		}
	}
	return nil
}

type testServer struct {
	srv      *Server
	payments *mockPaymentService
	refunds  *mockRefundService
	webhooks *mockWebhookService
	orders   *mockOrderService
	audit    *mockAuditService
	hub      *notification.Hub
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		payments: &mockPaymentService{},
		refunds:  &mockRefundService{},
		webhooks: &mockWebhookService{},
		orders:   &mockOrderService{},
		audit:    &mockAuditService{},
		hub:      notification.NewHub(),
	}
	ts.srv = NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		AuthzSvc:   adminOnly{},
		AuditSvc:   ts.audit,
		OrderSvc:   ts.orders,
		PaymentSvc: ts.payments,
		RefundSvc:  ts.refunds,
		WebhookSvc: ts.webhooks,
		LiveEvents: ts.hub,
	})
	t.Cleanup(func() {
		ts.payments.AssertExpectations(t)
		ts.refunds.AssertExpectations(t)
		ts.webhooks.AssertExpectations(t)
		ts.orders.AssertExpectations(t)
		ts.audit.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(resp, req)
	return resp
}

func asCustomer(req *http.Request, userID string) *http.Request {
	req.Header.Set(HeaderUserID, userID)
	req.Header.Set(HeaderUserEmail, userID+"@example.com")
	return req
}

func asAdmin(req *http.Request) *http.Request {
	req.Header.Set(HeaderUserID, "admin-1")
	req.Header.Set(HeaderUserRole, "admin")
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var body envelopeBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), resp.Body.String())
	return body
}

func TestIdentityRequired(t *testing.T) {
	secret := "identity-secret"
	ts := newTestServer(t, config.Config{Identity: config.IdentityConfig{SharedSecret: secret}})

	t.Run("missing user", func(t *testing.T) {
		resp := ts.do(httptest.NewRequest(http.MethodGet, "/api/payments/12", nil))
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
		body := decodeEnvelope(t, resp)
		assert.False(t, body.Success)
		assert.Equal(t, "unauthorized", body.Message)
	})

	t.Run("bad signature", func(t *testing.T) {
		req := asCustomer(httptest.NewRequest(http.MethodGet, "/api/payments/12", nil), "user-1")
		req.Header.Set(HeaderIdentitySignature, "deadbeef")
		resp := ts.do(req)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		req := asCustomer(httptest.NewRequest(http.MethodGet, "/api/payments/12", nil), "user-1")
		req.Header.Set(HeaderUserRole, "superuser")
		resp := ts.do(req)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("signed caller", func(t *testing.T) {
		req := asCustomer(httptest.NewRequest(http.MethodGet, "/api/payments/12", nil), "user-1")
		req.Header.Set(HeaderIdentitySignature, identity.Sign(secret, "user-1", "", "user-1@example.com"))

		expected := identity.Caller{UserID: "user-1", Role: identity.RoleCustomer, Email: "user-1@example.com"}
		ts.payments.On("Get", mock.Anything, expected, "12").
			Return(&paymentdomain.Payment{Currency: "INR", Amount: 118000}, nil).Once()

		resp := ts.do(req)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		body := decodeEnvelope(t, resp)
		assert.True(t, body.Success)
		assert.Contains(t, string(body.Data), "118000")
	})
}

func TestWebhookAcknowledgement(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.webhooks.On("Ingest", mock.Anything, "stripe", []byte(`{"id":"evt_1"}`), mock.Anything).Return(nil).Once()
	resp := ts.do(jsonRequest(http.MethodPost, "/api/webhooks/stripe", `{"id":"evt_1"}`))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"success":true}`, resp.Body.String())

	ts.webhooks.On("Ingest", mock.Anything, "razorpay_callback", mock.Anything, mock.Anything).Return(nil).Once()
	resp = ts.do(jsonRequest(http.MethodPost, "/api/payments/razorpay/verify", `{"razorpay_order_id":"order_1"}`))
	assert.Equal(t, http.StatusOK, resp.Code)

	ts.webhooks.On("Ingest", mock.Anything, "payu", mock.Anything, mock.Anything).Return(nil).Twice()
	for _, path := range []string{"/api/webhooks/payu/success", "/api/webhooks/payu/failure"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("txnid=T1&status=success"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp = ts.do(req)
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestWebhookRejectionHidesDetail(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"tampered payload", fmt.Errorf("stripe: %w", paymentdomain.ErrInvalidSignature), http.StatusBadRequest},
		{"malformed payload", paymentdomain.ErrInvalidPayload, http.StatusBadRequest},
		{"unknown payment", paymentdomain.ErrPaymentNotFound, http.StatusBadRequest},
		{"gateway down", paymentdomain.ErrGatewayUnavailable, http.StatusServiceUnavailable},
		{"write conflict", reconcile.ErrPersistenceConflict, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, config.Config{})
			ts.webhooks.On("Ingest", mock.Anything, "razorpay", mock.Anything, mock.Anything).Return(tt.err).Once()

			resp := ts.do(jsonRequest(http.MethodPost, "/api/webhooks/razorpay", `{"event":"payment.captured"}`))
			assert.Equal(t, tt.status, resp.Code)
			body := decodeEnvelope(t, resp)
			assert.False(t, body.Success)
			assert.Equal(t, "webhook rejected", body.Message)
			assert.NotContains(t, resp.Body.String(), tt.err.Error())
		})
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.payments.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(c identity.Caller) bool {
		return c.UserID == "user-1"
	}), paymentdomain.CreateIntentRequest{OrderID: "101", Gateway: "stripe"}).
		Return(&paymentdomain.CreateIntentResponse{
			PaymentID:         "202",
			Gateway:           paymentdomain.GatewayStripe,
			ExternalPaymentID: "pi_1",
			ClientSecret:      "pi_1_secret",
			Amount:            118000,
			Currency:          "INR",
		}, nil).Once()

	resp := ts.do(asCustomer(jsonRequest(http.MethodPost, "/api/payments/intents", `{"order_id":"101","gateway":"stripe"}`), "user-1"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body struct {
		Success bool                               `json:"success"`
		Data    paymentdomain.CreateIntentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "pi_1_secret", body.Data.ClientSecret)
	assert.Equal(t, int64(118000), body.Data.Amount)
}

func TestCreatePaymentIntentRejectsBadBody(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(asCustomer(jsonRequest(http.MethodPost, "/api/payments/intents", `{"order_id":`), "user-1"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	body := decodeEnvelope(t, resp)
	assert.False(t, body.Success)
	assert.Contains(t, string(body.Data), "invalid_request")
}

func TestCreateRefund(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.refunds.On("CreateRefund", mock.Anything, mock.MatchedBy(func(req paymentdomain.CreateRefundRequest) bool {
		return req.PaymentID == "202" && req.Amount == nil && req.Actor.UserID == "user-1"
	})).Return(&paymentdomain.Refund{Amount: 118000, Status: paymentdomain.RefundStatusPending}, nil).Once()

	req := asCustomer(httptest.NewRequest(http.MethodPost, "/api/payments/202/refunds", nil), "user-1")
	resp := ts.do(req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	partial := int64(5000)
	ts.refunds.On("CreateRefund", mock.Anything, mock.MatchedBy(func(req paymentdomain.CreateRefundRequest) bool {
		return req.Amount != nil && *req.Amount == partial && req.Reason == "damaged"
	})).Return(nil, paymentdomain.ErrRefundAmountExceedsAvailable).Once()

	resp = ts.do(asCustomer(jsonRequest(http.MethodPost, "/api/payments/202/refunds", `{"amount":5000,"reason":"damaged"}`), "user-1"))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "refund amount exceeds the refundable balance", decodeEnvelope(t, resp).Message)
}

func TestResolveRefund(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.refunds.On("ResolveRefund", mock.Anything, mock.MatchedBy(func(req paymentdomain.ResolveRefundRequest) bool {
		return req.PaymentID == "202" && req.RefundID == "303" &&
			req.Status == paymentdomain.RefundStatusSucceeded && req.GatewayRefundID == "payu-r-1"
	})).Return(&paymentdomain.Refund{Status: paymentdomain.RefundStatusSucceeded}, nil).Once()

	resp := ts.do(asAdmin(jsonRequest(http.MethodPost, "/api/admin/payments/202/refunds/303/resolve", `{"status":"Succeeded","gateway_refund_id":"payu-r-1"}`)))
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestDownloadPaymentReceipt(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.payments.On("Receipt", mock.Anything, mock.Anything, "202").
		Return(&paymentdomain.Receipt{Filename: "receipt-ORD1.pdf", Content: strings.NewReader("%PDF-1.7")}, nil).Once()

	resp := ts.do(asCustomer(httptest.NewRequest(http.MethodGet, "/api/payments/202/receipt", nil), "user-1"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "receipt-ORD1.pdf")
	assert.Equal(t, "%PDF-1.7", resp.Body.String())
}

func TestPaymentAnalyticsRange(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 30, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
	ts.payments.On("Analytics", mock.Anything, mock.Anything, paymentdomain.AnalyticsRequest{Start: start, End: end}).
		Return(&paymentdomain.AnalyticsResponse{Start: start, End: end, TotalPayments: 3, TotalRevenue: 354000}, nil).Once()

	resp := ts.do(asAdmin(httptest.NewRequest(http.MethodGet, "/api/admin/payments/analytics?start=2026-04-01&end=2026-04-30", nil)))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, string(decodeEnvelope(t, resp).Data), `"totalRevenue":354000`)

	resp = ts.do(asAdmin(httptest.NewRequest(http.MethodGet, "/api/admin/payments/analytics?start=yesterday", nil)))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestOrderErrorsMapToStatus(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.orders.On("Cancel", mock.Anything, mock.Anything, "101", orderdomain.CancelOrderRequest{}).
		Return(nil, orderdomain.ErrOrderNotCancellable).Once()
	resp := ts.do(asCustomer(httptest.NewRequest(http.MethodPost, "/api/orders/101/cancel", nil), "user-1"))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "order can no longer be cancelled", decodeEnvelope(t, resp).Message)

	ts.orders.On("Get", mock.Anything, mock.Anything, "999").Return(nil, orderdomain.ErrOrderNotFound).Once()
	resp = ts.do(asCustomer(httptest.NewRequest(http.MethodGet, "/api/orders/999", nil), "user-1"))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "order not found", decodeEnvelope(t, resp).Message)

	ts.orders.On("UpdateStatus", mock.Anything, mock.Anything, "101", orderdomain.UpdateStatusRequest{Status: orderdomain.Status("shipped")}).
		Return(nil, authorization.ErrForbidden).Once()
	resp = ts.do(asCustomer(jsonRequest(http.MethodPut, "/api/admin/orders/101/status", `{"status":"shipped"}`), "user-1"))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestListOrdersPagination(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	ts.orders.On("List", mock.Anything, mock.Anything, mock.MatchedBy(func(req orderdomain.ListOrderRequest) bool {
		return req.Limit == 5 && req.Skip == 10 && req.Status == "pending"
	})).Return(orderdomain.ListOrderResponse{}, nil).Once()

	resp := ts.do(asCustomer(httptest.NewRequest(http.MethodGet, "/api/orders?limit=5&skip=10&status=pending", nil), "user-1"))
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestAuditLogsRequireAdmin(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(asCustomer(httptest.NewRequest(http.MethodGet, "/api/admin/audit-logs", nil), "user-1"))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	ts.audit.On("List", mock.Anything, mock.MatchedBy(func(req auditdomain.ListAuditLogRequest) bool {
		return req.Action == "refund.resolved" && req.StartAt != nil && req.EndAt == nil
	})).Return(auditdomain.ListAuditLogResponse{}, nil).Once()

	resp = ts.do(asAdmin(httptest.NewRequest(http.MethodGet, "/api/admin/audit-logs?action=refund.resolved&start_at=2026-04-01", nil)))
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestStreamOrderEvents(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.hub.Publish(notification.Event{Type: notification.EventOrderUpdated, OrderID: "101", Status: "confirmed"})

	resp := ts.do(asCustomer(httptest.NewRequest(http.MethodGet, "/api/admin/orders/stream", nil), "user-1"))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	ctx, cancel := context.WithCancel(context.Background())
	req := asAdmin(httptest.NewRequest(http.MethodGet, "/api/admin/orders/stream", nil)).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.srv.Engine().ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool { return ts.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	ts.hub.Publish(notification.Event{Type: notification.EventPaymentUpdated, PaymentID: "202", PaymentState: "succeeded"})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "retry: 2000\n\n"))
	assert.Contains(t, body, "event: order-updated\ndata: {")
	assert.Contains(t, body, "event: payment-updated\ndata: {")
	assert.Less(t, strings.Index(body, "order-updated"), strings.Index(body, "payment-updated"))
	assert.Equal(t, 0, ts.hub.Subscribers())
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(fmt.Errorf("apply: %w", reconcile.ErrPersistenceConflict))
	assert.Equal(t, "conflict", errType)
	assert.Equal(t, "persistence_conflict", code)

	errType, code = classifyErrorForLog(orderdomain.ErrInvalidItems)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "invalid_items", code)

	errType, code = classifyErrorForLog(fmt.Errorf("boom"))
	assert.Equal(t, "internal_error", errType)
	assert.Equal(t, "internal_error", code)
}
