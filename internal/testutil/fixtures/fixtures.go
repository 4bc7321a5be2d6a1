// Package fixtures wires an in-memory database, repositories, casbin
// authorization and a reconciliation engine for service tests.
package fixtures

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/lock"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderrepo "github.com/smallbiznis/storefront/internal/order/repository"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"github.com/smallbiznis/storefront/internal/testutil/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Now = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    *clock.FakeClock
	Locker   lock.Locker
	Config   *config.ReconcileConfigHolder
	Orders   orderdomain.Repository
	Payments paymentdomain.Repository
	Audit    *Audit
	Authz    authorization.Service
	Notifier *Notifier
	Engine   *reconcile.Engine
}

func New(t *testing.T) *Env {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	cfg := config.DefaultReconcileConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond

	env := &Env{
		T:        t,
		DB:       dbtest.Open(t),
		Node:     node,
		Clock:    clock.NewFakeClock(Now),
		Locker:   lock.NewKeyedMutex(),
		Config:   config.NewStaticReconcileConfigHolder(cfg),
		Orders:   orderrepo.Provide(),
		Payments: paymentrepo.Provide(),
		Audit:    &Audit{},
		Notifier: &Notifier{},
	}
	enforcer, err := authorization.NewEnforcer(env.DB)
	require.NoError(t, err)
	env.Authz = authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	env.Engine = reconcile.New(reconcile.Params{
		DB:          env.DB,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       env.Clock,
		Locker:      env.Locker,
		Config:      env.Config,
		OrderRepo:   env.Orders,
		PaymentRepo: env.Payments,
		AuditSvc:    env.Audit,
		Notifier:    env.Notifier,
	})
	return env
}

// Order inserts an order owned by userID with a single line item worth total.
func (e *Env) Order(userID string, total int64, status orderdomain.Status) *orderdomain.Order {
	e.T.Helper()
	now := e.Clock.Now()
	id := e.Node.Generate()
	address := orderdomain.Address{FirstName: "Meera", LastName: "Iyer", Email: "meera@example.com", Phone: "9876543210", City: "Pune"}
	order := &orderdomain.Order{
		ID:              id,
		OrderNumber:     "ORD250401" + id.String()[len(id.String())-6:],
		UserID:          userID,
		Items:           datatypes.NewJSONSlice([]orderdomain.LineItem{{ProductID: "p-1", Name: "Kurta", UnitPrice: total, Quantity: 1}}),
		ShippingAddress: datatypes.NewJSONType(address),
		BillingAddress:  datatypes.NewJSONType(address),
		Subtotal:        total,
		Total:           total,
		Currency:        "INR",
		Status:          status,
		PaymentStatus:   orderdomain.PaymentStatusPending,
		Tracking:        datatypes.NewJSONType(orderdomain.Tracking{}),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ctx := context.Background()
	require.NoError(e.T, e.Orders.Insert(ctx, e.DB, order))
	require.NoError(e.T, e.Orders.InsertTimeline(ctx, e.DB, &orderdomain.TimelineEntry{
		ID: e.Node.Generate(), OrderID: order.ID, Status: status, Note: "Order placed", CreatedAt: now,
	}))
	return order
}

func (e *Env) Payment(order *orderdomain.Order, gateway paymentdomain.Gateway, externalID string, status paymentdomain.Status) *paymentdomain.Payment {
	e.T.Helper()
	now := e.Clock.Now()
	payment := &paymentdomain.Payment{
		ID:                e.Node.Generate(),
		OrderID:           order.ID,
		UserID:            order.UserID,
		Gateway:           gateway,
		ExternalPaymentID: externalID,
		Amount:            order.Total,
		Currency:          order.Currency,
		Status:            status,
		Metadata:          datatypes.JSONMap{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(e.T, e.Payments.Insert(context.Background(), e.DB, payment))
	return payment
}

// Paid drives a pending payment to succeeded through the engine.
func (e *Env) Paid(payment *paymentdomain.Payment, transactionID string) {
	e.T.Helper()
	_, err := e.Engine.ApplyEvent(context.Background(), paymentdomain.VerifiedEvent{
		Gateway:           payment.Gateway,
		EventID:           "seed:" + payment.ExternalPaymentID,
		ExternalPaymentID: payment.ExternalPaymentID,
		TransactionID:     transactionID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Outcome:           paymentdomain.OutcomeSucceeded,
		OccurredAt:        e.Clock.Now(),
	})
	require.NoError(e.T, err)
}

func (e *Env) ReloadOrder(id snowflake.ID) *orderdomain.Order {
	e.T.Helper()
	order, err := e.Orders.FindByID(context.Background(), e.DB, id, false)
	require.NoError(e.T, err)
	require.NotNil(e.T, order)
	return order
}

func (e *Env) ReloadPayment(id snowflake.ID) *paymentdomain.Payment {
	e.T.Helper()
	payment, err := e.Payments.FindByID(context.Background(), e.DB, id, false)
	require.NoError(e.T, err)
	require.NotNil(e.T, payment)
	return payment
}

func (e *Env) Timeline(id snowflake.ID) []orderdomain.TimelineEntry {
	e.T.Helper()
	entries, err := e.Orders.ListTimeline(context.Background(), e.DB, id)
	require.NoError(e.T, err)
	return entries
}

// Notifier records every change the engine publishes.
type Notifier struct {
	mu      sync.Mutex
	changes []reconcile.Change
}

func (n *Notifier) Notify(_ context.Context, change reconcile.Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
}

func (n *Notifier) Changes() []reconcile.Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]reconcile.Change(nil), n.changes...)
}
