// Package reconcile owns every write to payment status, order status, the
// order payment mirror and the order timeline.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/lock"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/providers/slack"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Locker      lock.Locker
	Config      *config.ReconcileConfigHolder
	OrderRepo   orderdomain.Repository
	PaymentRepo paymentdomain.Repository
	AuditSvc    auditdomain.Service `optional:"true"`
	Metrics     *metrics.Metrics    `optional:"true"`
	Notifier    Notifier            `optional:"true"`
	Slack       slack.Provider      `optional:"true"`
}

const reconcileChannel = "#payments-reconciliation"

type Engine struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	locker      lock.Locker
	cfg         *config.ReconcileConfigHolder
	orderRepo   orderdomain.Repository
	paymentRepo paymentdomain.Repository
	auditSvc    auditdomain.Service
	metrics     *metrics.Metrics
	notifier    Notifier
	slack       slack.Provider
}

func New(p Params) *Engine {
	notifier := p.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	alerts := p.Slack
	if alerts == nil {
		alerts = &slack.NoOpProvider{}
	}
	return &Engine{
		db:          p.DB,
		log:         p.Log.Named("reconcile.engine"),
		genID:       p.GenID,
		clock:       p.Clock,
		locker:      p.Locker,
		cfg:         p.Config,
		orderRepo:   p.OrderRepo,
		paymentRepo: p.PaymentRepo,
		auditSvc:    p.AuditSvc,
		metrics:     p.Metrics,
		notifier:    notifier,
		slack:       alerts,
	}
}

// Result is the committed state after an engine operation.
type Result struct {
	Outcome paymentdomain.EventResult
	Payment *paymentdomain.Payment
	Order   *orderdomain.Order
	Refund  *paymentdomain.Refund
	Entry   *orderdomain.TimelineEntry
}

func paymentLockKey(gateway paymentdomain.Gateway, externalPaymentID string) string {
	return "payment:" + string(gateway) + ":" + externalPaymentID
}

func orderLockKey(id snowflake.ID) string {
	return "order:" + id.String()
}

// withLock runs fn while holding key. Release uses a detached context so a
// cancelled request still frees the key.
func (e *Engine) withLock(ctx context.Context, key string, fn func() error) error {
	cfg := e.cfg.Get()
	unlock, err := e.locker.Acquire(ctx, key, cfg.LockTTL, cfg.LockWait)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("release lock failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

// withRetry re-runs fn on lost compare-and-swap races and transient database
// errors. Every other error stops the loop immediately.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	cfg := e.cfg.Get()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialBackoff
	policy.MaxInterval = cfg.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrPersistenceConflict):
			e.metrics.RecordReconcileRetry(ctx, "conflict")
			return struct{}{}, err
		case db.IsTransientErr(err):
			e.metrics.RecordReconcileRetry(ctx, "transient")
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(cfg.MaxAttempts)))
	return err
}

func (e *Engine) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return e.db.WithContext(ctx).Transaction(fn)
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// writePayment persists payment with a compare-and-swap on its version.
func (e *Engine) writePayment(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	payment.UpdatedAt = e.now()
	ok, err := e.paymentRepo.UpdateState(ctx, tx, payment, payment.Version)
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return ErrOrderAlreadyPaid
		}
		return err
	}
	if !ok {
		return ErrPersistenceConflict
	}
	return nil
}

// writeOrder persists order with a compare-and-swap on its version and
// appends one timeline entry when the status moved away from previous.
func (e *Engine) writeOrder(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, previous orderdomain.Status, note string) (*orderdomain.TimelineEntry, error) {
	now := e.now()
	order.UpdatedAt = now
	ok, err := e.orderRepo.UpdateState(ctx, tx, order, order.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPersistenceConflict
	}
	if order.Status == previous {
		return nil, nil
	}
	entry := &orderdomain.TimelineEntry{
		ID:        e.genID.Generate(),
		OrderID:   order.ID,
		Status:    order.Status,
		Note:      note,
		CreatedAt: now,
	}
	if err := e.orderRepo.InsertTimeline(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (e *Engine) notify(ctx context.Context, kind ChangeKind, previous orderdomain.Status, result Result) {
	change := Change{
		Kind:           kind,
		PreviousStatus: previous,
		Entry:          result.Entry,
		OccurredAt:     e.now(),
	}
	if result.Order != nil {
		order := *result.Order
		change.Order = &order
	}
	if result.Payment != nil {
		payment := *result.Payment
		payment.Refunds = append([]paymentdomain.Refund(nil), result.Payment.Refunds...)
		change.Payment = &payment
	}
	if result.Refund != nil {
		refund := *result.Refund
		change.Refund = &refund
	}
	e.notifier.Notify(context.WithoutCancel(ctx), change)
}

func (e *Engine) eventLogger(ctx context.Context, event paymentdomain.VerifiedEvent) *zap.Logger {
	return logger.WithPayment(logger.WithContext(ctx, e.log), string(event.Gateway), event.ExternalPaymentID).
		With(
			zap.String("event_id", event.EventID),
			zap.String("outcome", string(event.Outcome)),
		)
}
