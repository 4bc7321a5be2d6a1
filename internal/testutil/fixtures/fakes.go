package fixtures

import (
	"context"
	"net/http"
	"sync"

	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/identity"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

// Gateway is a scriptable gateway client. Nil funcs answer
// ErrGatewayUnavailable.
type Gateway struct {
	Gateway paymentdomain.Gateway

	VerifyFunc       func(payload []byte, headers http.Header) (*paymentdomain.VerifiedEvent, error)
	CreateIntentFunc func(req paymentdomain.IntentRequest) (*paymentdomain.Intent, error)
	FetchPaymentFunc func(payment *paymentdomain.Payment) (*paymentdomain.VerifiedEvent, error)
	CreateRefundFunc func(req paymentdomain.RefundRequest) (*paymentdomain.GatewayRefund, error)
	FetchRefundFunc  func(payment *paymentdomain.Payment, refund *paymentdomain.Refund) (*paymentdomain.GatewayRefund, error)

	mu    sync.Mutex
	calls map[string]int
}

func (g *Gateway) record(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = map[string]int{}
	}
	g.calls[name]++
}

func (g *Gateway) Calls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

func (g *Gateway) Name() paymentdomain.Gateway { return g.Gateway }

func (g *Gateway) Verify(_ context.Context, payload []byte, headers http.Header) (*paymentdomain.VerifiedEvent, error) {
	g.record("verify")
	if g.VerifyFunc == nil {
		return nil, paymentdomain.ErrInvalidSignature
	}
	return g.VerifyFunc(payload, headers)
}

func (g *Gateway) CreateIntent(_ context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	g.record("create_intent")
	if g.CreateIntentFunc == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	return g.CreateIntentFunc(req)
}

func (g *Gateway) FetchPayment(_ context.Context, payment *paymentdomain.Payment) (*paymentdomain.VerifiedEvent, error) {
	g.record("fetch_payment")
	if g.FetchPaymentFunc == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	return g.FetchPaymentFunc(payment)
}

func (g *Gateway) CreateRefund(_ context.Context, req paymentdomain.RefundRequest) (*paymentdomain.GatewayRefund, error) {
	g.record("create_refund")
	if g.CreateRefundFunc == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	return g.CreateRefundFunc(req)
}

func (g *Gateway) FetchRefund(_ context.Context, payment *paymentdomain.Payment, refund *paymentdomain.Refund) (*paymentdomain.GatewayRefund, error) {
	g.record("fetch_refund")
	if g.FetchRefundFunc == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	return g.FetchRefundFunc(payment, refund)
}

type AuditEntry struct {
	ActorType  string
	ActorID    *string
	Action     string
	TargetType string
	TargetID   *string
	Metadata   map[string]any
}

// Audit records audit calls in memory.
type Audit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *Audit) AuditLog(_ context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, AuditEntry{
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	})
	return nil
}

func (a *Audit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

// Actions lists the recorded actions in call order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		out = append(out, entry.Action)
	}
	return out
}

func Customer(userID string) identity.Caller {
	return identity.Caller{UserID: userID, Role: identity.RoleCustomer, Email: userID + "@example.com"}
}

func Admin() identity.Caller {
	return identity.Caller{UserID: "admin-1", Role: identity.RoleAdmin}
}
