package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/testutil/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_storefront"

type mockSlack struct {
	mock.Mock
}

func (m *mockSlack) PostMessage(ctx context.Context, channel string, message string) error {
	return m.Called(ctx, channel, message).Error(0)
}

func newTestService(t *testing.T, alerts *mockSlack, extra ...paymentdomain.Client) (paymentdomain.WebhookService, *fixtures.Env) {
	t.Helper()
	env := fixtures.New(t)
	clients := append([]paymentdomain.Client{
		stripe.New(stripe.Config{WebhookSecret: webhookSecret}, env.Clock),
	}, extra...)
	svc := NewService(Params{
		Log:      zap.NewNop(),
		Adapters: adapters.NewRegistry(clients...),
		Engine:   env.Engine,
		AuditSvc: env.Audit,
		Slack:    alerts,
	})
	return svc, env
}

func stripeEvent(eventID, intentID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "type": "payment_intent.succeeded",
  "created": %d,
  "data": {"object": {
    "id": %q,
    "amount": %d,
    "amount_received": %d,
    "currency": "inr",
    "payment_method_types": ["card"],
    "latest_charge": "ch_%s"
  }}
}`, eventID, fixtures.Now.Unix(), intentID, amount, amount, intentID))
}

func signed(payload []byte) http.Header {
	ts := strconv.FormatInt(fixtures.Now.Unix(), 10)
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, stripe.Sign(webhookSecret, ts, payload)))
	return header
}

func TestIngestAppliesSignedEvent(t *testing.T) {
	svc, env := newTestService(t, &mockSlack{})
	order := env.Order("user-1", 50000, orderdomain.StatusPending)
	payment := env.Payment(order, paymentdomain.GatewayStripe, "pi_hook", paymentdomain.StatusPending)
	payload := stripeEvent("evt_hook", "pi_hook", 50000)

	require.NoError(t, svc.Ingest(context.Background(), "stripe", payload, signed(payload)))
	assert.Equal(t, paymentdomain.StatusSucceeded, env.ReloadPayment(payment.ID).Status)
	assert.Equal(t, orderdomain.PaymentStatusCompleted, env.ReloadOrder(order.ID).PaymentStatus)

	require.NoError(t, svc.Ingest(context.Background(), "Stripe", payload, signed(payload)))
	assert.Len(t, env.Notifier.Changes(), 1)
}

func TestIngestSecondSuccessForPaidOrderIsAcknowledged(t *testing.T) {
	svc, env := newTestService(t, &mockSlack{})
	order := env.Order("user-1", 50000, orderdomain.StatusPending)
	first := env.Payment(order, paymentdomain.GatewayStripe, "pi_first", paymentdomain.StatusPending)
	env.Payment(order, paymentdomain.GatewayStripe, "pi_second", paymentdomain.StatusPending)
	env.Paid(first, "ch_first")

	payload := stripeEvent("evt_second", "pi_second", 50000)
	require.NoError(t, svc.Ingest(context.Background(), "stripe", payload, signed(payload)))
	assert.Contains(t, env.Audit.Actions(), auditdomain.ActionDuplicatePayment)
}

func TestIngestUnknownPayment(t *testing.T) {
	svc, _ := newTestService(t, &mockSlack{})
	payload := stripeEvent("evt_lost", "pi_lost", 50000)

	err := svc.Ingest(context.Background(), "stripe", payload, signed(payload))
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	alerts := &mockSlack{}
	alerts.On("PostMessage", mock.Anything, securityChannel, mock.MatchedBy(func(message string) bool {
		return message != ""
	})).Return(nil).Once()
	svc, env := newTestService(t, alerts)
	order := env.Order("user-1", 50000, orderdomain.StatusPending)
	payment := env.Payment(order, paymentdomain.GatewayStripe, "pi_forged", paymentdomain.StatusPending)

	payload := stripeEvent("evt_forged", "pi_forged", 50000)
	headers := signed([]byte(`{"id":"something else"}`))
	err := svc.Ingest(context.Background(), "stripe", payload, headers)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	assert.Equal(t, paymentdomain.StatusPending, env.ReloadPayment(payment.ID).Status)
	assert.Equal(t, []string{auditdomain.ActionSignatureRejected}, env.Audit.Actions())
	alerts.AssertExpectations(t)
}

func TestIngestIgnoredEvent(t *testing.T) {
	ignoring := &fixtures.Gateway{
		Gateway: paymentdomain.GatewayPayU,
		VerifyFunc: func([]byte, http.Header) (*paymentdomain.VerifiedEvent, error) {
			return nil, paymentdomain.ErrEventIgnored
		},
	}
	svc, _ := newTestService(t, &mockSlack{}, ignoring)

	assert.NoError(t, svc.Ingest(context.Background(), "payu", []byte("status=pending"), http.Header{}))
	assert.Equal(t, 1, ignoring.Calls("verify"))
}

func TestIngestUnknownSource(t *testing.T) {
	svc, _ := newTestService(t, &mockSlack{})
	assert.ErrorIs(t, svc.Ingest(context.Background(), "paypal", []byte("{}"), http.Header{}), paymentdomain.ErrInvalidGateway)
	assert.ErrorIs(t, svc.Ingest(context.Background(), "stripe", nil, http.Header{}), paymentdomain.ErrInvalidPayload)
}
