package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters/gatewayhttp"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const succeededPayload = `{
  "id": "evt_123",
  "type": "payment_intent.succeeded",
  "created": 1743465600,
  "data": {"object": {
    "id": "pi_123",
    "amount": 4999,
    "amount_received": 4999,
    "currency": "usd",
    "payment_method_types": ["card"],
    "metadata": {"orderId": "42", "userId": "user-1"},
    "latest_charge": {
      "id": "ch_123",
      "receipt_url": "https://pay.stripe.com/receipts/ch_123",
      "payment_method_details": {"type": "card"}
    }
  }}
}`

func signedHeader(secret string, payload []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	header := http.Header{}
	header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, Sign(secret, ts, payload)))
	return header
}

func TestVerifySignature(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	client := New(Config{WebhookSecret: "whsec_test"}, clk)
	payload := []byte(succeededPayload)

	event, err := client.Verify(context.Background(), payload, signedHeader("whsec_test", payload, now))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.GatewayStripe, event.Gateway)
	assert.Equal(t, "evt_123", event.EventID)
	assert.Equal(t, "pi_123", event.ExternalPaymentID)
	assert.Equal(t, "42", event.ExternalOrderID)
	assert.Equal(t, "ch_123", event.TransactionID)
	assert.Equal(t, int64(4999), event.Amount)
	assert.Equal(t, "USD", event.Currency)
	assert.Equal(t, paymentdomain.OutcomeSucceeded, event.Outcome)
	assert.Equal(t, paymentdomain.MethodCard, event.PaymentMethod)
	assert.Equal(t, "https://pay.stripe.com/receipts/ch_123", event.ReceiptURL)

	_, err = client.Verify(context.Background(), payload, signedHeader("wrong", payload, now))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = client.Verify(context.Background(), payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	tampered := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","amount":1}}}`)
	_, err = client.Verify(context.Background(), tampered, signedHeader("whsec_test", payload, now))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsStaleSignature(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	tolerance := 5 * time.Minute
	client := New(Config{WebhookSecret: "whsec_test", Tolerance: func() time.Duration { return tolerance }}, clk)
	payload := []byte(succeededPayload)
	header := signedHeader("whsec_test", payload, now)

	clk.Advance(4 * time.Minute)
	_, err := client.Verify(context.Background(), payload, header)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = client.Verify(context.Background(), payload, header)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	tolerance = 10 * time.Minute
	_, err = client.Verify(context.Background(), payload, header)
	assert.NoError(t, err)
}

func TestVerifyIgnoresUnrelatedEvents(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	client := New(Config{WebhookSecret: "whsec_test"}, clock.NewFakeClock(now))
	payload := []byte(`{"id":"evt_9","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	_, err := client.Verify(context.Background(), payload, signedHeader("whsec_test", payload, now))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestVerifyWithoutSecret(t *testing.T) {
	client := New(Config{}, nil)
	_, err := client.Verify(context.Background(), []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayNotConfigured)
}

func TestParseRefundEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_r1","type":"refund.updated","created":1743465600,"data":{"object":{
		"id":"re_1","amount":300,"currency":"usd","status":"succeeded","payment_intent":"pi_123","charge":"ch_123"}}}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	verified, err := paymentdomain.Normalize(event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeRefundSucceeded, verified.Outcome)
	assert.Equal(t, "re_1", verified.ExternalRefundID)
	assert.Equal(t, "pi_123", verified.ExternalPaymentID)
	assert.Equal(t, int64(300), verified.Amount)

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
	_, err = ParseEvent([]byte(`{"type":"payment_intent.succeeded"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestParseEventWithUnexpandedCharge(t *testing.T) {
	payload := []byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{
		"id":"pi_2","amount":500,"currency":"usd","latest_charge":"ch_2",
		"last_payment_error":{"message":"Your card was declined."}}}}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "ch_2", event.LatestChargeID)
	assert.Empty(t, event.ReceiptURL)

	verified, err := paymentdomain.Normalize(event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeFailed, verified.Outcome)
	assert.Equal(t, "Your card was declined.", verified.FailureReason)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{SecretKey: "sk_test", BaseURL: srv.URL, Timeout: time.Second},
		clock.NewFakeClock(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)),
		gatewayhttp.WithHTTPClient(srv.Client()))
}

func TestCreateIntent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "intent-77", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "4999", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "true", r.PostForm.Get("automatic_payment_methods[enabled]"))
		assert.Equal(t, "Payment for Order #ORD250401000001", r.PostForm.Get("description"))
		assert.Equal(t, "42", r.PostForm.Get("metadata[orderId]"))
		assert.Equal(t, "user-1", r.PostForm.Get("metadata[userId]"))
		assert.Equal(t, "buyer@example.com", r.PostForm.Get("receipt_email"))
		_, _ = w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret_abc","status":"requires_payment_method"}`))
	})

	intent, err := client.CreateIntent(context.Background(), paymentdomain.IntentRequest{
		Reference:   "77",
		OrderID:     "42",
		OrderNumber: "ORD250401000001",
		Amount:      4999,
		Currency:    "USD",
		Customer:    paymentdomain.Customer{UserID: "user-1", Email: "buyer@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ExternalPaymentID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, paymentdomain.StatusPending, intent.Status)
}

func TestCreateIntentRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Amount must be at least 50 cents","code":"amount_too_small"}}`))
	})

	_, err := client.CreateIntent(context.Background(), paymentdomain.IntentRequest{Reference: "1", Amount: 10, Currency: "USD"})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayRejected)
	var apiErr *gatewayhttp.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Amount must be at least 50 cents", apiErr.Message)
}

func TestFetchPayment(t *testing.T) {
	status := "succeeded"
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
		assert.Equal(t, "latest_charge", r.URL.Query().Get("expand[]"))
		body := map[string]any{
			"id":              "pi_123",
			"status":          status,
			"amount":          4999,
			"amount_received": 4999,
			"currency":        "usd",
			"latest_charge":   map[string]any{"id": "ch_123", "receipt_url": "https://receipt"},
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	payment := &paymentdomain.Payment{ExternalPaymentID: "pi_123"}

	event, err := client.FetchPayment(context.Background(), payment)
	require.NoError(t, err)
	assert.Equal(t, "sync:pi_123:succeeded", event.EventID)
	assert.Equal(t, paymentdomain.OutcomeSucceeded, event.Outcome)
	assert.Equal(t, "ch_123", event.TransactionID)
	assert.Equal(t, "https://receipt", event.ReceiptURL)

	status = "requires_payment_method"
	_, err = client.FetchPayment(context.Background(), payment)
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestCreateAndFetchRefund(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/refunds":
			assert.Equal(t, "refund-key", r.Header.Get("Idempotency-Key"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
			assert.Equal(t, "300", r.PostForm.Get("amount"))
			assert.Equal(t, "requested_by_customer", r.PostForm.Get("reason"))
			assert.Equal(t, "damaged item", r.PostForm.Get("metadata[reason]"))
			_, _ = w.Write([]byte(`{"id":"re_1","amount":300,"status":"pending"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/refunds/re_1":
			_, _ = w.Write([]byte(`{"id":"re_1","amount":300,"status":"succeeded"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	payment := &paymentdomain.Payment{ID: snowflake.ID(9), ExternalPaymentID: "pi_123"}

	refund, err := client.CreateRefund(context.Background(), paymentdomain.RefundRequest{
		Payment:        payment,
		Amount:         300,
		Reason:         "damaged item",
		IdempotencyKey: "refund-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", refund.GatewayRefundID)
	assert.Equal(t, paymentdomain.RefundStatusPending, refund.Status)

	id := "re_1"
	fetched, err := client.FetchRefund(context.Background(), payment, &paymentdomain.Refund{GatewayRefundID: &id})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusSucceeded, fetched.Status)

	_, err = client.FetchRefund(context.Background(), payment, &paymentdomain.Refund{})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundNotFound)
}
