package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters/gatewayhttp"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

func TestCallbackSignature(t *testing.T) {
	client := New(Config{KeyID: "rzp_test", KeySecret: "key_secret"}, clock.NewFakeClock(testNow))
	verifier := client.Callback()

	signature := Sign("key_secret", []byte("order_9A33XWu170gUtm|pay_29QQoUBi66xm2f"))
	payload, err := json.Marshal(map[string]string{
		"razorpay_order_id":   "order_9A33XWu170gUtm",
		"razorpay_payment_id": "pay_29QQoUBi66xm2f",
		"razorpay_signature":  signature,
	})
	require.NoError(t, err)

	event, err := verifier.Verify(context.Background(), payload, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.GatewayRazorpay, event.Gateway)
	assert.Equal(t, "callback:pay_29QQoUBi66xm2f", event.EventID)
	assert.Equal(t, "order_9A33XWu170gUtm", event.ExternalPaymentID)
	assert.Equal(t, "pay_29QQoUBi66xm2f", event.TransactionID)
	assert.Equal(t, paymentdomain.OutcomeSucceeded, event.Outcome)
	assert.Equal(t, testNow, event.OccurredAt)

	form := "razorpay_order_id=order_9A33XWu170gUtm&razorpay_payment_id=pay_29QQoUBi66xm2f&razorpay_signature=" + signature
	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = verifier.Verify(context.Background(), []byte(form), headers)
	require.NoError(t, err)

	forged, err := json.Marshal(map[string]string{
		"razorpay_order_id":   "order_9A33XWu170gUtm",
		"razorpay_payment_id": "pay_other",
		"razorpay_signature":  signature,
	})
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), forged, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = verifier.Verify(context.Background(), []byte(`{"razorpay_order_id":"order_1"}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestWebhookSignature(t *testing.T) {
	client := New(Config{KeyID: "rzp_test", KeySecret: "key_secret", WebhookSecret: "hook_secret"}, clock.NewFakeClock(testNow))
	payload := []byte(`{"entity":"event","event":"payment.failed","created_at":1743465600,"payload":{"payment":{"entity":{
		"id":"pay_1","order_id":"order_1","status":"failed","amount":118000,"currency":"INR","method":"upi",
		"error_description":"Payment was declined by the bank"}}}}`)

	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", Sign("hook_secret", payload))
	headers.Set("X-Razorpay-Event-Id", "evt_Fh1")

	event, err := client.Verify(context.Background(), payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "evt_Fh1", event.EventID)
	assert.Equal(t, "order_1", event.ExternalPaymentID)
	assert.Equal(t, "pay_1", event.TransactionID)
	assert.Equal(t, int64(118000), event.Amount)
	assert.Equal(t, paymentdomain.OutcomeFailed, event.Outcome)
	assert.Equal(t, paymentdomain.MethodUPI, event.PaymentMethod)
	assert.Equal(t, "Payment was declined by the bank", event.FailureReason)

	headers.Set("X-Razorpay-Signature", Sign("key_secret", payload))
	_, err = client.Verify(context.Background(), payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestParseRefundWebhook(t *testing.T) {
	payload := []byte(`{"event":"refund.processed","created_at":1743465600,"payload":{"refund":{"entity":{
		"id":"rfnd_1","payment_id":"pay_1","amount":30000,"currency":"INR","status":"processed"}}}}`)

	event, err := ParseWebhook(payload, "")
	require.NoError(t, err)
	verified, err := paymentdomain.Normalize(event)
	require.NoError(t, err)
	assert.Equal(t, "refund.processed:rfnd_1", verified.EventID)
	assert.Empty(t, verified.ExternalPaymentID)
	assert.Equal(t, "pay_1", verified.TransactionID)
	assert.Equal(t, "rfnd_1", verified.ExternalRefundID)
	assert.Equal(t, int64(30000), verified.Amount)
	assert.Equal(t, paymentdomain.OutcomeRefundSucceeded, verified.Outcome)

	ignored, err := ParseWebhook([]byte(`{"event":"payment.dispute.created","payload":{}}`), "evt_2")
	require.NoError(t, err)
	_, err = paymentdomain.Normalize(ignored)
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{KeyID: "rzp_test", KeySecret: "key_secret", BaseURL: srv.URL, Timeout: time.Second},
		clock.NewFakeClock(testNow), gatewayhttp.WithHTTPClient(srv.Client()))
}

func TestCreateIntent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_test", user)
		assert.Equal(t, "key_secret", pass)

		var body struct {
			Amount   int64             `json:"amount"`
			Currency string            `json:"currency"`
			Receipt  string            `json:"receipt"`
			Notes    map[string]string `json:"notes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(118000), body.Amount)
		assert.Equal(t, "INR", body.Currency)
		assert.Equal(t, "order_42", body.Receipt)
		assert.Equal(t, "ORD250401000001", body.Notes["orderNumber"])
		assert.Equal(t, "user-1", body.Notes["userId"])
		_, _ = w.Write([]byte(`{"id":"order_9A33XWu170gUtm","amount":118000,"currency":"INR","receipt":"order_42","status":"created"}`))
	})

	intent, err := client.CreateIntent(context.Background(), paymentdomain.IntentRequest{
		Reference:   "77",
		OrderID:     "42",
		OrderNumber: "ORD250401000001",
		Amount:      118000,
		Currency:    "inr",
		Customer:    paymentdomain.Customer{UserID: "user-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_9A33XWu170gUtm", intent.ExternalPaymentID)
	assert.Equal(t, "order_9A33XWu170gUtm", intent.ExternalOrderID)
	assert.Equal(t, "rzp_test", intent.PublicKey)
}

func TestCreateIntentUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := client.CreateIntent(context.Background(), paymentdomain.IntentRequest{OrderID: "1", Amount: 100, Currency: "INR"})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayUnavailable)

	unconfigured := New(Config{}, nil)
	_, err = unconfigured.CreateIntent(context.Background(), paymentdomain.IntentRequest{})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayNotConfigured)
}

func TestFetchPaymentPicksMostAdvancedAttempt(t *testing.T) {
	items := `[{"id":"pay_a","status":"failed","amount":118000,"currency":"INR","error_description":"declined"},
		{"id":"pay_b","status":"captured","amount":118000,"currency":"INR","method":"card"}]`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders/order_1/payments", r.URL.Path)
		_, _ = w.Write([]byte(`{"entity":"collection","count":2,"items":` + items + `}`))
	})
	payment := &paymentdomain.Payment{ExternalPaymentID: "order_1"}

	event, err := client.FetchPayment(context.Background(), payment)
	require.NoError(t, err)
	assert.Equal(t, "sync:pay_b:captured", event.EventID)
	assert.Equal(t, paymentdomain.OutcomeSucceeded, event.Outcome)
	assert.Equal(t, "pay_b", event.TransactionID)
	assert.Equal(t, "order_1", event.ExternalPaymentID)

	items = `[{"id":"pay_a","status":"failed","amount":118000,"currency":"INR","error_description":"declined"}]`
	event, err = client.FetchPayment(context.Background(), payment)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeFailed, event.Outcome)
	assert.Equal(t, "declined", event.FailureReason)

	items = `[]`
	_, err = client.FetchPayment(context.Background(), payment)
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestCreateAndFetchRefund(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments/pay_1/refund":
			var body struct {
				Amount  int64  `json:"amount"`
				Receipt string `json:"receipt"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(30000), body.Amount)
			assert.Equal(t, "refund-key", body.Receipt)
			_, _ = w.Write([]byte(`{"id":"rfnd_1","payment_id":"pay_1","amount":30000,"status":"pending"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/refunds/rfnd_1":
			_, _ = w.Write([]byte(`{"id":"rfnd_1","payment_id":"pay_1","amount":30000,"status":"processed"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
		}
	})
	txn := "pay_1"
	payment := &paymentdomain.Payment{ID: snowflake.ID(9), ExternalPaymentID: "order_1", GatewayTransactionID: &txn}

	refund, err := client.CreateRefund(context.Background(), paymentdomain.RefundRequest{
		Payment:        payment,
		Amount:         30000,
		IdempotencyKey: "refund-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refund.GatewayRefundID)
	assert.Equal(t, paymentdomain.RefundStatusPending, refund.Status)

	id := "rfnd_1"
	fetched, err := client.FetchRefund(context.Background(), payment, &paymentdomain.Refund{GatewayRefundID: &id})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusSucceeded, fetched.Status)

	missing := "rfnd_missing"
	_, err = client.FetchRefund(context.Background(), payment, &paymentdomain.Refund{GatewayRefundID: &missing})
	var apiErr *gatewayhttp.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "The id provided does not exist", apiErr.Message)

	_, err = client.CreateRefund(context.Background(), paymentdomain.RefundRequest{
		Payment: &paymentdomain.Payment{ID: snowflake.ID(10), ExternalPaymentID: "order_2"},
		Amount:  100,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotRefundable)
}
