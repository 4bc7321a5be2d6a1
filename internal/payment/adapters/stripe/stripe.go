package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters/gatewayhttp"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const DefaultBaseURL = "https://api.stripe.com"

type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	// Tolerance bounds the age of a signed webhook. It is read per request.
	Tolerance func() time.Duration
}

type Client struct {
	secretKey     string
	webhookSecret string
	tolerance     func() time.Duration
	clock         clock.Clock
	http          *gatewayhttp.Client
}

func New(cfg Config, clk clock.Clock, opts ...gatewayhttp.Option) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tolerance := cfg.Tolerance
	if tolerance == nil {
		tolerance = func() time.Duration { return 5 * time.Minute }
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Client{
		secretKey:     strings.TrimSpace(cfg.SecretKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		clock:         clk,
		http:          gatewayhttp.New(paymentdomain.GatewayStripe, baseURL, cfg.Timeout, opts...),
	}
}

func (c *Client) Name() paymentdomain.Gateway {
	return paymentdomain.GatewayStripe
}

func (c *Client) Verify(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.VerifiedEvent, error) {
	if c.webhookSecret == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}
	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return nil, paymentdomain.ErrInvalidSignature
	}

	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, paymentdomain.ErrInvalidSignature
	}
	age := c.clock.Now().Sub(time.Unix(signedAt, 0))
	if age < 0 {
		age = -age
	}
	if age > c.tolerance() {
		return nil, paymentdomain.ErrInvalidSignature
	}

	expected := Sign(c.webhookSecret, timestamp, payload)
	matched := false
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := ParseEvent(payload)
	if err != nil {
		return nil, err
	}
	verified, err := paymentdomain.Normalize(event)
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

// Sign returns the v1 signature for a payload signed at timestamp.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Amount             int64             `json:"amount"`
	AmountReceived     int64             `json:"amount_received"`
	Currency           string            `json:"currency"`
	Created            int64             `json:"created"`
	ClientSecret       string            `json:"client_secret"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	Metadata           map[string]string `json:"metadata"`
	LastPaymentError   *stripeError      `json:"last_payment_error"`
	LatestCharge       json.RawMessage   `json:"latest_charge"`
}

type stripeCharge struct {
	ID                   string `json:"id"`
	ReceiptURL           string `json:"receipt_url"`
	PaymentMethodDetails struct {
		Type string `json:"type"`
	} `json:"payment_method_details"`
}

type stripeRefund struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
	Charge        string `json:"charge"`
	Created       int64  `json:"created"`
}

type stripeError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ParseEvent decodes a webhook body into the Stripe event variant.
func ParseEvent(payload []byte) (paymentdomain.StripeEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return paymentdomain.StripeEvent{}, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return paymentdomain.StripeEvent{}, paymentdomain.ErrInvalidEvent
	}

	out := paymentdomain.StripeEvent{
		ID:      event.ID,
		Type:    strings.TrimSpace(event.Type),
		Created: timestamp(event.Created, 0),
		Raw:     payload,
	}
	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		var intent stripePaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return paymentdomain.StripeEvent{}, paymentdomain.ErrInvalidPayload
		}
		fillIntent(&out, intent)
	case strings.HasPrefix(out.Type, "refund.") || out.Type == "charge.refund.updated":
		var refund stripeRefund
		if err := json.Unmarshal(event.Data.Object, &refund); err != nil {
			return paymentdomain.StripeEvent{}, paymentdomain.ErrInvalidPayload
		}
		out.PaymentIntentID = refund.PaymentIntent
		out.LatestChargeID = refund.Charge
		out.Currency = refund.Currency
		out.RefundID = refund.ID
		out.RefundStatus = refund.Status
		out.RefundAmount = refund.Amount
	}
	return out, nil
}

func fillIntent(out *paymentdomain.StripeEvent, intent stripePaymentIntent) {
	out.PaymentIntentID = intent.ID
	out.Amount = intent.Amount
	out.AmountReceived = intent.AmountReceived
	out.Currency = intent.Currency
	out.Metadata = intent.Metadata
	if len(intent.PaymentMethodTypes) > 0 {
		out.PaymentMethod = intent.PaymentMethodTypes[0]
	}
	if intent.LastPaymentError != nil {
		out.LastPaymentError = intent.LastPaymentError.Message
	}
	chargeID, charge := decodeLatestCharge(intent.LatestCharge)
	out.LatestChargeID = chargeID
	if charge != nil {
		out.ReceiptURL = charge.ReceiptURL
		if charge.PaymentMethodDetails.Type != "" {
			out.PaymentMethod = charge.PaymentMethodDetails.Type
		}
	}
}

// decodeLatestCharge accepts both the bare id and the expanded object.
func decodeLatestCharge(raw json.RawMessage) (string, *stripeCharge) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var charge stripeCharge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return "", nil
	}
	return charge.ID, &charge
}

func (c *Client) CreateIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if c.secretKey == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("description", "Payment for Order #"+req.OrderNumber)
	form.Set("metadata[orderId]", req.OrderID)
	form.Set("metadata[userId]", req.Customer.UserID)
	form.Set("metadata[orderNumber]", req.OrderNumber)
	form.Set("metadata[paymentId]", req.Reference)
	for key, value := range req.Metadata {
		form.Set("metadata["+key+"]", value)
	}
	if req.Customer.Email != "" {
		form.Set("receipt_email", req.Customer.Email)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Idempotency-Key", "intent-"+req.Reference)

	var intent stripePaymentIntent
	if err := c.http.Do(ctx, "create_intent", httpReq, &intent, errorMessage); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("stripe intent without id: %w", paymentdomain.ErrGatewayRejected)
	}
	return &paymentdomain.Intent{
		ExternalPaymentID: intent.ID,
		ClientSecret:      intent.ClientSecret,
		Status:            paymentdomain.StatusPending,
	}, nil
}

func (c *Client) FetchPayment(ctx context.Context, payment *paymentdomain.Payment) (*paymentdomain.VerifiedEvent, error) {
	if c.secretKey == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	path := "/v1/payment_intents/" + url.PathEscape(payment.ExternalPaymentID) + "?expand[]=latest_charge"
	httpReq, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var intent stripePaymentIntent
	if err := c.http.Do(ctx, "fetch_payment", httpReq, &intent, errorMessage); err != nil {
		return nil, err
	}

	eventType := ""
	switch intent.Status {
	case "succeeded":
		eventType = "payment_intent.succeeded"
	case "processing":
		eventType = "payment_intent.processing"
	case "canceled":
		eventType = "payment_intent.canceled"
	case "requires_payment_method":
		// A fresh intent also waits for a method; only a recorded error is a failure.
		if intent.LastPaymentError == nil {
			return nil, paymentdomain.ErrEventIgnored
		}
		eventType = "payment_intent.payment_failed"
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	event := paymentdomain.StripeEvent{
		ID:      "sync:" + intent.ID + ":" + intent.Status,
		Type:    eventType,
		Created: c.clock.Now(),
	}
	fillIntent(&event, intent)
	raw, err := json.Marshal(intent)
	if err == nil {
		event.Raw = raw
	}
	verified, err := paymentdomain.Normalize(event)
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

func (c *Client) CreateRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.GatewayRefund, error) {
	if c.secretKey == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	form := url.Values{}
	form.Set("payment_intent", req.Payment.ExternalPaymentID)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	switch req.Reason {
	case "duplicate", "fraudulent", "requested_by_customer":
		form.Set("reason", req.Reason)
	default:
		form.Set("reason", "requested_by_customer")
		if req.Reason != "" {
			form.Set("metadata[reason]", req.Reason)
		}
	}
	form.Set("metadata[paymentId]", req.Payment.ID.String())

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/refunds", form)
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var refund stripeRefund
	if err := c.http.Do(ctx, "create_refund", httpReq, &refund, errorMessage); err != nil {
		return nil, err
	}
	return toGatewayRefund(refund), nil
}

func (c *Client) FetchRefund(ctx context.Context, _ *paymentdomain.Payment, refund *paymentdomain.Refund) (*paymentdomain.GatewayRefund, error) {
	if c.secretKey == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	if refund.GatewayRefundID == nil || *refund.GatewayRefundID == "" {
		return nil, paymentdomain.ErrRefundNotFound
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/refunds/"+url.PathEscape(*refund.GatewayRefundID), nil)
	if err != nil {
		return nil, err
	}
	var out stripeRefund
	if err := c.http.Do(ctx, "fetch_refund", httpReq, &out, errorMessage); err != nil {
		return nil, err
	}
	return toGatewayRefund(out), nil
}

func toGatewayRefund(refund stripeRefund) *paymentdomain.GatewayRefund {
	status := paymentdomain.RefundStatusPending
	switch refund.Status {
	case "succeeded":
		status = paymentdomain.RefundStatusSucceeded
	case "failed":
		status = paymentdomain.RefundStatusFailed
	case "canceled":
		status = paymentdomain.RefundStatusCanceled
	}
	return &paymentdomain.GatewayRefund{GatewayRefundID: refund.ID, Status: status}
}

func (c *Client) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.http.URL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error stripeError `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
