package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters/gatewayhttp"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const DefaultBaseURL = "https://api.razorpay.com"

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// Client talks to the Razorpay orders API. Verify authenticates server
// webhooks; Callback returns the verifier for the checkout handler.
type Client struct {
	keyID         string
	keySecret     string
	webhookSecret string
	clock         clock.Clock
	http          *gatewayhttp.Client
}

func New(cfg Config, clk clock.Clock, opts ...gatewayhttp.Option) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Client{
		keyID:         strings.TrimSpace(cfg.KeyID),
		keySecret:     strings.TrimSpace(cfg.KeySecret),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock:         clk,
		http:          gatewayhttp.New(paymentdomain.GatewayRazorpay, baseURL, cfg.Timeout, opts...),
	}
}

func (c *Client) Name() paymentdomain.Gateway {
	return paymentdomain.GatewayRazorpay
}

// Sign is the hex HMAC-SHA256 Razorpay uses for both webhooks and callbacks.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, payload []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(strings.ToLower(signature)))
}

func (c *Client) Verify(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.VerifiedEvent, error) {
	if c.webhookSecret == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	if !validSignature(c.webhookSecret, payload, headers.Get("X-Razorpay-Signature")) {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := ParseWebhook(payload, headers.Get("X-Razorpay-Event-Id"))
	if err != nil {
		return nil, err
	}
	verified, err := paymentdomain.Normalize(event)
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

type webhookBody struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity refundEntity `json:"entity"`
		} `json:"refund"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

type orderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// ParseWebhook decodes a server webhook. eventID comes from the
// X-Razorpay-Event-Id header and may be empty.
func ParseWebhook(payload []byte, eventID string) (paymentdomain.RazorpayEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return paymentdomain.RazorpayEvent{}, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.Event) == "" {
		return paymentdomain.RazorpayEvent{}, paymentdomain.ErrInvalidEvent
	}

	out := paymentdomain.RazorpayEvent{
		ID:      strings.TrimSpace(eventID),
		Event:   body.Event,
		Created: unixTime(body.CreatedAt),
		Raw:     payload,
	}
	if p := body.Payload.Payment; p != nil {
		out.PaymentID = p.Entity.ID
		out.OrderID = p.Entity.OrderID
		out.Amount = p.Entity.Amount
		out.Currency = p.Entity.Currency
		out.Method = p.Entity.Method
		out.ErrorText = p.Entity.ErrorDescription
	}
	if o := body.Payload.Order; o != nil {
		if out.OrderID == "" {
			out.OrderID = o.Entity.ID
		}
		if out.Amount == 0 {
			out.Amount = o.Entity.Amount
			out.Currency = o.Entity.Currency
		}
	}
	if r := body.Payload.Refund; r != nil {
		out.RefundID = r.Entity.ID
		out.RefundAmount = r.Entity.Amount
		if out.PaymentID == "" {
			out.PaymentID = r.Entity.PaymentID
		}
		if out.Currency == "" {
			out.Currency = r.Entity.Currency
		}
	}
	return out, nil
}

// Callback verifies the checkout handler callback, signed with the key
// secret over order_id|payment_id.
func (c *Client) Callback() paymentdomain.Verifier {
	return callbackVerifier{client: c}
}

type callbackVerifier struct {
	client *Client
}

type callbackBody struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

func (v callbackVerifier) Verify(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.VerifiedEvent, error) {
	c := v.client
	if c.keySecret == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	body, err := parseCallback(payload, headers.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if body.OrderID == "" || body.PaymentID == "" || body.Signature == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if !validSignature(c.keySecret, []byte(body.OrderID+"|"+body.PaymentID), body.Signature) {
		return nil, paymentdomain.ErrInvalidSignature
	}

	verified, err := paymentdomain.Normalize(paymentdomain.RazorpayEvent{
		Event:     paymentdomain.RazorpayCallback,
		OrderID:   body.OrderID,
		PaymentID: body.PaymentID,
		Created:   c.clock.Now(),
		Raw:       payload,
	})
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

func parseCallback(payload []byte, contentType string) (callbackBody, error) {
	var body callbackBody
	if strings.HasPrefix(strings.ToLower(contentType), "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(payload))
		if err != nil {
			return body, paymentdomain.ErrInvalidPayload
		}
		body.OrderID = values.Get("razorpay_order_id")
		body.PaymentID = values.Get("razorpay_payment_id")
		body.Signature = values.Get("razorpay_signature")
		return body, nil
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return body, paymentdomain.ErrInvalidPayload
	}
	return body, nil
}

func (c *Client) CreateIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	notes := map[string]string{
		"orderId":     req.OrderID,
		"userId":      req.Customer.UserID,
		"orderNumber": req.OrderNumber,
		"paymentId":   req.Reference,
	}
	for key, value := range req.Metadata {
		if _, taken := notes[key]; !taken {
			notes[key] = value
		}
	}
	body := map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  "order_" + req.OrderID,
		"notes":    notes,
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return nil, err
	}
	var order orderEntity
	if err := c.http.Do(ctx, "create_intent", httpReq, &order, errorMessage); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("razorpay order without id: %w", paymentdomain.ErrGatewayRejected)
	}
	return &paymentdomain.Intent{
		ExternalPaymentID: order.ID,
		ExternalOrderID:   order.ID,
		Status:            paymentdomain.StatusPending,
		PublicKey:         c.keyID,
	}, nil
}

// FetchPayment lists the attempts made against the Razorpay order and
// reports the most advanced one.
func (c *Client) FetchPayment(ctx context.Context, payment *paymentdomain.Payment) (*paymentdomain.VerifiedEvent, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(payment.ExternalPaymentID)+"/payments", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []paymentEntity `json:"items"`
	}
	if err := c.http.Do(ctx, "fetch_payment", httpReq, &out, errorMessage); err != nil {
		return nil, err
	}

	attempt, eventType := pickAttempt(out.Items)
	if attempt == nil {
		return nil, paymentdomain.ErrEventIgnored
	}
	raw, _ := json.Marshal(attempt)
	verified, err := paymentdomain.Normalize(paymentdomain.RazorpayEvent{
		ID:        "sync:" + attempt.ID + ":" + attempt.Status,
		Event:     eventType,
		Created:   c.clock.Now(),
		OrderID:   payment.ExternalPaymentID,
		PaymentID: attempt.ID,
		Amount:    attempt.Amount,
		Currency:  attempt.Currency,
		Method:    attempt.Method,
		ErrorText: attempt.ErrorDescription,
		Raw:       raw,
	})
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

// pickAttempt prefers a captured attempt, then an authorized one. A failure
// is reported only when every attempt failed.
func pickAttempt(items []paymentEntity) (*paymentEntity, string) {
	var authorized, failed *paymentEntity
	for i := range items {
		item := &items[i]
		switch item.Status {
		case "captured", "refunded":
			return item, "payment.captured"
		case "authorized":
			if authorized == nil {
				authorized = item
			}
		case "failed":
			if failed == nil {
				failed = item
			}
		}
	}
	if authorized != nil {
		return authorized, "payment.authorized"
	}
	if failed != nil {
		return failed, "payment.failed"
	}
	return nil, ""
}

func (c *Client) CreateRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.GatewayRefund, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	if req.Payment.GatewayTransactionID == nil || *req.Payment.GatewayTransactionID == "" {
		return nil, fmt.Errorf("razorpay payment id unknown: %w", paymentdomain.ErrPaymentNotRefundable)
	}
	body := map[string]any{
		"amount":  req.Amount,
		"receipt": req.IdempotencyKey,
		"notes": map[string]string{
			"reason":    req.Reason,
			"paymentId": req.Payment.ID.String(),
		},
	}
	path := "/v1/payments/" + url.PathEscape(*req.Payment.GatewayTransactionID) + "/refund"
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	var refund refundEntity
	if err := c.http.Do(ctx, "create_refund", httpReq, &refund, errorMessage); err != nil {
		return nil, err
	}
	return toGatewayRefund(refund), nil
}

func (c *Client) FetchRefund(ctx context.Context, _ *paymentdomain.Payment, refund *paymentdomain.Refund) (*paymentdomain.GatewayRefund, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	if refund.GatewayRefundID == nil || *refund.GatewayRefundID == "" {
		return nil, paymentdomain.ErrRefundNotFound
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/refunds/"+url.PathEscape(*refund.GatewayRefundID), nil)
	if err != nil {
		return nil, err
	}
	var out refundEntity
	if err := c.http.Do(ctx, "fetch_refund", httpReq, &out, errorMessage); err != nil {
		return nil, err
	}
	return toGatewayRefund(out), nil
}

func toGatewayRefund(refund refundEntity) *paymentdomain.GatewayRefund {
	status := paymentdomain.RefundStatusPending
	switch refund.Status {
	case "processed":
		status = paymentdomain.RefundStatusSucceeded
	case "failed":
		status = paymentdomain.RefundStatusFailed
	}
	return &paymentdomain.GatewayRefund{GatewayRefundID: refund.ID, Status: status}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.http.URL(path), reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error.Description
}

func unixTime(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}
