package payu

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
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

const (
	DefaultPaymentURL = "https://test.payu.in/_payment"
	DefaultInfoURL    = "https://test.payu.in/merchant/postservice?form=2"

	commandVerifyPayment = "verify_payment"
)

type Config struct {
	MerchantKey  string
	MerchantSalt string
	PaymentURL   string
	InfoURL      string
	// SuccessURL and FailureURL are where PayU posts the browser back.
	SuccessURL string
	FailureURL string
	Timeout    time.Duration
}

// Client builds PayU hosted checkout forms and verifies their callbacks.
// PayU has no refund API here; refunds are settled by hand.
type Client struct {
	key        string
	salt       string
	paymentURL string
	successURL string
	failureURL string
	clock      clock.Clock
	http       *gatewayhttp.Client
}

func New(cfg Config, clk clock.Clock, opts ...gatewayhttp.Option) *Client {
	paymentURL := strings.TrimSpace(cfg.PaymentURL)
	if paymentURL == "" {
		paymentURL = DefaultPaymentURL
	}
	infoURL := strings.TrimSpace(cfg.InfoURL)
	if infoURL == "" {
		infoURL = DefaultInfoURL
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Client{
		key:        strings.TrimSpace(cfg.MerchantKey),
		salt:       strings.TrimSpace(cfg.MerchantSalt),
		paymentURL: paymentURL,
		successURL: cfg.SuccessURL,
		failureURL: cfg.FailureURL,
		clock:      clk,
		http:       gatewayhttp.New(paymentdomain.GatewayPayU, infoURL, cfg.Timeout, opts...),
	}
}

func (c *Client) Name() paymentdomain.Gateway {
	return paymentdomain.GatewayPayU
}

func (c *Client) configured() bool {
	return c.key != "" && c.salt != ""
}

func sha512Hex(value string) string {
	sum := sha512.Sum512([]byte(value))
	return hex.EncodeToString(sum[:])
}

// RequestHash signs the checkout form.
func RequestHash(key, txnID, amount, productInfo, firstName, email, salt string) string {
	return sha512Hex(key + "|" + txnID + "|" + amount + "|" + productInfo + "|" + firstName + "|" + email + "|||||||||||" + salt)
}

// ResponseHash is the reverse hash PayU posts back with the result.
func ResponseHash(salt, status, email, firstName, productInfo, amount, txnID string) string {
	return sha512Hex(salt + "|" + status + "|||||||||||" + email + "|" + firstName + "|" + productInfo + "|" + amount + "|" + txnID)
}

func (c *Client) Verify(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.VerifiedEvent, error) {
	if !c.configured() {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	txnID := values.Get("txnid")
	hash := strings.ToLower(strings.TrimSpace(values.Get("hash")))
	if txnID == "" || hash == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	expected := ResponseHash(c.salt,
		values.Get("status"),
		values.Get("email"),
		values.Get("firstname"),
		values.Get("productinfo"),
		values.Get("amount"),
		txnID,
	)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(hash)) != 1 {
		return nil, paymentdomain.ErrInvalidSignature
	}

	amount, err := ParseAmount(values.Get("amount"))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	verified, err := paymentdomain.Normalize(paymentdomain.PayUEvent{
		TxnID:        txnID,
		MihPayID:     values.Get("mihpayid"),
		Status:       values.Get("status"),
		Amount:       amount,
		Mode:         values.Get("mode"),
		ErrorMessage: errorText(values.Get("error_Message")),
		ProductInfo:  values.Get("productinfo"),
		Received:     c.clock.Now(),
		Raw:          payload,
	})
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

// CreateIntent builds the signed form the browser posts to PayU. The
// transaction id is derived from the storefront payment id.
func (c *Client) CreateIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if !c.configured() {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	if !strings.EqualFold(req.Currency, "INR") {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	txnID := "T" + req.Reference
	amount := FormatAmount(req.Amount)
	productInfo := "Order " + req.OrderNumber
	firstName := req.Customer.FirstName
	if firstName == "" {
		firstName = "Customer"
	}

	fields := map[string]string{
		"key":         c.key,
		"txnid":       txnID,
		"amount":      amount,
		"productinfo": productInfo,
		"firstname":   firstName,
		"email":       req.Customer.Email,
		"phone":       req.Customer.Phone,
		"surl":        c.successURL,
		"furl":        c.failureURL,
		"hash":        RequestHash(c.key, txnID, amount, productInfo, firstName, req.Customer.Email, c.salt),
	}
	return &paymentdomain.Intent{
		ExternalPaymentID: txnID,
		Status:            paymentdomain.StatusPending,
		Fields:            fields,
		PaymentURL:        c.paymentURL,
	}, nil
}

type verifyResponse struct {
	Status             int                          `json:"status"`
	Msg                string                       `json:"msg"`
	TransactionDetails map[string]transactionDetail `json:"transaction_details"`
}

type transactionDetail struct {
	MihPayID     string `json:"mihpayid"`
	TxnID        string `json:"txnid"`
	Status       string `json:"status"`
	Amount       string `json:"amt"`
	TxnAmount    string `json:"transaction_amount"`
	Mode         string `json:"mode"`
	ProductInfo  string `json:"productinfo"`
	ErrorMessage string `json:"error_Message"`
}

// FetchPayment runs the verify_payment command for the transaction.
func (c *Client) FetchPayment(ctx context.Context, payment *paymentdomain.Payment) (*paymentdomain.VerifiedEvent, error) {
	if !c.configured() {
		return nil, paymentdomain.ErrGatewayNotConfigured
	}
	txnID := payment.ExternalPaymentID
	form := url.Values{}
	form.Set("key", c.key)
	form.Set("command", commandVerifyPayment)
	form.Set("var1", txnID)
	form.Set("hash", sha512Hex(c.key+"|"+commandVerifyPayment+"|"+txnID+"|"+c.salt))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.http.URL(""), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var out verifyResponse
	if err := c.http.Do(ctx, "fetch_payment", req, &out, nil); err != nil {
		return nil, err
	}
	detail, ok := out.TransactionDetails[txnID]
	if !ok || detail.Status == "" || strings.EqualFold(detail.Status, "Not Found") {
		return nil, paymentdomain.ErrEventIgnored
	}

	raw := detail.Amount
	if raw == "" {
		raw = detail.TxnAmount
	}
	amount, err := ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("payu verify_payment amount %q: %w", raw, paymentdomain.ErrInvalidPayload)
	}
	encoded, _ := json.Marshal(detail)
	verified, err := paymentdomain.Normalize(paymentdomain.PayUEvent{
		TxnID:        txnID,
		MihPayID:     detail.MihPayID,
		Status:       detail.Status,
		Amount:       amount,
		Mode:         detail.Mode,
		ErrorMessage: errorText(detail.ErrorMessage),
		ProductInfo:  detail.ProductInfo,
		Received:     c.clock.Now(),
		Raw:          encoded,
	})
	if err != nil {
		return nil, err
	}
	return &verified, nil
}

func (c *Client) CreateRefund(context.Context, paymentdomain.RefundRequest) (*paymentdomain.GatewayRefund, error) {
	return nil, paymentdomain.ErrRefundNotSupported
}

func (c *Client) FetchRefund(context.Context, *paymentdomain.Payment, *paymentdomain.Refund) (*paymentdomain.GatewayRefund, error) {
	return nil, paymentdomain.ErrRefundNotSupported
}

// FormatAmount renders minor units the way PayU expects: rupees with two
// decimals.
func FormatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// ParseAmount converts a PayU decimal amount into minor units.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty amount")
	}
	whole, frac, _ := strings.Cut(raw, ".")
	if len(frac) > 2 {
		if strings.Trim(frac[2:], "0") != "" {
			return 0, fmt.Errorf("amount %q has sub-paise precision", raw)
		}
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return units*100 + cents, nil
}

// errorText drops the placeholder PayU sends on success.
func errorText(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "No Error") || strings.EqualFold(raw, "E000") {
		return ""
	}
	return raw
}
