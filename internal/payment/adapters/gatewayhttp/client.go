// Package gatewayhttp is the outbound transport shared by gateway adapters:
// bounded timeouts, error classification, spans and call metrics.
package gatewayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

type Client struct {
	gateway paymentdomain.Gateway
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. Tests point it at httptest.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(gateway paymentdomain.Gateway, baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		gateway: gateway,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("storefront/payment/" + string(gateway)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL(path string) string {
	return c.baseURL + path
}

// APIError is a 4xx answer from the gateway. It unwraps to
// paymentdomain.ErrGatewayRejected.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway rejected request: status %d", e.Status)
	}
	return fmt.Sprintf("gateway rejected request: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return paymentdomain.ErrGatewayRejected }

// ErrorMessage extracts a human readable message from a 4xx body.
type ErrorMessage func(body []byte) string

// Do sends req and decodes a 2xx JSON body into out when out is non-nil.
// Transport failures, timeouts and 5xx answers wrap ErrGatewayUnavailable.
func (c *Client) Do(ctx context.Context, operation string, req *http.Request, out any, message ErrorMessage) error {
	ctx, span := c.tracer.Start(ctx, string(c.gateway)+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.SafeAttributes(
			attribute.String("gateway", string(c.gateway)),
			attribute.String("operation", operation),
		)...),
	)
	defer span.End()

	err := c.do(req.WithContext(ctx), out, message)
	result := "ok"
	switch {
	case errors.Is(err, paymentdomain.ErrGatewayUnavailable):
		result = "unavailable"
	case errors.Is(err, paymentdomain.ErrGatewayRejected):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	c.metrics.RecordGatewayCall(ctx, string(c.gateway), operation, result)
	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, result)
	}
	return err
}

func (c *Client) do(req *http.Request, out any, message ErrorMessage) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", paymentdomain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", paymentdomain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		apiErr := &APIError{Status: resp.StatusCode}
		if message != nil {
			apiErr.Message = message(body)
		}
		return apiErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.gateway, err)
	}
	return nil
}
