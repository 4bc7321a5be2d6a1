package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

// Webhook sources understood by the ingest service.
const (
	sourceStripe           = "stripe"
	sourceRazorpay         = "razorpay"
	sourceRazorpayCallback = "razorpay_callback"
	sourcePayU             = "payu"
)

const maxWebhookBody = 1 << 20

func (s *Server) RegisterWebhookRoutes() {
	hooks := s.engine.Group("/api")
	hooks.Use(s.WebhookRateLimit())

	hooks.POST("/webhooks/stripe", s.handleWebhook(sourceStripe))
	hooks.POST("/webhooks/razorpay", s.handleWebhook(sourceRazorpay))
	hooks.POST("/payments/razorpay/verify", s.handleWebhook(sourceRazorpayCallback))
	hooks.POST("/webhooks/payu/success", s.handleWebhook(sourcePayU))
	hooks.POST("/webhooks/payu/failure", s.handleWebhook(sourcePayU))
}

func (s *Server) handleWebhook(source string) gin.HandlerFunc {
	gateway := strings.TrimSuffix(source, "_callback")
	return func(c *gin.Context) {
		c.Set("gateway", gateway)

		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			rejectWebhook(c, paymentdomain.ErrInvalidPayload)
			return
		}

		if err := s.webhookSvc.Ingest(c.Request.Context(), source, payload, c.Request.Header); err != nil {
			rejectWebhook(c, err)
			return
		}

		c.JSON(http.StatusOK, envelope{Success: true})
	}
}

// rejectWebhook answers a gateway without exposing why its delivery failed.
// Transient failures get a 503 so the gateway redelivers.
func rejectWebhook(c *gin.Context, err error) {
	_ = c.Error(err)
	status := http.StatusBadRequest
	if isTransientWebhookError(err) {
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: "webhook rejected"})
}

func isTransientWebhookError(err error) bool {
	var vErr *ValidationErrors
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidGateway),
		errors.Is(err, paymentdomain.ErrAmountMismatch),
		errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return false
	default:
		return true
	}
}
