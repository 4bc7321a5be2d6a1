package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/authorization"
	"github.com/smallbiznis/storefront/internal/identity"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

// envelope is the body of every client-facing response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorPayload struct {
	Type    string
	Message string
	Errors  []ValidationError
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		body := envelope{Success: false, Message: payload.Message}
		if len(payload.Errors) > 0 {
			body.Data = gin.H{"errors": payload.Errors}
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, body)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: validationErrorMessage(code),
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identity.ErrMissingIdentity),
		errors.Is(err, identity.ErrInvalidIdentity),
		errors.Is(err, identity.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, paymentdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrGatewayRejected):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_rejected",
			Message: "payment gateway rejected the request",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrGatewayUnavailable),
		errors.Is(err, paymentdomain.ErrGatewayNotConfigured),
		errors.Is(err, paymentdomain.ErrRefundNotSupported):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "payment gateway unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code attached to the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if payload.Type != "internal_error" {
		code = rootCode(err)
	}
	return payload.Type, code
}

func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	code := err.Error()
	if strings.ContainsAny(code, " :") {
		return "unknown"
	}
	return code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrInvalidGateway,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidCurrency,
	paymentdomain.ErrAmountMismatch,
	paymentdomain.ErrInvalidTimeRange,
	paymentdomain.ErrInvalidRefundStatus,
	orderdomain.ErrInvalidItems,
	orderdomain.ErrInvalidQuantity,
	orderdomain.ErrInvalidPrice,
	orderdomain.ErrInvalidAddress,
	orderdomain.ErrInvalidCurrency,
	orderdomain.ErrInvalidStatus,
	orderdomain.ErrInvalidTracking,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
	authorization.ErrInvalidObject,
	authorization.ErrInvalidAction,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, paymentdomain.ErrRefundNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, orderdomain.ErrOrderNotPayable),
		errors.Is(err, orderdomain.ErrOrderNotCancellable),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrOrderNumberExhausted),
		errors.Is(err, reconcile.ErrOrderAlreadyPaid),
		errors.Is(err, reconcile.ErrCapturedAfterFailure),
		errors.Is(err, reconcile.ErrPersistenceConflict),
		errors.Is(err, reconcile.ErrDuplicateEvent),
		errors.Is(err, reconcile.ErrOutOfOrderEvent),
		errors.Is(err, paymentdomain.ErrPaymentNotRefundable),
		errors.Is(err, paymentdomain.ErrRefundAmountExceedsAvailable),
		errors.Is(err, paymentdomain.ErrRefundFinalized),
		errors.Is(err, paymentdomain.ErrReceiptUnavailable):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return "payment not found"
	case errors.Is(err, paymentdomain.ErrRefundNotFound):
		return "refund not found"
	default:
		return "not found"
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrOrderNotPayable):
		return "order cannot be paid in its current state"
	case errors.Is(err, orderdomain.ErrOrderNotCancellable):
		return "order can no longer be cancelled"
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		return "status change not allowed"
	case errors.Is(err, reconcile.ErrOrderAlreadyPaid):
		return "order is already paid"
	case errors.Is(err, reconcile.ErrCapturedAfterFailure):
		return "payment was captured after it failed and needs manual reconciliation"
	case errors.Is(err, paymentdomain.ErrPaymentNotRefundable):
		return "payment cannot be refunded"
	case errors.Is(err, paymentdomain.ErrRefundAmountExceedsAvailable):
		return "refund amount exceeds the refundable balance"
	case errors.Is(err, paymentdomain.ErrRefundFinalized):
		return "refund is already settled"
	case errors.Is(err, paymentdomain.ErrReceiptUnavailable):
		return "receipt is available once the payment succeeds"
	default:
		return "conflict"
	}
}

func validationErrorCode(err error) string {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "amount_mismatch":
		return "amount does not match the order total"
	default:
		return strings.ReplaceAll(code, "_", " ")
	}
}
