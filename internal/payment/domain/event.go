package domain

import (
	"strings"
	"time"
)

type Outcome string

const (
	OutcomeProcessing      Outcome = "processing"
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailed          Outcome = "failed"
	OutcomeCanceled        Outcome = "canceled"
	OutcomeRefundSucceeded Outcome = "refund_succeeded"
	OutcomeRefundFailed    Outcome = "refund_failed"
)

func (o Outcome) IsRefund() bool {
	return o == OutcomeRefundSucceeded || o == OutcomeRefundFailed
}

// PaymentStatus is the payment status a non-refund outcome drives towards.
func (o Outcome) PaymentStatus() (Status, bool) {
	switch o {
	case OutcomeProcessing:
		return StatusProcessing, true
	case OutcomeSucceeded:
		return StatusSucceeded, true
	case OutcomeFailed:
		return StatusFailed, true
	case OutcomeCanceled:
		return StatusCanceled, true
	}
	return "", false
}

func (o Outcome) RefundStatus() (RefundStatus, bool) {
	switch o {
	case OutcomeRefundSucceeded:
		return RefundStatusSucceeded, true
	case OutcomeRefundFailed:
		return RefundStatusFailed, true
	}
	return "", false
}

// VerifiedEvent is an authenticated gateway event in canonical form.
type VerifiedEvent struct {
	Gateway           Gateway
	EventID           string
	ExternalPaymentID string
	ExternalOrderID   string
	TransactionID     string
	ExternalRefundID  string
	Amount            int64
	Currency          string
	Outcome           Outcome
	PaymentMethod     Method
	FailureReason     string
	ReceiptURL        string
	OccurredAt        time.Time
	RawPayload        []byte
}

func (e *VerifiedEvent) Validate() error {
	if e == nil {
		return ErrInvalidEvent
	}
	if _, err := ParseGateway(string(e.Gateway)); err != nil {
		return err
	}
	if strings.TrimSpace(e.EventID) == "" {
		return ErrInvalidEvent
	}
	if e.ExternalPaymentID == "" && e.TransactionID == "" {
		return ErrInvalidEvent
	}
	if _, ok := e.Outcome.PaymentStatus(); !ok && !e.Outcome.IsRefund() {
		return ErrInvalidEvent
	}
	if e.Amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
