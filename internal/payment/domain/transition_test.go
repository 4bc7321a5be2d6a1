package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		current Status
		target  Status
		want    Decision
	}{
		{StatusPending, StatusSucceeded, DecisionApply},
		{StatusPending, StatusProcessing, DecisionApply},
		{StatusPending, StatusCanceled, DecisionApply},
		{StatusProcessing, StatusFailed, DecisionApply},
		{StatusSucceeded, StatusRefunded, DecisionApply},
		{StatusSucceeded, StatusSucceeded, DecisionDuplicate},
		{StatusSucceeded, StatusProcessing, DecisionDuplicate},
		{StatusFailed, StatusFailed, DecisionDuplicate},
		{StatusRefunded, StatusSucceeded, DecisionDuplicate},
		{StatusSucceeded, StatusFailed, DecisionOutOfOrder},
		{StatusSucceeded, StatusCanceled, DecisionOutOfOrder},
		{StatusFailed, StatusSucceeded, DecisionOutOfOrder},
		{StatusCanceled, StatusSucceeded, DecisionOutOfOrder},
		{StatusProcessing, StatusCanceled, DecisionOutOfOrder},
		{StatusPending, StatusRefunded, DecisionOutOfOrder},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Decide(tc.current, tc.target), "%s -> %s", tc.current, tc.target)
	}
}

func TestRefundable(t *testing.T) {
	payment := &Payment{Amount: 1000, Refunds: []Refund{
		{Amount: 700, Status: RefundStatusSucceeded},
		{Amount: 100, Status: RefundStatusPending},
		{Amount: 500, Status: RefundStatusFailed},
	}}
	assert.Equal(t, int64(200), payment.Refundable())
	assert.Equal(t, int64(700), payment.RefundedAmount(RefundStatusSucceeded))

	payment.Refunds = append(payment.Refunds, Refund{Amount: 400, Status: RefundStatusSucceeded})
	assert.Equal(t, int64(0), payment.Refundable())
}

func TestParseMethod(t *testing.T) {
	assert.Equal(t, MethodCard, ParseMethod("CC"))
	assert.Equal(t, MethodUPI, ParseMethod(" upi "))
	assert.Equal(t, MethodNetbanking, ParseMethod("NB"))
	assert.Equal(t, MethodWallet, ParseMethod("paylater"))
	assert.Equal(t, MethodOther, ParseMethod("crypto"))
	assert.Equal(t, Method(""), ParseMethod(""))
}
