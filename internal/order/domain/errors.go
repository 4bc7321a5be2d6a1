package domain

import "errors"

var (
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrOrderNotPayable      = errors.New("order_not_payable")
	ErrOrderNotCancellable  = errors.New("order_not_cancellable")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrInvalidItems         = errors.New("invalid_items")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidAddress       = errors.New("invalid_address")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidTracking      = errors.New("invalid_tracking")
	ErrOrderNumberExhausted = errors.New("order_number_exhausted")
)
