package reconcile

import "errors"

var (
	ErrDuplicateEvent      = errors.New("duplicate_event")
	ErrOutOfOrderEvent     = errors.New("out_of_order_event")
	ErrOrderAlreadyPaid    = errors.New("order_already_paid")
	ErrPersistenceConflict = errors.New("persistence_conflict")

	// ErrCapturedAfterFailure is a capture reported for a payment already
	// marked failed, such as a customer retry inside the same gateway order.
	ErrCapturedAfterFailure = errors.New("captured_after_failure")
)
