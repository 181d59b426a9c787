package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Handlers and workers dispatch on these with
// errors.Is, so lower layers must wrap rather than replace them.
var (
	// Validation errors: caller mistake, no side effects, never retried.
	ErrEmptyCart     = errors.New("cart is empty")
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDuplicateOrderNumber means the allocated order number collided
	// with an existing row; the caller re-allocates and retries.
	ErrDuplicateOrderNumber = errors.New("order number already exists")

	// Gateway errors are retryable; the order stays pending.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayTimeout     = errors.New("payment gateway timed out")

	// ErrSignatureMismatch is fatal to the confirmation attempt and is
	// never retried automatically.
	ErrSignatureMismatch = errors.New("payment signature mismatch")

	// ErrUnknownOrder: the order number does not exist.
	ErrUnknownOrder = errors.New("order not found")

	// ErrIllegalTransition: the requested status change violates the
	// transition table.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrPaymentConflict: the order is already confirmed with a different
	// gateway payment id.
	ErrPaymentConflict = errors.New("conflicting payment already recorded")
)

// MissingFieldError reports a required customer field absent from a
// checkout submission.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// IsValidationError reports whether err belongs to the validation class
// of the taxonomy (bad input, 400-equivalent).
func IsValidationError(err error) bool {
	var mf *MissingFieldError
	return errors.Is(err, ErrEmptyCart) || errors.Is(err, ErrInvalidAmount) || errors.As(err, &mf)
}
