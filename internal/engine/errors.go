package engine

import "errors"

// Failure kinds surfaced by the engine. Everything except ValidationError
// occurs inside the atomic unit of work and causes a full rollback; no
// partially applied reservation or settlement is ever observable.
var (
	// ErrInsufficientFunds: buyer's balance cannot cover price*amount.
	ErrInsufficientFunds = errors.New("insufficient USD balance")

	// ErrInsufficientAsset: seller's free holding cannot cover the order amount.
	ErrInsufficientAsset = errors.New("insufficient asset balance")

	// ErrOrderNotOpen: cancel target already filled or cancelled.
	ErrOrderNotOpen = errors.New("only open orders can be cancelled")

	// ErrNotFound: order id unknown or not owned by the caller.
	ErrNotFound = errors.New("order not found")

	// ErrConcurrency: lock acquisition failed or a deadlock was detected.
	// Fatal to the request; the engine performs no automatic retry.
	ErrConcurrency = errors.New("concurrent update conflict")
)

// ValidationError rejects malformed or out-of-range input before any
// reservation is attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErrf(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
