package order

import (
	"errors"
	"fmt"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")

	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrStoreNotFound   = fmt.Errorf("store %w", ErrNotFound)

	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrAlreadyAssigned   = errors.New("courier is already assigned to this order")
	ErrConflict          = errors.New("order no longer available")

	// ErrOrderNoLongerAvailable is what a courier sees after losing an acceptance race.
	ErrOrderNoLongerAvailable = ErrConflict
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
