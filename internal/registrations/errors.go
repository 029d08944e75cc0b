package registrations

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before the store is touched.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a uniqueness violation on create.
	ErrConflict = errors.New("conflict")
	// ErrNotFound means no registration matched (or none in the required state).
	ErrNotFound = errors.New("registration not found")

	ErrDuplicateNationalCode = fmt.Errorf("%w: duplicate identifier", ErrConflict)
	ErrDuplicateMobile       = fmt.Errorf("%w: duplicate mobile", ErrConflict)

	// ErrDuplicateTrackingCode is returned by stores when a generated tracking code collides.
	ErrDuplicateTrackingCode = errors.New("duplicate tracking code")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
