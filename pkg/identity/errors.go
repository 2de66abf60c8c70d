package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when neither an email nor a phone number is given.
	ErrInvalidRequest = errors.New("at least one of email or phoneNumber must be provided")
	// ErrNotFound is returned when a contact id or a followed link does not exist.
	ErrNotFound = errors.New("contact not found")
	// ErrCorruptChain is returned when a link chain cycles or never reaches a
	// primary. It matches ErrNotFound under errors.Is.
	ErrCorruptChain = fmt.Errorf("%w: corrupt link chain", ErrNotFound)
	// ErrTransient is returned when the store is unreachable or timed out.
	ErrTransient = errors.New("contact store unavailable")
	// ErrConflict is returned when concurrent identifies kept invalidating the
	// unit of work and retries were exhausted.
	ErrConflict = errors.New("concurrent update conflict")
)

// NotFound wraps ErrNotFound with the missing id.
func NotFound(id int64) error {
	return fmt.Errorf("%w: id %d", ErrNotFound, id)
}
