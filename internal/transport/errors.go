package transport

import (
	"errors"
	"fmt"
)

// ErrRejected marks a permanent, per-destination delivery failure: the bot was
// kicked, blocked, lost its rights, or the chat no longer exists.
var ErrRejected = errors.New("delivery rejected")

// MigratedError is returned when the destination chat moved to a new id
// (a group upgraded to a supergroup). The same logical chat lives on under To.
type MigratedError struct {
	From int64
	To   int64
}

func (e *MigratedError) Error() string {
	return fmt.Sprintf("chat %d migrated to %d", e.From, e.To)
}

// Rejected wraps cause so that errors.Is(err, ErrRejected) holds while the
// platform description stays visible in Error().
func Rejected(cause error) error {
	if cause == nil {
		return ErrRejected
	}
	return fmt.Errorf("%w: %v", ErrRejected, cause)
}
