package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound means no identity resolution strategy matched. It is
	// terminal for the event; operators fix the data and replay manually.
	ErrAccountNotFound = errors.New("no account matches payment event")

	// ErrAmbiguousMatch means an email lookup returned more than one row. A
	// uniqueness violation is a hard failure, never an arbitrary pick.
	ErrAmbiguousMatch = errors.New("multiple accounts match payment event")

	// ErrStoreUnavailable wraps transient storage failures. Events hit by it
	// stay unprocessed in the ledger and are safe to redeliver.
	ErrStoreUnavailable = errors.New("billing store unavailable")

	// ErrIgnoredEvent marks provider notification types the reconciler does
	// not consume.
	ErrIgnoredEvent = errors.New("payment event type not handled")
)

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
