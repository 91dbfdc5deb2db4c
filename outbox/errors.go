package outbox

import "github.com/pkg/errors"

var (
	// ErrLeaseLost is what the dispatcher logs when a terminal
	// MarkProcessed update affected zero rows (the Repository reports that
	// as ok == false, not as an error): the lease was taken by another
	// instance, the message was already processed, or a race occurred —
	// spec §4.6 step 2's "diagnostic path."
	ErrLeaseLost = errors.New("outbox: lease lost or message already resolved")

	// ErrNoHandler is the failure reason the dispatcher records (via
	// MarkFailed) when a message's HandlerType has no registered Handler.
	ErrNoHandler = errors.New("outbox: no handler registered for type")

	// ErrPoisoned marks a message that has exhausted MaxRetries; it is
	// excluded from future claims until an operator intervenes.
	ErrPoisoned = errors.New("outbox: message poisoned, retry limit exceeded")
)
