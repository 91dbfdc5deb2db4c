package outbox

import "time"

// Status is the lifecycle stage of a Message, used only for observability;
// claim/processed/poisoned state is actually derived from the lease and
// retry fields below, per spec §3's OutboxMessage invariants.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusProcessed Status = "processed"
	StatusPoisoned  Status = "poisoned"
)

// Message is the persisted outbox record, per spec §3's richer/leased
// OutboxMessage variant (the spec §9 Open Question resolves in its favor
// over the simpler, lease-less variant the source also carries).
type Message struct {
	ID           string
	Type         string
	Content      []byte
	OccurredAt   time.Time
	ProcessedAt  *time.Time
	Error        string
	RetryCount   int
	PartitionKey string

	// LockID is the claiming dispatcher's InstanceID, and LockExpiration is
	// when that claim lapses; a message is claimable when
	// LockID == "" || LockExpiration.Before(now).
	LockID         string
	LockExpiration time.Time

	// Version is a concurrency token the repository bumps on every
	// mutation. The Repository methods take no expected version, so the
	// conditional updates are guarded by LockID and ProcessedAt only;
	// Version is not compared.
	Version int64

	// HandlerType is the stored type token used to resolve a Handler from
	// the dispatcher's registry.
	HandlerType string
}

// CurrentStatus derives m's observable lifecycle stage; Status itself is
// not a stored column, it is computed from the lease/retry/processed
// fields that are.
func (m *Message) CurrentStatus(now time.Time, maxRetries int) Status {
	switch {
	case m.ProcessedAt != nil:
		return StatusProcessed
	case m.RetryCount >= maxRetries:
		return StatusPoisoned
	case m.LockID != "" && m.LockExpiration.After(now):
		return StatusClaimed
	default:
		return StatusPending
	}
}

// IsTerminal reports whether m has reached a state outside future claim
// consideration: already processed, or poisoned by exhausting retries.
func (m *Message) IsTerminal(maxRetries int) bool {
	return m.ProcessedAt != nil || m.RetryCount >= maxRetries
}

// Claimable reports whether m may be claimed by a dispatcher right now,
// per spec §4.6's lease protocol: not yet processed, lease free or
// expired, under the retry ceiling, and partition-compatible.
func (m *Message) Claimable(now time.Time, maxRetries int, partitionFilter string) bool {
	if m.ProcessedAt != nil {
		return false
	}
	if m.RetryCount >= maxRetries {
		return false
	}
	if m.LockID != "" && m.LockExpiration.After(now) {
		return false
	}
	if partitionFilter != "" && m.PartitionKey != "" && m.PartitionKey != partitionFilter {
		return false
	}
	return true
}
