package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository is the durable-table boundary spec §1 marks out of scope (the
// ORM/DB binding is an external collaborator); only the conditional-update
// contract from spec §4.6's lease protocol is specified here. ClaimBatch
// realizes the claim query; MarkProcessed/MarkFailed realize the two
// terminal conditional updates, both returning false (not an error) when
// they affect zero rows — the "lease lost, already processed, or race"
// diagnostic path.
type Repository interface {
	Insert(ctx context.Context, msg *Message) error

	// ClaimBatch atomically claims up to batchSize messages matching the
	// lease protocol's WHERE clause, ordered by OccurredAt, and returns
	// them already marked with lockID/lockExpiration.
	ClaimBatch(ctx context.Context, now time.Time, lockID string, leaseExpiration time.Time, maxRetries int, partitionFilter string, batchSize int) ([]*Message, error)

	// MarkProcessed performs the conditional update
	// `SET processedAt=now WHERE id=? AND lockId=self AND processedAt IS NULL`.
	// ok is false iff zero rows were affected.
	MarkProcessed(ctx context.Context, id string, lockID string, now time.Time) (ok bool, err error)

	// MarkFailed performs the conditional update
	// `SET error=?, retryCount=retryCount+1 WHERE id=? AND lockId=self`.
	// ok is false iff zero rows were affected.
	MarkFailed(ctx context.Context, id string, lockID string, handlerErr string) (ok bool, err error)
}

// memoryRepository is an in-memory reference Repository, used by tests and
// as a usage example; production deployments bind Repository to an actual
// durable table.
type memoryRepository struct {
	mu       sync.Mutex
	messages map[string]*Message
}

// NewMemoryRepository returns an empty in-memory Repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{messages: make(map[string]*Message)}
}

func (r *memoryRepository) Insert(ctx context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *msg
	r.messages[cp.ID] = &cp
	return nil
}

func (r *memoryRepository) ClaimBatch(ctx context.Context, now time.Time, lockID string, leaseExpiration time.Time, maxRetries int, partitionFilter string, batchSize int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*Message
	for _, m := range r.messages {
		if m.Claimable(now, maxRetries, partitionFilter) {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].OccurredAt.Before(candidates[j].OccurredAt) })
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	claimed := make([]*Message, 0, len(candidates))
	for _, m := range candidates {
		m.LockID = lockID
		m.LockExpiration = leaseExpiration
		m.Version++
		cp := *m
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (r *memoryRepository) MarkProcessed(ctx context.Context, id string, lockID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.LockID != lockID || m.ProcessedAt != nil {
		return false, nil
	}
	m.ProcessedAt = &now
	m.Version++
	return true, nil
}

func (r *memoryRepository) MarkFailed(ctx context.Context, id string, lockID string, handlerErr string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.LockID != lockID {
		return false, nil
	}
	m.Error = handlerErr
	m.RetryCount++
	m.Version++
	return true, nil
}
