package raft

import "github.com/pkg/errors"

// Proposal-level errors returned to callers of Propose, per spec §7(c).
var (
	// ErrNotLeader is returned when Propose is called on a non-leader node.
	// Check LeaderHint for the best-known current leader.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrQueueFull is returned when the bounded proposal channel is full;
	// Propose fails fast rather than blocking the caller indefinitely.
	ErrQueueFull = errors.New("raft: proposal queue full")

	// ErrSteppedDown is returned to proposals still in flight when the
	// leader steps down before they are applied.
	ErrSteppedDown = errors.New("raft: leader stepped down before commit")

	// ErrProposalDropped is returned when a proposal cannot be appended for
	// a reason other than not-being-leader (e.g. a pending role change).
	ErrProposalDropped = errors.New("raft: proposal dropped")

	// ErrSuperseded marks a proposal whose log index was purged by a
	// snapshot compaction before it could be resolved.
	ErrSuperseded = errors.New("raft: proposal superseded by snapshot compaction")
)

// Corrupted-state errors, per spec §7(d).
var (
	ErrChecksumMismatch = errors.New("raft: snapshot checksum mismatch")
	ErrCorruptLog       = errors.New("raft: log store corrupt")
)

// LeaderHint accompanies ErrNotLeader with the best-known current leader, if
// any.
type LeaderHint struct {
	LeaderID string
}

func (h LeaderHint) Error() string {
	if h.LeaderID == "" {
		return "raft: not the leader, no known leader"
	}
	return "raft: not the leader, try " + h.LeaderID
}
