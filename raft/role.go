package raft

import "context"

// RoleName identifies which of the three roles is active.
type RoleName string

const (
	RoleFollower  RoleName = "follower"
	RoleCandidate RoleName = "candidate"
	RoleLeader    RoleName = "leader"
)

// role is the contract every Follower/Candidate/Leader implementation
// satisfies, per spec §4.1. Exactly one role is active in a Node at a time;
// transitions are serialized through the Node. leave() must be idempotent.
// The Node owns each role's context.CancelFunc and cancels it before
// calling leave(); every task a role starts exits on that cancellation.
type role interface {
	name() RoleName

	// enter starts the role's background work (timers, replication loops,
	// pollers). ctx is this role's cancellation scope: when the Node
	// transitions away, it cancels ctx and calls leave(). The leader's
	// leave() blocks on its errgroup until its workers have exited; the
	// follower's and candidate's leave() return at once, and their single
	// goroutine exits when it next observes ctx.Done().
	enter(ctx context.Context)
	leave()

	handleAppendEntries(args *AppendEntriesArgs) *AppendEntriesReply
	handleRequestVote(args *RequestVoteArgs) *RequestVoteReply
	handleInstallSnapshot(args *InstallSnapshotArgs) *InstallSnapshotReply

	// propose attempts to accept a client command; only the leader role
	// actually appends it and returns a completion channel. The others
	// return ErrNotLeader (with a LeaderHint when known); forwarding to the
	// leader is left to the caller.
	propose(command []byte) (<-chan ProposalResult, error)
}

// roleBase is embedded by every concrete role and carries the fields common
// to all three, mirroring the shared state tinykv's Raft struct threads
// through stepFollower/stepCandidate/stepLeader — generalized here into
// per-role goroutine-owning values instead of tick-driven fields.
type roleBase struct {
	n *Node
}
