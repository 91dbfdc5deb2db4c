package raft

import (
	"context"
	"math/rand"
	"time"
)

// followerRole runs the election timer described in spec §4.1: if no valid
// leader contact or vote grant resets the timer before a randomized
// deadline, it triggers a transition to Candidate.
type followerRole struct {
	roleBase

	resetCh chan struct{}
}

func (f *followerRole) name() RoleName { return RoleFollower }

func (f *followerRole) enter(ctx context.Context) {
	f.resetCh = make(chan struct{}, 1)
	go f.electionTimerLoop(ctx)
}

func (f *followerRole) leave() {
	// cancellation is driven by the context passed to enter; nothing else
	// to release. leave is idempotent since electionTimerLoop simply
	// observes ctx.Done() and returns.
}

func (f *followerRole) electionTimerLoop(ctx context.Context) {
	for {
		timeout := f.randomizedTimeout()
		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-f.resetCh:
			timer.Stop()
			continue
		case <-timer.C:
			f.n.becomeCandidate()
			return
		}
	}
}

func (f *followerRole) randomizedTimeout() time.Duration {
	base := f.n.config.ElectionTimeout
	return base + time.Duration(rand.Int63n(int64(base)))
}

func (f *followerRole) resetTimer() {
	select {
	case f.resetCh <- struct{}{}:
	default:
	}
}

func (f *followerRole) handleRequestVote(args *RequestVoteArgs) *RequestVoteReply {
	n := f.n
	currentTerm := n.state.CurrentTerm()
	if args.Term < currentTerm {
		return &RequestVoteReply{Term: currentTerm, VoteGranted: false}
	}

	votedFor := n.state.VotedFor()
	canVote := votedFor == NoVote || votedFor == args.CandidateID
	lastTerm, lastIndex := n.log.LastEntryInfo()
	upToDate := args.LastLogTerm > lastTerm ||
		(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)

	if canVote && upToDate {
		if err := n.state.SetVote(args.Term, args.CandidateID); err != nil {
			n.config.Logger.Warnf("raft: %s failed to persist vote: %v", n.config.NodeID, err)
			return &RequestVoteReply{Term: currentTerm, VoteGranted: false}
		}
		f.resetTimer()
		return &RequestVoteReply{Term: args.Term, VoteGranted: true}
	}
	return &RequestVoteReply{Term: n.state.CurrentTerm(), VoteGranted: false}
}

func (f *followerRole) handleAppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	n := f.n
	currentTerm := n.state.CurrentTerm()
	if args.Term < currentTerm {
		return &AppendEntriesReply{Term: currentTerm, Success: false}
	}
	f.resetTimer()
	n.setLeader(args.LeaderID)

	snapIdx := n.log.LastSnapshotIndex()
	if args.PrevLogIndex < snapIdx {
		return &AppendEntriesReply{Term: currentTerm, Success: false, RejectHint: n.log.LastIndex()}
	}
	if args.PrevLogIndex > snapIdx {
		localTerm, ok := n.log.Term(args.PrevLogIndex)
		if !ok || localTerm != args.PrevLogTerm {
			return &AppendEntriesReply{Term: currentTerm, Success: false, RejectHint: n.log.LastIndex()}
		}
	}

	// Conflict resolution: truncate the tail from the first index where
	// the local term disagrees with the incoming entry's term, then append
	// the remainder idempotently (spec §4.1 AppendEntries).
	firstNew := args.PrevLogIndex + 1
	i := 0
	for ; i < len(args.Entries); i++ {
		idx := firstNew + LogIndex(i)
		localTerm, ok := n.log.Term(idx)
		if !ok {
			break
		}
		if localTerm != args.Entries[i].Term {
			if err := n.log.Truncate(idx); err != nil {
				n.config.Logger.Errorf("raft: %s truncate failed: %v", n.config.NodeID, err)
				return &AppendEntriesReply{Term: currentTerm, Success: false}
			}
			break
		}
	}
	if i < len(args.Entries) {
		if _, err := n.log.AppendMany(args.Entries[i:]); err != nil {
			n.config.Logger.Errorf("raft: %s append failed: %v", n.config.NodeID, err)
			return &AppendEntriesReply{Term: currentTerm, Success: false}
		}
	}

	if args.LeaderCommitIdx > LogIndex(n.commitIndex.Load()) {
		newCommit := args.LeaderCommitIdx
		if last := n.log.LastIndex(); newCommit > last {
			newCommit = last
		}
		n.commitIndex.Store(uint64(newCommit))
		n.metrics.commitIndex.Set(float64(newCommit))
		n.wakeApplier()
	}

	return &AppendEntriesReply{Term: n.state.CurrentTerm(), Success: true, RejectHint: n.log.LastIndex()}
}

func (f *followerRole) handleInstallSnapshot(args *InstallSnapshotArgs) *InstallSnapshotReply {
	n := f.n
	f.resetTimer()
	n.setLeader(args.LeaderID)
	n.snapshot.install(args)
	return &InstallSnapshotReply{Term: n.state.CurrentTerm()}
}

func (f *followerRole) propose(command []byte) (<-chan ProposalResult, error) {
	return nil, wrapNotLeader(f.n)
}

func wrapNotLeader(n *Node) error {
	hint := LeaderHint{LeaderID: n.knownLeader()}
	return &notLeaderError{hint: hint}
}

// notLeaderError wraps ErrNotLeader with a LeaderHint while still matching
// errors.Is(err, ErrNotLeader).
type notLeaderError struct {
	hint LeaderHint
}

func (e *notLeaderError) Error() string { return e.hint.Error() }
func (e *notLeaderError) Is(target error) bool { return target == ErrNotLeader }
func (e *notLeaderError) Hint() LeaderHint      { return e.hint }
