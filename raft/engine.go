package raft

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Node is the Raft engine: the role state machine, commit authority, and
// RPC entry point (spec §4.1, §5). Role transitions are serialized through
// roleMu. RPC handlers read the active role under roleMu and then run
// outside it, so handlers for different RPCs may run concurrently; commit
// advancement runs on the leader role's goroutines and is published through
// the atomic commitIndex. Replication loops, the applier, and the
// snapshotter are parallel goroutines that read Node state only through the
// concurrency-safe primitives below.
type Node struct {
	config    Config
	state     PersistentState
	log       LogStore
	sm        StateMachine
	transport Transport
	metrics   *metrics
	snapshot  *snapshotOrchestrator

	proposals *proposalRegistry

	roleMu     sync.Mutex
	current    role
	roleCancel context.CancelFunc

	// leaderID is the engine's best current guess at the cluster leader,
	// for LeaderHint on ErrNotLeader; set on every AppendEntries/
	// InstallSnapshot accepted from a leader, and to self on becomeLeader.
	leaderMu sync.RWMutex
	leaderID string

	commitIndex atomic.Uint64
	lastApplied atomic.Uint64
	applyWake   chan struct{}

	rootCtx    context.Context
	rootCancel context.CancelFunc
	rootGroup  *errgroup.Group
}

// NewNode constructs a Node from cfg, opening its persistent state and log
// store under cfg.PersistencePath. The Node starts in the Follower role
// once Start is called.
func NewNode(cfg Config, transport Transport, sm StateMachine, registry prometheus.Registerer) (*Node, error) {
	if err := (&cfg).validate(); err != nil {
		return nil, err
	}
	ps, err := OpenPersistentState(cfg.PersistencePath)
	if err != nil {
		return nil, errors.Wrap(err, "raft: open persistent state")
	}
	ls, err := OpenLogStore(cfg.PersistencePath)
	if err != nil {
		return nil, errors.Wrap(err, "raft: open log store")
	}
	n := &Node{
		config:    cfg,
		state:     ps,
		log:       ls,
		sm:        sm,
		transport: transport,
		metrics:   newMetrics(registry, cfg.NodeID),
		proposals: newProposalRegistry(),
		applyWake: make(chan struct{}, 1),
	}
	n.snapshot = newSnapshotOrchestrator(n)

	snapIdx := ls.LastSnapshotIndex()
	n.commitIndex.Store(uint64(snapIdx))
	n.lastApplied.Store(uint64(snapIdx))
	if fs, ok := ls.(*fileLogStore); ok && !fs.SnapshotData2Empty() {
		if err := sm.Restore(ls.SnapshotData()); err != nil {
			return nil, errors.Wrap(err, "raft: restore state machine from snapshot")
		}
	}
	return n, nil
}

// SnapshotData2Empty reports whether the log store currently has no
// snapshot, without exposing the bytes; kept on LogStore's concrete type
// rather than the interface since it is only needed at construction.
func (s *fileLogStore) SnapshotData2Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotData == nil
}

// Start begins running the Node: it starts the background applier and
// snapshot-trigger loops and enters the Follower role. Log entries after
// the snapshot were already loaded by NewNode; they are applied once the
// commit index advances past them.
func (n *Node) Start() error {
	n.rootCtx, n.rootCancel = context.WithCancel(context.Background())
	n.rootGroup, n.rootCtx = errgroup.WithContext(n.rootCtx)

	n.rootGroup.Go(func() error { n.applierLoop(n.rootCtx); return nil })
	n.rootGroup.Go(func() error { n.snapshot.loop(n.rootCtx); return nil })

	n.becomeFollower(n.state.CurrentTerm(), NoLeader)
	return nil
}

// Stop cancels the active role and every Node-level background loop, and
// waits for all of it to exit.
func (n *Node) Stop() {
	n.roleMu.Lock()
	if n.current != nil {
		n.roleCancel()
		n.current.leave()
		n.proposals.drainAll(ErrSteppedDown)
		n.current = nil
	}
	n.roleMu.Unlock()

	if n.rootCancel != nil {
		n.rootCancel()
	}
	if n.rootGroup != nil {
		n.rootGroup.Wait()
	}
}

func (n *Node) wakeApplier() {
	select {
	case n.applyWake <- struct{}{}:
	default:
	}
}

// applierLoop feeds committed-index advances into the state machine in
// strict ascending order, per spec §4.4 and the "applier observes committed
// indices strictly in ascending order" ordering guarantee in spec §5.
func (n *Node) applierLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.applyWake:
		}
		for {
			applied := LogIndex(n.lastApplied.Load())
			commit := LogIndex(n.commitIndex.Load())
			if applied >= commit {
				break
			}
			next := applied + 1
			entry, ok := n.log.Get(next)
			if !ok {
				// entry was compacted into a snapshot concurrently; the
				// snapshot install path itself advances lastApplied.
				break
			}
			result, err := n.sm.Apply(entry)
			n.lastApplied.Store(uint64(next))
			n.metrics.lastApplied.Set(float64(next))
			n.proposals.resolve(next, ProposalResult{Output: result, Err: err})
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// setLeader records the current best-known leader id.
func (n *Node) setLeader(id string) {
	n.leaderMu.Lock()
	n.leaderID = id
	n.leaderMu.Unlock()
}

func (n *Node) knownLeader() string {
	n.leaderMu.RLock()
	defer n.leaderMu.RUnlock()
	return n.leaderID
}

// transition swaps the active role: it cancels and leaves the old role
// (idempotent), then enters the new one on a fresh cancellation scope. It
// must be called with roleMu held.
func (n *Node) transitionLocked(next role) {
	if n.current != nil {
		if n.roleCancel != nil {
			n.roleCancel()
		}
		n.current.leave()
	}
	n.current = next
	var ctx context.Context
	ctx, n.roleCancel = context.WithCancel(n.rootCtx)
	n.current.enter(ctx)
	n.metrics.setRole(next.name())
}

func (n *Node) becomeFollower(term Term, leaderID string) {
	n.roleMu.Lock()
	defer n.roleMu.Unlock()
	if _, err := n.state.StepDownIfGreaterTerm(term); err != nil {
		n.config.Logger.Warnf("raft: %s failed to persist stepped-down term: %v", n.config.NodeID, err)
	}
	n.metrics.term.Set(float64(n.state.CurrentTerm()))
	n.setLeader(leaderID)
	fr := &followerRole{roleBase: roleBase{n: n}}
	n.transitionLocked(fr)
	n.config.Logger.Infof("raft: %s became follower at term %d", n.config.NodeID, n.state.CurrentTerm())
}

func (n *Node) becomeCandidate() {
	n.roleMu.Lock()
	defer n.roleMu.Unlock()
	newTerm := n.state.CurrentTerm() + 1
	if err := n.state.SetVote(newTerm, n.config.NodeID); err != nil {
		n.config.Logger.Warnf("raft: %s failed to persist candidacy: %v", n.config.NodeID, err)
		return
	}
	n.metrics.term.Set(float64(newTerm))
	n.metrics.elections.Inc()
	n.setLeader(NoLeader)
	cr := &candidateRole{roleBase: roleBase{n: n}, term: newTerm}
	n.transitionLocked(cr)
	n.config.Logger.Infof("raft: %s became candidate at term %d", n.config.NodeID, newTerm)
}

// stepDownAsync triggers becomeFollower on a detached goroutine. It exists
// so a role's own worker goroutine (a member of that role's errgroup) can
// request a transition without deadlocking: leave() on the outgoing role
// blocks on that same errgroup's Wait(), so becomeFollower must never be
// called synchronously from inside one of its own group members.
func (n *Node) stepDownAsync(term Term, leaderID string) {
	go n.becomeFollower(term, leaderID)
}

func (n *Node) becomeLeader(term Term) {
	n.roleMu.Lock()
	defer n.roleMu.Unlock()
	if term != n.state.CurrentTerm() {
		// a higher term arrived while the quorum of votes was being
		// tallied; becoming leader now would violate election safety.
		return
	}
	n.setLeader(n.config.NodeID)
	lr := newLeaderRole(n, term)
	n.transitionLocked(lr)
	n.config.Logger.Infof("raft: %s became leader at term %d", n.config.NodeID, term)
}

// checkTerm applies the universal term rule from spec §4.1: observing a
// larger term forces a transition to Follower (after persisting it);
// observing a smaller term is handled by the caller (reject). Returns the
// (possibly updated) locally known term.
func (n *Node) checkTerm(remoteTerm Term, remoteID string, carriesLeadership bool) Term {
	local := n.state.CurrentTerm()
	if remoteTerm > local {
		if carriesLeadership {
			n.becomeFollower(remoteTerm, remoteID)
		} else {
			n.becomeFollower(remoteTerm, NoLeader)
		}
		return remoteTerm
	}
	return local
}

// HandleRequestVote is the Transport-facing entry point for RequestVote,
// called by whatever binding adapts Transport to the wire.
func (n *Node) HandleRequestVote(ctx context.Context, args *RequestVoteArgs) (*RequestVoteReply, error) {
	n.checkTerm(args.Term, args.CandidateID, false)
	n.roleMu.Lock()
	current := n.current
	n.roleMu.Unlock()
	if current == nil {
		return &RequestVoteReply{Term: n.state.CurrentTerm()}, nil
	}
	return current.handleRequestVote(args), nil
}

// HandleAppendEntries is the Transport-facing entry point for AppendEntries.
func (n *Node) HandleAppendEntries(ctx context.Context, args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	if args.Term < n.state.CurrentTerm() {
		return &AppendEntriesReply{Term: n.state.CurrentTerm(), Success: false}, nil
	}
	n.checkTerm(args.Term, args.LeaderID, true)
	n.roleMu.Lock()
	current := n.current
	n.roleMu.Unlock()
	if current == nil {
		return &AppendEntriesReply{Term: n.state.CurrentTerm()}, nil
	}
	reply := current.handleAppendEntries(args)
	n.wakeApplier()
	return reply, nil
}

// HandleInstallSnapshot is the Transport-facing entry point for
// InstallSnapshot.
func (n *Node) HandleInstallSnapshot(ctx context.Context, args *InstallSnapshotArgs) (*InstallSnapshotReply, error) {
	if args.Term < n.state.CurrentTerm() {
		return &InstallSnapshotReply{Term: n.state.CurrentTerm()}, nil
	}
	n.checkTerm(args.Term, args.LeaderID, true)
	n.roleMu.Lock()
	current := n.current
	n.roleMu.Unlock()
	if current == nil {
		return &InstallSnapshotReply{Term: n.state.CurrentTerm()}, nil
	}
	reply := current.handleInstallSnapshot(args)
	n.wakeApplier()
	return reply, nil
}

// Propose submits a client command to the cluster and blocks until it is
// committed and applied (success), the node is not the leader
// (ErrNotLeader, possibly wrapping a LeaderHint), the proposal queue is
// full (ErrQueueFull), the leader steps down before commit
// (ErrSteppedDown), or ctx is done.
func (n *Node) Propose(ctx context.Context, command []byte) (ProposalResult, error) {
	done, err := n.ProposeAsync(command)
	if err != nil {
		return ProposalResult{}, err
	}
	select {
	case result := <-done:
		return result, result.Err
	case <-ctx.Done():
		return ProposalResult{}, ctx.Err()
	}
}

// ProposeAsync registers command and returns a channel that resolves
// exactly once with the outcome, without blocking the calling goroutine.
// Propose (above) is the synchronous convenience wrapper around it.
func (n *Node) ProposeAsync(command []byte) (<-chan ProposalResult, error) {
	n.roleMu.Lock()
	current := n.current
	n.roleMu.Unlock()
	if current == nil {
		n.metrics.proposals.WithLabelValues("not_leader").Inc()
		return nil, wrapNotLeader(n)
	}
	done, err := current.propose(command)
	if err != nil {
		n.metrics.proposals.WithLabelValues("rejected").Inc()
		return nil, err
	}
	n.metrics.proposals.WithLabelValues("submitted").Inc()
	return done, nil
}

// CommitIndex returns the current commit index for observability/tests.
func (n *Node) CommitIndex() LogIndex { return LogIndex(n.commitIndex.Load()) }

// LastApplied returns the highest applied index for observability/tests.
func (n *Node) LastApplied() LogIndex { return LogIndex(n.lastApplied.Load()) }

// State returns the currently active role name, for observability/tests.
func (n *Node) State() RoleName {
	n.roleMu.Lock()
	defer n.roleMu.Unlock()
	if n.current == nil {
		return ""
	}
	return n.current.name()
}

// Term returns the current persisted term.
func (n *Node) Term() Term { return n.state.CurrentTerm() }

// HardState returns a snapshot of the state an operator or test harness
// cares about: the durable current term and vote, plus the in-memory commit
// index.
func (n *Node) HardState() HardState {
	return HardState{
		Term:      n.state.CurrentTerm(),
		Vote:      n.state.VotedFor(),
		CommitIdx: n.CommitIndex(),
	}
}

// LatestSnapshot returns the most recently compacted snapshot, or a zero
// Snapshot if none has been taken yet.
func (n *Node) LatestSnapshot() Snapshot {
	return Snapshot{
		LastIncludedIndex: n.log.LastSnapshotIndex(),
		LastIncludedTerm:  n.log.LastSnapshotTerm(),
		Data:              n.log.SnapshotData(),
	}
}
