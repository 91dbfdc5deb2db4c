package raft

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// leaderRole runs the replication and proposal-processing loops described
// in spec §4.1. For each peer, a dedicated worker waits on a work signal or
// the heartbeat interval, whichever is first; a single proposal-processing
// task drains the bounded proposal channel, batches and appends, and
// signals every peer worker.
type leaderRole struct {
	roleBase
	term Term

	peersMu sync.RWMutex
	peers   map[string]*PeerReplicationState

	proposalCh chan *proposal
	group      *errgroup.Group
}

func newLeaderRole(n *Node, term Term) *leaderRole {
	lr := &leaderRole{
		roleBase:   roleBase{n: n},
		term:       term,
		peers:      make(map[string]*PeerReplicationState),
		proposalCh: make(chan *proposal, n.config.ProposalQueueSize),
	}
	lastIndex := n.log.LastIndex()
	for _, id := range n.config.peerIDs() {
		lr.peers[id] = newPeerReplicationState(lastIndex)
	}
	return lr
}

func (l *leaderRole) name() RoleName { return RoleLeader }

func (l *leaderRole) enter(ctx context.Context) {
	l.group, ctx = errgroup.WithContext(ctx)
	for id := range l.peers {
		id := id
		l.group.Go(func() error { l.replicationWorker(ctx, id); return nil })
	}
	l.group.Go(func() error { l.proposalDrainer(ctx); return nil })
}

func (l *leaderRole) leave() {
	if l.group != nil {
		l.group.Wait()
	}
	l.n.proposals.drainAll(ErrSteppedDown)
}

// submit enqueues p for the next batch; it fails fast with ErrQueueFull
// rather than blocking the caller indefinitely, per spec §5's backpressure
// rule.
func (l *leaderRole) submit(p *proposal) error {
	select {
	case l.proposalCh <- p:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *leaderRole) propose(command []byte) (<-chan ProposalResult, error) {
	p := newProposal(command)
	if err := l.submit(p); err != nil {
		return nil, err
	}
	return p.done, nil
}

// proposalDrainer batches all currently-available proposals, appends them
// in one log write, registers (index -> completion), and signals every
// peer worker, per spec §4.1's Proposal lifecycle.
func (l *leaderRole) proposalDrainer(ctx context.Context) {
	n := l.n
	for {
		var batch []*proposal
		select {
		case <-ctx.Done():
			return
		case p := <-l.proposalCh:
			batch = append(batch, p)
		}
		draining := true
		for draining {
			select {
			case p := <-l.proposalCh:
				batch = append(batch, p)
			default:
				draining = false
			}
		}

		entries := make([]LogEntry, len(batch))
		for i, p := range batch {
			entries[i] = LogEntry{Term: l.term, Command: p.entry.Command}
		}
		lastIndex, err := n.log.AppendMany(entries)
		if err != nil {
			n.config.Logger.Errorf("raft: %s leader append failed: %v", n.config.NodeID, err)
			dropped := fmt.Errorf("%w: %v", ErrProposalDropped, err)
			for _, p := range batch {
				p.resolve(ProposalResult{Err: dropped})
			}
			continue
		}
		firstIndex := lastIndex - LogIndex(len(batch)) + 1
		for i, p := range batch {
			n.proposals.register(firstIndex+LogIndex(i), p)
		}

		l.peersMu.RLock()
		for _, pr := range l.peers {
			pr.signal()
		}
		l.peersMu.RUnlock()

		l.maybeCommit()
	}
}

// replicationWorker is the per-peer loop of spec §4.1's Replication
// section: each cycle sends either InstallSnapshot (if the peer has fallen
// behind the last snapshot) or AppendEntries with whatever suffix the peer
// still needs, then updates nextIndex/matchIndex from the result.
func (l *leaderRole) replicationWorker(ctx context.Context, peerID string) {
	n := l.n
	ticker := time.NewTicker(n.config.HeartbeatInterval)
	defer ticker.Stop()

	l.peersMu.RLock()
	pr := l.peers[peerID]
	l.peersMu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pr.workSignal:
		case <-ticker.C:
		}
		l.replicateOnce(ctx, peerID, pr)
	}
}

func (l *leaderRole) replicateOnce(ctx context.Context, peerID string, pr *PeerReplicationState) {
	n := l.n
	snapIdx := n.log.LastSnapshotIndex()

	l.peersMu.RLock()
	prevIndex := pr.NextIndex - 1
	l.peersMu.RUnlock()

	rpcCtx, cancel := context.WithTimeout(ctx, n.config.RPCTimeout)
	defer cancel()

	if prevIndex < snapIdx {
		l.installSnapshot(rpcCtx, peerID, pr)
		return
	}

	prevTerm := Term(0)
	if prevIndex > 0 {
		t, ok := n.log.Term(prevIndex)
		if !ok {
			l.installSnapshot(rpcCtx, peerID, pr)
			return
		}
		prevTerm = t
	}
	entries := n.log.Entries(prevIndex + 1)

	args := &AppendEntriesArgs{
		Term:            l.term,
		LeaderID:        n.config.NodeID,
		PrevLogIndex:    prevIndex,
		PrevLogTerm:     prevTerm,
		Entries:         entries,
		LeaderCommitIdx: LogIndex(n.commitIndex.Load()),
	}
	reply, err := n.transport.AppendEntries(rpcCtx, peerID, args)
	if err != nil {
		n.config.Logger.Debugf("raft: %s AppendEntries to %s failed: %v", n.config.NodeID, peerID, err)
		return
	}
	if reply.Term > l.term {
		n.stepDownAsync(reply.Term, NoLeader)
		return
	}

	l.peersMu.Lock()
	if reply.Success {
		pr.MatchIndex = prevIndex + LogIndex(len(entries))
		pr.NextIndex = pr.MatchIndex + 1
	} else {
		next := pr.NextIndex - 1
		if next < 1 {
			next = 1
		}
		if reply.RejectHint > 0 && reply.RejectHint < next {
			next = reply.RejectHint + 1
		}
		pr.NextIndex = next
		pr.signal()
	}
	l.peersMu.Unlock()

	if reply.Success {
		l.maybeCommit()
	}
}

func (l *leaderRole) installSnapshot(ctx context.Context, peerID string, pr *PeerReplicationState) {
	n := l.n
	args := &InstallSnapshotArgs{
		Term:              l.term,
		LeaderID:          n.config.NodeID,
		LastIncludedIndex: n.log.LastSnapshotIndex(),
		LastIncludedTerm:  n.log.LastSnapshotTerm(),
		Data:              n.log.SnapshotData(),
	}
	reply, err := n.transport.InstallSnapshot(ctx, peerID, args)
	if err != nil {
		n.config.Logger.Debugf("raft: %s InstallSnapshot to %s failed: %v", n.config.NodeID, peerID, err)
		return
	}
	if reply.Term > l.term {
		n.stepDownAsync(reply.Term, NoLeader)
		return
	}
	l.peersMu.Lock()
	pr.MatchIndex = args.LastIncludedIndex
	pr.NextIndex = args.LastIncludedIndex + 1
	l.peersMu.Unlock()
	pr.signal()
}

// maybeCommit implements spec §4.1's commit-advancement rule: collect all
// peer matchIndex values plus the leader's own, sort descending, and take
// the value at the quorum position; advance commitIndex to it only if that
// entry's term equals the leader's current term (the Raft safety rule
// preventing commit of prior-term entries via an indirect majority).
func (l *leaderRole) maybeCommit() {
	n := l.n
	l.peersMu.RLock()
	matches := make([]LogIndex, 0, len(l.peers)+1)
	matches = append(matches, n.log.LastIndex())
	for _, pr := range l.peers {
		matches = append(matches, pr.MatchIndex)
	}
	l.peersMu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	quorum := n.config.quorum()
	if quorum > len(matches) {
		return
	}
	candidateIndex := matches[quorum-1]
	if candidateIndex <= LogIndex(n.commitIndex.Load()) {
		return
	}
	entryTerm, ok := n.log.Term(candidateIndex)
	if !ok || entryTerm != l.term {
		return
	}
	n.commitIndex.Store(uint64(candidateIndex))
	n.metrics.commitIndex.Set(float64(candidateIndex))
	n.wakeApplier()
}

func (l *leaderRole) handleRequestVote(args *RequestVoteArgs) *RequestVoteReply {
	return &RequestVoteReply{Term: l.n.state.CurrentTerm(), VoteGranted: false}
}

func (l *leaderRole) handleAppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	// Two leaders in the same term is impossible under election safety; a
	// higher term is handled by Node.checkTerm before this is reached.
	return &AppendEntriesReply{Term: l.n.state.CurrentTerm(), Success: false}
}

func (l *leaderRole) handleInstallSnapshot(args *InstallSnapshotArgs) *InstallSnapshotReply {
	return &InstallSnapshotReply{Term: l.n.state.CurrentTerm()}
}
