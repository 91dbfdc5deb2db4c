package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// candidateRole runs one campaign, per spec §4.1: it votes for itself,
// requests votes from every peer with a randomized election timeout as
// deadline, and on quorum becomes leader. On timeout without quorum it
// steps down to Follower rather than looping campaigns internally — the
// follower's own timer fires the next campaign, which breaks split-vote
// storms (spec §9's Open-Question resolution in favor of the active,
// correct implementation).
type candidateRole struct {
	roleBase
	term Term

	mu     sync.Mutex
	votes  map[string]bool
}

func (c *candidateRole) name() RoleName { return RoleCandidate }

func (c *candidateRole) enter(ctx context.Context) {
	c.votes = map[string]bool{c.n.config.NodeID: true}
	go c.campaign(ctx)
}

func (c *candidateRole) leave() {}

func (c *candidateRole) campaign(ctx context.Context) {
	n := c.n
	lastTerm, lastIndex := n.log.LastEntryInfo()
	args := &RequestVoteArgs{
		Term:         c.term,
		CandidateID:  n.config.NodeID,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}

	quorum := n.config.quorum()
	if quorum == 1 {
		n.becomeLeader(c.term)
		return
	}

	type voteReply struct {
		peerID string
		reply  *RequestVoteReply
	}
	replies := make(chan voteReply, len(n.config.peerIDs()))
	for _, peerID := range n.config.peerIDs() {
		peerID := peerID
		go func() {
			rpcCtx, cancel := context.WithTimeout(ctx, n.config.RPCTimeout)
			defer cancel()
			reply, err := n.transport.RequestVote(rpcCtx, peerID, args)
			if err != nil {
				n.config.Logger.Debugf("raft: %s RequestVote to %s failed: %v", n.config.NodeID, peerID, err)
				return
			}
			select {
			case replies <- voteReply{peerID: peerID, reply: reply}:
			case <-ctx.Done():
			}
		}()
	}

	timeout := n.config.ElectionTimeout + time.Duration(rand.Int63n(int64(n.config.ElectionTimeout)))
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			n.becomeFollower(n.state.CurrentTerm(), NoLeader)
			return
		case vr := <-replies:
			reply := vr.reply
			if reply.Term > c.term {
				n.becomeFollower(reply.Term, NoLeader)
				return
			}
			if !reply.VoteGranted {
				continue
			}
			c.mu.Lock()
			c.votes[vr.peerID] = true
			granted := c.tallyLocked()
			c.mu.Unlock()
			if granted >= quorum {
				n.becomeLeader(c.term)
				return
			}
		}
	}
}

// tallyLocked must be called with c.mu held; it is split out only to make
// vote counting (as opposed to booking a single additional vote) testable
// in isolation.
func (c *candidateRole) tallyLocked() int {
	granted := 0
	for _, v := range c.votes {
		if v {
			granted++
		}
	}
	return granted
}

func (c *candidateRole) handleRequestVote(args *RequestVoteArgs) *RequestVoteReply {
	// A candidate only votes for itself in its own term; for any other
	// candidate in the same term it has implicitly already "voted" (for
	// itself), so it rejects. A higher term is handled upstream by
	// Node.checkTerm, which demotes to Follower before this is called.
	return &RequestVoteReply{Term: c.n.state.CurrentTerm(), VoteGranted: false}
}

func (c *candidateRole) handleAppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	// args.Term >= currentTerm by construction (Node.checkTerm already
	// stepped down on a strictly greater term before routing here); equal
	// term with a competing leader means this candidate lost the election.
	c.n.becomeFollower(args.Term, args.LeaderID)
	n := c.n
	n.roleMu.Lock()
	current := n.current
	n.roleMu.Unlock()
	return current.handleAppendEntries(args)
}

func (c *candidateRole) handleInstallSnapshot(args *InstallSnapshotArgs) *InstallSnapshotReply {
	c.n.becomeFollower(args.Term, args.LeaderID)
	n := c.n
	n.roleMu.Lock()
	current := n.current
	n.roleMu.Unlock()
	return current.handleInstallSnapshot(args)
}

func (c *candidateRole) propose(command []byte) (<-chan ProposalResult, error) {
	return nil, wrapNotLeader(c.n)
}
