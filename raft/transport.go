package raft

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// RequestVoteArgs is the RequestVote RPC request, per spec §6.
type RequestVoteArgs struct {
	Term         Term
	CandidateID  string
	LastLogIndex LogIndex
	LastLogTerm  Term
}

// RequestVoteReply is the RequestVote RPC response. Responses must carry
// the responder's current term so the caller can step down.
type RequestVoteReply struct {
	Term        Term
	VoteGranted bool
}

// AppendEntriesArgs is the AppendEntries RPC request. Entries may be empty
// (a heartbeat).
type AppendEntriesArgs struct {
	Term             Term
	LeaderID         string
	PrevLogIndex     LogIndex
	PrevLogTerm      Term
	Entries          []LogEntry
	LeaderCommitIdx  LogIndex
}

// AppendEntriesReply is the AppendEntries RPC response.
type AppendEntriesReply struct {
	Term       Term
	Success    bool
	// RejectHint is the follower's last log index, used by the leader to
	// back off nextIndex faster than one-at-a-time decrement.
	RejectHint LogIndex
}

// InstallSnapshotArgs is the InstallSnapshot RPC request.
type InstallSnapshotArgs struct {
	Term              Term
	LeaderID          string
	LastIncludedIndex LogIndex
	LastIncludedTerm  Term
	Data              []byte
}

// InstallSnapshotReply is the InstallSnapshot RPC response.
type InstallSnapshotReply struct {
	Term Term
}

// Transport is the RPC wire contract a Node's role implementations drive.
// It is specified as an interface only: the concrete binding (gRPC, HTTP,
// an in-process fake) is an out-of-scope external collaborator per spec §1.
// Every method must honor ctx's deadline/cancellation; a cancelled or timed
// out call is a retriable transient failure (spec §7(a)), not a role-fatal
// one.
type Transport interface {
	RequestVote(ctx context.Context, peerID string, args *RequestVoteArgs) (*RequestVoteReply, error)
	AppendEntries(ctx context.Context, peerID string, args *AppendEntriesArgs) (*AppendEntriesReply, error)
	InstallSnapshot(ctx context.Context, peerID string, args *InstallSnapshotArgs) (*InstallSnapshotReply, error)
}

// ErrPeerUnreachable is a retriable transient error a Transport
// implementation may return (or wrap) when a peer cannot be reached at all.
var ErrPeerUnreachable = errors.New("raft: peer unreachable")

// localTransport is an in-memory Transport fake wiring a set of Nodes
// directly together by method call, for tests that need a full cluster
// without real sockets — grounded on the persister/mock-RPC technique used
// by the MIT-lab-derived repos in the wider corpus
// (ReshiAdavan-Sentinel/raft/persister.go), adapted to this engine's
// goroutine/Transport-interface architecture.
type localTransport struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	// partitioned lists node IDs currently unable to reach each other,
	// keyed by "from|to"; used by partition-simulation tests.
	partitioned map[string]bool
}

// NewLocalTransport returns an empty in-memory Transport; call Register for
// each Node once constructed.
func NewLocalTransport() *localTransport {
	return &localTransport{
		nodes:       make(map[string]*Node),
		partitioned: make(map[string]bool),
	}
}

func (t *localTransport) Register(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[n.config.NodeID] = n
}

// SetPartitioned marks whether messages from "from" to "to" are dropped,
// simulating a network partition for the scenario tests in spec §8.
func (t *localTransport) SetPartitioned(from, to string, partitioned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := from + "|" + to
	if partitioned {
		t.partitioned[key] = true
	} else {
		delete(t.partitioned, key)
	}
}

func (t *localTransport) reachable(from, to string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.partitioned[from+"|"+to]
}

func (t *localTransport) peer(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

func (t *localTransport) RequestVote(ctx context.Context, peerID string, args *RequestVoteArgs) (*RequestVoteReply, error) {
	n, ok := t.peer(peerID)
	if !ok || !t.reachable(args.CandidateID, peerID) {
		return nil, ErrPeerUnreachable
	}
	return n.HandleRequestVote(ctx, args)
}

func (t *localTransport) AppendEntries(ctx context.Context, peerID string, args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	n, ok := t.peer(peerID)
	if !ok || !t.reachable(args.LeaderID, peerID) {
		return nil, ErrPeerUnreachable
	}
	return n.HandleAppendEntries(ctx, args)
}

func (t *localTransport) InstallSnapshot(ctx context.Context, peerID string, args *InstallSnapshotArgs) (*InstallSnapshotReply, error) {
	n, ok := t.peer(peerID)
	if !ok || !t.reachable(args.LeaderID, peerID) {
		return nil, ErrPeerUnreachable
	}
	return n.HandleInstallSnapshot(ctx, args)
}
