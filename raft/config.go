package raft

import (
	"time"

	"github.com/pkg/errors"
)

// PeerConfig describes one member of the static cluster roster.
type PeerConfig struct {
	ID      string
	Address string
}

// Config contains the parameters needed to start a Node. It is validated
// once at construction; invalid configuration is a programmer error and
// fails fast rather than surfacing later as a runtime fault.
type Config struct {
	// NodeID is this node's identity, unique across the cluster.
	NodeID string

	// Peers is the full static roster, including self. Self is excluded by
	// ID match when building the replication set.
	Peers []PeerConfig

	// PersistencePath is the directory holding the state/log/snapshot
	// files.
	PersistencePath string

	// ElectionTimeout is the base election timeout; the effective timeout
	// for any given wait is drawn uniformly from [base, 2*base).
	ElectionTimeout time.Duration

	// HeartbeatInterval is how often a leader sends heartbeats to a quiet
	// peer. Guideline: HeartbeatInterval < ElectionTimeout / 3.
	HeartbeatInterval time.Duration

	// RPCTimeout bounds every individual RequestVote/AppendEntries/
	// InstallSnapshot call.
	RPCTimeout time.Duration

	// SnapshotThreshold is the applied-index delta since the last snapshot
	// that triggers a new one.
	SnapshotThreshold uint64

	// ProposalQueueSize bounds the Propose backlog; once full, Propose
	// fails fast with ErrQueueFull instead of blocking.
	ProposalQueueSize int

	// MinFreeDiskBytes is the free-space floor on PersistencePath below
	// which snapshot writes log a warning (they are never blocked by it).
	MinFreeDiskBytes uint64

	Logger *Logger
}

// DefaultConfig returns a Config with the defaults named in spec §6, for a
// single node with no peers; callers fill in NodeID/Peers/PersistencePath.
func DefaultConfig() Config {
	return Config{
		ElectionTimeout:   1250 * time.Millisecond,
		HeartbeatInterval: 1100 * time.Millisecond,
		RPCTimeout:        1100 * time.Millisecond,
		SnapshotThreshold: 10000,
		ProposalQueueSize: 256,
		MinFreeDiskBytes:  64 << 20,
	}
}

func (c *Config) validate() error {
	if c.NodeID == "" {
		return errors.New("raft: NodeID must not be empty")
	}
	if c.PersistencePath == "" {
		return errors.New("raft: PersistencePath must not be empty")
	}
	if c.ElectionTimeout <= 0 {
		return errors.New("raft: ElectionTimeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("raft: HeartbeatInterval must be positive")
	}
	if c.HeartbeatInterval*3 >= c.ElectionTimeout {
		return errors.New("raft: HeartbeatInterval must be less than ElectionTimeout/3")
	}
	if c.RPCTimeout <= 0 {
		return errors.New("raft: RPCTimeout must be positive")
	}
	if c.SnapshotThreshold == 0 {
		return errors.New("raft: SnapshotThreshold must be positive")
	}
	if c.ProposalQueueSize <= 0 {
		return errors.New("raft: ProposalQueueSize must be positive")
	}
	found := false
	for _, p := range c.Peers {
		if p.ID == c.NodeID {
			found = true
			break
		}
	}
	if !found {
		return errors.Errorf("raft: NodeID %q must appear in Peers", c.NodeID)
	}
	if c.Logger == nil {
		c.Logger = NewNopLogger()
	}
	return nil
}

// peerIDs returns the IDs of all peers other than self.
func (c *Config) peerIDs() []string {
	ids := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID != c.NodeID {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (c *Config) quorum() int {
	return len(c.Peers)/2 + 1
}
