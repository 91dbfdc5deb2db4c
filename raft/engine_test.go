package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestElectionSafety covers spec §8's election-safety property: a
// three-node cluster converges on exactly one leader per term.
func TestElectionSafety(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(2 * time.Second)
	require.NotEmpty(t, leader.config.NodeID)

	term := leader.Term()
	for _, n := range c.nodes {
		if n.config.NodeID == leader.config.NodeID {
			continue
		}
		assert.NotEqual(t, RoleLeader, n.State())
	}
	assert.Equal(t, term, leader.Term())
}

// TestProposeReplicatesAndCommits covers the three-node happy path: a
// command proposed at the leader is replicated to a quorum, committed, and
// applied on every node's state machine.
func TestProposeReplicatesAndCommits(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := leader.Propose(ctx, EncodeCommand(Command{Key: "x", Value: "1"}))
	require.NoError(t, err)
	require.NoError(t, result.Err)

	require.True(t, c.awaitCommit(leader.CommitIndex(), time.Second))

	for id, sm := range c.sms {
		require.Eventually(t, func() bool {
			v, ok := sm.Get("x")
			return ok && v == "1"
		}, time.Second, 5*time.Millisecond, "node %s never applied committed entry", id)
	}
}

// TestNonLeaderProposeFailsWithHint covers spec §4.1's ErrNotLeader
// contract: a follower rejects Propose and, once a leader is known, reports
// it via LeaderHint.
func TestNonLeaderProposeFailsWithHint(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(2 * time.Second)

	var follower *Node
	for _, n := range c.nodes {
		if n.config.NodeID != leader.config.NodeID {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	require.Eventually(t, func() bool {
		return follower.knownLeader() == leader.config.NodeID
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := follower.Propose(ctx, EncodeCommand(Command{Key: "y", Value: "2"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotLeader)

	var hinter interface{ Hint() LeaderHint }
	require.ErrorAs(t, err, &hinter)
	assert.Equal(t, leader.config.NodeID, hinter.Hint().LeaderID)
}

// TestLeaderCrashElectsNewLeader covers spec §8's leader-crash scenario: on
// stopping the current leader, the remaining quorum elects a new one.
func TestLeaderCrashElectsNewLeader(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	defer c.stop()

	first := c.awaitLeader(2 * time.Second)
	first.Stop()
	delete(c.nodes, first.config.NodeID)

	second := c.awaitLeader(2 * time.Second)
	assert.NotEqual(t, first.config.NodeID, second.config.NodeID)
	assert.Greater(t, second.Term(), first.Term())
}

// TestNetworkPartitionAndHeal covers spec §8's partition scenario: with one
// follower cut off, the leader still commits a proposal with the remaining
// majority, and after the partition heals the cut-off follower catches up
// and applies that entry.
func TestNetworkPartitionAndHeal(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(2 * time.Second)

	var minority *Node
	for _, n := range c.nodes {
		if n.config.NodeID != leader.config.NodeID {
			minority = n
			break
		}
	}
	require.NotNil(t, minority)

	for id := range c.nodes {
		if id == minority.config.NodeID {
			continue
		}
		c.transport.SetPartitioned(id, minority.config.NodeID, true)
		c.transport.SetPartitioned(minority.config.NodeID, id, true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := leader.Propose(ctx, EncodeCommand(Command{Key: "z", Value: "3"}))
	require.NoError(t, err)

	for id := range c.nodes {
		if id == minority.config.NodeID {
			continue
		}
		c.transport.SetPartitioned(id, minority.config.NodeID, false)
		c.transport.SetPartitioned(minority.config.NodeID, id, false)
	}

	require.Eventually(t, func() bool {
		v, ok := c.sms[minority.config.NodeID].Get("z")
		return ok && v == "3"
	}, 2*time.Second, 10*time.Millisecond, "minority node never caught up after heal")
}

// TestSnapshotInstall covers spec §4.5's InstallSnapshot receive rules: a
// follower far behind the leader's log is caught up via a snapshot instead
// of a long backlog of individual entries, reaching at least the leader's
// snapshot index.
func TestSnapshotInstall(t *testing.T) {
	c := newTestCluster(t, 3)
	c.start()
	defer c.stop()

	leader := c.awaitLeader(2 * time.Second)

	var lagging *Node
	for _, n := range c.nodes {
		if n.config.NodeID != leader.config.NodeID {
			lagging = n
			break
		}
	}
	require.NotNil(t, lagging)
	c.transport.SetPartitioned(leader.config.NodeID, lagging.config.NodeID, true)
	c.transport.SetPartitioned(lagging.config.NodeID, leader.config.NodeID, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		_, err := leader.Propose(ctx, EncodeCommand(Command{Key: "k", Value: "v"}))
		require.NoError(t, err)
	}

	commitIdx := leader.CommitIndex()
	commitTerm, ok := leader.log.Term(commitIdx)
	require.True(t, ok)
	require.NoError(t, leader.log.Compact(mustSnapshot(t, leader), commitIdx, commitTerm))

	c.transport.SetPartitioned(leader.config.NodeID, lagging.config.NodeID, false)
	c.transport.SetPartitioned(lagging.config.NodeID, leader.config.NodeID, false)

	require.Eventually(t, func() bool {
		return lagging.log.LastSnapshotIndex() >= leader.log.LastSnapshotIndex()
	}, 2*time.Second, 10*time.Millisecond, "lagging node never received snapshot")
}

func mustSnapshot(t *testing.T, n *Node) []byte {
	t.Helper()
	data, err := n.sm.Snapshot()
	require.NoError(t, err)
	return data
}
