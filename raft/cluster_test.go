package raft

import (
	"testing"
	"time"
)

// testCluster wires a set of Nodes together over a localTransport, mirroring
// the in-process cluster harness used by the MIT-lab-derived repos in the
// wider corpus, adapted to this engine's Start/Stop lifecycle.
type testCluster struct {
	t         *testing.T
	transport *localTransport
	nodes     map[string]*Node
	sms       map[string]*MapStateMachine
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	peers := make([]PeerConfig, n)
	for i := 0; i < n; i++ {
		peers[i] = PeerConfig{ID: nodeID(i)}
	}

	transport := NewLocalTransport()
	c := &testCluster{
		t:         t,
		transport: transport,
		nodes:     make(map[string]*Node),
		sms:       make(map[string]*MapStateMachine),
	}

	for i := 0; i < n; i++ {
		id := nodeID(i)
		cfg := DefaultConfig()
		cfg.NodeID = id
		cfg.Peers = peers
		cfg.PersistencePath = t.TempDir()
		cfg.ElectionTimeout = 60 * time.Millisecond
		cfg.HeartbeatInterval = 15 * time.Millisecond
		cfg.RPCTimeout = 50 * time.Millisecond
		cfg.Logger = NewNopLogger()

		sm := NewMapStateMachine()
		node, err := NewNode(cfg, transport, sm, nil)
		if err != nil {
			t.Fatalf("NewNode(%s): %v", id, err)
		}
		transport.Register(node)
		c.nodes[id] = node
		c.sms[id] = sm
	}
	return c
}

func nodeID(i int) string {
	return string(rune('a' + i))
}

func (c *testCluster) start() {
	for id, n := range c.nodes {
		if err := n.Start(); err != nil {
			c.t.Fatalf("Start(%s): %v", id, err)
		}
	}
}

func (c *testCluster) stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

// awaitLeader polls until exactly one node reports itself Leader, or fails
// the test after timeout.
func (c *testCluster) awaitLeader(timeout time.Duration) *Node {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var leaders []*Node
		for _, n := range c.nodes {
			if n.State() == RoleLeader {
				leaders = append(leaders, n)
			}
		}
		if len(leaders) == 1 {
			return leaders[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("no single leader emerged within %s", timeout)
	return nil
}

func (c *testCluster) awaitCommit(index LogIndex, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ok := true
		for _, n := range c.nodes {
			if n.CommitIndex() < index {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
