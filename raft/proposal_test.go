package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProposalRegistryResolve(t *testing.T) {
	r := newProposalRegistry()
	p := newProposal([]byte("cmd"))
	r.register(10, p)

	r.resolve(10, ProposalResult{Output: "ok"})
	select {
	case res := <-p.done:
		assert.Equal(t, "ok", res.Output)
	default:
		t.Fatal("proposal was not resolved")
	}

	// resolving an unknown index must not panic or block.
	r.resolve(99, ProposalResult{Err: ErrSuperseded})
}

func TestProposalRegistryDrainAll(t *testing.T) {
	r := newProposalRegistry()
	p1, p2 := newProposal([]byte("a")), newProposal([]byte("b"))
	r.register(1, p1)
	r.register(2, p2)

	r.drainAll(ErrSteppedDown)

	res1 := <-p1.done
	res2 := <-p2.done
	assert.ErrorIs(t, res1.Err, ErrSteppedDown)
	assert.ErrorIs(t, res2.Err, ErrSteppedDown)
}

// TestProposalRegistryDrainBelow covers the snapshot-compaction edge case in
// spec §9: proposals at or below the compacted index are superseded, while
// later ones remain pending.
func TestProposalRegistryDrainBelow(t *testing.T) {
	r := newProposalRegistry()
	low, high := newProposal([]byte("low")), newProposal([]byte("high"))
	r.register(5, low)
	r.register(15, high)

	r.drainBelow(10, ErrSuperseded)

	res := <-low.done
	assert.ErrorIs(t, res.Err, ErrSuperseded)

	select {
	case <-high.done:
		t.Fatal("proposal above the compaction index must stay pending")
	default:
	}
}
