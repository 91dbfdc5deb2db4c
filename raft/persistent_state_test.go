package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistentStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ps, err := OpenPersistentState(dir)
	require.NoError(t, err)

	require.NoError(t, ps.SetVote(3, "node-a"))
	assert.Equal(t, Term(3), ps.CurrentTerm())
	assert.Equal(t, "node-a", ps.VotedFor())

	reopened, err := OpenPersistentState(dir)
	require.NoError(t, err)
	assert.Equal(t, Term(3), reopened.CurrentTerm())
	assert.Equal(t, "node-a", reopened.VotedFor())
}

func TestStepDownIfGreaterTermClearsVote(t *testing.T) {
	dir := t.TempDir()
	ps, err := OpenPersistentState(dir)
	require.NoError(t, err)
	require.NoError(t, ps.SetVote(5, "node-a"))

	stepped, err := ps.StepDownIfGreaterTerm(5)
	require.NoError(t, err)
	assert.False(t, stepped, "equal term must not step down")
	assert.Equal(t, "node-a", ps.VotedFor())

	stepped, err = ps.StepDownIfGreaterTerm(6)
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.Equal(t, Term(6), ps.CurrentTerm())
	assert.Equal(t, NoVote, ps.VotedFor())
}
