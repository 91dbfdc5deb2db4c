package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogStoreAppendAndGet(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStore(dir)
	require.NoError(t, err)

	idx, err := ls.Append(LogEntry{Term: 1, Command: []byte("a")})
	require.NoError(t, err)
	assert.Equal(t, LogIndex(1), idx)

	idx, err = ls.Append(LogEntry{Term: 1, Command: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, LogIndex(2), idx)

	entry, ok := ls.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), entry.Command)

	term, lastIdx := ls.LastEntryInfo()
	assert.Equal(t, Term(1), term)
	assert.Equal(t, LogIndex(2), lastIdx)
}

func TestLogStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStore(dir)
	require.NoError(t, err)
	_, err = ls.AppendMany([]LogEntry{{Term: 1, Command: []byte("x")}, {Term: 2, Command: []byte("y")}})
	require.NoError(t, err)

	reopened, err := OpenLogStore(dir)
	require.NoError(t, err)
	entry, ok := reopened.Get(2)
	require.True(t, ok)
	assert.Equal(t, Term(2), entry.Term)
	assert.Equal(t, []byte("y"), entry.Command)
}

func TestLogStoreTruncate(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStore(dir)
	require.NoError(t, err)
	_, err = ls.AppendMany([]LogEntry{
		{Term: 1, Command: []byte("a")},
		{Term: 1, Command: []byte("b")},
		{Term: 1, Command: []byte("c")},
	})
	require.NoError(t, err)

	require.NoError(t, ls.Truncate(2))
	assert.Equal(t, LogIndex(1), ls.LastIndex())
	_, ok := ls.Get(2)
	assert.False(t, ok)

	_, err = ls.Append(LogEntry{Term: 2, Command: []byte("d")})
	require.NoError(t, err)
	entry, ok := ls.Get(2)
	require.True(t, ok)
	assert.Equal(t, []byte("d"), entry.Command)
}

// TestLogStoreCompactIsIdempotent covers spec §8's snapshot-idempotence
// property: compacting to an index at or before the current snapshot is a
// no-op rather than an error or data loss.
func TestLogStoreCompactIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ls, err := OpenLogStore(dir)
	require.NoError(t, err)
	_, err = ls.AppendMany([]LogEntry{
		{Term: 1, Command: []byte("a")},
		{Term: 1, Command: []byte("b")},
		{Term: 2, Command: []byte("c")},
	})
	require.NoError(t, err)

	require.NoError(t, ls.Compact([]byte("snap-1"), 2, 1))
	assert.Equal(t, LogIndex(2), ls.LastSnapshotIndex())
	assert.Equal(t, Term(1), ls.LastSnapshotTerm())
	_, ok := ls.Get(1)
	assert.False(t, ok, "compacted entries must be gone")
	entry, ok := ls.Get(3)
	require.True(t, ok)
	assert.Equal(t, []byte("c"), entry.Command)

	require.NoError(t, ls.Compact([]byte("stale"), 1, 1))
	assert.Equal(t, LogIndex(2), ls.LastSnapshotIndex(), "compacting to an older index must be a no-op")

	reopened, err := OpenLogStore(dir)
	require.NoError(t, err)
	assert.Equal(t, LogIndex(2), reopened.LastSnapshotIndex())
	entry, ok = reopened.Get(3)
	require.True(t, ok)
	assert.Equal(t, []byte("c"), entry.Command)
}
