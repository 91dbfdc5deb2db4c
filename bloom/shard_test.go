package bloom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardAddReportsChangedOnlyOnFirstInsert(t *testing.T) {
	p := deriveParams(1000, 0.01)
	s := newShard(p, 42)

	assert.True(t, s.Add([]byte("a")), "first insert must report changed")
	assert.False(t, s.Add([]byte("a")), "re-inserting the same item must report unchanged")
}

func TestShardContainsFalseBeforeAdd(t *testing.T) {
	p := deriveParams(1000, 0.01)
	s := newShard(p, 42)
	assert.False(t, s.Contains([]byte("never-added")))
}

func TestShardPopCountMatchesWordScan(t *testing.T) {
	p := deriveParams(1000, 0.01)
	s := newShard(p, 42)
	for i := 0; i < 100; i++ {
		s.Add([]byte{byte(i)})
	}
	assert.Equal(t, popCountWords(s.snapshotBits()), s.popCount())
}

func TestShardRestoreBitsClearsDirty(t *testing.T) {
	p := deriveParams(1000, 0.01)
	s := newShard(p, 42)
	s.Add([]byte("x"))
	assert.True(t, s.isDirty())

	s.restoreBits(s.snapshotBits())
	assert.False(t, s.isDirty())
}
