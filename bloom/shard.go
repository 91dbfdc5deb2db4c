package bloom

import (
	"math/bits"
	"sync"
	"time"
)

// shard is one independent bit array, per spec §4.7's BloomShard: Add takes
// the write lock and sets k bits; Contains takes the read lock and ANDs k
// bit reads; popCount uses word-at-a-time scans via math/bits, the Go
// standard library's architecture-optimized equivalent of the "SIMD-
// friendly word scan" the spec names.
type shard struct {
	mu sync.RWMutex

	bits         []uint64 // sizeInBits packed into 64-bit words
	sizeInBits   uint64
	hashCount    uint32
	seed         uint64
	fingerprint  uint64
	dirty        bool
	lastModified time.Time
}

func newShard(p params, seed uint64) *shard {
	words := (p.sizeInBits + 63) / 64
	return &shard{
		bits:        make([]uint64, words),
		sizeInBits:  p.sizeInBits,
		hashCount:   p.hashCount,
		seed:        seed,
		fingerprint: configFingerprint(p, seed),
	}
}

// Add sets the k bits item hashes to; it reports whether the shard actually
// changed (i.e. at least one of the k bits was previously unset), per spec
// §4.7's "changed = (oldBit == 0) ... ORing together to decide whether to
// mark the shard dirty."
func (s *shard) Add(item []byte) bool {
	positions := doubleHash(item, s.seed, s.sizeInBits, s.hashCount)

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, pos := range positions {
		word, bit := pos/64, pos%64
		mask := uint64(1) << bit
		if s.bits[word]&mask == 0 {
			changed = true
		}
		s.bits[word] |= mask
	}
	if changed {
		s.dirty = true
		s.lastModified = time.Now()
	}
	return changed
}

// Contains reports whether all k bits item hashes to are set. A false
// result is a certain negative; a true result may be a false positive.
func (s *shard) Contains(item []byte) bool {
	positions := doubleHash(item, s.seed, s.sizeInBits, s.hashCount)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, pos := range positions {
		word, bit := pos/64, pos%64
		if s.bits[word]&(uint64(1)<<bit) == 0 {
			return false
		}
	}
	return true
}

// popCount returns the number of set bits across the shard.
func (s *shard) popCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return popCountWords(s.bits)
}

func popCountWords(words []uint64) uint64 {
	var count uint64
	for _, w := range words {
		count += uint64(bits.OnesCount64(w))
	}
	return count
}

// snapshotBits copies the shard's bit words under a brief read lock, per
// spec §4.7's save flow ("take write lock briefly to copy bits ... release;
// compute checksum"). A read lock suffices here since the copy itself
// doesn't mutate state; Filter.Save (persistence.go) still treats the copy
// as the point-in-time image to persist.
func (s *shard) snapshotBits() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint64, len(s.bits))
	copy(out, s.bits)
	return out
}

func (s *shard) isDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

func (s *shard) clearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

func (s *shard) restoreBits(words []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits = words
	s.dirty = false
}
