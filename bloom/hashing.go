package bloom

import (
	"encoding/binary"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// doubleHash derives k independent bit positions for item within a shard of
// size sizeInBits, per spec §4.7's double-hashing scheme:
// h1 = hash(item, seed); h2 = hash(item, seed XOR rotate(seed));
// position_i = (h1 + i*h2) mod m.
func doubleHash(item []byte, seed uint64, sizeInBits uint64, hashCount uint32) []uint64 {
	h1 := hashWithSeed(item, seed)
	h2 := hashWithSeed(item, seed^bits.RotateLeft64(seed, 32))
	// h2 must never be 0 mod m, or every position after the first collapses
	// onto h1's position.
	if sizeInBits > 0 && h2%sizeInBits == 0 {
		h2 = 1
	}

	positions := make([]uint64, hashCount)
	for i := uint32(0); i < hashCount; i++ {
		positions[i] = (h1 + uint64(i)*h2) % sizeInBits
	}
	return positions
}

// shardIndex routes item to one of shardCount shards.
func shardIndex(item []byte, seed uint64, shardCount uint32) uint32 {
	h := hashWithSeed(item, seed)
	return uint32(h % uint64(shardCount))
}

func hashWithSeed(item []byte, seed uint64) uint64 {
	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], seed)
	d := xxhash.New()
	d.Write(seedBytes[:])
	d.Write(item)
	return d.Sum64()
}
