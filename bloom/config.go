package bloom

import (
	"math"

	"github.com/pkg/errors"
)

// Config derives the bit-array size and hash-function count for a filter,
// per spec §4.7's parameter derivation. It is immutable after creation: a
// filter's Config never changes across its lifetime.
type Config struct {
	// ExpectedItems is the planning capacity n used to derive m and k.
	ExpectedItems uint64

	// FalsePositiveRate is the target probability p of a false positive at
	// ExpectedItems load.
	FalsePositiveRate float64

	// Shards is the number of independent bit arrays S a named filter
	// routes items across.
	Shards uint32

	// Seed parameterizes the double-hashing scheme so two filters with the
	// same (m, k) but different seeds don't collide identically.
	Seed uint64
}

// DefaultConfig returns a reasonable four-shard, 1% false-positive
// configuration for 100,000 expected items.
func DefaultConfig() Config {
	return Config{
		ExpectedItems:     100_000,
		FalsePositiveRate: 0.01,
		Shards:            4,
		Seed:              0x9e3779b97f4a7c15,
	}
}

func (c Config) validate() error {
	if c.ExpectedItems == 0 {
		return errors.New("bloom: ExpectedItems must be positive")
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		return errors.New("bloom: FalsePositiveRate must be in (0, 1)")
	}
	if c.Shards == 0 {
		return errors.New("bloom: Shards must be positive")
	}
	return nil
}

// params is the derived (m, k) for one shard: ExpectedItems and
// FalsePositiveRate apply per-shard, so each shard is sized for
// ExpectedItems/Shards items.
type params struct {
	sizeInBits uint64
	hashCount  uint32
}

// deriveParams computes m = ceil(-n*ln(p) / (ln2)^2), k = ceil((m/n)*ln2),
// exactly as spec §4.7 specifies.
func deriveParams(n uint64, p float64) params {
	if n == 0 {
		n = 1
	}
	nf := float64(n)
	ln2 := math.Ln2
	m := math.Ceil(-nf * math.Log(p) / (ln2 * ln2))
	if m < 8 {
		m = 8
	}
	k := math.Ceil((m / nf) * ln2)
	if k < 1 {
		k = 1
	}
	return params{sizeInBits: uint64(m), hashCount: uint32(k)}
}

// configFingerprint derives the 8-byte value stored in a shard snapshot's
// header to detect a Config mismatch on load (e.g. the filter was
// reconfigured with different m/k since the file was written).
func configFingerprint(p params, seed uint64) uint64 {
	h := p.sizeInBits*1099511628211 ^ uint64(p.hashCount) ^ seed
	return h
}
