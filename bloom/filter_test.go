package bloom

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ExpectedItems:     10_000,
		FalsePositiveRate: 0.01,
		Shards:            4,
		Seed:              0x9e3779b97f4a7c15,
	}
}

// TestNoFalseNegatives covers spec §8's bloom no-false-negative invariant:
// every item added must report Contains == true afterward, unconditionally.
func TestNoFalseNegatives(t *testing.T) {
	f, err := New("members", testConfig(), nil)
	require.NoError(t, err)

	items := make([][]byte, 10_000)
	for i := range items {
		items[i] = []byte(fmt.Sprintf("item-%d", i))
		f.Add(items[i])
	}
	for _, item := range items {
		assert.True(t, f.Contains(item), "item %q must never be a false negative", item)
	}
}

// TestSnapshotRoundTrip covers spec §8's bloom snapshot round-trip law:
// load(save(F)) must answer every membership query identically to F and
// report the same popcount.
func TestSnapshotRoundTrip(t *testing.T) {
	cfg := testConfig()
	f, err := New("members", cfg, nil)
	require.NoError(t, err)

	items := make([][]byte, 5_000)
	for i := range items {
		items[i] = []byte(fmt.Sprintf("present-%d", i))
		f.Add(items[i])
	}

	dir := t.TempDir()
	storage, err := NewLocalFileStorage(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.Save(ctx, storage))

	loaded, err := New("members", cfg, nil)
	require.NoError(t, err)
	require.NoError(t, loaded.Load(ctx, storage))

	assert.Equal(t, f.Count(), loaded.Count())
	for _, item := range items {
		assert.True(t, loaded.Contains(item))
	}
}

// TestShardPersistenceRoundTripFPRate covers scenario 6: insert 10,000
// items into a 4-shard filter at p=0.01, save, load into a fresh instance,
// assert every inserted item still reports contains=true, and the measured
// false-positive rate over 10,000 never-inserted items stays within 2x the
// configured target.
func TestShardPersistenceRoundTripFPRate(t *testing.T) {
	cfg := testConfig()
	f, err := New("ratelimit-keys", cfg, nil)
	require.NoError(t, err)

	inserted := make([][]byte, cfg.ExpectedItems)
	for i := range inserted {
		inserted[i] = []byte(fmt.Sprintf("key-%d", i))
		f.Add(inserted[i])
	}

	dir := t.TempDir()
	storage, err := NewLocalFileStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, f.Save(ctx, storage))

	loaded, err := New("ratelimit-keys", cfg, nil)
	require.NoError(t, err)
	require.NoError(t, loaded.Load(ctx, storage))

	for _, item := range inserted {
		require.True(t, loaded.Contains(item))
	}

	falsePositives := 0
	const probes = 10_000
	for i := 0; i < probes; i++ {
		probe := []byte(fmt.Sprintf("absent-%d", i))
		if loaded.Contains(probe) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(probes)
	assert.Less(t, rate, cfg.FalsePositiveRate*2,
		"measured false-positive rate %.4f exceeds 2x target %.4f", rate, cfg.FalsePositiveRate)
}

// TestLoadRejectsConfigMismatch covers the header validation path: a
// snapshot saved under one Config must be rejected (not silently
// misinterpreted) when loaded into a Filter with a different Config.
func TestLoadRejectsConfigMismatch(t *testing.T) {
	cfg := testConfig()
	f, err := New("members", cfg, nil)
	require.NoError(t, err)
	f.Add([]byte("x"))

	dir := t.TempDir()
	storage, err := NewLocalFileStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, f.Save(ctx, storage))

	otherCfg := cfg
	otherCfg.ExpectedItems = cfg.ExpectedItems * 10
	mismatched, err := New("members", otherCfg, nil)
	require.NoError(t, err)

	err = mismatched.Load(ctx, storage)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigMismatch)
}
