package bloom

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

const (
	wbf1Magic   = "WBF1"
	wbf1Version = uint32(1)
	// wbf1HeaderLen is magic(4) + version(4) + checksum(8) + sizeInBits(8) +
	// hashCount(4) + fingerprint(8).
	wbf1HeaderLen = 4 + 4 + 8 + 8 + 4 + 8
)

var (
	// ErrBadMagic is returned when a loaded snapshot doesn't start with the
	// WBF1 magic bytes.
	ErrBadMagic = errors.New("bloom: snapshot has bad magic")
	// ErrBadVersion is returned when a loaded snapshot's 4-byte version field
	// is not one this build understands.
	ErrBadVersion = errors.New("bloom: unsupported snapshot version")
	// ErrChecksumMismatch is returned when a loaded snapshot's stored
	// checksum doesn't match the recomputed checksum of its bit payload.
	ErrChecksumMismatch = errors.New("bloom: checksum mismatch")
	// ErrConfigMismatch is returned when a loaded snapshot's configuration
	// fingerprint doesn't match the shard it is being loaded into.
	ErrConfigMismatch = errors.New("bloom: config fingerprint mismatch")
	// ErrTruncated is returned when a loaded snapshot is shorter than its
	// header declares.
	ErrTruncated = errors.New("bloom: snapshot truncated")
)

// StorageProvider persists and retrieves named byte blobs. A local-disk
// implementation is provided; any other key/value or object store can
// implement this interface instead.
type StorageProvider interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// shardKey is the StorageProvider key for one shard of a named filter.
func shardKey(filterName string, shardIdx int) string {
	return fmt.Sprintf("bloom/%s/shard-%d.wbf1", filterName, shardIdx)
}

// encodeShard serializes one shard's bit array into the WBF1 wire format,
// per spec §4.7: magic | version | checksum | sizeInBits | hashCount |
// configFingerprint | bits.
func encodeShard(s *shard) []byte {
	words := s.snapshotBits()
	bitBytes := wordsToBytes(words)
	checksum := xxhash.Sum64(bitBytes)

	buf := make([]byte, wbf1HeaderLen+len(bitBytes))
	off := 0
	copy(buf[off:], wbf1Magic)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], wbf1Version)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], checksum)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], s.sizeInBits)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], s.hashCount)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], s.fingerprint)
	off += 8
	copy(buf[off:], bitBytes)
	return buf
}

// decodeShard validates and parses a WBF1 blob, checking it against the
// shard it is meant to be loaded into. On success it returns the parsed bit
// words ready for shard.restoreBits.
func decodeShard(data []byte, expectFingerprint uint64) ([]uint64, error) {
	if len(data) < wbf1HeaderLen {
		return nil, ErrTruncated
	}
	off := 0
	if !bytes.Equal(data[off:off+4], []byte(wbf1Magic)) {
		return nil, ErrBadMagic
	}
	off += 4
	version := binary.BigEndian.Uint32(data[off:])
	off += 4
	if version != wbf1Version {
		return nil, ErrBadVersion
	}
	checksum := binary.BigEndian.Uint64(data[off:])
	off += 8
	sizeInBits := binary.BigEndian.Uint64(data[off:])
	off += 8
	off += 4 // hashCount: implied by Config, not needed to reconstruct bits
	fingerprint := binary.BigEndian.Uint64(data[off:])
	off += 8

	bitBytes := data[off:]
	expectedWords := (sizeInBits + 63) / 64
	expectedBytes := int(expectedWords * 8)
	if len(bitBytes) < expectedBytes {
		return nil, ErrTruncated
	}
	bitBytes = bitBytes[:expectedBytes]

	if xxhash.Sum64(bitBytes) != checksum {
		return nil, ErrChecksumMismatch
	}
	if fingerprint != expectFingerprint {
		return nil, ErrConfigMismatch
	}
	return bytesToWords(bitBytes), nil
}

func wordsToBytes(words []uint64) []byte {
	out := make([]byte, len(words)*8)
	for i, w := range words {
		binary.BigEndian.PutUint64(out[i*8:], w)
	}
	return out
}

func bytesToWords(b []byte) []uint64 {
	words := make([]uint64, len(b)/8)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return words
}

// Save persists every shard of f through provider, per spec §4.7's save
// flow: copy bits under a brief lock, release, checksum, write, then clear
// the shard's dirty flag only after a successful write.
func (f *Filter) Save(ctx context.Context, provider StorageProvider) error {
	for i, s := range f.shards {
		blob := encodeShard(s)
		if err := provider.Put(ctx, shardKey(f.name, i), blob); err != nil {
			return errors.Wrapf(err, "bloom: save shard %d of filter %q", i, f.name)
		}
		s.clearDirty()
		f.metrics.saves.Inc()
	}
	return nil
}

// Load replaces f's in-memory bit state with what provider has persisted
// for each shard. A shard whose snapshot is missing, corrupt, or
// config-mismatched keeps its current bits (empty, for a freshly built
// filter); the first such error is returned to the caller so it may trigger
// an AutoSeeder rebuild.
func (f *Filter) Load(ctx context.Context, provider StorageProvider) error {
	var firstErr error
	for i, s := range f.shards {
		data, err := provider.Get(ctx, shardKey(f.name, i))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		words, err := decodeShard(data, s.fingerprint)
		if err != nil {
			f.metrics.checksumMismatch.Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.restoreBits(words)
	}
	return firstErr
}
