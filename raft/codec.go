package raft

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// EncodeCommand serializes a Command into the opaque bytes carried by a
// LogEntry. The wire format itself is intentionally minimal (length-
// prefixed key/value); serialization format choice is an out-of-scope
// external collaborator per spec §1 — this is only the reference codec used
// by MapStateMachine.
func EncodeCommand(cmd Command) []byte {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(cmd.Key))
	writeLenPrefixed(&buf, []byte(cmd.Value))
	return buf.Bytes()
}

func decodeCommand(data []byte) (Command, error) {
	r := bytes.NewReader(data)
	key, err := readLenPrefixed(r)
	if err != nil {
		return Command{}, errors.Wrap(err, "raft: decode command key")
	}
	value, err := readLenPrefixed(r)
	if err != nil {
		return Command{}, errors.Wrap(err, "raft: decode command value")
	}
	return Command{Key: string(key), Value: string(value)}, nil
}

func encodeMapSnapshot(data map[string]string) []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(data)))
	buf.Write(count[:])
	for k, v := range data {
		writeLenPrefixed(&buf, []byte(k))
		writeLenPrefixed(&buf, []byte(v))
	}
	return buf.Bytes()
}

func decodeMapSnapshot(data []byte) (map[string]string, error) {
	r := bytes.NewReader(data)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, errors.Wrap(err, "raft: decode map snapshot count")
	}
	out := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		k, err := readLenPrefixed(r)
		if err != nil {
			return nil, errors.Wrap(err, "raft: decode map snapshot key")
		}
		v, err := readLenPrefixed(r)
		if err != nil {
			return nil, errors.Wrap(err, "raft: decode map snapshot value")
		}
		out[string(k)] = string(v)
	}
	return out, nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var ln [4]byte
	binary.BigEndian.PutUint32(ln[:], uint32(len(data)))
	buf.Write(ln[:])
	buf.Write(data)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var ln uint32
	if err := binary.Read(r, binary.BigEndian, &ln); err != nil {
		return nil, err
	}
	out := make([]byte, ln)
	if _, err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
