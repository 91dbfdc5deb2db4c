package raft

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// PersistentState stores (currentTerm, votedFor) with the durability
// contract of spec §4.3: writes must be durable before returning, and
// StepDownIfGreaterTerm only clears votedFor when the new term strictly
// exceeds the old one.
type PersistentState interface {
	CurrentTerm() Term
	VotedFor() string

	// SetVote persists (term, votedFor) atomically. It does not itself
	// enforce the term/vote invariants; callers (the engine) do, since only
	// the engine knows whether a vote is being granted in the current term.
	SetVote(term Term, votedFor string) error

	// StepDownIfGreaterTerm persists (incomingTerm, NoVote) and returns true
	// iff incomingTerm > CurrentTerm(); otherwise it is a no-op returning
	// false.
	StepDownIfGreaterTerm(incomingTerm Term) (bool, error)
}

// filePersistentState is a PersistentState backed by a single file under
// PersistencePath, replaced atomically via write-to-temp-then-rename so a
// crash never observes a partially written file.
type filePersistentState struct {
	mu   sync.Mutex
	path string

	term     Term
	votedFor string
}

const persistentStateFileName = "state"
const persistentStateMagic uint32 = 0x52535401 // "RST\x01"

// OpenPersistentState opens (or initializes) the persistent state file
// under dir.
func OpenPersistentState(dir string) (PersistentState, error) {
	p := &filePersistentState{path: filepath.Join(dir, persistentStateFileName)}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *filePersistentState) load() error {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "raft: read persistent state")
	}
	if len(data) < 16 {
		return errors.Wrap(ErrCorruptLog, "raft: persistent state file too short")
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != persistentStateMagic {
		return errors.Wrap(ErrCorruptLog, "raft: persistent state magic mismatch")
	}
	p.term = Term(binary.BigEndian.Uint64(data[4:12]))
	voteLen := binary.BigEndian.Uint32(data[12:16])
	if uint32(len(data)) < 16+voteLen {
		return errors.Wrap(ErrCorruptLog, "raft: persistent state vote length mismatch")
	}
	p.votedFor = string(data[16 : 16+voteLen])
	return nil
}

func (p *filePersistentState) persist() error {
	buf := make([]byte, 16+len(p.votedFor))
	binary.BigEndian.PutUint32(buf[0:4], persistentStateMagic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(p.term))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(p.votedFor)))
	copy(buf[16:], p.votedFor)

	tmp := p.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "raft: open persistent state temp file")
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.Wrap(err, "raft: write persistent state")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "raft: fsync persistent state")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "raft: close persistent state")
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return errors.Wrap(err, "raft: rename persistent state")
	}
	return nil
}

func (p *filePersistentState) CurrentTerm() Term {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.term
}

func (p *filePersistentState) VotedFor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.votedFor
}

func (p *filePersistentState) SetVote(term Term, votedFor string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prevTerm, prevVote := p.term, p.votedFor
	p.term, p.votedFor = term, votedFor
	if term > prevTerm {
		// a strictly greater term always starts with a clean vote slot;
		// callers asking to vote in the same breath pass votedFor explicitly.
	}
	if err := p.persist(); err != nil {
		p.term, p.votedFor = prevTerm, prevVote
		return err
	}
	return nil
}

func (p *filePersistentState) StepDownIfGreaterTerm(incomingTerm Term) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if incomingTerm <= p.term {
		return false, nil
	}
	prevTerm, prevVote := p.term, p.votedFor
	p.term, p.votedFor = incomingTerm, NoVote
	if err := p.persist(); err != nil {
		p.term, p.votedFor = prevTerm, prevVote
		return false, err
	}
	return true, nil
}
