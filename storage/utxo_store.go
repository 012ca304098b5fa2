package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
)

const outputPrefix = "utxo:"

type outputSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// UTXOStore implements core.UnspentOutputSet on top of a DB with an
// in-memory write buffer, snapshot/rollback, and deterministic root
// computation — generalized from the teacher's state-write-buffer discipline
// to a single output-keyed namespace instead of five game-specific prefixes.
type UTXOStore struct {
	db      DB
	dirty   map[string][]byte
	deleted map[string]bool
	snaps   []outputSnapshot
}

// NewUTXOStore creates a UTXOStore backed by db.
func NewUTXOStore(db DB) *UTXOStore {
	return &UTXOStore{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (s *UTXOStore) key(outputID string) string { return outputPrefix + outputID }

func (s *UTXOStore) Get(outputID string) (*core.Output, error) {
	k := s.key(outputID)
	if s.deleted[k] {
		return nil, core.ErrNotFound
	}
	var data []byte
	if v, ok := s.dirty[k]; ok {
		data = v
	} else {
		v, err := s.db.Get([]byte(k))
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		data = v
	}
	var out core.Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode output %s: %w", outputID, err)
	}
	return &out, nil
}

func (s *UTXOStore) Put(outputID string, out *core.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	k := s.key(outputID)
	delete(s.deleted, k)
	s.dirty[k] = data
	return nil
}

func (s *UTXOStore) Spend(outputID string) error {
	if _, err := s.Get(outputID); err != nil {
		return err
	}
	k := s.key(outputID)
	delete(s.dirty, k)
	s.deleted[k] = true
	return nil
}

func (s *UTXOStore) Snapshot() (int, error) {
	snap := outputSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snaps = append(s.snaps, snap)
	return len(s.snaps) - 1, nil
}

func (s *UTXOStore) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snaps) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snaps[id]
	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}
	s.dirty = dirty
	s.deleted = deleted
	s.snaps = s.snaps[:id]
	return nil
}

// ComputeRoot hashes the sorted, length-prefix-encoded key-value pairs of
// the complete output set (persisted entries merged with the write buffer).
func (s *UTXOStore) ComputeRoot() string {
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(outputPrefix))
	for it.Next() {
		k := string(it.Key())
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[k] = v
	}
	it.Release()

	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

func (s *UTXOStore) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snaps = nil
	return nil
}
