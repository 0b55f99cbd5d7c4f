package smt

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PrefixLen is the width of the per-tree key prefix: a 32-byte program
// pubkey followed by an 8-byte big-endian state id (spec §3).
const PrefixLen = 40

// NodeStore is the persistence contract a Tree is built over: opaque
// 65-byte nodes keyed by (prefix, hash), plus a single cached "root"
// slot per prefix stored at (prefix, ZeroHash).
type NodeStore interface {
	Get(prefix [PrefixLen]byte, hash [32]byte) (Node, bool, error)
	Put(batch Batch, prefix [PrefixLen]byte, hash [32]byte, n Node) error
	GetRoot(prefix [PrefixLen]byte) ([32]byte, error)
	SetRoot(batch Batch, prefix [PrefixLen]byte, root [32]byte) error
	NewBatch() Batch
}

// Batch groups Put/SetRoot calls so they commit atomically as one group
// (spec §4.A). InMemoryNodeStore's batches, used in tests that don't
// care about atomicity, commit as a no-op.
type Batch interface {
	Commit() error
}

func storeKey(prefix [PrefixLen]byte, hash [32]byte) []byte {
	k := make([]byte, PrefixLen+32)
	copy(k, prefix[:])
	copy(k[PrefixLen:], hash[:])
	return k
}

// PebbleNodeStore persists nodes in a single pebble instance; the
// (prefix || hash) key already multiplexes many (program, state-id)
// trees, so pebble's flat keyspace needs no column families (spec §4.A,
// §6 "Node-store on-disk key").
type PebbleNodeStore struct {
	db *pebble.DB

	mu       sync.RWMutex
	rootCache map[[PrefixLen]byte][32]byte
}

// OpenPebbleNodeStore opens (or creates) a pebble database at dir.
func OpenPebbleNodeStore(dir string) (*PebbleNodeStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("smt: open pebble store at %s: %w", dir, err)
	}
	return &PebbleNodeStore{db: db, rootCache: make(map[[PrefixLen]byte][32]byte)}, nil
}

func (s *PebbleNodeStore) Close() error { return s.db.Close() }

func (s *PebbleNodeStore) Get(prefix [PrefixLen]byte, hash [32]byte) (Node, bool, error) {
	v, closer, err := s.db.Get(storeKey(prefix, hash))
	if err == pebble.ErrNotFound {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, fmt.Errorf("smt: get node: %w", err)
	}
	defer closer.Close()
	n, ok := Decode(v)
	if !ok {
		return Node{}, false, fmt.Errorf("smt: corrupt node at %x/%x", prefix, hash)
	}
	return n, true, nil
}

func (s *PebbleNodeStore) Put(batch Batch, prefix [PrefixLen]byte, hash [32]byte, n Node) error {
	pb, ok := batch.(*pebbleBatch)
	if !ok {
		return fmt.Errorf("smt: batch from a different store")
	}
	return pb.b.Set(storeKey(prefix, hash), n.Encode(), nil)
}

func (s *PebbleNodeStore) GetRoot(prefix [PrefixLen]byte) ([32]byte, error) {
	s.mu.RLock()
	if r, ok := s.rootCache[prefix]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	v, closer, err := s.db.Get(storeKey(prefix, ZeroHash))
	if err == pebble.ErrNotFound {
		s.mu.Lock()
		s.rootCache[prefix] = ZeroHash
		s.mu.Unlock()
		return ZeroHash, nil
	}
	if err != nil {
		return [32]byte{}, fmt.Errorf("smt: get root: %w", err)
	}
	var root [32]byte
	copy(root[:], v)
	closer.Close()

	s.mu.Lock()
	s.rootCache[prefix] = root
	s.mu.Unlock()
	return root, nil
}

func (s *PebbleNodeStore) SetRoot(batch Batch, prefix [PrefixLen]byte, root [32]byte) error {
	pb, ok := batch.(*pebbleBatch)
	if !ok {
		return fmt.Errorf("smt: batch from a different store")
	}
	if err := pb.b.Set(storeKey(prefix, ZeroHash), root[:], nil); err != nil {
		return err
	}
	pb.rootUpdates[prefix] = root
	return nil
}

func (s *PebbleNodeStore) NewBatch() Batch {
	return &pebbleBatch{store: s, b: s.db.NewBatch(), rootUpdates: make(map[[PrefixLen]byte][32]byte)}
}

type pebbleBatch struct {
	store       *PebbleNodeStore
	b           *pebble.Batch
	rootUpdates map[[PrefixLen]byte][32]byte
}

func (pb *pebbleBatch) Commit() error {
	if err := pb.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("smt: commit batch: %w", err)
	}
	pb.store.mu.Lock()
	for prefix, root := range pb.rootUpdates {
		pb.store.rootCache[prefix] = root
	}
	pb.store.mu.Unlock()
	return nil
}

// InMemoryNodeStore is a map-backed NodeStore for tests: it needs no
// disk, and its "batch" applies writes immediately, deferring nothing
// but satisfying the same interface.
type InMemoryNodeStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	roots map[[PrefixLen]byte][32]byte
}

func NewInMemoryNodeStore() *InMemoryNodeStore {
	return &InMemoryNodeStore{
		nodes: make(map[string]Node),
		roots: make(map[[PrefixLen]byte][32]byte),
	}
}

func (s *InMemoryNodeStore) Get(prefix [PrefixLen]byte, hash [32]byte) (Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[string(storeKey(prefix, hash))]
	return n, ok, nil
}

func (s *InMemoryNodeStore) Put(_ Batch, prefix [PrefixLen]byte, hash [32]byte, n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[string(storeKey(prefix, hash))] = n
	return nil
}

func (s *InMemoryNodeStore) GetRoot(prefix [PrefixLen]byte) ([32]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roots[prefix], nil
}

func (s *InMemoryNodeStore) SetRoot(_ Batch, prefix [PrefixLen]byte, root [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[prefix] = root
	return nil
}

func (s *InMemoryNodeStore) NewBatch() Batch { return noopBatch{} }

type noopBatch struct{}

func (noopBatch) Commit() error { return nil }
