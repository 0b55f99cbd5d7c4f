// Package state opens the two persistent trees a relayer/indexer request
// needs — the quota tree and the uniqueness tree — scoped to one
// (program, state-id) pair (spec §4.C).
package state

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/kysee/zk-anon-vote/internal/smt"
)

// TreeDepth is the SMT depth both trees are opened at (spec §4.B: the
// indexer/relayer use D=64).
const TreeDepth = 64

// Store owns the two node stores ("quota" and "uniq") and hands out
// paired SMT views for a (program, state-id) key.
type Store struct {
	quota *smt.PebbleNodeStore
	uniq  *smt.PebbleNodeStore
}

// Open opens (or creates) the quota and uniq pebble databases under root.
func Open(root string) (*Store, error) {
	quota, err := smt.OpenPebbleNodeStore(filepath.Join(root, "nodes-quota"))
	if err != nil {
		return nil, fmt.Errorf("state: open quota store: %w", err)
	}
	uniq, err := smt.OpenPebbleNodeStore(filepath.Join(root, "nodes-uniq"))
	if err != nil {
		_ = quota.Close()
		return nil, fmt.Errorf("state: open uniq store: %w", err)
	}
	return &Store{quota: quota, uniq: uniq}, nil
}

func (s *Store) Close() error {
	err1 := s.quota.Close()
	err2 := s.uniq.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Prefix builds the 40-byte (program_pubkey || state_id_be) key prefix
// that multiplexes per-(program, state-id) trees in a single physical
// database (spec §3).
func Prefix(program [32]byte, stateID uint64) [smt.PrefixLen]byte {
	var p [smt.PrefixLen]byte
	copy(p[:32], program[:])
	binary.BigEndian.PutUint64(p[32:], stateID)
	return p
}

// Loaded is a pair of SMT views scoped to one prefix, each with its own
// write-batch on its own store, as returned by LoadState.
type Loaded struct {
	Quota     *smt.Tree
	Uniq      *smt.Tree
	QuotaBatch smt.Batch
	UniqBatch  smt.Batch
}

// LoadState opens the quota and uniq SMT views for (program, stateID),
// each over its own write-batch (spec §4.C). Both trees' roots are read
// once, inside smt.New, and cached for the lifetime of the view.
func (s *Store) LoadState(program [32]byte, stateID uint64) (*Loaded, error) {
	prefix := Prefix(program, stateID)

	quotaBatch := s.quota.NewBatch()
	quotaTree, err := smt.New(s.quota, prefix, TreeDepth)
	if err != nil {
		return nil, fmt.Errorf("state: load quota tree: %w", err)
	}

	uniqBatch := s.uniq.NewBatch()
	uniqTree, err := smt.New(s.uniq, prefix, TreeDepth)
	if err != nil {
		return nil, fmt.Errorf("state: load uniq tree: %w", err)
	}

	return &Loaded{Quota: quotaTree, Uniq: uniqTree, QuotaBatch: quotaBatch, UniqBatch: uniqBatch}, nil
}

// Commit commits both trees' batches. Partial failure (quota committed,
// uniq not) is the same open risk spec §9 documents for the relayer's
// commit ordering window.
func (l *Loaded) Commit() error {
	if err := l.QuotaBatch.Commit(); err != nil {
		return fmt.Errorf("state: commit quota batch: %w", err)
	}
	if err := l.UniqBatch.Commit(); err != nil {
		return fmt.Errorf("state: commit uniq batch: %w", err)
	}
	return nil
}
