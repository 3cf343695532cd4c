// Package blockstore holds the flat, normalized set of every known block,
// keyed by id.
//
// Writes are last-writer-wins on UpdateAt: an incoming block replaces the
// stored one only when its UpdateAt is newer. Deletes are tombstones written
// through Upsert; Remove physically evicts and is reserved for history
// compaction. The store does not notify anyone of changes. Callers decide
// which projections to rebuild from the Outcome of each write.
package blockstore

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/boardreplica/internal/block"
)

var (
	// ErrStaleWrite reports an upsert older than the stored version. It is
	// informational: the write is dropped and the store is unchanged.
	ErrStaleWrite = errors.New("stale write")

	// ErrEmptyID rejects blocks without an id.
	ErrEmptyID = errors.New("block id is empty")
)

// Outcome describes what an upsert did.
type Outcome int

const (
	// Unchanged means the store already held this version.
	Unchanged Outcome = iota
	// Inserted means the id was not known before.
	Inserted
	// Updated means a newer version replaced the stored one.
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Changed reports whether the write modified the store.
func (o Outcome) Changed() bool {
	return o != Unchanged
}

// Store is the flat block collection.
//
// Thread-safety: Store is safe for concurrent use. Blocks are cloned on the
// way in and on the way out.
type Store struct {
	mu     sync.RWMutex
	blocks map[string]block.Block
	byRoot map[string]map[string]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		blocks: make(map[string]block.Block),
		byRoot: make(map[string]map[string]struct{}),
	}
}

// Get returns the block with id, tombstones included.
func (s *Store) Get(id string) (block.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return block.Block{}, false
	}
	return b.Clone(), true
}

// Upsert stores b unless the store holds a newer version.
//
// An older UpdateAt returns ErrStaleWrite. An equal UpdateAt is a duplicate
// delivery and returns Unchanged, except that a tombstone wins over a live
// block stamped at the same instant so the merge does not depend on arrival
// order.
func (s *Store) Upsert(b block.Block) (Outcome, error) {
	if b.ID == "" {
		return Unchanged, ErrEmptyID
	}
	if err := b.Validate(); err != nil {
		return Unchanged, fmt.Errorf("upsert %s: %w", b.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.blocks[b.ID]
	if !ok {
		s.put(b.Clone())
		return Inserted, nil
	}
	switch {
	case b.UpdateAt < cur.UpdateAt:
		slog.Debug("stale write dropped",
			"block_id", b.ID,
			"incoming", b.UpdateAt,
			"current", cur.UpdateAt)
		return Unchanged, ErrStaleWrite
	case b.UpdateAt == cur.UpdateAt:
		if !b.IsDeleted() || cur.IsDeleted() {
			return Unchanged, nil
		}
	}
	s.put(b.Clone())
	return Updated, nil
}

// CompareAndRestore rolls back a write this replica made. If the block with
// id still carries version expect, it is replaced by prior, or evicted when
// prior is nil. It reports false, leaving the store untouched, when a newer
// write has landed since.
func (s *Store) CompareAndRestore(id string, expect int64, prior *block.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.blocks[id]
	if !ok || cur.UpdateAt != expect {
		return false
	}
	if prior == nil {
		s.evict(id)
		return true
	}
	s.put(prior.Clone())
	return true
}

// Remove physically evicts id. Normal deletes are tombstones; only history
// compaction calls Remove.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[id]; !ok {
		return false
	}
	s.evict(id)
	return true
}

// AllByRoot returns every block whose RootID is rootID, tombstones
// included, in no particular order.
func (s *Store) AllByRoot(rootID string) []block.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byRoot[rootID]
	out := make([]block.Block, 0, len(ids))
	for id := range ids {
		out = append(out, s.blocks[id].Clone())
	}
	return out
}

// Roots returns every block without a parent, tombstones included, in no
// particular order.
func (s *Store) Roots() []block.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []block.Block
	for _, b := range s.blocks {
		if b.IsRoot() {
			out = append(out, b.Clone())
		}
	}
	return out
}

// Tombstones returns the ids of blocks deleted strictly before cutoff,
// sorted.
func (s *Store) Tombstones(cutoff int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, b := range s.blocks {
		if b.IsDeleted() && b.DeleteAt < cutoff {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Snapshot returns every block sorted by id.
func (s *Store) Snapshot() []block.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]block.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b.Clone())
	}
	slices.SortFunc(out, func(a, b block.Block) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of stored blocks, tombstones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// put stores b and keeps the root index in step. Callers hold mu.
func (s *Store) put(b block.Block) {
	if old, ok := s.blocks[b.ID]; ok && old.RootID != b.RootID {
		s.unindex(old.RootID, b.ID)
	}
	s.blocks[b.ID] = b
	ids, ok := s.byRoot[b.RootID]
	if !ok {
		ids = make(map[string]struct{})
		s.byRoot[b.RootID] = ids
	}
	ids[b.ID] = struct{}{}
}

// evict drops id. Callers hold mu.
func (s *Store) evict(id string) {
	old, ok := s.blocks[id]
	if !ok {
		return
	}
	delete(s.blocks, id)
	s.unindex(old.RootID, id)
}

func (s *Store) unindex(rootID, id string) {
	ids := s.byRoot[rootID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.byRoot, rootID)
	}
}
