package block

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces block ids.
// Implemented by UUIDv7Generator (production) and FixedIDs (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a new hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewID returns a new UUIDv7 block id.
func NewID() string {
	return UUIDv7Generator{}.NewID()
}

// FixedIDs hands out predetermined ids in order, for deterministic tests.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator that returns ids in order.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// NewID returns the next id. Panics when all ids are consumed, to catch
// tests that create more blocks than they declared.
func (g *FixedIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedIDs: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
