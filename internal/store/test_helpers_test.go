package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/wire"
)

func testCodec(t *testing.T) *wire.Codec {
	t.Helper()
	c, err := wire.NewCodec(block.DefaultRegistry())
	if err != nil {
		t.Fatalf("NewCodec() failed: %v", err)
	}
	return c
}

func openAt(t *testing.T, path string) (*Store, error) {
	t.Helper()
	return Open(path, testCodec(t))
}

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := openAt(t, path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
