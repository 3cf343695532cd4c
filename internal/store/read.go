package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/boardreplica/internal/block"
)

// Get returns block id of workspace ws, tombstones included.
func (s *Store) Get(ctx context.Context, ws, id string) (block.Block, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM blocks WHERE workspace_id = ? AND id = ?
	`, ws, id).Scan(&data)
	if isNoRows(err) {
		return block.Block{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return block.Block{}, fmt.Errorf("get block %s: %w", id, err)
	}
	return s.decode(data)
}

// ListByRoots returns every block whose root is one of rootIDs. The empty
// root id selects root-level blocks (boards). Tombstones are included so a
// resyncing replica learns about deletes.
func (s *Store) ListByRoots(ctx context.Context, ws string, rootIDs []string) ([]block.Block, error) {
	if len(rootIDs) == 0 {
		return []block.Block{}, nil
	}

	var (
		conds []string
		args  = []any{ws}
		roots []string
	)
	for _, id := range rootIDs {
		if id == "" {
			conds = append(conds, "parent_id = ''")
			continue
		}
		roots = append(roots, id)
	}
	if len(roots) > 0 {
		conds = append(conds, "root_id IN (?"+strings.Repeat(", ?", len(roots)-1)+")")
		for _, id := range roots {
			args = append(args, id)
		}
	}

	return s.list(ctx, "list by roots", `
		SELECT data FROM blocks
		WHERE workspace_id = ? AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY update_at ASC, id COLLATE BINARY ASC
	`, args...)
}

// ListModifiedSince returns the blocks of ws written after version since,
// oldest first. It is the change feed a reconnecting client can page
// through.
func (s *Store) ListModifiedSince(ctx context.Context, ws string, since int64) ([]block.Block, error) {
	return s.list(ctx, "list modified", `
		SELECT data FROM blocks
		WHERE workspace_id = ? AND update_at > ?
		ORDER BY update_at ASC, id COLLATE BINARY ASC
	`, ws, since)
}

// History returns every accepted version of block id, oldest first.
func (s *Store) History(ctx context.Context, ws, id string) ([]block.Block, error) {
	return s.list(ctx, "block history", `
		SELECT data FROM block_history
		WHERE workspace_id = ? AND id = ?
		ORDER BY seq ASC
	`, ws, id)
}

// MaxUpdateAt returns the newest version stored in ws, or 0.
func (s *Store) MaxUpdateAt(ctx context.Context, ws string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(update_at), 0) FROM blocks WHERE workspace_id = ?
	`, ws).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("max update_at: %w", err)
	}
	return v, nil
}

func (s *Store) list(ctx context.Context, what, query string, args ...any) ([]block.Block, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var blocks []block.Block
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", what, err)
		}
		b, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", what, err)
	}

	// Return empty slice instead of nil
	if blocks == nil {
		blocks = []block.Block{}
	}
	return blocks, nil
}

func (s *Store) decode(data string) (block.Block, error) {
	b, err := s.codec.Decode([]byte(data))
	if err != nil {
		return block.Block{}, fmt.Errorf("decode stored block: %w", err)
	}
	return b, nil
}
