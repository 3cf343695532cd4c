package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/boardreplica/internal/block"
)

// upsertSQL writes a block unless the stored version is at least as new.
// At equal update_at a tombstone still replaces a live row, matching the
// client-side merge.
const upsertSQL = `
	INSERT INTO blocks
	(workspace_id, id, parent_id, root_id, type, update_at, delete_at, data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(workspace_id, id) DO UPDATE SET
		parent_id = excluded.parent_id,
		root_id   = excluded.root_id,
		type      = excluded.type,
		update_at = excluded.update_at,
		delete_at = excluded.delete_at,
		data      = excluded.data
	WHERE excluded.update_at > blocks.update_at
	   OR (excluded.update_at = blocks.update_at AND excluded.delete_at != 0 AND blocks.delete_at = 0)
`

// Upsert writes b into workspace ws. It reports whether the write was
// applied; a version that is not newer than the stored one is dropped.
func (s *Store) Upsert(ctx context.Context, ws string, b block.Block) (bool, error) {
	applied, err := s.UpsertBatch(ctx, ws, []block.Block{b})
	if err != nil {
		return false, err
	}
	return applied[0], nil
}

// UpsertBatch writes blocks in one transaction. applied[i] reports whether
// blocks[i] was newer than the stored version. Either every block is
// considered or, on error, none is written.
func (s *Store) UpsertBatch(ctx context.Context, ws string, blocks []block.Block) ([]bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert blocks: %w", err)
	}
	defer tx.Rollback()

	applied := make([]bool, len(blocks))
	for i, b := range blocks {
		ok, err := s.upsertTx(ctx, tx, ws, b)
		if err != nil {
			return nil, err
		}
		applied[i] = ok
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upsert blocks: commit: %w", err)
	}
	return applied, nil
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx, ws string, b block.Block) (bool, error) {
	if b.ID == "" {
		return false, fmt.Errorf("upsert block: empty id")
	}
	b.WorkspaceID = ws
	data, err := s.codec.Encode(b)
	if err != nil {
		return false, fmt.Errorf("upsert block %s: %w", b.ID, err)
	}

	res, err := tx.ExecContext(ctx, upsertSQL,
		ws,
		b.ID,
		b.ParentID,
		b.RootID,
		string(b.Type),
		b.UpdateAt,
		b.DeleteAt,
		string(data),
	)
	if err != nil {
		return false, fmt.Errorf("upsert block %s: %w", b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert block %s: %w", b.ID, err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO block_history (workspace_id, id, update_at, data)
		VALUES (?, ?, ?, ?)
	`, ws, b.ID, b.UpdateAt, string(data))
	if err != nil {
		return false, fmt.Errorf("record history %s: %w", b.ID, err)
	}
	return true, nil
}

// Delete tombstones block id at version at. It returns the tombstone, or
// ErrNotFound when the block does not exist. Deleting a tombstone again is
// a no-op that returns the stored tombstone.
func (s *Store) Delete(ctx context.Context, ws, id string, at int64, modifiedBy string) (block.Block, error) {
	cur, err := s.Get(ctx, ws, id)
	if err != nil {
		return block.Block{}, err
	}
	if cur.IsDeleted() {
		return cur, nil
	}

	tomb := cur.Tombstone(at, modifiedBy)
	ok, err := s.Upsert(ctx, ws, tomb)
	if err != nil {
		return block.Block{}, err
	}
	if !ok {
		// A newer version won meanwhile; report what is stored.
		return s.Get(ctx, ws, id)
	}
	return tomb, nil
}

// Purge physically removes a workspace's tombstones deleted before cutoff
// and returns how many rows were removed. History rows are kept.
func (s *Store) Purge(ctx context.Context, ws string, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blocks
		WHERE workspace_id = ? AND delete_at != 0 AND delete_at < ?
	`, ws, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tombstones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge tombstones: %w", err)
	}
	return n, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
