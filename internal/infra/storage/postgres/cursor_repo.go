package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/infra/storage"
)

// The feed cursor is a single row; id is fixed at 1.
const cursorRowID = 1

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get retrieves the persisted feed cursor.
func (r *CursorRepo) Get(ctx context.Context) (*domain.FeedCursor, error) {
	var cursor domain.FeedCursor
	err := r.db.GetContext(ctx, &cursor,
		`SELECT height, block_id, updated_at FROM feed_cursor WHERE id = $1`, cursorRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed cursor: %w", err)
	}
	return &cursor, nil
}

// Save upserts the feed cursor.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.FeedCursor) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_cursor (id, height, block_id, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET height = EXCLUDED.height,
		     block_id = EXCLUDED.block_id,
		     updated_at = EXCLUDED.updated_at`,
		cursorRowID, cursor.Height, cursor.BlockID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save feed cursor: %w", err)
	}
	return nil
}
