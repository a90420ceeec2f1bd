package storage

import (
	"context"
	"errors"

	"github.com/trustmesh/gateway/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when no feed cursor has been saved yet.
	ErrCursorNotFound = errors.New("feed cursor not found")
)

// CursorRepository persists the commit feed's observation position.
type CursorRepository interface {
	// Get returns the persisted cursor.
	Get(ctx context.Context) (*domain.FeedCursor, error)

	// Save upserts the cursor to a new position.
	Save(ctx context.Context, cursor *domain.FeedCursor) error
}

// SubmissionRepository records accepted batch submissions.
type SubmissionRepository interface {
	// Record stores one submission.
	Record(ctx context.Context, sub *domain.Submission) error

	// Get returns a submission by batch id, or nil when unknown.
	Get(ctx context.Context, batchID string) (*domain.Submission, error)
}
