// Package memory provides in-memory repository implementations, used
// when no database is configured and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/infra/storage"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	cursor      *domain.FeedCursor
	submissions map[string]*domain.Submission
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		submissions: make(map[string]*domain.Submission),
	}
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context) (*domain.FeedCursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if r.store.cursor == nil {
		return nil, storage.ErrCursorNotFound
	}
	c := *r.store.cursor
	return &c, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.FeedCursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *cursor
	r.store.cursor = &c
	return nil
}

// -----------------------------------------------------------------------------
// Submission Repository
// -----------------------------------------------------------------------------

type SubmissionRepo struct {
	store *MemoryStorage
}

func NewSubmissionRepo(store *MemoryStorage) *SubmissionRepo {
	return &SubmissionRepo{store: store}
}

func (r *SubmissionRepo) Record(ctx context.Context, sub *domain.Submission) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.submissions[sub.BatchID]; ok {
		return nil
	}
	s := *sub
	r.store.submissions[sub.BatchID] = &s
	return nil
}

func (r *SubmissionRepo) Get(ctx context.Context, batchID string) (*domain.Submission, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sub, ok := r.store.submissions[batchID]
	if !ok {
		return nil, nil
	}
	s := *sub
	return &s, nil
}
