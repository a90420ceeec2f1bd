package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/trustmesh/gateway/internal/core/domain"
)

// SubmissionRepo implements storage.SubmissionRepository using PostgreSQL.
type SubmissionRepo struct {
	db *DB
}

// NewSubmissionRepo creates a new PostgreSQL submission repository.
func NewSubmissionRepo(db *DB) *SubmissionRepo {
	return &SubmissionRepo{db: db}
}

// Record stores one accepted submission. Re-recording the same batch id
// is a no-op: the id is content-derived, so the row is identical.
func (r *SubmissionRepo) Record(ctx context.Context, sub *domain.Submission) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO submissions (batch_id, signer_public_key, txn_count, submitted_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (batch_id) DO NOTHING`,
		sub.BatchID, sub.SignerPublicKey, sub.TxnCount, sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// Get returns a submission by batch id, or nil when unknown.
func (r *SubmissionRepo) Get(ctx context.Context, batchID string) (*domain.Submission, error) {
	var sub domain.Submission
	err := r.db.GetContext(ctx, &sub,
		`SELECT batch_id, signer_public_key, txn_count, submitted_at
		 FROM submissions WHERE batch_id = $1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &sub, nil
}
