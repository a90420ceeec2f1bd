// Package ledger defines the gateway's contract with the validator
// backend: batch submission, status lookup, and the block-commit feed.
// Transport implementations live in internal/infra/validator; everything
// they surface is already mapped onto the gateway error taxonomy.
package ledger

import (
	"context"

	"github.com/trustmesh/gateway/internal/core/domain"
)

// Client is the request/response surface against the validator. Each
// operation is independently retryable by the implementation.
type Client interface {
	// Submit sends a batch to the validator and returns its id.
	// Fails with ErrDuplicateBatch if the same id is still in the
	// validator's recent-submission cache, ErrRejectedByValidator for
	// structural rejections, and ErrTransportUnavailable once the
	// retry budget is exhausted.
	Submit(ctx context.Context, batch *domain.Batch) (string, error)

	// Statuses returns the current status for each requested batch id.
	// Ids the validator has no record of are reported as UNKNOWN,
	// never as an error.
	Statuses(ctx context.Context, ids []string) (map[string]domain.BatchStatus, error)

	// Commits opens a push stream of committed blocks starting at
	// fromHeight (0 means "from the current tip"). The stream is not
	// restartable: after a terminal transport failure the error channel
	// yields exactly one error and both channels are closed. Callers
	// reconnect and resume from their last observed height.
	Commits(ctx context.Context, fromHeight uint64) (<-chan domain.BlockCommit, <-chan error)
}
