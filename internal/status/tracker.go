// Package status is the synchronous surface clients poll for batch
// commitment status. It orchestrates the ledger client: request
// deduplication, set-size capping, UNKNOWN normalization, and the
// bounded wait loop.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/ledger"
	"github.com/trustmesh/gateway/internal/metrics"
)

const (
	// DefaultMaxIDs caps the number of batch ids in a single query.
	DefaultMaxIDs = 100

	// DefaultWaitCeiling is the hard upper bound on a wait, regardless
	// of what the caller requests. It protects the gateway's own
	// connection pool from long-parked requests.
	DefaultWaitCeiling = 300 * time.Second

	// DefaultPollInterval is how often a waiting query re-checks.
	DefaultPollInterval = 500 * time.Millisecond
)

// Config tunes the tracker.
type Config struct {
	MaxIDs       int           `yaml:"max_ids"`
	WaitCeiling  time.Duration `yaml:"wait_ceiling"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Tracker answers batch status queries.
type Tracker struct {
	client ledger.Client
	cfg    Config
}

// NewTracker creates a Tracker; zero config fields pick the defaults.
func NewTracker(client ledger.Client, cfg Config) *Tracker {
	if cfg.MaxIDs <= 0 {
		cfg.MaxIDs = DefaultMaxIDs
	}
	if cfg.WaitCeiling <= 0 {
		cfg.WaitCeiling = DefaultWaitCeiling
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Tracker{client: client, cfg: cfg}
}

// Query returns the status of each requested batch id. Unknown ids map
// to UNKNOWN, never an error. When wait > 0 and any status is still
// PENDING, the call polls up to min(wait, ceiling) and returns whatever
// resolved by the deadline. The wait is a loop with a deadline, never a
// single unbounded call, so the ceiling holds regardless of backend
// behavior.
func (t *Tracker) Query(ctx context.Context, ids []string, wait time.Duration) (map[string]domain.BatchStatus, error) {
	metrics.StatusQueries.Inc()

	deduped := dedupe(ids)
	if len(deduped) == 0 {
		return map[string]domain.BatchStatus{}, nil
	}
	if len(deduped) > t.cfg.MaxIDs {
		return nil, fmt.Errorf("%d ids exceeds limit %d: %w",
			len(deduped), t.cfg.MaxIDs, domain.ErrTooManyIDs)
	}

	statuses, err := t.client.Statuses(ctx, deduped)
	if err != nil {
		return nil, err
	}
	normalize(statuses, deduped)

	if wait <= 0 || allResolved(statuses) {
		return statuses, nil
	}

	if wait > t.cfg.WaitCeiling {
		wait = t.cfg.WaitCeiling
	}
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return statuses, nil
		}

		select {
		case <-ctx.Done():
			// Return the last-known statuses; the wait is advisory.
			return statuses, nil
		case <-ticker.C:
			next, err := t.client.Statuses(ctx, deduped)
			if err != nil {
				// A transient poll failure keeps the last-known view.
				continue
			}
			normalize(next, deduped)
			statuses = next
			if allResolved(statuses) {
				return statuses, nil
			}
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// normalize guarantees every requested id has an entry and that nothing
// backend-specific leaks through as a status value.
func normalize(statuses map[string]domain.BatchStatus, ids []string) {
	for _, id := range ids {
		switch statuses[id] {
		case domain.BatchStatusPending, domain.BatchStatusInvalid, domain.BatchStatusCommitted:
		default:
			statuses[id] = domain.BatchStatusUnknown
		}
	}
}

func allResolved(statuses map[string]domain.BatchStatus) bool {
	for _, s := range statuses {
		if s == domain.BatchStatusPending {
			return false
		}
	}
	return true
}
