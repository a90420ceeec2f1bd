package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trustmesh/gateway/internal/core/domain"
)

// Gap marks a run of block heights the gateway never observed.
type Gap struct {
	From uint64
	To   uint64
}

// FeedItem is one element of the reconciled commit stream: either a
// commit or a gap marker, never both. A gap marker precedes the first
// commit delivered after a height discontinuity, exactly once per
// discontinuity, so consumers can resynchronize instead of silently
// skipping blocks.
type FeedItem struct {
	Commit *domain.BlockCommit
	Gap    *Gap
}

// FeedConfig controls the reconnect loop.
type FeedConfig struct {
	// StartHeight is the height after which delivery resumes, typically
	// the persisted cursor. 0 starts from the validator's current tip.
	StartHeight    uint64
	ReconnectDelay time.Duration
	MaxDelay       time.Duration
	Buffer         int
}

// Feed turns the validator's restart-on-failure commit stream into a
// single continuous sequence with explicit gap markers. It reconnects
// indefinitely with backoff and resumes from the last observed height;
// there is one active feed consumer per gateway instance.
type Feed struct {
	client Client
	cfg    FeedConfig
	out    chan FeedItem
	log    *slog.Logger

	mu         sync.RWMutex
	lastHeight uint64
	lastSeenAt time.Time
}

// NewFeed creates a Feed. Run must be called before Items yields anything.
func NewFeed(client Client, cfg FeedConfig, log *slog.Logger) *Feed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		client:     client,
		cfg:        cfg,
		out:        make(chan FeedItem, cfg.Buffer),
		log:        log,
		lastHeight: cfg.StartHeight,
	}
}

// Items is the reconciled commit stream. Closed when Run returns.
func (f *Feed) Items() <-chan FeedItem {
	return f.out
}

// LastHeight returns the highest block height observed so far.
func (f *Feed) LastHeight() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastHeight
}

// LastSeenAt returns when the last commit arrived, for liveness checks.
func (f *Feed) LastSeenAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastSeenAt
}

// Run consumes the validator stream until ctx is cancelled, reconnecting
// with linear-capped backoff on every terminal stream failure. The
// backoff resets after a session that delivered at least one commit.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		from := f.resumeHeight()
		delivered, err := f.consume(ctx, from)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if delivered > 0 {
			attempt = 0
		}
		delay := time.Duration(attempt+1) * f.cfg.ReconnectDelay
		if delay > f.cfg.MaxDelay {
			delay = f.cfg.MaxDelay
		}
		attempt++

		f.log.Warn("commit stream ended, reconnecting",
			"err", err,
			"delivered", delivered,
			"resume_from", from,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (f *Feed) resumeHeight() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastHeight == 0 {
		return 0
	}
	return f.lastHeight + 1
}

// consume drains one stream session, emitting gap markers on height
// discontinuity. Returns the number of commits delivered downstream.
func (f *Feed) consume(ctx context.Context, from uint64) (int, error) {
	commits, errc := f.client.Commits(ctx, from)

	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			return delivered, err
		case commit, ok := <-commits:
			if !ok {
				return delivered, nil
			}

			last := f.LastHeight()
			if last > 0 && commit.Height <= last {
				// Replay below the cursor, drop silently.
				continue
			}
			if last > 0 && commit.Height > last+1 {
				gap := Gap{From: last + 1, To: commit.Height - 1}
				f.log.Warn("commit height discontinuity",
					"expected", last+1,
					"got", commit.Height,
				)
				if !f.emit(ctx, FeedItem{Gap: &gap}) {
					return delivered, ctx.Err()
				}
			}

			c := commit
			if !f.emit(ctx, FeedItem{Commit: &c}) {
				return delivered, ctx.Err()
			}
			delivered++

			f.mu.Lock()
			f.lastHeight = commit.Height
			f.lastSeenAt = time.Now()
			f.mu.Unlock()
		}
	}
}

func (f *Feed) emit(ctx context.Context, item FeedItem) bool {
	select {
	case <-ctx.Done():
		return false
	case f.out <- item:
		return true
	}
}
