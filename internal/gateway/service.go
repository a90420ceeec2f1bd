// Package gateway assembles the submission pipeline and the event
// distributor into one running service and exposes the surface the HTTP
// layer serves.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/trustmesh/gateway/internal/api"
	"github.com/trustmesh/gateway/internal/core/config"
	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/core/envelope"
	"github.com/trustmesh/gateway/internal/events"
	redisclient "github.com/trustmesh/gateway/internal/infra/redis"
	"github.com/trustmesh/gateway/internal/infra/storage"
	"github.com/trustmesh/gateway/internal/infra/storage/memory"
	"github.com/trustmesh/gateway/internal/infra/storage/postgres"
	"github.com/trustmesh/gateway/internal/infra/validator"
	"github.com/trustmesh/gateway/internal/ledger"
	"github.com/trustmesh/gateway/internal/metrics"
	"github.com/trustmesh/gateway/internal/status"
)

// feedStaleAfter is how long the feed may go without a delivered commit
// before health reports it stale.
const feedStaleAfter = 2 * time.Minute

// Service wires the validator client, the commit feed, the distributor
// and the submission pipeline, and manages their lifecycle.
type Service struct {
	cfg config.AppConfig

	builder     *envelope.Builder
	submitters  map[string]envelope.Submitter
	client      *validator.Client
	feed        *ledger.Feed
	tracker     *status.Tracker
	registry    *events.Registry
	distributor *events.Distributor

	cursorRepo     storage.CursorRepository
	submissionRepo storage.SubmissionRepository
	db             *postgres.DB
	redisClient    *redisclient.Client

	apiServer *api.Server
	log       *slog.Logger
}

// NewService creates a Service with all dependencies initialized.
func NewService(cfg config.AppConfig, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	// 1. Storage
	var cursorRepo storage.CursorRepository
	var submissionRepo storage.SubmissionRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		cursorRepo = postgres.NewCursorRepo(db)
		submissionRepo = postgres.NewSubmissionRepo(db)
		log.Info("using postgresql storage")
	} else {
		store := memory.NewMemoryStorage()
		cursorRepo = memory.NewCursorRepo(store)
		submissionRepo = memory.NewSubmissionRepo(store)
		log.Info("using in-memory storage")
	}

	// 2. Redis resync publisher (optional)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
	}

	// 3. Validator transport
	client, err := validator.NewClient(cfg.Validator)
	if err != nil {
		return nil, fmt.Errorf("failed to init validator client: %w", err)
	}

	// 4. Commit feed, resumed from the persisted cursor
	startHeight := uint64(0)
	cursor, err := cursorRepo.Get(context.Background())
	switch {
	case err == nil:
		startHeight = cursor.Height
		log.Info("resuming commit feed", "height", startHeight, "block", cursor.BlockID)
	case errors.Is(err, storage.ErrCursorNotFound):
		log.Info("no feed cursor, starting from validator tip")
	default:
		return nil, fmt.Errorf("failed to load feed cursor: %w", err)
	}

	feed := ledger.NewFeed(client, ledger.FeedConfig{StartHeight: startHeight}, log)

	// 5. Distribution and status
	registry := events.NewRegistry()
	var resync events.ResyncPublisher
	if redisClient != nil {
		resync = redisClient
	}
	distributor := events.NewDistributor(registry, resync, cfg.Events, log)
	tracker := status.NewTracker(client, cfg.Status)

	// 6. Submission pipeline
	submitters := make(map[string]envelope.Submitter, len(cfg.Clients))
	for _, cc := range cfg.Clients {
		submitters[cc.PublicKey] = envelope.Submitter{
			PublicKey:  cc.PublicKey,
			Namespaces: cc.ResourceTypes(),
		}
	}
	builder := envelope.NewBuilder(envelope.Ed25519Verifier{}, cfg.Submit.MaxBatchBytes)

	s := &Service{
		cfg:            cfg,
		builder:        builder,
		submitters:     submitters,
		client:         client,
		feed:           feed,
		tracker:        tracker,
		registry:       registry,
		distributor:    distributor,
		cursorRepo:     cursorRepo,
		submissionRepo: submissionRepo,
		db:             db,
		redisClient:    redisClient,
		log:            log,
	}
	s.apiServer = api.NewServer(s, cfg.Server.Port)
	return s, nil
}

// Start launches the feed, the distributor and the HTTP server. It
// returns immediately; components run until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.apiServer.Start(); err != nil {
			s.log.Error("api server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	go func() {
		if err := s.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("commit feed stopped", "error", err)
		}
	}()

	items := make(chan ledger.FeedItem)
	go s.pump(ctx, items)
	go func() {
		if err := s.distributor.Run(ctx, items); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("distributor stopped", "error", err)
		}
	}()

	s.log.Info("gateway started", "port", s.cfg.Server.Port)
	return nil
}

// pump tees the commit feed into the distributor, persisting the feed
// cursor as each commit passes through. A cursor write failure is
// logged and skipped; the feed itself dedupes replayed heights after a
// restart, so a stale cursor only costs redelivery.
func (s *Service) pump(ctx context.Context, items chan<- ledger.FeedItem) {
	defer close(items)
	for item := range s.feed.Items() {
		if item.Commit != nil {
			cursor := &domain.FeedCursor{
				Height:    item.Commit.Height,
				BlockID:   item.Commit.BlockID,
				UpdatedAt: time.Now(),
			}
			if err := s.cursorRepo.Save(ctx, cursor); err != nil {
				s.log.Warn("failed to persist feed cursor", "height", cursor.Height, "error", err)
			}
		}
		select {
		case items <- item:
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts the service down: the HTTP server stops accepting, then
// backing connections close. Feed and distributor goroutines exit with
// the ctx passed to Start.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("stopping gateway")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("failed to close redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("failed to close database", "error", err)
		}
	}

	return s.apiServer.Stop(ctx)
}

// SubmitBatch validates raw submission bytes for the named submitter
// and forwards the resulting batch to the validator.
func (s *Service) SubmitBatch(ctx context.Context, raw []byte, submitterKey string) (*domain.SubmissionReceipt, error) {
	// Unknown submitters get an empty namespace set; validation then
	// fails on signature or authorization without leaking which keys
	// are registered.
	sub, ok := s.submitters[submitterKey]
	if !ok {
		sub = envelope.Submitter{PublicKey: submitterKey}
	}

	batch, err := s.builder.Build(raw, sub)
	if err != nil {
		metrics.BatchesSubmitted.WithLabelValues(domain.ErrorCode(err)).Inc()
		return nil, err
	}

	id, err := s.client.Submit(ctx, batch)
	if err != nil {
		metrics.BatchesSubmitted.WithLabelValues(domain.ErrorCode(err)).Inc()
		return nil, err
	}

	record := &domain.Submission{
		BatchID:         id,
		SignerPublicKey: batch.SignerPublicKey,
		TxnCount:        len(batch.Transactions),
		SubmittedAt:     time.Now(),
	}
	if err := s.submissionRepo.Record(ctx, record); err != nil {
		// The batch is already with the validator; the audit row is
		// best effort.
		s.log.Warn("failed to record submission", "batch", id, "error", err)
	}

	metrics.BatchesSubmitted.WithLabelValues("ok").Inc()
	s.log.Info("batch accepted", "batch", id, "signer", batch.SignerPublicKey, "txns", len(batch.Transactions))

	return &domain.SubmissionReceipt{
		BatchID:    id,
		StatusLink: "/api/batch_statuses?id=" + id,
	}, nil
}

// BatchStatuses reports the current status of the given batch ids,
// optionally waiting for them to reach a terminal state.
func (s *Service) BatchStatuses(ctx context.Context, ids []string, wait time.Duration) (map[string]domain.BatchStatus, error) {
	metrics.StatusQueries.Inc()
	return s.tracker.Query(ctx, ids, wait)
}

// Subscribe registers a ledger-change subscriber.
func (s *Service) Subscribe(filter events.Filter) *events.Subscriber {
	return s.distributor.Subscribe(filter)
}

// Deregister removes a subscriber.
func (s *Service) Deregister(id uuid.UUID, reason domain.DisconnectReason) {
	s.distributor.Deregister(id, reason)
}

// Health reports overall service health plus a per-dependency detail
// map. The feed counts as live while commits arrive within the
// staleness window; before the first commit it reports starting.
func (s *Service) Health(ctx context.Context) (bool, map[string]string) {
	ok := true
	checks := make(map[string]string)

	switch seen := s.feed.LastSeenAt(); {
	case seen.IsZero():
		checks["feed"] = "starting"
	case time.Since(seen) > feedStaleAfter:
		checks["feed"] = fmt.Sprintf("stale, last commit %s ago", time.Since(seen).Truncate(time.Second))
		ok = false
	default:
		checks["feed"] = fmt.Sprintf("ok, height %d", s.feed.LastHeight())
	}

	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			checks["database"] = err.Error()
			ok = false
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "memory"
	}

	if s.redisClient != nil {
		if err := s.redisClient.Health(ctx); err != nil {
			checks["redis"] = err.Error()
			ok = false
		} else {
			checks["redis"] = "ok"
		}
	}

	checks["subscribers"] = fmt.Sprintf("%d", s.registry.Len())
	return ok, checks
}
