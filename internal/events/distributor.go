// Package events fans the single ordered block-commit feed out to many
// long-lived subscriber connections, preserving commit order per
// subscriber and isolating slow subscribers from each other and from
// the feed consumer.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trustmesh/gateway/internal/core/address"
	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/ledger"
	"github.com/trustmesh/gateway/internal/metrics"
)

// Config tunes subscriber buffering and lag handling.
type Config struct {
	// BufferSize is each subscriber's outbound buffer capacity.
	BufferSize int `yaml:"buffer_size"`
	// LowWater is the buffer depth below which a lagging subscriber
	// recovers to connected.
	LowWater int `yaml:"low_water"`
	// LagThreshold is how many events a subscriber may drop before it
	// is force-disconnected.
	LagThreshold int `yaml:"lag_threshold"`
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 128
	}
	if c.LowWater <= 0 || c.LowWater >= c.BufferSize {
		c.LowWater = c.BufferSize / 4
	}
	if c.LagThreshold <= 0 {
		c.LagThreshold = 32
	}
	return c
}

// ResyncPublisher hands continuity-loss signals to whatever maintains
// the relational read store's cache.
type ResyncPublisher interface {
	PublishResync(ctx context.Context, sig domain.ResyncSignal) error
}

// Distributor consumes the reconciled commit feed, classifies changed
// addresses into namespaces, and pushes subscriber-scoped events into
// each matching subscriber's buffer. It never performs subscriber I/O
// itself.
type Distributor struct {
	registry *Registry
	resync   ResyncPublisher
	cfg      Config
	log      *slog.Logger
}

// NewDistributor creates a Distributor over a registry. resync may be
// nil when no read-store collaborator is configured.
func NewDistributor(registry *Registry, resync ResyncPublisher, cfg Config, log *slog.Logger) *Distributor {
	if log == nil {
		log = slog.Default()
	}
	return &Distributor{
		registry: registry,
		resync:   resync,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// Subscribe registers a new subscriber with the given filter. The
// subscriber joins at the next commit broadcast after registration.
func (d *Distributor) Subscribe(filter Filter) *Subscriber {
	cfg := d.cfg
	sub := newSubscriber(filter, cfg.BufferSize, cfg.LowWater, cfg.LagThreshold)
	d.registry.add(sub)
	d.log.Debug("subscriber registered", "id", sub.ID, "filter", filter.Types)
	return sub
}

// Deregister disconnects and removes a subscriber, typically on client
// close or a transport write failure. Safe to call concurrently with
// the broadcast loop and idempotent per handle.
func (d *Distributor) Deregister(id uuid.UUID, reason domain.DisconnectReason) {
	sub, ok := d.registry.get(id)
	if !ok {
		return
	}
	sub.disconnect(reason)
	d.registry.remove(id)
	d.log.Debug("subscriber deregistered", "id", id, "reason", reason)
}

// Run consumes feed items until the channel closes or ctx is cancelled.
func (d *Distributor) Run(ctx context.Context, items <-chan ledger.FeedItem) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if item.Gap != nil {
				d.handleGap(ctx, *item.Gap)
			}
			if item.Commit != nil {
				d.broadcast(*item.Commit)
			}
		}
	}
}

// broadcast classifies one commit and enqueues a scoped event for every
// matching subscriber. Enqueue never blocks; overflow is the
// subscriber's problem, bounded by its lag threshold.
func (d *Distributor) broadcast(commit domain.BlockCommit) {
	metrics.FeedHeight.Set(float64(commit.Height))

	byNamespace := classify(commit.Addresses)
	if len(byNamespace) == 0 {
		return
	}

	for _, sub := range d.registry.snapshot() {
		scoped := scopeEvent(commit, byNamespace, sub.Filter)
		if scoped == nil {
			continue
		}

		delivered, lagExceeded := sub.offer(scoped)
		switch {
		case delivered:
			metrics.EventsDelivered.Inc()
		case lagExceeded:
			metrics.EventsDropped.Inc()
			d.disconnectLagged(sub, commit.Height)
		case sub.State() == StateLagging:
			metrics.EventsDropped.Inc()
			d.log.Warn("subscriber lagging, event dropped",
				"id", sub.ID,
				"height", commit.Height,
			)
		}
	}
}

func (d *Distributor) disconnectLagged(sub *Subscriber, height uint64) {
	sub.disconnect(domain.DisconnectLagExceeded)
	d.registry.remove(sub.ID)
	metrics.SubscriberDisconnects.WithLabelValues(string(domain.DisconnectLagExceeded)).Inc()
	d.log.Warn("subscriber disconnected for lag", "id", sub.ID, "height", height)

	if d.resync != nil {
		sig := domain.ResyncSignal{
			ID:        uuid.NewString(),
			ToHeight:  height,
			Reason:    string(domain.DisconnectLagExceeded),
			EmittedAt: time.Now().Unix(),
		}
		if err := d.resync.PublishResync(context.Background(), sig); err != nil {
			d.log.Error("publish lag resync signal", "err", err)
		}
	}
}

// handleGap reacts to missed commits: the read-store collaborator gets
// a resync signal and every live subscriber is force-disconnected,
// since continuity of its event stream can no longer be guaranteed.
func (d *Distributor) handleGap(ctx context.Context, gap ledger.Gap) {
	metrics.FeedGaps.Inc()
	d.log.Warn("missed commits, forcing subscriber resync",
		"from", gap.From,
		"to", gap.To,
		"subscribers", d.registry.Len(),
	)

	if d.resync != nil {
		sig := domain.ResyncSignal{
			ID:         uuid.NewString(),
			FromHeight: gap.From,
			ToHeight:   gap.To,
			Reason:     "missed_commits",
			EmittedAt:  time.Now().Unix(),
		}
		if err := d.resync.PublishResync(ctx, sig); err != nil {
			d.log.Error("publish resync signal", "err", err)
		}
	}

	for _, sub := range d.registry.snapshot() {
		sub.disconnect(domain.DisconnectResync)
		d.registry.remove(sub.ID)
		metrics.SubscriberDisconnects.WithLabelValues(string(domain.DisconnectResync)).Inc()
	}
}

// classify groups changed addresses by the namespace they derive from.
// Addresses outside the family are ignored.
func classify(addrs []domain.Address) map[domain.ResourceType][]domain.Address {
	out := make(map[domain.ResourceType][]domain.Address)
	for _, addr := range addrs {
		rt, err := address.NamespaceOf(addr)
		if err != nil {
			continue
		}
		out[rt] = append(out[rt], addr)
	}
	return out
}

// scopeEvent builds the subscriber's view of a commit: block height
// plus only the changed addresses its filter matches. Returns nil when
// nothing matches.
func scopeEvent(commit domain.BlockCommit, byNamespace map[domain.ResourceType][]domain.Address, filter Filter) *domain.StateEvent {
	matched := make(map[domain.ResourceType][]domain.Address)
	for rt, addrs := range byNamespace {
		if filter.Matches(rt) {
			matched[rt] = addrs
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return &domain.StateEvent{
		BlockID:    commit.BlockID,
		Height:     commit.Height,
		Namespaces: matched,
	}
}
