package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trustmesh/gateway/internal/core/address"
	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/ledger"
)

// =============================================================================
// Helpers
// =============================================================================

type recordingResync struct {
	mu      sync.Mutex
	signals []domain.ResyncSignal
}

func (r *recordingResync) PublishResync(_ context.Context, sig domain.ResyncSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

func (r *recordingResync) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func addr(t *testing.T, rt domain.ResourceType, id string) domain.Address {
	t.Helper()
	a, err := address.Derive(rt, id)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return a
}

func commitAt(height uint64, addrs ...domain.Address) domain.BlockCommit {
	return domain.BlockCommit{BlockID: "blk", Height: height, Addresses: addrs}
}

func testDistributor(resync ResyncPublisher, cfg Config) *Distributor {
	return NewDistributor(NewRegistry(), resync, cfg, nil)
}

// drain reads all currently buffered events.
func drain(sub *Subscriber) []*domain.StateEvent {
	var out []*domain.StateEvent
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// =============================================================================
// Broadcast
// =============================================================================

func TestBroadcast_OrderedStrictlyIncreasingHeights(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 16})
	sub := d.Subscribe(Filter{})

	a := addr(t, domain.ResourceCertificate, "c1")
	for _, h := range []uint64{1, 2, 2, 3} {
		d.broadcast(commitAt(h, a))
	}

	events := drain(sub)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	var prev uint64
	for _, ev := range events {
		if ev.Height <= prev {
			t.Errorf("heights not strictly increasing: %d after %d", ev.Height, prev)
		}
		prev = ev.Height
	}
}

func TestBroadcast_DisjointFiltersRouteIndependently(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 16})
	certSub := d.Subscribe(Filter{Types: []domain.ResourceType{domain.ResourceCertificate}})
	orgSub := d.Subscribe(Filter{Types: []domain.ResourceType{domain.ResourceOrganization}})

	d.broadcast(commitAt(1, addr(t, domain.ResourceCertificate, "c1")))

	if got := len(drain(certSub)); got != 1 {
		t.Errorf("certificate subscriber expected 1 event, got %d", got)
	}
	if got := len(drain(orgSub)); got != 0 {
		t.Errorf("organization subscriber expected 0 events, got %d", got)
	}
}

func TestBroadcast_ScopedToMatchingAddressesOnly(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 16})
	sub := d.Subscribe(Filter{Types: []domain.ResourceType{domain.ResourceCertificate}})

	certAddr := addr(t, domain.ResourceCertificate, "c1")
	orgAddr := addr(t, domain.ResourceOrganization, "o1")
	d.broadcast(commitAt(1, certAddr, orgAddr))

	events := drain(sub)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if len(ev.Namespaces) != 1 {
		t.Fatalf("expected only the matching namespace, got %v", ev.Namespaces)
	}
	got := ev.Namespaces[domain.ResourceCertificate]
	if len(got) != 1 || got[0] != certAddr {
		t.Errorf("expected [%s], got %v", certAddr, got)
	}
}

func TestBroadcast_NoMatchFilterStaysIdle(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 16})
	sub := d.Subscribe(Filter{Types: []domain.ResourceType{"nonexistent"}})

	d.broadcast(commitAt(1, addr(t, domain.ResourceCertificate, "c1")))

	if got := len(drain(sub)); got != 0 {
		t.Errorf("expected idle subscriber, got %d events", got)
	}
	if sub.State() != StateConnected {
		t.Errorf("expected CONNECTED, got %s", sub.State())
	}
}

func TestBroadcast_ForeignAddressesIgnored(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 16})
	sub := d.Subscribe(Filter{})

	d.broadcast(commitAt(1, domain.Address("ffffffffff")))

	if got := len(drain(sub)); got != 0 {
		t.Errorf("expected no events for foreign addresses, got %d", got)
	}
}

// =============================================================================
// Lag handling
// =============================================================================

func TestLag_OverflowMarksLaggingThenRecovers(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 2, LowWater: 1, LagThreshold: 10})
	sub := d.Subscribe(Filter{})

	a := addr(t, domain.ResourceCertificate, "c1")
	for h := uint64(1); h <= 3; h++ {
		d.broadcast(commitAt(h, a))
	}
	if sub.State() != StateLagging {
		t.Fatalf("expected lagging after overflow, got %s", sub.State())
	}

	// Drain the buffer, then a successful delivery below the low-water
	// mark recovers the subscriber.
	drain(sub)
	d.broadcast(commitAt(4, a))
	if sub.State() != StateConnected {
		t.Errorf("expected CONNECTED after drain, got %s", sub.State())
	}
}

func TestLag_ThresholdForcesSingleDisconnect(t *testing.T) {
	resync := &recordingResync{}
	d := testDistributor(resync, Config{BufferSize: 1, LowWater: 1, LagThreshold: 2})
	sub := d.Subscribe(Filter{})

	a := addr(t, domain.ResourceCertificate, "c1")
	// Fill the buffer, then drop past the threshold.
	for h := uint64(1); h <= 6; h++ {
		d.broadcast(commitAt(h, a))
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("expected subscriber to be disconnected")
	}
	if sub.DisconnectReason() != domain.DisconnectLagExceeded {
		t.Errorf("expected lag_exceeded, got %s", sub.DisconnectReason())
	}
	if !errors.Is(sub.Err(), domain.ErrSubscriberLag) {
		t.Errorf("expected ErrSubscriberLag, got %v", sub.Err())
	}
	if d.registry.Len() != 0 {
		t.Errorf("expected empty registry, got %d", d.registry.Len())
	}

	// Further commits must not reach it.
	buffered := len(drain(sub))
	d.broadcast(commitAt(7, a))
	if got := len(drain(sub)); got != 0 {
		t.Errorf("expected no events after disconnect, got %d (had %d buffered)", got, buffered)
	}
}

// =============================================================================
// Missed commits
// =============================================================================

func TestGap_PublishesResyncAndDisconnectsAll(t *testing.T) {
	resync := &recordingResync{}
	d := testDistributor(resync, Config{BufferSize: 16})
	sub1 := d.Subscribe(Filter{})
	sub2 := d.Subscribe(Filter{Types: []domain.ResourceType{domain.ResourceAgent}})

	d.handleGap(context.Background(), ledger.Gap{From: 10, To: 12})

	if resync.count() != 1 {
		t.Errorf("expected exactly one resync signal, got %d", resync.count())
	}
	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case <-sub.Done():
		default:
			t.Error("expected subscriber disconnected on gap")
		}
		if sub.DisconnectReason() != domain.DisconnectResync {
			t.Errorf("expected resync_required, got %s", sub.DisconnectReason())
		}
		if !errors.Is(sub.Err(), domain.ErrMissedCommits) {
			t.Errorf("expected ErrMissedCommits, got %v", sub.Err())
		}
	}
	if d.registry.Len() != 0 {
		t.Errorf("expected empty registry, got %d", d.registry.Len())
	}
}

// =============================================================================
// Run loop and registry concurrency
// =============================================================================

func TestRun_ConsumesFeedItems(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 16})
	sub := d.Subscribe(Filter{})

	items := make(chan ledger.FeedItem, 2)
	a := addr(t, domain.ResourceCertificate, "c1")
	c1 := commitAt(1, a)
	c2 := commitAt(2, a)
	items <- ledger.FeedItem{Commit: &c1}
	items <- ledger.FeedItem{Commit: &c2}
	close(items)

	if err := d.Run(context.Background(), items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(drain(sub)); got != 2 {
		t.Errorf("expected 2 events, got %d", got)
	}
}

func TestRegistry_ConcurrentWithBroadcast(t *testing.T) {
	d := testDistributor(nil, Config{BufferSize: 4, LagThreshold: 1 << 30})
	a := addr(t, domain.ResourceCertificate, "c1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for h := uint64(1); h <= 200; h++ {
			d.broadcast(commitAt(h, a))
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				sub := d.Subscribe(Filter{})
				drain(sub)
				d.Deregister(sub.ID, domain.DisconnectReason("client_close"))
			}
		}()
	}

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast loop deadlocked")
	}
	if d.registry.Len() != 0 {
		t.Errorf("expected empty registry, got %d", d.registry.Len())
	}
}
