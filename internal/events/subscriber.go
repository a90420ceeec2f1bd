package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/trustmesh/gateway/internal/core/domain"
)

// SubscriberState is the delivery state of one subscriber connection.
type SubscriberState string

const (
	StateConnected    SubscriberState = "connected"
	StateLagging      SubscriberState = "lagging"
	StateDisconnected SubscriberState = "disconnected"
)

// Filter selects which namespaces a subscriber receives events for.
// An empty type list matches every namespace. A filter naming only
// unknown types matches nothing; such a subscription is valid but
// permanently idle.
type Filter struct {
	Types []domain.ResourceType
}

// Matches reports whether the filter selects the given namespace.
func (f Filter) Matches(rt domain.ResourceType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == rt {
			return true
		}
	}
	return false
}

// Subscriber is one live event connection. The distributor enqueues
// into its bounded buffer and returns immediately; the connection's own
// writer drains the buffer independently, so a slow subscriber never
// blocks the feed or its peers.
//
// State machine: CONNECTED ↔ lagging, then DISCONNECTED (terminal).
// Buffer overflow marks it lagging; draining below the low-water mark
// recovers it; dropping more events than the lag threshold, a transport
// error, or an explicit close disconnects it for good.
type Subscriber struct {
	ID     uuid.UUID
	Filter Filter

	buf  chan *domain.StateEvent
	done chan struct{}

	lowWater     int
	lagThreshold int

	mu         sync.Mutex
	state      SubscriberState
	dropped    int
	lastHeight uint64
	reason     domain.DisconnectReason
	closeOnce  sync.Once
}

func newSubscriber(filter Filter, bufferSize, lowWater, lagThreshold int) *Subscriber {
	return &Subscriber{
		ID:           uuid.New(),
		Filter:       filter,
		buf:          make(chan *domain.StateEvent, bufferSize),
		done:         make(chan struct{}),
		lowWater:     lowWater,
		lagThreshold: lagThreshold,
		state:        StateConnected,
	}
}

// Events is the subscriber's outbound buffer. It is never closed; the
// writer must select on Done as well.
func (s *Subscriber) Events() <-chan *domain.StateEvent {
	return s.buf
}

// Done is closed exactly once when the subscriber is disconnected.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// State returns the current delivery state.
func (s *Subscriber) State() SubscriberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DisconnectReason returns why the subscriber was disconnected. Only
// meaningful after Done is closed.
func (s *Subscriber) DisconnectReason() domain.DisconnectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err maps a forced disconnect onto the error taxonomy: lag
// disconnects surface ErrSubscriberLag, continuity-loss disconnects
// surface ErrMissedCommits. Client-initiated closes return nil.
func (s *Subscriber) Err() error {
	switch s.DisconnectReason() {
	case domain.DisconnectLagExceeded:
		return domain.ErrSubscriberLag
	case domain.DisconnectResync:
		return domain.ErrMissedCommits
	default:
		return nil
	}
}

// offer enqueues an event without blocking. Events at or below the last
// delivered height are ignored, which keeps per-subscriber delivery
// strictly increasing in block height. The second return value is true
// when the subscriber has exceeded its lag threshold and must be
// disconnected.
func (s *Subscriber) offer(ev *domain.StateEvent) (delivered, lagExceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisconnected {
		return false, false
	}
	if ev.Height <= s.lastHeight {
		return false, false
	}

	select {
	case s.buf <- ev:
		s.lastHeight = ev.Height
		if s.state == StateLagging && len(s.buf) <= s.lowWater {
			s.state = StateConnected
			s.dropped = 0
		}
		return true, false
	default:
		s.dropped++
		s.state = StateLagging
		return false, s.dropped > s.lagThreshold
	}
}

// disconnect moves the subscriber to its terminal state. Idempotent:
// only the first reason sticks and Done closes once.
func (s *Subscriber) disconnect(reason domain.DisconnectReason) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateDisconnected
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}
