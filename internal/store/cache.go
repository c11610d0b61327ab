package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/observability"
)

// Cacheable is implemented by source payloads held in a Slot. Clone returns a
// deep copy so callers never share memory with the cached value. Usable
// reports whether a freshly fetched payload is worth caching; MarkStale
// annotates a copy served past its TTL after a failed refresh.
type Cacheable[P any] interface {
	Clone() P
	Usable() bool
	MarkStale(reason string, at time.Time)
	FailureReason() string
}

// Slot caches the last usable payload of a single source for a fixed TTL.
// When a refresh fails and a previous payload exists, the stale payload is
// served without advancing the TTL so the next call retries the source.
type Slot[P Cacheable[P]] struct {
	mu      sync.Mutex
	name    string
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics
	fetch   func(context.Context) P

	last      P
	hasLast   bool
	expiresAt time.Time
}

// NewSlot builds a cache slot around a fetch function. The fetch function
// must always return a payload; failures are reported through the payload's
// Usable/FailureReason methods, never through an error.
func NewSlot[P Cacheable[P]](name string, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics, fetch func(context.Context) P) *Slot[P] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Slot[P]{
		name:    name,
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
		fetch:   fetch,
	}
}

// Get returns the cached payload while it is within its TTL, refreshing from
// the source otherwise. With force set the TTL is ignored and the source is
// always contacted.
func (s *Slot[P]) Get(ctx context.Context, force bool) P {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !force && s.hasLast && now.Before(s.expiresAt) {
		s.observe("hit")
		return s.last.Clone()
	}

	fresh := s.fetch(ctx)
	if fresh.Usable() {
		s.last = fresh.Clone()
		s.hasLast = true
		s.expiresAt = now.Add(s.ttl)
		s.observe("refresh")
		return fresh
	}

	if s.hasLast {
		// Keep the old expiry so the next lookup tries the source again.
		stale := s.last.Clone()
		stale.MarkStale(fresh.FailureReason(), now)
		s.observe("stale")
		return stale
	}

	s.observe("cold")
	return fresh
}

// Peek returns the cached payload without consulting the source, and false
// when nothing has been cached yet.
func (s *Slot[P]) Peek() (P, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLast {
		var zero P
		return zero, false
	}
	return s.last.Clone(), true
}

func (s *Slot[P]) observe(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CacheLookups.WithLabelValues(s.name, result).Inc()
}
