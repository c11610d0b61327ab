package risks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/observability"
	"github.com/lucaspecout/ope-protec/internal/store"
)

// Snapshot keys, also used as path parameters on the per-source endpoint.
const (
	KeyWeather  = "weather"
	KeyRiver    = "river"
	KeyRoad     = "road-disruptions"
	KeyTraffic  = "traffic-forecast"
	KeyRegistry = "risk-registry"
	KeyNews     = "news"
	KeyAir      = "air-quality"
	KeyRail     = "rail"
	KeyWater    = "water-restrictions"
	KeyPower    = "power-margin"
)

// Keys lists every source key in snapshot order.
var Keys = []string{
	KeyWeather, KeyRiver, KeyRoad, KeyTraffic, KeyRegistry,
	KeyNews, KeyAir, KeyRail, KeyWater, KeyPower,
}

// Fetchers bundles the live fetch function of every source. Each function
// must return a payload, reporting failures through the payload status
// rather than an error.
type Fetchers struct {
	Weather  func(context.Context) *WeatherPayload
	River    func(context.Context) *RiverPayload
	Road     func(context.Context) *RoadPayload
	Traffic  func(context.Context) *TrafficPayload
	Registry func(context.Context) *RiskRegistryPayload
	News     func(context.Context) *NewsPayload
	Air      func(context.Context) *AirQualityPayload
	Rail     func(context.Context) *RailPayload
	Water    func(context.Context) *WaterPayload
	Power    func(context.Context) *PowerPayload
	Boundary func(context.Context) *BoundaryPayload
}

// TTLs holds the cache lifetime of every source.
type TTLs struct {
	Weather  time.Duration
	River    time.Duration
	Road     time.Duration
	Traffic  time.Duration
	Registry time.Duration
	News     time.Duration
	Air      time.Duration
	Rail     time.Duration
	Water    time.Duration
	Power    time.Duration
	Boundary time.Duration
}

// Service aggregates all external sources into a single snapshot, caching
// each source independently so one failing upstream never empties the
// others.
type Service struct {
	log     *slog.Logger
	clock   clockwork.Clock
	metrics *observability.Metrics

	weather  *store.Slot[*WeatherPayload]
	river    *store.Slot[*RiverPayload]
	road     *store.Slot[*RoadPayload]
	traffic  *store.Slot[*TrafficPayload]
	registry *store.Slot[*RiskRegistryPayload]
	news     *store.Slot[*NewsPayload]
	air      *store.Slot[*AirQualityPayload]
	rail     *store.Slot[*RailPayload]
	water    *store.Slot[*WaterPayload]
	power    *store.Slot[*PowerPayload]
	boundary *store.Slot[*BoundaryPayload]

	mu      sync.RWMutex
	current *Snapshot
}

// NewService wires one cache slot per source around the given fetchers.
func NewService(f Fetchers, ttls TTLs, clock clockwork.Clock, metrics *observability.Metrics, log *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:      log,
		clock:    clock,
		metrics:  metrics,
		weather:  store.NewSlot(KeyWeather, ttls.Weather, clock, metrics, f.Weather),
		river:    store.NewSlot(KeyRiver, ttls.River, clock, metrics, f.River),
		road:     store.NewSlot(KeyRoad, ttls.Road, clock, metrics, f.Road),
		traffic:  store.NewSlot(KeyTraffic, ttls.Traffic, clock, metrics, f.Traffic),
		registry: store.NewSlot(KeyRegistry, ttls.Registry, clock, metrics, f.Registry),
		news:     store.NewSlot(KeyNews, ttls.News, clock, metrics, f.News),
		air:      store.NewSlot(KeyAir, ttls.Air, clock, metrics, f.Air),
		rail:     store.NewSlot(KeyRail, ttls.Rail, clock, metrics, f.Rail),
		water:    store.NewSlot(KeyWater, ttls.Water, clock, metrics, f.Water),
		power:    store.NewSlot(KeyPower, ttls.Power, clock, metrics, f.Power),
		boundary: store.NewSlot("boundary", ttls.Boundary, clock, metrics, f.Boundary),
	}
}

// workerCount bounds the fan-out pool: at least 4 workers, never more than
// the task count, capped at 24 then 10.
func workerCount(target int) int {
	n := target
	if n > 24 {
		n = 24
	}
	if n < 4 {
		n = 4
	}
	if n > 10 {
		n = 10
	}
	return n
}

// fetchSlot reads one slot, converting a panicking adapter into a degraded
// placeholder instead of taking the whole aggregation down.
func fetchSlot[P store.Cacheable[P]](ctx context.Context, slot *store.Slot[P], force bool, fallback func(reason string) P, log *slog.Logger) (out P) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("source fetch panicked", "panic", r)
			out = fallback(fmt.Sprintf("panic: %v", r))
		}
	}()
	return slot.Get(ctx, force)
}

// Aggregate fetches every source concurrently and assembles a snapshot.
// The result always carries all source keys; failures appear in the errors
// map and as degraded or stale payload statuses.
func (s *Service) Aggregate(ctx context.Context, force bool) *Snapshot {
	now := s.clock.Now().UTC()
	snap := &Snapshot{Errors: make(map[string]string)}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	sem := make(chan struct{}, workerCount(len(Keys)))

	run := func(task func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			task()
		}()
	}

	record := func(key string, env *Envelope, assign func()) {
		mu.Lock()
		defer mu.Unlock()
		assign()
		s.observeFetch(key, env.Status)
		switch env.Status {
		case StatusDegraded:
			snap.Errors[key] = env.Err
		case StatusStale:
			snap.Errors[key] = "stale: " + env.StaleReason
		}
	}

	run(func() {
		p := fetchSlot(ctx, s.weather, force, func(reason string) *WeatherPayload {
			return &WeatherPayload{Envelope: degradedEnvelope("meteo-france", reason, now), Level: LevelVert}
		}, s.log)
		record(KeyWeather, &p.Envelope, func() { snap.Weather = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.river, force, func(reason string) *RiverPayload {
			return &RiverPayload{Envelope: degradedEnvelope("vigicrues", reason, now), Level: LevelVert}
		}, s.log)
		record(KeyRiver, &p.Envelope, func() { snap.River = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.road, force, func(reason string) *RoadPayload {
			return &RoadPayload{Envelope: degradedEnvelope("itinisere", reason, now)}
		}, s.log)
		record(KeyRoad, &p.Envelope, func() { snap.Road = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.traffic, force, func(reason string) *TrafficPayload {
			return &TrafficPayload{Envelope: degradedEnvelope("bison-fute", reason, now)}
		}, s.log)
		record(KeyTraffic, &p.Envelope, func() { snap.Traffic = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.registry, force, func(reason string) *RiskRegistryPayload {
			return &RiskRegistryPayload{Envelope: degradedEnvelope("georisques", reason, now)}
		}, s.log)
		record(KeyRegistry, &p.Envelope, func() { snap.Registry = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.news, force, func(reason string) *NewsPayload {
			return &NewsPayload{Envelope: degradedEnvelope("prefecture", reason, now)}
		}, s.log)
		record(KeyNews, &p.Envelope, func() { snap.News = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.air, force, func(reason string) *AirQualityPayload {
			return &AirQualityPayload{Envelope: degradedEnvelope("atmo", reason, now), Level: LevelVert}
		}, s.log)
		record(KeyAir, &p.Envelope, func() { snap.AirQuality = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.rail, force, func(reason string) *RailPayload {
			return &RailPayload{Envelope: degradedEnvelope("sncf", reason, now)}
		}, s.log)
		record(KeyRail, &p.Envelope, func() { snap.Rail = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.water, force, func(reason string) *WaterPayload {
			return &WaterPayload{Envelope: degradedEnvelope("vigieau", reason, now), Level: LevelVert}
		}, s.log)
		record(KeyWater, &p.Envelope, func() { snap.Water = p })
	})
	run(func() {
		p := fetchSlot(ctx, s.power, force, func(reason string) *PowerPayload {
			return &PowerPayload{Envelope: degradedEnvelope("rte", reason, now), Level: LevelVert}
		}, s.log)
		record(KeyPower, &p.Envelope, func() { snap.Power = p })
	})

	wg.Wait()

	snap.GlobalRisk = GlobalRisk(snap)
	snap.UpdatedAt = now
	snap.Degraded = len(snap.Errors)
	if s.metrics != nil {
		s.metrics.SnapshotErrors.Set(float64(len(snap.Errors)))
		s.metrics.SnapshotUpdated.Set(float64(now.Unix()))
	}
	return snap
}

// Get returns the current snapshot, aggregating on first use. With refresh
// set every source is re-fetched regardless of its TTL. Snapshots are
// immutable once published; callers must not modify the result.
func (s *Service) Get(ctx context.Context, refresh bool) *Snapshot {
	if !refresh {
		s.mu.RLock()
		cur := s.current
		s.mu.RUnlock()
		if cur != nil {
			return cur
		}
	}

	snap := s.Aggregate(ctx, refresh)
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	return snap
}

// Source returns the payload of a single source by its snapshot key.
func (s *Service) Source(ctx context.Context, key string, refresh bool) (any, bool) {
	switch key {
	case KeyWeather:
		return s.weather.Get(ctx, refresh), true
	case KeyRiver:
		return s.river.Get(ctx, refresh), true
	case KeyRoad:
		return s.road.Get(ctx, refresh), true
	case KeyTraffic:
		return s.traffic.Get(ctx, refresh), true
	case KeyRegistry:
		return s.registry.Get(ctx, refresh), true
	case KeyNews:
		return s.news.Get(ctx, refresh), true
	case KeyAir:
		return s.air.Get(ctx, refresh), true
	case KeyRail:
		return s.rail.Get(ctx, refresh), true
	case KeyWater:
		return s.water.Get(ctx, refresh), true
	case KeyPower:
		return s.power.Get(ctx, refresh), true
	default:
		return nil, false
	}
}

// Boundary returns the department boundary geometry.
func (s *Service) Boundary(ctx context.Context) *BoundaryPayload {
	return s.boundary.Get(ctx, false)
}

// RiversGeoJSON renders the cached river stations as a GeoJSON
// FeatureCollection.
func (s *Service) RiversGeoJSON(ctx context.Context, refresh bool) *FeatureCollection {
	return StationsFeatureCollection(s.river.Get(ctx, refresh))
}

// Refresh forces a full aggregation and publishes the result. It is called
// by the background scheduler and never returns an error: individual source
// failures surface in the snapshot instead.
func (s *Service) Refresh(ctx context.Context) {
	started := s.clock.Now()
	snap := s.Aggregate(ctx, true)

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	elapsed := s.clock.Since(started)
	if s.metrics != nil {
		s.metrics.RefreshRuns.Inc()
		s.metrics.RefreshDuration.Observe(elapsed.Seconds())
	}
	if len(snap.Errors) > 0 {
		s.log.Warn("snapshot refreshed with failing sources",
			"failed", len(snap.Errors), "elapsed", elapsed)
		return
	}
	s.log.Info("snapshot refreshed", "elapsed", elapsed)
}

func (s *Service) observeFetch(key string, status Status) {
	if s.metrics == nil {
		return
	}
	s.metrics.FetchResults.WithLabelValues(key, string(status)).Inc()
}
