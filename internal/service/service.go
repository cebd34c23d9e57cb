package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/endertoolsbox/home-weather/internal/cache"
	"github.com/endertoolsbox/home-weather/internal/forecast"
	"github.com/endertoolsbox/home-weather/internal/models"
	"github.com/endertoolsbox/home-weather/internal/observability"
)

// StalenessScope selects what a cached reading's age is measured against.
type StalenessScope string

const (
	// ScopeShared gates every cell on one refresh timestamp: refreshing any cell
	// extends the lifetime of all of them.
	ScopeShared StalenessScope = "shared"
	// ScopePerKey ages each cell from its own RefreshedAt.
	ScopePerKey StalenessScope = "per_key"
)

// ParseStalenessScope maps a config value to a scope; unknown values select ScopeShared.
func ParseStalenessScope(s string) StalenessScope {
	if StalenessScope(strings.ToLower(strings.TrimSpace(s))) == ScopePerKey {
		return ScopePerKey
	}
	return ScopeShared
}

// WeatherCache serves synthetic readings per quantized cell, recomputing
// them once stale. It never returns an error: store failures degrade to a
// recompute.
type WeatherCache struct {
	store     cache.Cache
	staleness time.Duration
	scope     StalenessScope
	latency   time.Duration // simulated upstream delay on a miss
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	lastRefresh time.Time
	// invalidatedAt marks the last Invalidate; entries refreshed at or before it are stale.
	invalidatedAt time.Time
}

// NewWeatherCache creates a WeatherCache over store. staleness <= 0 selects 30 minutes.
// logger may be nil.
func NewWeatherCache(store cache.Cache, staleness time.Duration, scope StalenessScope, latency time.Duration, logger *zap.Logger) *WeatherCache {
	if staleness <= 0 {
		staleness = 30 * time.Minute
	}
	if scope == "" {
		scope = ScopeShared
	}
	if latency < 0 {
		latency = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherCache{
		store:     store,
		staleness: staleness,
		scope:     scope,
		latency:   latency,
		logger:    logger,
		now:       time.Now,
	}
}

// loggerFromContext prefers the request-scoped logger over the component logger.
func (s *WeatherCache) loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// GetOrRefresh returns the cached reading for pos's cell while it is fresh,
// otherwise generates a new one labelled with place, stores it and stamps the
// refresh time.
func (s *WeatherCache) GetOrRefresh(ctx context.Context, pos models.Position, place string) models.Reading {
	key := cache.QuantizeKey(pos)
	logger := s.loggerFromContext(ctx)

	cached, ok, err := s.store.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed, recomputing", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if ok {
		if s.fresh(cached) {
			observability.WeatherCacheLookupsTotal.WithLabelValues("hit").Inc()
			logger.Debug("weather cache hit", zap.String("key", key))
			return cached
		}
		observability.WeatherCacheLookupsTotal.WithLabelValues("stale").Inc()
	} else {
		observability.WeatherCacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	s.simulateLatency(ctx)

	reading := forecast.Generate(pos, place)
	now := s.now()
	reading.RefreshedAt = now
	if err := s.store.Set(ctx, key, reading); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}

	s.mu.Lock()
	s.lastRefresh = now
	s.mu.Unlock()

	logger.Debug("weather refreshed",
		zap.String("key", key),
		zap.Int("temperature", reading.Temperature),
		zap.String("condition", string(reading.Condition)),
	)
	return reading
}

// Invalidate drops every cell and resets the shared refresh time, so the next
// GetOrRefresh recomputes whatever the key.
func (s *WeatherCache) Invalidate(ctx context.Context) {
	if err := s.store.Clear(ctx); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("clear").Inc()
		s.loggerFromContext(ctx).Warn("cache clear failed", zap.Error(err))
	}
	s.mu.Lock()
	s.lastRefresh = time.Time{}
	s.invalidatedAt = s.now()
	s.mu.Unlock()
	observability.CacheInvalidationsTotal.Inc()
}

// LastRefresh returns when a reading was last generated; zero after Invalidate.
func (s *WeatherCache) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

// fresh reports whether a stored reading may be served. Entries that survived
// a failed Clear are caught by invalidatedAt in either scope.
func (s *WeatherCache) fresh(r models.Reading) bool {
	s.mu.Lock()
	lastRefresh, invalidatedAt := s.lastRefresh, s.invalidatedAt
	s.mu.Unlock()

	if r.RefreshedAt.IsZero() || !r.RefreshedAt.After(invalidatedAt) {
		return false
	}
	ref := r.RefreshedAt
	if s.scope == ScopeShared {
		ref = lastRefresh
	}
	if ref.IsZero() {
		return false
	}
	return s.now().Sub(ref) < s.staleness
}

// simulateLatency stands in for a network round trip. Cancellation cuts it
// short; the reading is still produced.
func (s *WeatherCache) simulateLatency(ctx context.Context) {
	if s.latency <= 0 {
		return
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
