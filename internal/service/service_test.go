package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/endertoolsbox/home-weather/internal/cache"
	"github.com/endertoolsbox/home-weather/internal/forecast"
	"github.com/endertoolsbox/home-weather/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(scope StalenessScope) (*WeatherCache, *cache.InMemoryCache, *fakeClock) {
	store := cache.NewInMemoryCache()
	s := NewWeatherCache(store, 30*time.Minute, scope, 0, nil)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, store, clock
}

type failingCache struct {
	getErr, setErr, clearErr error
}

func (f *failingCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	return models.Reading{}, false, f.getErr
}

func (f *failingCache) Set(ctx context.Context, key string, value models.Reading) error {
	return f.setErr
}

func (f *failingCache) Clear(ctx context.Context) error { return f.clearErr }

var (
	paris = models.Position{Latitude: 48.8566, Longitude: 2.3522}
	lyon  = models.Position{Latitude: 45.764, Longitude: 4.8357}
)

func TestParseStalenessScope(t *testing.T) {
	tests := []struct {
		in   string
		want StalenessScope
	}{
		{"shared", ScopeShared},
		{"PER_KEY", ScopePerKey},
		{" per_key ", ScopePerKey},
		{"", ScopeShared},
		{"bogus", ScopeShared},
	}
	for _, tc := range tests {
		if got := ParseStalenessScope(tc.in); got != tc.want {
			t.Errorf("ParseStalenessScope(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestWeatherCache_GetOrRefresh_SameCellWithinWindow verifies that coordinates in the same
// 0.1 degree cell get the identical reading while the refresh is under 30 minutes old.
func TestWeatherCache_GetOrRefresh_SameCellWithinWindow(t *testing.T) {
	s, store, clock := newTestCache(ScopeShared)
	ctx := context.Background()

	first := s.GetOrRefresh(ctx, models.Position{Latitude: 48.851, Longitude: 2.349}, "Paris")
	clock.advance(29 * time.Minute)
	second := s.GetOrRefresh(ctx, models.Position{Latitude: 48.8549, Longitude: 2.3449}, "Elsewhere")

	if first != second {
		t.Errorf("second reading = %+v, want cached %+v", second, first)
	}
	if second.Location != "Paris" {
		t.Errorf("Location = %q, want cached place Paris", second.Location)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
}

func TestWeatherCache_GetOrRefresh_RecomputesAfterWindow(t *testing.T) {
	s, _, clock := newTestCache(ScopeShared)
	ctx := context.Background()

	first := s.GetOrRefresh(ctx, paris, "Paris")
	clock.advance(30 * time.Minute)
	second := s.GetOrRefresh(ctx, paris, "Paris 1er")

	if second.Location != "Paris 1er" {
		t.Errorf("Location = %q, want recomputed reading", second.Location)
	}
	if !second.RefreshedAt.After(first.RefreshedAt) {
		t.Errorf("RefreshedAt not advanced: %v -> %v", first.RefreshedAt, second.RefreshedAt)
	}
	if got := s.LastRefresh(); !got.Equal(clock.t) {
		t.Errorf("LastRefresh() = %v, want %v", got, clock.t)
	}
}

// TestWeatherCache_SharedTimestamp verifies that refreshing one cell keeps every other
// cell fresh, because staleness is measured against a single shared timestamp.
func TestWeatherCache_SharedTimestamp(t *testing.T) {
	s, _, clock := newTestCache(ScopeShared)
	ctx := context.Background()

	parisReading := s.GetOrRefresh(ctx, paris, "Paris")
	clock.advance(25 * time.Minute)
	s.GetOrRefresh(ctx, lyon, "Lyon")
	clock.advance(25 * time.Minute)

	// 50 minutes since Paris was generated, 25 since the last refresh of any cell.
	got := s.GetOrRefresh(ctx, paris, "Paris again")
	if got != parisReading {
		t.Errorf("GetOrRefresh() = %+v, want cached %+v", got, parisReading)
	}
}

func TestWeatherCache_PerKeyScope(t *testing.T) {
	s, _, clock := newTestCache(ScopePerKey)
	ctx := context.Background()

	s.GetOrRefresh(ctx, paris, "Paris")
	clock.advance(25 * time.Minute)
	lyonReading := s.GetOrRefresh(ctx, lyon, "Lyon")
	clock.advance(25 * time.Minute)

	if got := s.GetOrRefresh(ctx, paris, "Paris again"); got.Location != "Paris again" {
		t.Errorf("Paris Location = %q, want recompute after 50 minutes", got.Location)
	}
	if got := s.GetOrRefresh(ctx, lyon, "Lyon again"); got != lyonReading {
		t.Errorf("Lyon = %+v, want cached %+v", got, lyonReading)
	}
}

// TestWeatherCache_Invalidate verifies that no pre-invalidation reading is ever served and
// that the regenerated reading is the same deterministic value.
func TestWeatherCache_Invalidate(t *testing.T) {
	s, store, clock := newTestCache(ScopeShared)
	ctx := context.Background()

	before := s.GetOrRefresh(ctx, paris, "Paris")
	s.Invalidate(ctx)

	if !s.LastRefresh().IsZero() {
		t.Errorf("LastRefresh() = %v, want zero after Invalidate", s.LastRefresh())
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0 after Invalidate", store.Len())
	}

	clock.advance(time.Second)
	after := s.GetOrRefresh(ctx, paris, "Paris")
	if !after.RefreshedAt.After(before.RefreshedAt) {
		t.Error("GetOrRefresh() after Invalidate returned the pre-invalidation reading")
	}
	if after.Temperature != before.Temperature || after.Condition != before.Condition {
		t.Errorf("regenerated %d/%s, want %d/%s", after.Temperature, after.Condition, before.Temperature, before.Condition)
	}
}

func TestWeatherCache_Invalidate_ClearFailureStillForcesRecompute(t *testing.T) {
	for _, scope := range []StalenessScope{ScopeShared, ScopePerKey} {
		t.Run(string(scope), func(t *testing.T) {
			store := &stickyCache{InMemoryCache: cache.NewInMemoryCache()}
			s := NewWeatherCache(store, 30*time.Minute, scope, 0, nil)
			clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			s.now = clock.now
			ctx := context.Background()

			before := s.GetOrRefresh(ctx, paris, "Paris")
			clock.advance(time.Minute)
			s.Invalidate(ctx)
			clock.advance(time.Minute)
			after := s.GetOrRefresh(ctx, paris, "Paris after")

			if after.Location != "Paris after" || !after.RefreshedAt.After(before.RefreshedAt) {
				t.Errorf("GetOrRefresh() = %+v, want a reading generated after invalidation", after)
			}

			again := s.GetOrRefresh(ctx, paris, "Paris again")
			if again.Location != "Paris after" {
				t.Errorf("GetOrRefresh() after recompute = %q, want the cached %q", again.Location, "Paris after")
			}
		})
	}
}

func TestWeatherCache_Invalidate_SameInstant(t *testing.T) {
	store := &stickyCache{InMemoryCache: cache.NewInMemoryCache()}
	s := NewWeatherCache(store, 30*time.Minute, ScopePerKey, 0, nil)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now
	ctx := context.Background()

	s.GetOrRefresh(ctx, paris, "Paris")
	s.Invalidate(ctx)
	after := s.GetOrRefresh(ctx, paris, "Paris after")

	if after.Location != "Paris after" {
		t.Errorf("GetOrRefresh() = %q, want recompute for an entry refreshed at the invalidation instant", after.Location)
	}
}

// stickyCache refuses to clear.
type stickyCache struct {
	*cache.InMemoryCache
}

func (c *stickyCache) Clear(ctx context.Context) error { return errors.New("clear refused") }

func TestWeatherCache_GetOrRefresh_MatchesGenerator(t *testing.T) {
	s, _, _ := newTestCache(ScopeShared)
	got := s.GetOrRefresh(context.Background(), paris, "Paris")
	want := forecast.Generate(paris, "Paris")

	if got.Temperature != want.Temperature || got.Condition != want.Condition || got.Offline {
		t.Errorf("GetOrRefresh() = %+v, want generator output %+v", got, want)
	}
}

// TestWeatherCache_StoreErrors verifies that backend failures are logged and absorbed:
// the caller still receives a freshly generated reading.
func TestWeatherCache_StoreErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := &failingCache{getErr: errors.New("connection refused"), setErr: errors.New("connection refused")}
	s := NewWeatherCache(store, 30*time.Minute, ScopeShared, 0, zap.New(core))

	got := s.GetOrRefresh(context.Background(), paris, "Paris")
	if got.Location != "Paris" || got.RefreshedAt.IsZero() {
		t.Errorf("GetOrRefresh() = %+v, want generated reading", got)
	}
	if n := logs.FilterMessage("cache get failed, recomputing").Len(); n != 1 {
		t.Errorf("get failure logs = %d, want 1", n)
	}
	if n := logs.FilterMessage("cache set failed").Len(); n != 1 {
		t.Errorf("set failure logs = %d, want 1", n)
	}
}

func TestWeatherCache_UsesContextLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s, _, _ := newTestCache(ScopeShared)
	ctx := context.WithValue(context.Background(), "logger", zap.New(core))

	s.GetOrRefresh(ctx, paris, "Paris")
	if logs.FilterMessage("weather refreshed").Len() != 1 {
		t.Error("expected refresh to be logged on the request logger")
	}
}

func TestWeatherCache_SimulatedLatency(t *testing.T) {
	s := NewWeatherCache(cache.NewInMemoryCache(), time.Minute, ScopeShared, 50*time.Millisecond, nil)

	start := time.Now()
	s.GetOrRefresh(context.Background(), paris, "Paris")
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("miss took %v, want at least 50ms", elapsed)
	}

	start = time.Now()
	s.GetOrRefresh(context.Background(), paris, "Paris")
	if elapsed := time.Since(start); elapsed >= 50*time.Millisecond {
		t.Errorf("hit took %v, want no simulated delay", elapsed)
	}
}

func TestWeatherCache_SimulatedLatency_Cancelled(t *testing.T) {
	s := NewWeatherCache(cache.NewInMemoryCache(), time.Minute, ScopeShared, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := s.GetOrRefresh(ctx, paris, "Paris")
	if got.Location != "Paris" {
		t.Errorf("GetOrRefresh() = %+v, want a reading despite cancellation", got)
	}
}
