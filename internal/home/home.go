// Package home owns the home screen state: the current weather reading, the
// place name and the online flag, kept fresh by the clock, connectivity and
// location loops.
package home

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/endertoolsbox/home-weather/internal/client"
	"github.com/endertoolsbox/home-weather/internal/location"
	"github.com/endertoolsbox/home-weather/internal/models"
	"github.com/endertoolsbox/home-weather/internal/observability"
	"github.com/endertoolsbox/home-weather/internal/service"
	"github.com/endertoolsbox/home-weather/internal/traffic"
)

// Intervals are the loop periods and windows. Zero fields take DefaultIntervals values.
type Intervals struct {
	Clock            time.Duration
	Connectivity     time.Duration
	LocationRequest  time.Duration
	Debounce         time.Duration
	WeatherStaleness time.Duration
}

// Defaults are the values published when no real reading can be produced.
type Defaults struct {
	Place        string
	Temperature  int
	Condition    models.Condition
	UnknownPlace string
	Delay        time.Duration // before the no-permission fallback is published
}

func DefaultIntervals() Intervals {
	return Intervals{
		Clock:            time.Minute,
		Connectivity:     30 * time.Second,
		LocationRequest:  150 * time.Second,
		Debounce:         5 * time.Minute,
		WeatherStaleness: 30 * time.Minute,
	}
}

func DefaultDefaults() Defaults {
	return Defaults{
		Place:        "Paris",
		Temperature:  10,
		Condition:    models.ConditionClear,
		UnknownPlace: "unknown city",
		Delay:        300 * time.Millisecond,
	}
}

// Config wires a Home.
type Config struct {
	Intervals    Intervals
	Defaults     Defaults
	Weather      *service.WeatherCache
	Geocoder     client.Geocoder
	Connectivity client.ConnectivityChecker
	Provider     location.Provider
	Logger       *zap.Logger
}

// Snapshot is a consistent-enough copy of every published value.
type Snapshot struct {
	Now               time.Time        `json:"now"`
	Reading           *models.Reading  `json:"reading"`
	Place             string           `json:"place"`
	Online            bool             `json:"online"`
	Position          *models.Position `json:"position,omitempty"`
	LastWeatherUpdate time.Time        `json:"lastWeatherUpdate"`
	LastCacheRefresh  time.Time        `json:"lastCacheRefresh"`
}

// Home is the single owner of the home screen state.
type Home struct {
	intervals    Intervals
	defaults     Defaults
	weather      *service.WeatherCache
	geocoder     client.Geocoder
	connectivity client.ConnectivityChecker
	provider     location.Provider
	debouncer    *location.Debouncer
	logger       *zap.Logger
	now          func() time.Time

	// mu serializes state transitions across the loops and HTTP callers.
	mu sync.Mutex

	clock             *Value[time.Time]
	reading           *Value[*models.Reading]
	place             *Value[string]
	online            *Value[bool]
	position          *Value[*models.Position]
	lastWeatherUpdate *Value[time.Time]
}

func New(cfg Config) (*Home, error) {
	if cfg.Weather == nil {
		return nil, errors.New("home: weather cache is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("home: location provider is required")
	}
	if cfg.Geocoder == nil {
		cfg.Geocoder = client.DisabledGeocoder{}
	}
	if cfg.Connectivity == nil {
		cfg.Connectivity = client.StaticConnectivity(true)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Intervals = withIntervalDefaults(cfg.Intervals)
	cfg.Defaults = withDefaults(cfg.Defaults)

	h := &Home{
		intervals:    cfg.Intervals,
		defaults:     cfg.Defaults,
		weather:      cfg.Weather,
		geocoder:     cfg.Geocoder,
		connectivity: cfg.Connectivity,
		provider:     cfg.Provider,
		debouncer:    location.NewDebouncer(cfg.Intervals.Debounce),
		logger:       cfg.Logger,
		now:          time.Now,

		clock:             NewValue(time.Now()),
		reading:           NewValue[*models.Reading](nil),
		place:             NewValue(""),
		online:            NewValue(true),
		position:          NewValue[*models.Position](nil),
		lastWeatherUpdate: NewValue(time.Time{}),
	}
	observability.SetOnline(true)
	return h, nil
}

func withIntervalDefaults(in Intervals) Intervals {
	d := DefaultIntervals()
	if in.Clock > 0 {
		d.Clock = in.Clock
	}
	if in.Connectivity > 0 {
		d.Connectivity = in.Connectivity
	}
	if in.LocationRequest > 0 {
		d.LocationRequest = in.LocationRequest
	}
	if in.Debounce > 0 {
		d.Debounce = in.Debounce
	}
	if in.WeatherStaleness > 0 {
		d.WeatherStaleness = in.WeatherStaleness
	}
	return d
}

// withDefaults fills unset names and condition. Temperature and Delay are
// taken as given once any field is set, so 0 degrees and no delay stay expressible.
func withDefaults(in Defaults) Defaults {
	d := DefaultDefaults()
	if in == (Defaults{}) {
		return d
	}
	if in.Place == "" {
		in.Place = d.Place
	}
	if in.Condition == "" {
		in.Condition = d.Condition
	}
	if in.UnknownPlace == "" {
		in.UnknownPlace = d.UnknownPlace
	}
	if in.Delay < 0 {
		in.Delay = 0
	}
	return in
}

// Run starts the clock and connectivity jobs and the location loop, and blocks
// until ctx is done. All loops stop together.
func (h *Home) Run(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	if _, err := s.Every(h.intervals.Clock).Do(h.tick); err != nil {
		return fmt.Errorf("schedule clock: %w", err)
	}
	if _, err := s.Every(h.intervals.Connectivity).Do(func() { h.CheckConnectivity(ctx) }); err != nil {
		return fmt.Errorf("schedule connectivity check: %w", err)
	}
	s.StartAsync()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runLocation(ctx)
	}()

	<-ctx.Done()
	s.Stop()
	wg.Wait()
	h.logger.Info("home loops stopped")
	return nil
}

func (h *Home) tick() {
	h.clock.Set(h.now())
}

func (h *Home) runLocation(ctx context.Context) {
	if !h.provider.HasPermission() {
		h.logger.Info("location permission missing, publishing default reading")
		h.mu.Lock()
		h.publishDefaultLocked(ctx, "permission_denied")
		h.mu.Unlock()
		return
	}

	if pos, ok := h.provider.LastKnown(ctx); ok {
		h.mu.Lock()
		h.position.Set(&pos)
		h.fullRefreshLocked(ctx, pos)
		h.mu.Unlock()
	}

	sub, err := h.provider.Subscribe(ctx, h.intervals.LocationRequest)
	if err != nil {
		h.logger.Warn("location subscription failed", zap.Error(err))
		if errors.Is(err, location.ErrPermissionDenied) {
			h.mu.Lock()
			h.publishDefaultLocked(ctx, "permission_denied")
			h.mu.Unlock()
		}
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-sub.Updates():
			if !ok {
				return
			}
			h.HandleLocation(ctx, pos)
		}
	}
}

// HandleLocation processes one position fix and reports whether it passed the
// debounce window. Accepted fixes refresh the weather when the last weather
// update is older than the staleness window, and only the place name otherwise.
func (h *Home) HandleLocation(ctx context.Context, pos models.Position) bool {
	now := h.now()
	if !h.debouncer.Accept(now) {
		observability.LocationUpdatesTotal.WithLabelValues("dropped").Inc()
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.position.Set(&pos)
	if now.Sub(h.lastWeatherUpdate.Get()) >= h.intervals.WeatherStaleness {
		observability.LocationUpdatesTotal.WithLabelValues("full_refresh").Inc()
		h.fullRefreshLocked(ctx, pos)
		return true
	}
	observability.LocationUpdatesTotal.WithLabelValues("place_only").Inc()
	h.place.Set(h.resolvePlace(ctx, pos))
	return true
}

// CheckConnectivity polls the connectivity checker. Going offline marks the
// current reading offline in place; coming back online forces a refresh.
func (h *Home) CheckConnectivity(ctx context.Context) {
	online := h.probe(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.setOnlineLocked(online) {
		return
	}
	if !online {
		h.markOfflineLocked()
		return
	}
	h.refreshLocked(ctx)
}

// Refresh is the user-requested refresh: it re-probes connectivity and, when
// online, recomputes the weather for the current position from an empty cache.
// It runs to completion even if ctx is cancelled; the probe and geocoder carry
// their own timeouts.
func (h *Home) Refresh(ctx context.Context) Snapshot {
	ctx = context.WithoutCancel(ctx)
	online := h.probe(ctx)

	h.mu.Lock()
	h.setOnlineLocked(online)
	h.refreshLocked(ctx)
	h.mu.Unlock()

	return h.Snapshot()
}

func (h *Home) probe(ctx context.Context) bool {
	online := h.connectivity.IsOnline(ctx)
	if online {
		traffic.For(traffic.Connectivity).RecordSuccess()
	} else {
		traffic.For(traffic.Connectivity).RecordError()
	}
	return online
}

// setOnlineLocked publishes online and reports whether it changed.
func (h *Home) setOnlineLocked(online bool) bool {
	if h.online.Get() == online {
		return false
	}
	h.online.Set(online)
	observability.SetOnline(online)
	to := "offline"
	if online {
		to = "online"
	}
	observability.ConnectivityTransitionsTotal.WithLabelValues(to).Inc()
	h.logger.Info("connectivity changed", zap.Bool("online", online))
	return true
}

func (h *Home) refreshLocked(ctx context.Context) {
	if !h.online.Get() {
		if h.reading.Get() == nil {
			h.publishDefaultLocked(ctx, "offline")
			return
		}
		h.markOfflineLocked()
		return
	}
	pos := h.position.Get()
	if pos == nil {
		h.publishDefaultLocked(ctx, "no_position")
		return
	}
	h.weather.Invalidate(ctx)
	h.fullRefreshLocked(ctx, *pos)
}

// fullRefreshLocked resolves the place name and publishes a new reading for pos.
func (h *Home) fullRefreshLocked(ctx context.Context, pos models.Position) {
	place := h.resolvePlace(ctx, pos)
	h.place.Set(place)

	if !h.online.Get() {
		observability.FallbackReadingsTotal.WithLabelValues("offline").Inc()
		h.reading.Set(&models.Reading{
			Temperature: h.defaults.Temperature,
			Condition:   h.defaults.Condition,
			Location:    place,
			Offline:     true,
		})
		return
	}

	r := h.weather.GetOrRefresh(ctx, pos, place)
	h.reading.Set(&r)
	h.lastWeatherUpdate.Set(h.now())
}

func (h *Home) markOfflineLocked() {
	h.reading.Update(func(r *models.Reading) *models.Reading {
		if r == nil || r.Offline {
			return r
		}
		c := *r
		c.Offline = true
		return &c
	})
}

func (h *Home) publishDefaultLocked(ctx context.Context, reason string) {
	if h.defaults.Delay > 0 {
		t := time.NewTimer(h.defaults.Delay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	observability.FallbackReadingsTotal.WithLabelValues(reason).Inc()
	h.place.Set(h.defaults.Place)
	h.reading.Set(&models.Reading{
		Temperature: h.defaults.Temperature,
		Condition:   h.defaults.Condition,
		Location:    h.defaults.Place,
		Offline:     !h.online.Get(),
	})
	h.lastWeatherUpdate.Set(h.now())
}

// resolvePlace never fails: any geocoder error yields the placeholder name.
// A cancelled ctx is not the geocoder's fault: the published place is kept and
// nothing is recorded.
func (h *Home) resolvePlace(ctx context.Context, pos models.Position) string {
	name, err := h.geocoder.Resolve(ctx, pos)
	if err != nil && ctx.Err() != nil {
		h.logger.Debug("reverse geocoding abandoned", zap.Error(err))
		if current := h.place.Get(); current != "" {
			return current
		}
		return h.defaults.UnknownPlace
	}
	tracker := traffic.For(traffic.Geocoder)
	switch {
	case err == nil && name != "":
		tracker.RecordSuccess()
		return name
	case err == nil, errors.Is(err, client.ErrNoAddress):
		tracker.RecordSuccess()
	case errors.Is(err, client.ErrNotConfigured):
	default:
		tracker.RecordError()
	}
	if err != nil {
		h.logger.Debug("reverse geocoding failed",
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
	}
	return h.defaults.UnknownPlace
}

// Reading returns the published reading, if any.
func (h *Home) Reading() (models.Reading, bool) {
	r := h.reading.Get()
	if r == nil {
		return models.Reading{}, false
	}
	return *r, true
}

func (h *Home) Place() string { return h.place.Get() }

func (h *Home) Online() bool { return h.online.Get() }

// WeatherAgeSeconds reports how long ago the weather was last updated, 0 if never.
func (h *Home) WeatherAgeSeconds() float64 {
	last := h.lastWeatherUpdate.Get()
	if last.IsZero() {
		return 0
	}
	return h.now().Sub(last).Seconds()
}

func (h *Home) Snapshot() Snapshot {
	snap := Snapshot{
		Now:               h.clock.Get(),
		Place:             h.place.Get(),
		Online:            h.online.Get(),
		LastWeatherUpdate: h.lastWeatherUpdate.Get(),
		LastCacheRefresh:  h.weather.LastRefresh(),
	}
	if r := h.reading.Get(); r != nil {
		c := *r
		snap.Reading = &c
	}
	if p := h.position.Get(); p != nil {
		c := *p
		snap.Position = &c
	}
	return snap
}
