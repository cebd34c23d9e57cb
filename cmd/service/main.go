package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/endertoolsbox/home-weather/internal/cache"
	"github.com/endertoolsbox/home-weather/internal/circuitbreaker"
	"github.com/endertoolsbox/home-weather/internal/client"
	"github.com/endertoolsbox/home-weather/internal/config"
	"github.com/endertoolsbox/home-weather/internal/degraded"
	"github.com/endertoolsbox/home-weather/internal/home"
	httphandler "github.com/endertoolsbox/home-weather/internal/http"
	"github.com/endertoolsbox/home-weather/internal/lifecycle"
	"github.com/endertoolsbox/home-weather/internal/location"
	"github.com/endertoolsbox/home-weather/internal/models"
	"github.com/endertoolsbox/home-weather/internal/observability"
	"github.com/endertoolsbox/home-weather/internal/service"
	"github.com/endertoolsbox/home-weather/internal/traffic"
)

// remoteCache is a network-backed cache store that can be health-checked and closed.
type remoteCache interface {
	cache.Cache
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var store cache.Cache
	var remote remoteCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		remote, store = mc, mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		remote, store = rc, rc
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
	default:
		store = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	weather := service.NewWeatherCache(
		store,
		cfg.CacheStaleness,
		service.ParseStalenessScope(cfg.CacheStalenessScope),
		cfg.CacheSimulatedLatency,
		logger.Named("weather_cache"),
	)
	if cfg.CacheStalenessScope == string(service.ScopePerKey) {
		logger.Warn("per-key staleness enabled; cells no longer share one refresh timestamp")
	}

	geocoder := newGeocoder(cfg, logger)

	var connectivity client.ConnectivityChecker = client.StaticConnectivity(true)
	if cfg.ConnectivityProbeURL != "" {
		connectivity = client.NewHTTPConnectivityChecker(cfg.ConnectivityProbeURL, cfg.ConnectivityTimeout)
	} else {
		logger.Info("connectivity probe disabled; assuming online")
	}

	var provider location.Provider
	var push *location.PushProvider
	switch {
	case !cfg.LocationEnabled:
		provider = location.NewStaticProvider(cfg.LocationStatic, false)
		logger.Info("location disabled; default reading will be published")
	case cfg.LocationProvider == "static":
		provider = location.NewStaticProvider(cfg.LocationStatic, true)
		logger.Info("location provider: static",
			zap.Float64("latitude", cfg.LocationStatic.Latitude),
			zap.Float64("longitude", cfg.LocationStatic.Longitude))
	default:
		push = location.NewPushProvider()
		provider = push
		logger.Info("location provider: push")
	}

	h, err := home.New(home.Config{
		Intervals: home.Intervals{
			Clock:            cfg.ClockInterval,
			Connectivity:     cfg.ConnectivityInterval,
			LocationRequest:  cfg.LocationRequestInterval,
			Debounce:         cfg.LocationDebounce,
			WeatherStaleness: cfg.CacheStaleness,
		},
		Defaults: home.Defaults{
			Place:        cfg.Defaults.Place,
			Temperature:  cfg.Defaults.Temperature,
			Condition:    cfg.Defaults.Condition,
			UnknownPlace: cfg.Defaults.UnknownPlace,
			Delay:        cfg.Defaults.Delay,
		},
		Weather:      weather,
		Geocoder:     geocoder,
		Connectivity: connectivity,
		Provider:     provider,
		Logger:       logger.Named("home"),
	})
	if err != nil {
		logger.Fatal("home", zap.Error(err))
	}
	observability.RegisterHomeGauges(h.WeatherAgeSeconds)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}
	if remote != nil {
		healthConfig.CachePing = remote.Ping
	}
	var recovery *degraded.Recovery
	if cfg.RecoveryEnabled {
		recovery = degraded.NewRecovery(degraded.Config{
			Probe:        geocoderProbe(geocoder, h, cfg.LocationStatic),
			InitialDelay: cfg.RecoveryInitialDelay,
			MaxDelay:     cfg.RecoveryMaxDelay,
			OnRecovered:  traffic.For(traffic.Geocoder).Reset,
			Logger:       logger.Named("recovery"),
		})
		healthConfig.OnDegraded = recovery.Notify
	}
	handler := httphandler.NewHandler(h, push, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout:  cfg.RequestTimeout,
		LocationLimiter: rate.NewLimiter(rate.Limit(cfg.LocationRateLimitRPS), cfg.LocationRateLimitBurst),
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	homeCtx, stopHome := context.WithCancel(context.Background())
	homeDone := make(chan struct{})
	go func() {
		defer close(homeDone)
		if err := h.Run(homeCtx); err != nil {
			logger.Error("home loops", zap.Error(err))
		}
	}()

	if recovery != nil {
		go recovery.Run(homeCtx)
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("graceful shutdown triggered")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	steps := []lifecycle.Step{
		{Name: "http_server", Fn: srv.Shutdown},
		{Name: "in_flight", Timeout: cfg.ShutdownInFlightTimeout, Fn: func(ctx context.Context) error {
			logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
			return httphandler.WaitForInFlight(ctx, cfg.ShutdownInFlightCheckInterval)
		}},
		{Name: "home_loops", Fn: func(ctx context.Context) error {
			stopHome()
			select {
			case <-homeDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	}
	if remote != nil {
		steps = append(steps, lifecycle.Step{Name: "cache_close", Fn: func(context.Context) error { return remote.Close() }})
	}
	if err := lifecycle.Shutdown(shutdownCtx, logger, steps...); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
	if err := observability.Flush(logger); err != nil {
		fmt.Fprintf(os.Stderr, "log flush: %v\n", err)
	}
}

// newGeocoder builds the configured reverse geocoder. Construction failures
// degrade to DisabledGeocoder: the home screen falls back to its placeholder name.
func newGeocoder(cfg *config.Config, logger *zap.Logger) client.Geocoder {
	switch cfg.GeocoderProvider {
	case "google":
		g, err := client.NewGoogleGeocoder(cfg.GoogleGeocodingAPIKey)
		if err != nil {
			logger.Error("google geocoder", zap.Error(err))
			return client.DisabledGeocoder{}
		}
		logger.Info("geocoder: google")
		return g
	case "nominatim":
		g, err := client.NewNominatimGeocoder(client.NominatimConfig{
			BaseURL:           cfg.NominatimURL,
			UserAgent:         cfg.NominatimUserAgent,
			Language:          cfg.NominatimLanguage,
			Timeout:           cfg.GeocoderTimeout,
			RetryAttempts:     cfg.GeocoderRetryAttempts,
			RetryBaseDelay:    cfg.GeocoderRetryBaseDelay,
			RetryMaxDelay:     cfg.GeocoderRetryMaxDelay,
			RequestsPerSecond: cfg.NominatimRequestsPerSec,
		})
		if err != nil {
			logger.Error("nominatim geocoder", zap.Error(err))
			return client.DisabledGeocoder{}
		}
		if cfg.CircuitBreakerEnabled {
			cb := circuitbreaker.New(circuitbreaker.Config{
				FailureThreshold: cfg.CircuitBreakerFailures,
				SuccessThreshold: cfg.CircuitBreakerSuccesses,
				Cooldown:         cfg.CircuitBreakerCooldown,
				OnStateChange: func(from, to circuitbreaker.State) {
					observability.RecordCircuitBreakerTransition("geocoder", from.String(), to.String(), int(to))
					logger.Warn("geocoder circuit breaker", zap.String("from", from.String()), zap.String("to", to.String()))
				},
			})
			g.SetCircuitBreaker(cb)
			observability.CircuitBreakerState.WithLabelValues("geocoder").Set(0)
			logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailures), zap.Duration("cooldown", cfg.CircuitBreakerCooldown))
		}
		logger.Info("geocoder: nominatim", zap.String("url", cfg.NominatimURL))
		return g
	default:
		logger.Info("geocoder disabled; place names will use the placeholder")
		return client.DisabledGeocoder{}
	}
}

// geocoderProbe resolves the current position, or fallback when none is known.
// A position without an address still proves the upstream answers.
func geocoderProbe(g client.Geocoder, h *home.Home, fallback models.Position) degraded.ProbeFunc {
	return func(ctx context.Context) error {
		pos := fallback
		if p := h.Snapshot().Position; p != nil {
			pos = *p
		}
		_, err := g.Resolve(ctx, pos)
		if errors.Is(err, client.ErrNoAddress) {
			return nil
		}
		return err
	}
}
