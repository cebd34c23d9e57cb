package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/endertoolsbox/home-weather/internal/models"
	"github.com/endertoolsbox/home-weather/internal/validation"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration

	CacheBackend          string // "in_memory", "memcached" or "redis"
	CacheStaleness        time.Duration
	CacheStalenessScope   string // "shared" or "per_key"
	CacheSimulatedLatency time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ClockInterval        time.Duration
	ConnectivityInterval time.Duration
	ConnectivityProbeURL string // empty means always online
	ConnectivityTimeout  time.Duration

	LocationEnabled         bool
	LocationProvider        string // "push" or "static"
	LocationStatic          models.Position
	LocationRequestInterval time.Duration
	LocationDebounce        time.Duration
	LocationRateLimitRPS    float64
	LocationRateLimitBurst  int

	GeocoderProvider        string // "nominatim", "google" or "none"
	GeocoderTimeout         time.Duration
	GeocoderRetryAttempts   int
	GeocoderRetryBaseDelay  time.Duration
	GeocoderRetryMaxDelay   time.Duration
	NominatimURL            string
	NominatimUserAgent      string
	NominatimLanguage       string
	NominatimRequestsPerSec float64
	GoogleGeocodingAPIKey   string
	CircuitBreakerEnabled   bool
	CircuitBreakerFailures  int
	CircuitBreakerSuccesses int
	CircuitBreakerCooldown  time.Duration

	Defaults Defaults

	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Recovery probes the geocoder on a Fibonacci schedule while degraded.
	RecoveryEnabled      bool
	RecoveryInitialDelay time.Duration
	RecoveryMaxDelay     time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

// Defaults are the readings published when nothing better is available.
type Defaults struct {
	Place        string
	Temperature  int
	Condition    models.Condition
	UnknownPlace string
	Delay        time.Duration
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	Cache struct {
		Backend          string `yaml:"backend"`
		Staleness        string `yaml:"staleness"`
		StalenessScope   string `yaml:"staleness_scope"`
		SimulatedLatency string `yaml:"simulated_latency"`
		Memcached        struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Loops struct {
		Clock        string `yaml:"clock"`
		Connectivity string `yaml:"connectivity"`
	} `yaml:"loops"`

	Connectivity struct {
		ProbeURL *string `yaml:"probe_url"`
		Timeout  string  `yaml:"timeout"`
	} `yaml:"connectivity"`

	Location struct {
		Enabled         *bool   `yaml:"enabled"`
		Provider        string  `yaml:"provider"`
		Latitude        float64 `yaml:"latitude"`
		Longitude       float64 `yaml:"longitude"`
		RequestInterval string  `yaml:"request_interval"`
		Debounce        string  `yaml:"debounce"`
		RateLimitRPS    float64 `yaml:"rate_limit_rps"`
		RateLimitBurst  int     `yaml:"rate_limit_burst"`
	} `yaml:"location"`

	Geocoder struct {
		Provider       string `yaml:"provider"`
		Timeout        string `yaml:"timeout"`
		RetryAttempts  int    `yaml:"retry_max_attempts"`
		RetryBaseDelay string `yaml:"retry_base_delay"`
		RetryMaxDelay  string `yaml:"retry_max_delay"`
		Nominatim      struct {
			URL               string  `yaml:"url"`
			UserAgent         string  `yaml:"user_agent"`
			Language          string  `yaml:"language"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
		} `yaml:"nominatim"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Cooldown         string `yaml:"cooldown"`
		} `yaml:"circuit_breaker"`
	} `yaml:"geocoder"`

	Defaults struct {
		Place        string `yaml:"place"`
		Temperature  *int   `yaml:"temperature"`
		Condition    string `yaml:"condition"`
		UnknownPlace string `yaml:"unknown_place"`
		Delay        string `yaml:"delay"`
	} `yaml:"defaults"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		Recovery         struct {
			Enabled      *bool  `yaml:"enabled"`
			InitialDelay string `yaml:"initial_delay"`
			MaxDelay     string `yaml:"max_delay"`
		} `yaml:"recovery"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	GoogleGeocodingAPIKey string `yaml:"google_geocoding_api_key"`
	RedisPassword         string `yaml:"redis_password"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml relative to the working directory. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return loadFrom(cwd)
}

func loadFrom(root string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(root, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(root, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 5*time.Second)

	cfg.CacheBackend = lower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheStaleness = parseDuration(fc.Cache.Staleness, 30*time.Minute)
	cfg.CacheStalenessScope = lower(firstNonEmpty(fc.Cache.StalenessScope, "shared"))
	cfg.CacheSimulatedLatency = parseDurationOrZero(fc.Cache.SimulatedLatency, 300*time.Millisecond)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword, fc.Cache.Redis.Password)
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.ClockInterval = parseDuration(fc.Loops.Clock, time.Minute)
	cfg.ConnectivityInterval = parseDuration(fc.Loops.Connectivity, 30*time.Second)
	cfg.ConnectivityProbeURL = "https://connectivitycheck.gstatic.com/generate_204"
	if fc.Connectivity.ProbeURL != nil {
		cfg.ConnectivityProbeURL = strings.TrimSpace(*fc.Connectivity.ProbeURL)
	}
	cfg.ConnectivityTimeout = parseDuration(fc.Connectivity.Timeout, 3*time.Second)

	cfg.LocationEnabled = true
	if fc.Location.Enabled != nil {
		cfg.LocationEnabled = *fc.Location.Enabled
	}
	if v := strings.TrimSpace(os.Getenv("LOCATION_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("LOCATION_ENABLED: %w", err)
		}
		cfg.LocationEnabled = b
	}
	cfg.LocationProvider = lower(firstNonEmpty(os.Getenv("LOCATION_PROVIDER"), fc.Location.Provider, "push"))
	cfg.LocationStatic = models.Position{Latitude: fc.Location.Latitude, Longitude: fc.Location.Longitude}
	cfg.LocationDebounce = parseDuration(fc.Location.Debounce, 5*time.Minute)
	cfg.LocationRequestInterval = parseDuration(fc.Location.RequestInterval, cfg.LocationDebounce/2)
	cfg.LocationRateLimitRPS = fc.Location.RateLimitRPS
	if cfg.LocationRateLimitRPS <= 0 {
		cfg.LocationRateLimitRPS = 1
	}
	cfg.LocationRateLimitBurst = fc.Location.RateLimitBurst
	if cfg.LocationRateLimitBurst <= 0 {
		cfg.LocationRateLimitBurst = 5
	}

	cfg.GeocoderProvider = lower(firstNonEmpty(os.Getenv("GEOCODER_PROVIDER"), fc.Geocoder.Provider, "nominatim"))
	cfg.GeocoderTimeout = parseDuration(fc.Geocoder.Timeout, 2*time.Second)
	cfg.GeocoderRetryAttempts = fc.Geocoder.RetryAttempts
	if cfg.GeocoderRetryAttempts <= 0 {
		cfg.GeocoderRetryAttempts = 2
	}
	cfg.GeocoderRetryBaseDelay = parseDuration(fc.Geocoder.RetryBaseDelay, 200*time.Millisecond)
	cfg.GeocoderRetryMaxDelay = parseDuration(fc.Geocoder.RetryMaxDelay, 2*time.Second)
	cfg.NominatimURL = firstNonEmpty(fc.Geocoder.Nominatim.URL, "https://nominatim.openstreetmap.org")
	cfg.NominatimUserAgent = firstNonEmpty(os.Getenv("NOMINATIM_USER_AGENT"), fc.Geocoder.Nominatim.UserAgent, "home-weather/1.0")
	cfg.NominatimLanguage = firstNonEmpty(fc.Geocoder.Nominatim.Language, "fr")
	cfg.NominatimRequestsPerSec = fc.Geocoder.Nominatim.RequestsPerSecond
	if cfg.NominatimRequestsPerSec <= 0 {
		cfg.NominatimRequestsPerSec = 1
	}
	cfg.GoogleGeocodingAPIKey = firstNonEmpty(os.Getenv("GOOGLE_GEOCODING_API_KEY"), sec.GoogleGeocodingAPIKey)
	cfg.CircuitBreakerEnabled = true
	if fc.Geocoder.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Geocoder.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailures = fc.Geocoder.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailures <= 0 {
		cfg.CircuitBreakerFailures = 5
	}
	cfg.CircuitBreakerSuccesses = fc.Geocoder.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccesses <= 0 {
		cfg.CircuitBreakerSuccesses = 2
	}
	cfg.CircuitBreakerCooldown = parseDuration(fc.Geocoder.CircuitBreaker.Cooldown, 30*time.Second)

	cfg.Defaults = Defaults{
		Place:        firstNonEmpty(fc.Defaults.Place, "Paris"),
		Temperature:  10,
		Condition:    models.Condition(strings.ToUpper(firstNonEmpty(fc.Defaults.Condition, string(models.ConditionClear)))),
		UnknownPlace: firstNonEmpty(fc.Defaults.UnknownPlace, "unknown city"),
		Delay:        parseDurationOrZero(fc.Defaults.Delay, 300*time.Millisecond),
	}
	if fc.Defaults.Temperature != nil {
		cfg.Defaults.Temperature = *fc.Defaults.Temperature
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.RecoveryEnabled = true
	if fc.Health.Recovery.Enabled != nil {
		cfg.RecoveryEnabled = *fc.Health.Recovery.Enabled
	}
	cfg.RecoveryInitialDelay = parseDuration(fc.Health.Recovery.InitialDelay, time.Minute)
	cfg.RecoveryMaxDelay = parseDuration(fc.Health.Recovery.MaxDelay, 13*time.Minute)
	if cfg.RecoveryMaxDelay < cfg.RecoveryInitialDelay {
		cfg.RecoveryMaxDelay = cfg.RecoveryInitialDelay
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero is kept, so "0s" can switch a delay off.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validate performs post-load validation of configuration values.
// Auto-adjusts RequestTimeout so a refresh can outlast the geocoder timeout.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	switch cfg.CacheStalenessScope {
	case "shared", "per_key":
	default:
		return fmt.Errorf("cache.staleness_scope must be shared or per_key, got %q", cfg.CacheStalenessScope)
	}
	if cfg.CacheSimulatedLatency < 0 {
		return fmt.Errorf("cache.simulated_latency must not be negative")
	}
	switch cfg.LocationProvider {
	case "push":
	case "static":
		if cfg.LocationEnabled {
			if _, err := validation.ValidatePosition(cfg.LocationStatic.Latitude, cfg.LocationStatic.Longitude); err != nil {
				return fmt.Errorf("location.latitude/longitude: %w", err)
			}
		}
	default:
		return fmt.Errorf("location.provider must be push or static, got %q", cfg.LocationProvider)
	}
	switch cfg.GeocoderProvider {
	case "nominatim", "none":
	case "google":
		if cfg.GoogleGeocodingAPIKey == "" {
			return fmt.Errorf("GOOGLE_GEOCODING_API_KEY required for geocoder.provider google (set env or config/secrets.yaml google_geocoding_api_key)")
		}
	default:
		return fmt.Errorf("geocoder.provider must be nominatim, google or none, got %q", cfg.GeocoderProvider)
	}
	switch cfg.Defaults.Condition {
	case models.ConditionClear, models.ConditionCloudy, models.ConditionRainy, models.ConditionStorm:
	default:
		return fmt.Errorf("defaults.condition must be CLEAR, CLOUDY, RAINY or STORM, got %q", cfg.Defaults.Condition)
	}
	if minTimeout := cfg.GeocoderTimeout + cfg.CacheSimulatedLatency; cfg.RequestTimeout <= minTimeout {
		cfg.RequestTimeout = minTimeout + time.Second
	}
	return nil
}
