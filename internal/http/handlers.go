package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/endertoolsbox/home-weather/internal/home"
	"github.com/endertoolsbox/home-weather/internal/lifecycle"
	"github.com/endertoolsbox/home-weather/internal/location"
	"github.com/endertoolsbox/home-weather/internal/traffic"
	"github.com/endertoolsbox/home-weather/internal/validation"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	Version          string
	// CachePing, when set, is called to check cache reachability (memcached, redis).
	CachePing func(ctx context.Context) error
	// OnDegraded, when set, is called each time health evaluates to degraded.
	OnDegraded func()
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	home             *home.Home
	push             *location.PushProvider // nil when positions are not ingested over HTTP
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. push may be nil, which disables POST /location.
func NewHandler(h *home.Home, push *location.PushProvider, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		home:         h,
		push:         push,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetHome handles GET /home.
func (h *Handler) GetHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.home.Snapshot())
}

// PostRefresh handles POST /home/refresh.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	snap := h.home.Refresh(r.Context())
	if logger := loggerFromRequest(r); logger != nil {
		logger.Info("forced refresh", zap.Bool("online", snap.Online), zap.String("place", snap.Place))
	}
	writeJSON(w, http.StatusOK, snap)
}

type positionRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// PostLocation handles POST /location. The fix is handed to the location
// provider; the home loop picks it up asynchronously.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	if h.push == nil {
		writeError(w, r, http.StatusNotFound, "LOCATION_INGESTION_DISABLED", "positions are not accepted by this deployment")
		return
	}
	var body positionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object with latitude and longitude")
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_POSITION", "latitude and longitude are required")
		return
	}
	pos, err := validation.ValidatePosition(*body.Latitude, *body.Longitude)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_POSITION", err.Error())
		return
	}
	h.push.Publish(pos)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": true,
		"position": pos,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	if result.status == "degraded" && h.healthConfig != nil && h.healthConfig.OnDegraded != nil {
		h.healthConfig.OnDegraded()
	}

	checks := make(map[string]string)
	if result.reason == "geocoder_error_rate" {
		checks["geocoder"] = "unhealthy"
	} else {
		checks["geocoder"] = "healthy"
	}
	if h.home != nil {
		if h.home.Online() {
			checks["connectivity"] = "online"
		} else {
			checks["connectivity"] = "offline"
		}
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing(r.Context()) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "home-weather",
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down > degraded > healthy.
// Being offline is a normal operating state and does not affect health.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		pct, ok := traffic.For(traffic.Geocoder).ErrorPct(h.healthConfig.DegradedWindow)
		if ok && pct >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "geocoder_error_rate"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

func loggerFromRequest(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return nil
}
