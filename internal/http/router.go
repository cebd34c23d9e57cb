package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/endertoolsbox/home-weather/internal/observability"
)

// RouterConfig tunes the request pipeline.
type RouterConfig struct {
	RequestTimeout time.Duration
	// LocationLimiter throttles POST /location; nil disables limiting.
	LocationLimiter *rate.Limiter
}

// NewRouter registers every route and its middleware.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	homeRouter := router.PathPrefix("/home").Subrouter()
	homeRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
	homeRouter.HandleFunc("", h.GetHome).Methods(http.MethodGet)
	homeRouter.HandleFunc("/refresh", h.PostRefresh).Methods(http.MethodPost)

	locationRouter := router.PathPrefix("/location").Subrouter()
	locationRouter.Use(RateLimitMiddleware(cfg.LocationLimiter))
	locationRouter.HandleFunc("", h.PostLocation).Methods(http.MethodPost)

	return router
}
