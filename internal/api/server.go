// Package api exposes the read-only HTTP query surface: the cached market
// universe, the alert journal and monitor status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/polystatics/polystatics/internal/config"
	"github.com/polystatics/polystatics/internal/logger"
	"github.com/polystatics/polystatics/internal/models"
	"github.com/polystatics/polystatics/internal/monitor"
)

// MarketReader is the market query the monitor also uses; both share one cache.
type MarketReader interface {
	GetMarkets(ctx context.Context, limit int, sortField string, ascending bool) []models.Market
}

// AlertReader reads the alert journal.
type AlertReader interface {
	RecentAlerts(limit int) ([]models.AlertEvent, error)
	AlertsForMarket(marketID string) ([]models.AlertEvent, error)
	CountAlerts() (int, error)
}

// StatusReader reports monitor status.
type StatusReader interface {
	Status() monitor.Status
}

// Server serves the read API.
type Server struct {
	cfg     config.APIConfig
	markets MarketReader
	alerts  AlertReader
	status  StatusReader
	metrics http.Handler
	srv     *http.Server
}

// NewServer wires the read API. alerts, status and metricsHandler may be nil,
// in which case their routes are not mounted.
func NewServer(cfg config.APIConfig, markets MarketReader, alerts AlertReader, status StatusReader, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		markets: markets,
		alerts:  alerts,
		status:  status,
		metrics: metricsHandler,
	}
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/markets", s.handleMarkets)
	if s.alerts != nil {
		r.Get("/alerts", s.handleAlerts)
	}
	if s.status != nil {
		r.Get("/status", s.handleStatus)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Start serves until Shutdown. It blocks.
func (s *Server) Start() error {
	logger.Info("Read API listening on %s", s.cfg.ListenAddr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.RequestURI(), ww.Status(), time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
