package api

import (
	"net/http"

	"github.com/spf13/cast"

	"github.com/polystatics/polystatics/internal/models"
)

const defaultSortField = "volume24hr"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "PolyStatics API is running",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleMarkets serves GET /markets?limit=&sort_by=&ascending=.
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := s.limitParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	sortBy := q.Get("sort_by")
	if sortBy == "" {
		sortBy = defaultSortField
	}
	ascending := false
	if raw := q.Get("ascending"); raw != "" {
		if ascending, err = cast.ToBoolE(raw); err != nil {
			writeError(w, http.StatusBadRequest, "ascending must be a boolean")
			return
		}
	}

	writeJSON(w, http.StatusOK, s.markets.GetMarkets(r.Context(), limit, sortBy, ascending))
}

// handleAlerts serves GET /alerts?limit=&market_id=, newest first.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := s.limitParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	var alerts []models.AlertEvent
	if marketID := q.Get("market_id"); marketID != "" {
		alerts, err = s.alerts.AlertsForMarket(marketID)
		if err == nil && len(alerts) > limit {
			alerts = alerts[:limit]
		}
	} else {
		alerts, err = s.alerts.RecentAlerts(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read alerts")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"monitor": s.status.Status()}
	if s.alerts != nil {
		if n, err := s.alerts.CountAlerts(); err == nil {
			body["alerts_journaled"] = n
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// limitParam parses a limit, falling back to the default and clamping to [0, max].
func (s *Server) limitParam(raw string) (int, error) {
	if raw == "" {
		return s.cfg.DefaultLimit, nil
	}
	limit, err := cast.ToIntE(raw)
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		limit = 0
	}
	if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return limit, nil
}
