package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/engine"
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var cfgErr *domain.ConfigurationError
	var infeasible *domain.InfeasiblePortfolioError
	var unavailable *domain.DataUnavailableError
	var cancelled *domain.BacktestCancelledError
	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.As(err, &infeasible):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		status = http.StatusNotFound
	case errors.As(err, &cancelled):
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type buildPortfolioRequest struct {
	Tier                string                  `json:"tier"`
	TargetMonthlyIncome float64                 `json:"target_monthly_income"`
	Mode                domain.OptimizationMode `json:"mode"`
}

// handleBuildPortfolio builds one portfolio.
// POST /api/portfolios
func (s *Server) handleBuildPortfolio(w http.ResponseWriter, r *http.Request) {
	var req buildPortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	p, err := s.engine.BuildPortfolio(r.Context(), req.Tier, req.TargetMonthlyIncome, req.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type allTiersRequest struct {
	TargetMonthlyIncome float64                 `json:"target_monthly_income"`
	Mode                domain.OptimizationMode `json:"mode"`
}

type tierResult struct {
	Portfolio *domain.Portfolio `json:"portfolio,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// handleBuildAllTiers builds one portfolio per configured tier.
// POST /api/portfolios/all-tiers
func (s *Server) handleBuildAllTiers(w http.ResponseWriter, r *http.Request) {
	var req allTiersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	results, err := s.engine.BuildAllTiers(r.Context(), req.TargetMonthlyIncome, req.Mode)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make(map[string]tierResult, len(results))
	for name, res := range results {
		if res.Err != nil {
			out[name] = tierResult{Error: res.Err.Error()}
			continue
		}
		out[name] = tierResult{Portfolio: res.Portfolio}
	}
	s.writeJSON(w, http.StatusOK, out)
}

type backtestRequest struct {
	Portfolio           *domain.Portfolio         `json:"portfolio,omitempty"`
	Tier                string                    `json:"tier,omitempty"`
	TargetMonthlyIncome float64                   `json:"target_monthly_income,omitempty"`
	Mode                domain.OptimizationMode   `json:"mode,omitempty"`
	Reoptimize          bool                      `json:"reoptimize,omitempty"`
	Start               string                    `json:"start"`
	End                 string                    `json:"end"`
	InitialCapital      float64                   `json:"initial_capital"`
	Rebalance           domain.RebalanceFrequency `json:"rebalance_frequency"`
	DividendPolicy      domain.DividendPolicy     `json:"dividend_policy"`
}

// handleRunBacktest replays a portfolio or tier spec over a horizon.
// POST /api/backtests
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	start, err := parseDate(req.Start)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid start date: %v", err)})
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid end date: %v", err)})
		return
	}

	res, err := s.engine.RunBacktest(r.Context(), engine.BacktestSpec{
		Portfolio:           req.Portfolio,
		TierName:            req.Tier,
		TargetMonthlyIncome: req.TargetMonthlyIncome,
		Mode:                req.Mode,
		Reoptimize:          req.Reoptimize,
		Start:               start,
		End:                 end,
		InitialCapital:      req.InitialCapital,
		Rebalance:           req.Rebalance,
		DividendPolicy:      req.DividendPolicy,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleGetSustainability returns one symbol's sustainability score.
// GET /api/securities/{symbol}/sustainability?as_of=2024-01-02
func (s *Server) handleGetSustainability(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	asOf, err := parseAsOf(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	score, err := s.engine.GetSustainability(r.Context(), symbol, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, score)
}

// handleGetRiskMetrics returns one symbol's risk profile.
// GET /api/securities/{symbol}/risk?as_of=2024-01-02
func (s *Server) handleGetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	asOf, err := parseAsOf(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	profile, err := s.engine.GetRiskMetrics(r.Context(), symbol, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

// handleSnapshotStatus reports the active snapshot's coverage.
// GET /api/snapshot
func (s *Server) handleSnapshotStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Get()
	if snap == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no snapshot published yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"as_of":   snap.AsOf,
		"scored":  len(snap.Scores),
		"skipped": snap.Skipped,
	})
}

// handleSnapshotRefresh triggers an immediate snapshot rebuild.
// POST /api/snapshot/refresh
func (s *Server) handleSnapshotRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refreshJob == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "refresh job not configured"})
		return
	}
	if err := s.refreshJob.Run(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseAsOf(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return time.Time{}, nil
	}
	t, err := parseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of date: %v", err)
	}
	return t, nil
}
