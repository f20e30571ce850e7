package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/divvy/internal/modules/scoring"
)

// HealthHandler serves the liveness/status endpoint.
type HealthHandler struct {
	log       zerolog.Logger
	store     *scoring.Store
	startedAt time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(log zerolog.Logger, store *scoring.Store) *HealthHandler {
	return &HealthHandler{
		log:       log.With().Str("component", "health").Logger(),
		store:     store,
		startedAt: time.Now(),
	}
}

type healthResponse struct {
	Status         string     `json:"status"`
	UptimeSeconds  float64    `json:"uptime_seconds"`
	SnapshotAsOf   *time.Time `json:"snapshot_as_of,omitempty"`
	SnapshotScored int        `json:"snapshot_scored"`
	CPUPercent     float64    `json:"cpu_percent"`
	MemoryPercent  float64    `json:"memory_percent"`
	Goroutines     int        `json:"goroutines"`
}

// HandleHealth reports process health and snapshot freshness.
// GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.systemStats()

	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		CPUPercent:    cpuPct,
		MemoryPercent: memPct,
		Goroutines:    runtime.NumGoroutine(),
	}
	if snap := h.store.Get(); snap != nil {
		asOf := snap.AsOf
		resp.SnapshotAsOf = &asOf
		resp.SnapshotScored = len(snap.Scores)
	} else {
		resp.Status = "starting"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode health response")
	}
}

// systemStats samples CPU and RAM usage. The short CPU interval keeps the
// endpoint fast enough for aggressive poll intervals.
func (h *HealthHandler) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
