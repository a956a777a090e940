package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantfolio/advisor/internal/database"
)

// SystemHandlers serves health and system status endpoints.
type SystemHandlers struct {
	log       zerolog.Logger
	databases []*database.DB
	startedAt time.Time
}

// NewSystemHandlers creates system handlers over the open databases.
func NewSystemHandlers(log zerolog.Logger, databases []*database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		databases: databases,
		startedAt: time.Now(),
	}
}

// HandleHealth handles GET /health. Reports degraded (503) when any
// database fails its ping.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	dbStatus := make(map[string]string, len(h.databases))
	for _, db := range h.databases {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			dbStatus[db.Name()] = "unhealthy"
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		} else {
			dbStatus[db.Name()] = "ok"
		}
	}

	h.writeJSON(w, httpStatus, map[string]any{
		"status":        status,
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
		"databases":     dbStatus,
	})
}

// HandleSystemStatus handles GET /api/system/status with host resource usage.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
		"goroutines":    runtime.NumGoroutine(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp["cpuPercent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		resp["memoryUsedPercent"] = memStat.UsedPercent
		resp["memoryTotalMB"] = memStat.Total / 1024 / 1024
	}
	if diskStat, err := disk.Usage("/"); err == nil {
		resp["diskUsedPercent"] = diskStat.UsedPercent
		resp["diskFreeGB"] = diskStat.Free / 1024 / 1024 / 1024
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleDatabaseStats handles GET /api/system/database/stats.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	type dbStats struct {
		SizeBytes    int64 `json:"sizeBytes"`
		WALSizeBytes int64 `json:"walSizeBytes"`
		PageCount    int64 `json:"pageCount"`
		PageSize     int64 `json:"pageSize"`
	}

	out := make(map[string]dbStats, len(h.databases))
	for _, db := range h.databases {
		if db == nil {
			continue
		}
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			continue
		}
		out[db.Name()] = dbStats{
			SizeBytes:    stats.SizeBytes,
			WALSizeBytes: stats.WALSizeBytes,
			PageCount:    stats.PageCount,
			PageSize:     stats.PageSize,
		}
	}

	h.writeJSON(w, http.StatusOK, out)
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
