package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"leveler/metrics"
)

// statusAPI serves the dashboard JSON routes from a metrics.Collector.
type statusAPI struct {
	store        metrics.Collector
	version      string
	defaultLimit int
	maxLimit     int
}

func newStatusAPI(store metrics.Collector, version string) *statusAPI {
	return &statusAPI{store: store, version: version, defaultLimit: 20, maxLimit: 100}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Health      string    `json:"health"`
	Version     string    `json:"version"`
	Uptime      string    `json:"uptime"`
	UptimeSecs  float64   `json:"uptime_secs"`
	LastCheck   time.Time `json:"last_check"`
	ModelLoaded bool      `json:"model_loaded"`
	ModelPath   string    `json:"model_path,omitempty"`
	MemoryBytes int64     `json:"memory_bytes"`
	ModelError  string    `json:"model_error,omitempty"`
}

func (api *statusAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := api.store.GetSystemStatus()
	version := st.Version
	if version == "" {
		version = api.version
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Health:      st.Health,
		Version:     version,
		Uptime:      FormatDuration(st.Uptime),
		UptimeSecs:  st.Uptime.Seconds(),
		LastCheck:   st.LastCheck,
		ModelLoaded: st.ModelLoaded,
		ModelPath:   st.ModelPath,
		MemoryBytes: st.MemoryBytes,
		ModelError:  st.ModelError,
	})
}

// GenerationsResponse is the body of GET /api/generations.
type GenerationsResponse struct {
	Generations []metrics.GenerationRecord `json:"generations"`
	Count       int                        `json:"count"`
	Limit       int                        `json:"limit"`
}

// handleGenerations returns recent generations. ?limit= defaults to 20 and
// is capped at 100.
func (api *statusAPI) handleGenerations(w http.ResponseWriter, r *http.Request) {
	limit := api.defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, api.maxLimit)

	recs := api.store.GetRecentGenerations(limit)
	if recs == nil {
		recs = []metrics.GenerationRecord{}
	}
	writeJSON(w, http.StatusOK, GenerationsResponse{Generations: recs, Count: len(recs), Limit: limit})
}

// MetricsResponse is the body of GET /api/metrics.
type MetricsResponse struct {
	metrics.GenerationMetrics
	SuccessRate float64 `json:"success_rate"`
}

func (api *statusAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := api.store.GetGenerationMetrics()
	var rate float64
	if m.TotalProcessed > 0 {
		rate = float64(m.TotalSuccess) / float64(m.TotalProcessed) * 100
	}
	writeJSON(w, http.StatusOK, MetricsResponse{GenerationMetrics: m, SuccessRate: rate})
}

// FormatDuration renders d with at most two units: "45s", "2m 30s",
// "2h 34m", "3d 5h". Negative durations get a leading minus.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	const day = 24 * time.Hour

	days := d / day
	d %= day
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	d %= time.Minute
	seconds := d / time.Second

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
