// Package metrics keeps the in-process view of generation activity: a bounded
// history of recent requests with running aggregates, and Prometheus series
// for scraping.
package metrics

import (
	"time"

	"leveler/session"
)

// GenerationRecord is one finished ProcessText call. It never holds text.
type GenerationRecord struct {
	// RequestID correlates the record with log lines.
	RequestID string `json:"request_id"`

	// Tier is the length tier used for the prompt ("" when no prompt was built).
	Tier string `json:"tier,omitempty"`

	// Status is one of the Status* constants.
	Status string `json:"status"`

	// Outcome is the session error kind, "none" on success.
	Outcome string `json:"outcome"`

	// StopReason explains how the generation loop ended.
	StopReason string `json:"stop_reason"`

	StartTime        time.Time     `json:"start_time"`
	Duration         time.Duration `json:"duration"`
	TimeToFirstToken time.Duration `json:"time_to_first_token"`

	PromptTokens    int     `json:"prompt_tokens"`
	GeneratedTokens int     `json:"generated_tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	InputChars      int     `json:"input_chars"`
	OutputChars     int     `json:"output_chars"`
}

// SystemStatus is the overall health of the process.
type SystemStatus struct {
	// Health is one of the SystemHealth* constants.
	Health string `json:"health"`

	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	LastCheck time.Time     `json:"last_check"`

	ModelLoaded bool   `json:"model_loaded"`
	ModelPath   string `json:"model_path,omitempty"`
	MemoryBytes int64  `json:"memory_bytes"`
	ModelError  string `json:"model_error,omitempty"`
}

// ModelStatus is the model state pushed into the store by the owner of the
// session.
type ModelStatus struct {
	Loaded      bool
	Path        string
	MemoryBytes int64
	// Error is the last load failure, if any.
	Error string
}

// GenerationMetrics aggregates every recorded generation.
type GenerationMetrics struct {
	TotalProcessed int64 `json:"total_processed"`
	TotalSuccess   int64 `json:"total_success"`
	TotalErrors    int64 `json:"total_errors"`
	TotalRejected  int64 `json:"total_rejected"`
	TotalCancelled int64 `json:"total_cancelled"`

	// Averages cover successful generations only.
	AvgTimeToFirstToken time.Duration `json:"avg_time_to_first_token"`
	AvgTokensPerSecond  float64       `json:"avg_tokens_per_second"`

	ByTier map[string]*TierMetrics `json:"by_tier"`
}

// TierMetrics holds statistics for one length tier.
type TierMetrics struct {
	Count              int64         `json:"count"`
	SuccessRate        float64       `json:"success_rate"`
	AvgDuration        time.Duration `json:"avg_duration"`
	AvgGeneratedTokens float64       `json:"avg_generated_tokens"`
}

// Status constants for GenerationRecord
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Health constants for SystemStatus
const (
	SystemHealthRunning = "running"
	SystemHealthLoading = "loading"
	SystemHealthError   = "error"
)

// StatusOf maps a session outcome to a record status.
func StatusOf(kind session.ErrorKind) string {
	switch kind {
	case session.KindNone:
		return StatusSuccess
	case session.KindCancelled:
		return StatusCancelled
	case session.KindTokenLimitExceeded, session.KindContextOverflow,
		session.KindOutOfMemory, session.KindModelNotLoaded, session.KindBusy:
		return StatusRejected
	default:
		return StatusError
	}
}

// NewRecord converts session stats into a record.
func NewRecord(stats session.GenerationStats) GenerationRecord {
	return GenerationRecord{
		RequestID:        stats.RequestID,
		Tier:             TierLabel(stats),
		Status:           StatusOf(stats.Outcome),
		Outcome:          stats.Outcome.String(),
		StopReason:       string(stats.StopReason),
		StartTime:        stats.StartedAt,
		Duration:         stats.Duration,
		TimeToFirstToken: stats.TimeToFirstToken,
		PromptTokens:     stats.PromptTokens,
		GeneratedTokens:  stats.GeneratedTokens,
		TokensPerSecond:  stats.TokensPerSecond,
		InputChars:       stats.InputChars,
		OutputChars:      stats.OutputChars,
	}
}

// TierLabel returns the tier name, or "" when the request ended before a
// prompt was built.
func TierLabel(stats session.GenerationStats) string {
	if stats.MaxOutputTokens == 0 {
		return ""
	}
	return stats.Tier.String()
}
