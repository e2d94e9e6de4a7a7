package metrics

import "leveler/session"

// Collector is the read/write surface of the generation metrics.
//
// Implementations must be safe for concurrent use and return zero values
// for metrics that are not available yet.
type Collector interface {
	session.StatsReporter

	// RecordGeneration adds a finished generation.
	RecordGeneration(rec GenerationRecord)

	// GetGenerationMetrics returns the running aggregates.
	GetGenerationMetrics() GenerationMetrics

	// GetRecentGenerations returns up to limit records, oldest first.
	GetRecentGenerations(limit int) []GenerationRecord

	// UpdateModelStatus replaces the model snapshot.
	UpdateModelStatus(status ModelStatus)

	// GetSystemStatus returns the overall health.
	GetSystemStatus() SystemStatus
}
