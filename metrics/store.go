package metrics

import (
	"sync"
	"time"

	"leveler/session"
)

// Store is an in-memory Collector. Recent generations live in a fixed-size
// ring; aggregates cover every generation since start.
//
// Usage:
//
//	store := NewStore(DefaultStoreConfig(), time.Now())
//	sess := session.New(engine, cfg, session.WithStatsReporter(store))
//	m := store.GetGenerationMetrics()
type Store struct {
	mu sync.RWMutex

	// Generation history ring
	history []GenerationRecord
	cap     int
	head    int
	size    int

	// Aggregation
	total     int64
	success   int64
	errors    int64
	rejected  int64
	cancelled int64
	ttftSum   time.Duration
	tpsSum    float64
	byTier    map[string]*tierStats

	model ModelStatus

	startTime time.Time
	version   string
	now       func() time.Time
}

type tierStats struct {
	count           int64
	successCount    int64
	totalDuration   time.Duration
	generatedTokens int64
}

// StoreConfig configures the Store.
type StoreConfig struct {
	// HistoryCapacity is the number of recent generations retained.
	HistoryCapacity int
	// Version is reported in SystemStatus.
	Version string
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HistoryCapacity: 100,
		Version:         "0.0.0",
	}
}

// NewStore creates a Store. startTime is used for uptime.
func NewStore(config StoreConfig, startTime time.Time) *Store {
	capacity := config.HistoryCapacity
	if capacity < 1 {
		capacity = 100
	}

	return &Store{
		history:   make([]GenerationRecord, capacity),
		cap:       capacity,
		byTier:    make(map[string]*tierStats),
		startTime: startTime,
		version:   config.Version,
		now:       time.Now,
	}
}

// ReportGeneration implements session.StatsReporter.
func (s *Store) ReportGeneration(stats session.GenerationStats) {
	s.RecordGeneration(NewRecord(stats))
}

// RecordGeneration adds a finished generation.
func (s *Store) RecordGeneration(rec GenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = rec
	s.head = (s.head + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}

	s.total++
	switch rec.Status {
	case StatusSuccess:
		s.success++
		s.ttftSum += rec.TimeToFirstToken
		s.tpsSum += rec.TokensPerSecond
	case StatusRejected:
		s.rejected++
	case StatusCancelled:
		s.cancelled++
	default:
		s.errors++
	}

	if rec.Tier == "" {
		return
	}
	ts, ok := s.byTier[rec.Tier]
	if !ok {
		ts = &tierStats{}
		s.byTier[rec.Tier] = ts
	}
	ts.count++
	if rec.Status == StatusSuccess {
		ts.successCount++
	}
	ts.totalDuration += rec.Duration
	ts.generatedTokens += int64(rec.GeneratedTokens)
}

// GetGenerationMetrics returns the running aggregates.
func (s *Store) GetGenerationMetrics() GenerationMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := GenerationMetrics{
		TotalProcessed: s.total,
		TotalSuccess:   s.success,
		TotalErrors:    s.errors,
		TotalRejected:  s.rejected,
		TotalCancelled: s.cancelled,
		ByTier:         make(map[string]*TierMetrics, len(s.byTier)),
	}
	if s.success > 0 {
		m.AvgTimeToFirstToken = s.ttftSum / time.Duration(s.success)
		m.AvgTokensPerSecond = s.tpsSum / float64(s.success)
	}

	for tier, ts := range s.byTier {
		if ts.count == 0 {
			continue
		}
		m.ByTier[tier] = &TierMetrics{
			Count:              ts.count,
			SuccessRate:        float64(ts.successCount) / float64(ts.count) * 100,
			AvgDuration:        ts.totalDuration / time.Duration(ts.count),
			AvgGeneratedTokens: float64(ts.generatedTokens) / float64(ts.count),
		}
	}

	return m
}

// GetRecentGenerations returns up to limit of the most recent records,
// oldest first.
func (s *Store) GetRecentGenerations(limit int) []GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.size == 0 {
		return []GenerationRecord{}
	}
	if limit > s.size {
		limit = s.size
	}

	result := make([]GenerationRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.head - limit + i + s.cap) % s.cap
		result[i] = s.history[idx]
	}
	return result
}

// UpdateModelStatus replaces the model snapshot.
func (s *Store) UpdateModelStatus(status ModelStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = status
}

// GetSystemStatus reports running once a model is loaded, error after a
// failed load, and loading otherwise.
func (s *Store) GetSystemStatus() SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := SystemHealthLoading
	switch {
	case s.model.Loaded:
		health = SystemHealthRunning
	case s.model.Error != "":
		health = SystemHealthError
	}

	now := s.now()
	return SystemStatus{
		Health:      health,
		Version:     s.version,
		Uptime:      now.Sub(s.startTime),
		LastCheck:   now,
		ModelLoaded: s.model.Loaded,
		ModelPath:   s.model.Path,
		MemoryBytes: s.model.MemoryBytes,
		ModelError:  s.model.Error,
	}
}

var _ Collector = (*Store)(nil)
