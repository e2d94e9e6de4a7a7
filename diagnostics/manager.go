package diagnostics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"leveler/db"
	"leveler/logging"
	"leveler/session"
)

// Store is the persistence the Manager needs; *db.Repository implements it.
type Store interface {
	GetBoolPreference(ctx context.Context, key string, def bool) (bool, error)
	SetBoolPreference(ctx context.Context, key string, value bool) error
	InsertDiagnosticMetrics(ctx context.Context, metrics []db.DiagnosticMetric, keep int) error
	ListDiagnosticMetrics(ctx context.Context) ([]db.DiagnosticMetric, error)
	ClearDiagnosticMetrics(ctx context.Context) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for write failures.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("diagnostics")
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager collects diagnostics when the user has opted in. Collection is
// disabled by default and disabling it deletes everything stored.
type Manager struct {
	store   Store
	logger  *logging.Logger
	now     func() time.Time
	enabled atomic.Bool
}

// NewManager loads the stored opt-in preference.
func NewManager(ctx context.Context, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  store,
		logger: logging.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	enabled, err := store.GetBoolPreference(ctx, db.PrefDiagnosticsEnabled, false)
	if err != nil {
		return nil, fmt.Errorf("load diagnostics preference: %w", err)
	}
	m.enabled.Store(enabled)
	return m, nil
}

// Enabled reports whether diagnostics are being collected.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// SetEnabled persists the preference. Disabling clears stored metrics.
func (m *Manager) SetEnabled(ctx context.Context, enabled bool) error {
	if err := m.store.SetBoolPreference(ctx, db.PrefDiagnosticsEnabled, enabled); err != nil {
		return fmt.Errorf("save diagnostics preference: %w", err)
	}
	m.enabled.Store(enabled)
	if !enabled {
		return m.Clear(ctx)
	}
	return nil
}

// RecordMetric stores a single value. It is a no-op while disabled.
func (m *Manager) RecordMetric(ctx context.Context, t MetricType, value float64) error {
	return m.record(ctx, Metric{Type: t, Value: value})
}

// RecordError stores an error code. It is a no-op while disabled.
func (m *Manager) RecordError(ctx context.Context, code ErrorCode) error {
	return m.record(ctx, Metric{Type: ErrorCodeMetric, Value: float64(code)})
}

// RecordSession stores the measurements of one successful request.
func (m *Manager) RecordSession(ctx context.Context, s SessionMetrics) error {
	return m.record(ctx,
		Metric{Type: InputLength, Value: float64(s.InputLength)},
		Metric{Type: OutputLength, Value: float64(s.OutputLength)},
		Metric{Type: TimeToFirstToken, Value: float64(s.TimeToFirstToken.Milliseconds())},
		Metric{Type: TokensPerSecond, Value: s.TokensPerSecond},
		Metric{Type: MemoryPeakMB, Value: float64(s.MemoryUsedMB)},
	)
}

func (m *Manager) record(ctx context.Context, metrics ...Metric) error {
	if !m.Enabled() {
		return nil
	}
	now := m.now()
	rows := make([]db.DiagnosticMetric, len(metrics))
	for i, mt := range metrics {
		v := mt.Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		rows[i] = db.DiagnosticMetric{Type: string(mt.Type), Value: v, RecordedAt: now}
	}
	if err := m.store.InsertDiagnosticMetrics(ctx, rows, MaxStoredMetrics); err != nil {
		return fmt.Errorf("record diagnostics: %w", err)
	}
	return nil
}

// ReportGeneration implements session.StatsReporter. Successful requests
// record their session metrics; failed ones record an error code.
func (m *Manager) ReportGeneration(stats session.GenerationStats) {
	if !m.Enabled() {
		return
	}

	var err error
	if stats.Outcome == session.KindNone {
		if stats.StopReason == session.StopEmptyInput {
			return
		}
		err = m.RecordSession(context.Background(), SessionMetrics{
			InputLength:      stats.InputChars,
			OutputLength:     stats.OutputChars,
			TimeToFirstToken: stats.TimeToFirstToken,
			TokensPerSecond:  stats.TokensPerSecond,
			MemoryUsedMB:     stats.MemoryUsage / (1 << 20),
		})
	} else if code, ok := ErrorCodeFor(stats.Outcome); ok {
		err = m.RecordError(context.Background(), code)
	}
	if err != nil {
		m.logger.Warn("Failed to record diagnostics", zap.String("request_id", stats.RequestID), zap.Error(err))
	}
}

// Metrics returns every stored metric, oldest first.
func (m *Manager) Metrics(ctx context.Context) ([]Metric, error) {
	rows, err := m.store.ListDiagnosticMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	out := make([]Metric, len(rows))
	for i, r := range rows {
		out[i] = Metric{Type: MetricType(r.Type), Value: r.Value, Timestamp: r.RecordedAt}
	}
	return out, nil
}

// Clear deletes every stored metric.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.ClearDiagnosticMetrics(ctx); err != nil {
		return fmt.Errorf("clear diagnostics: %w", err)
	}
	return nil
}

// Export renders the stored metrics as a human-readable report.
func (m *Manager) Export(ctx context.Context) (string, error) {
	metrics, err := m.Metrics(ctx)
	if err != nil {
		return "", err
	}
	return FormatReport(metrics, m.now()), nil
}

var _ session.StatsReporter = (*Manager)(nil)

// ============================================================================
// Report formatting
// ============================================================================

const timestampLayout = "2006-01-02 15:04:05"

// NoDataMessage is the whole report when nothing is stored.
const NoDataMessage = "No diagnostics data available."

// FormatReport groups metrics by type, in order of first appearance, with
// an interpretation per value and Avg/Min/Max for numeric types.
func FormatReport(metrics []Metric, generated time.Time) string {
	if len(metrics) == 0 {
		return NoDataMessage
	}

	var order []MetricType
	groups := make(map[MetricType][]Metric)
	for _, mt := range metrics {
		if _, ok := groups[mt.Type]; !ok {
			order = append(order, mt.Type)
		}
		groups[mt.Type] = append(groups[mt.Type], mt)
	}

	var sb strings.Builder
	sb.WriteString("=== Leveler Diagnostics Export ===\n")
	fmt.Fprintf(&sb, "Generated: %s\n", generated.Format(timestampLayout))
	fmt.Fprintf(&sb, "Total metrics: %d\n\n", len(metrics))

	for _, t := range order {
		group := groups[t]
		fmt.Fprintf(&sb, "--- %s ---\n", t.DisplayName())
		for _, mt := range group {
			fmt.Fprintf(&sb, "  %s: %s\n", mt.Timestamp.Format(timestampLayout), Interpret(mt))
		}
		if t.IsNumeric() {
			avg, lo, hi := summarize(group)
			fmt.Fprintf(&sb, "  Summary: Avg=%s, Min=%s, Max=%s\n", t.Format(avg), t.Format(lo), t.Format(hi))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== End of Export ===\n")
	return sb.String()
}

// Interpret describes one metric with a rating where one applies.
func Interpret(mt Metric) string {
	switch mt.Type {
	case TimeToFirstToken:
		secs := mt.Value / 1000
		return fmt.Sprintf("Time to First Token: %.2fs (%s)", secs, RateTimeToFirstToken(secs))
	case TokensPerSecond:
		return fmt.Sprintf("Tokens/Second: %.1f (%s)", mt.Value, RateTokensPerSecond(mt.Value))
	case MemoryPeakMB:
		mb := int64(mt.Value)
		return fmt.Sprintf("Memory Peak: %dMB (%s)", mb, RateMemory(mb))
	case ErrorCodeMetric:
		return "Error: " + ErrorCodeFromInt(int(mt.Value)).Description()
	case InputLength:
		return fmt.Sprintf("Input Length: %d characters", int64(mt.Value))
	case OutputLength:
		return fmt.Sprintf("Output Length: %d characters", int64(mt.Value))
	default:
		return fmt.Sprintf("%s: %g", mt.Type, mt.Value)
	}
}

// RateTimeToFirstToken rates a time to first token given in seconds.
func RateTimeToFirstToken(secs float64) string {
	switch {
	case secs < 2:
		return "Fast"
	case secs < 4:
		return "Okay"
	default:
		return "Slow"
	}
}

// RateTokensPerSecond rates generation throughput.
func RateTokensPerSecond(tps float64) string {
	switch {
	case tps > 50:
		return "Good"
	case tps > 20:
		return "Acceptable"
	default:
		return "Slow"
	}
}

// RateMemory rates peak memory in megabytes.
func RateMemory(mb int64) string {
	switch {
	case mb < 100:
		return "Low"
	case mb < 200:
		return "Normal"
	default:
		return "High"
	}
}

func summarize(group []Metric) (avg, lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, mt := range group {
		sum += mt.Value
		lo = math.Min(lo, mt.Value)
		hi = math.Max(hi, mt.Value)
	}
	return sum / float64(len(group)), lo, hi
}
