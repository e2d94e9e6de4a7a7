package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Preference keys.
const (
	PrefDiagnosticsEnabled  = "diagnostics_enabled"
	PrefFirstLaunchComplete = "first_launch_complete"
)

// DiagnosticMetric is a row in diagnostics_metrics. It carries a number,
// never text.
type DiagnosticMetric struct {
	ID         int64
	Type       string
	Value      float64
	RecordedAt time.Time
}

// Repository provides typed access to the preferences and
// diagnostics_metrics tables.
//
// With an AsyncWriter attached, InsertDiagnosticMetrics queues the insert
// instead of running it on the caller's goroutine; Handler must be the
// writer's WriteHandler.
type Repository struct {
	db          *Database
	asyncWriter *AsyncWriter

	// writeMu orders metric inserts against clears; epoch invalidates
	// inserts queued before the last clear.
	writeMu sync.Mutex
	epoch   uint64
}

// NewRepository creates a repository. asyncWriter may be nil.
func NewRepository(db *Database, asyncWriter *AsyncWriter) *Repository {
	return &Repository{db: db, asyncWriter: asyncWriter}
}

// SetAsyncWriter attaches the writer created with r.Handler().
func (r *Repository) SetAsyncWriter(w *AsyncWriter) { r.asyncWriter = w }

// ============================================================================
// Preferences
// ============================================================================

// GetPreference returns the stored value and whether the key exists.
func (r *Repository) GetPreference(ctx context.Context, key string) (string, bool, error) {
	conn, err := r.db.conn()
	if err != nil {
		return "", false, err
	}

	var value string
	err = conn.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference inserts or replaces a preference.
func (r *Repository) SetPreference(ctx context.Context, key, value string) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}

// GetBoolPreference returns the boolean stored at key, or def when unset or
// unparsable.
func (r *Repository) GetBoolPreference(ctx context.Context, key string, def bool) (bool, error) {
	value, ok, err := r.GetPreference(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return def, nil
	}
	return b, nil
}

// SetBoolPreference stores a boolean preference.
func (r *Repository) SetBoolPreference(ctx context.Context, key string, value bool) error {
	return r.SetPreference(ctx, key, strconv.FormatBool(value))
}

// ClearPreferences deletes every preference.
func (r *Repository) ClearPreferences(ctx context.Context) error {
	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM preferences"); err != nil {
		return fmt.Errorf("failed to clear preferences: %w", err)
	}
	return nil
}

// ============================================================================
// Diagnostics metrics
// ============================================================================

// metricsInsert is the payload queued on the AsyncWriter.
type metricsInsert struct {
	metrics []DiagnosticMetric
	keep    int
	epoch   uint64
}

// InsertDiagnosticMetrics stores metrics and then trims the table to the
// newest keep rows (keep <= 0 disables trimming). With a started
// AsyncWriter the insert is queued; it falls back to a synchronous write
// when the queue is full.
func (r *Repository) InsertDiagnosticMetrics(ctx context.Context, metrics []DiagnosticMetric, keep int) error {
	if len(metrics) == 0 {
		return nil
	}
	r.writeMu.Lock()
	epoch := r.epoch
	r.writeMu.Unlock()

	if r.asyncWriter != nil && r.asyncWriter.IsStarted() {
		if r.asyncWriter.Write(metricsInsert{metrics: metrics, keep: keep, epoch: epoch}) {
			return nil
		}
	}
	return r.insertMetrics(ctx, metricsInsert{metrics: metrics, keep: keep, epoch: epoch})
}

func (r *Repository) insertMetrics(ctx context.Context, ins metricsInsert) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// Cleared since this insert was queued.
	if ins.epoch != r.epoch {
		return nil
	}

	metrics, keep := ins.metrics, ins.keep
	conn, err := r.db.conn()
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO diagnostics_metrics (metric_type, value, recorded_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		at := m.RecordedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, m.Type, m.Value, at.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert diagnostic metric: %w", err)
		}
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM diagnostics_metrics WHERE id NOT IN (
				SELECT id FROM diagnostics_metrics ORDER BY id DESC LIMIT ?
			)`, keep); err != nil {
			return fmt.Errorf("failed to trim diagnostic metrics: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit diagnostic metrics: %w", err)
	}
	return nil
}

// ListDiagnosticMetrics returns every stored metric, oldest first.
func (r *Repository) ListDiagnosticMetrics(ctx context.Context) ([]DiagnosticMetric, error) {
	conn, err := r.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx,
		"SELECT id, metric_type, value, recorded_at FROM diagnostics_metrics ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostic metrics: %w", err)
	}
	defer rows.Close()

	var out []DiagnosticMetric
	for rows.Next() {
		var (
			m  DiagnosticMetric
			at int64
		)
		if err := rows.Scan(&m.ID, &m.Type, &m.Value, &at); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic metric: %w", err)
		}
		m.RecordedAt = time.UnixMilli(at)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diagnostic metrics: %w", err)
	}
	return out, nil
}

// CountDiagnosticMetrics returns the number of stored metrics.
func (r *Repository) CountDiagnosticMetrics(ctx context.Context) (int64, error) {
	conn, err := r.db.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM diagnostics_metrics").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count diagnostic metrics: %w", err)
	}
	return n, nil
}

// ClearDiagnosticMetrics deletes every stored metric, including inserts
// still queued on the AsyncWriter.
func (r *Repository) ClearDiagnosticMetrics(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.epoch++

	conn, err := r.db.conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM diagnostics_metrics"); err != nil {
		return fmt.Errorf("failed to clear diagnostic metrics: %w", err)
	}
	return nil
}

// Handler returns the WriteHandler that performs queued inserts.
func (r *Repository) Handler() WriteHandler {
	return func(op WriteOperation) error {
		ins, ok := op.Data.(metricsInsert)
		if !ok {
			return fmt.Errorf("invalid operation type %T", op.Data)
		}
		return r.insertMetrics(context.Background(), ins)
	}
}
