// Package diagnostics records opt-in, privacy-preserving performance
// metrics. Only numbers are stored: lengths, timings, throughput, memory and
// error codes. Text never reaches this package.
package diagnostics

import (
	"fmt"
	"time"

	"leveler/session"
)

// MaxStoredMetrics bounds the number of stored metrics; older ones are
// trimmed on insert.
const MaxStoredMetrics = 100

// MetricType identifies what a Metric measures.
type MetricType string

const (
	// TimeToFirstToken is in milliseconds.
	TimeToFirstToken MetricType = "TIME_TO_FIRST_TOKEN"
	TokensPerSecond  MetricType = "TOKENS_PER_SECOND"
	MemoryPeakMB     MetricType = "MEMORY_PEAK_MB"
	ErrorCodeMetric  MetricType = "ERROR_CODE"
	// InputLength and OutputLength are in characters.
	InputLength  MetricType = "INPUT_LENGTH"
	OutputLength MetricType = "OUTPUT_LENGTH"
)

// DisplayName is the section heading used in exports.
func (t MetricType) DisplayName() string {
	switch t {
	case TimeToFirstToken:
		return "Time to First Token"
	case TokensPerSecond:
		return "Processing Speed"
	case MemoryPeakMB:
		return "Memory Usage"
	case ErrorCodeMetric:
		return "Errors"
	case InputLength:
		return "Input Size"
	case OutputLength:
		return "Output Size"
	default:
		return string(t)
	}
}

// IsNumeric reports whether Avg/Min/Max summaries make sense for t.
func (t MetricType) IsNumeric() bool { return t != ErrorCodeMetric }

// Format renders a value of this type for summaries.
func (t MetricType) Format(v float64) string {
	switch t {
	case TimeToFirstToken:
		return fmt.Sprintf("%.2fs", v/1000)
	case TokensPerSecond:
		return fmt.Sprintf("%.1f tok/s", v)
	case MemoryPeakMB:
		return fmt.Sprintf("%dMB", int64(v))
	case InputLength, OutputLength:
		return fmt.Sprintf("%d chars", int64(v))
	default:
		return fmt.Sprintf("%d", int64(v))
	}
}

// ErrorCode is the numeric code stored for a failed request.
type ErrorCode int

const (
	ErrorUnknown                   ErrorCode = 0
	ErrorModelInitializationFailed ErrorCode = 1001
	ErrorOutOfMemory               ErrorCode = 1002
	ErrorTextTooLong               ErrorCode = 1003
	ErrorProcessingFailed          ErrorCode = 1004
)

// Description is the human-readable meaning of the code.
func (c ErrorCode) Description() string {
	switch c {
	case ErrorModelInitializationFailed:
		return "Model initialization failed"
	case ErrorOutOfMemory:
		return "Out of memory"
	case ErrorTextTooLong:
		return "Input text too long"
	case ErrorProcessingFailed:
		return "Text processing failed"
	default:
		return "Unknown error"
	}
}

// ErrorCodeFromInt maps a stored value back to a code; unknown values map
// to ErrorUnknown.
func ErrorCodeFromInt(v int) ErrorCode {
	switch c := ErrorCode(v); c {
	case ErrorModelInitializationFailed, ErrorOutOfMemory, ErrorTextTooLong, ErrorProcessingFailed:
		return c
	default:
		return ErrorUnknown
	}
}

// ErrorCodeFor maps a session outcome to the code recorded for it. ok is
// false for outcomes that are not errors (success, cancellation, busy).
func ErrorCodeFor(kind session.ErrorKind) (code ErrorCode, ok bool) {
	switch kind {
	case session.KindTokenLimitExceeded, session.KindContextOverflow:
		return ErrorTextTooLong, true
	case session.KindOutOfMemory:
		return ErrorOutOfMemory, true
	case session.KindModelNotLoaded:
		return ErrorModelInitializationFailed, true
	case session.KindInferenceFailed:
		return ErrorProcessingFailed, true
	default:
		return ErrorUnknown, false
	}
}

// Metric is one stored measurement.
type Metric struct {
	Type      MetricType
	Value     float64
	Timestamp time.Time
}

// SessionMetrics are the measurements of one successful request.
type SessionMetrics struct {
	InputLength      int
	OutputLength     int
	TimeToFirstToken time.Duration
	TokensPerSecond  float64
	MemoryUsedMB     int64
}
