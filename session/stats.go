package session

import (
	"time"
	"unicode/utf8"
)

// StopReason records why the generation loop ended.
type StopReason string

const (
	StopNone       StopReason = ""
	StopEOS        StopReason = "eos"
	StopMarker     StopReason = "stop_marker"
	StopEcho       StopReason = "prompt_echo"
	StopLength     StopReason = "length"
	StopCancelled  StopReason = "cancelled"
	StopError      StopReason = "error"
	StopRejected   StopReason = "rejected"
	StopEmptyInput StopReason = "empty_input"
)

// GenerationStats summarises one ProcessText call. It carries counts and
// timings only, never text.
type GenerationStats struct {
	RequestID string

	Tier       Tier
	FewShot    bool
	InputWords int
	InputChars int

	InputTokens     int
	PromptTokens    int
	GeneratedTokens int
	OutputChars     int
	MaxOutputTokens int

	StartedAt    time.Time
	FirstTokenAt time.Time
	FinishedAt   time.Time

	TimeToFirstToken time.Duration
	Duration         time.Duration
	TokensPerSecond  float64

	// MemoryUsage is the session's load-time estimate in bytes.
	MemoryUsage int64

	Outcome    ErrorKind
	StopReason StopReason
}

// StatsReporter receives the stats of every finished request. Reporters run
// on the generation goroutine and must not block.
type StatsReporter interface {
	ReportGeneration(stats GenerationStats)
}

// StatsReporterFunc adapts a function to StatsReporter.
type StatsReporterFunc func(stats GenerationStats)

func (f StatsReporterFunc) ReportGeneration(stats GenerationStats) { f(stats) }

// StatsCollector measures one request. Throughput is computed over the
// generation phase only, from the end of prompt ingestion.
type StatsCollector struct {
	now      func() time.Time
	stats    GenerationStats
	genStart time.Time
}

func newStatsCollector(now func() time.Time, requestID, input string) *StatsCollector {
	c := &StatsCollector{now: now}
	c.stats.RequestID = requestID
	c.stats.InputChars = utf8.RuneCountInString(input)
	c.stats.StartedAt = now()
	return c
}

func (c *StatsCollector) prompt(fp FormattedPrompt) {
	c.stats.Tier = fp.Tier
	c.stats.FewShot = fp.FewShot
	c.stats.InputWords = fp.WordCount
	c.stats.MaxOutputTokens = fp.MaxOutputTokens
}

func (c *StatsCollector) budget(res BudgetResult) {
	c.stats.InputTokens = res.InputTokens
	c.stats.PromptTokens = len(res.PromptTokens)
}

func (c *StatsCollector) ingested() {
	c.genStart = c.now()
}

func (c *StatsCollector) tokenGenerated() {
	c.stats.GeneratedTokens++
}

func (c *StatsCollector) fragment(frag string) {
	if c.stats.FirstTokenAt.IsZero() {
		c.stats.FirstTokenAt = c.now()
		c.stats.TimeToFirstToken = c.stats.FirstTokenAt.Sub(c.stats.StartedAt)
	}
	c.stats.OutputChars += utf8.RuneCountInString(frag)
}

func (c *StatsCollector) finish(err error, reason StopReason, memory int64) GenerationStats {
	c.stats.FinishedAt = c.now()
	c.stats.Duration = c.stats.FinishedAt.Sub(c.stats.StartedAt)
	c.stats.Outcome = KindOf(err)
	c.stats.StopReason = reason
	c.stats.MemoryUsage = memory

	if !c.genStart.IsZero() {
		if secs := c.stats.FinishedAt.Sub(c.genStart).Seconds(); secs > 0 {
			c.stats.TokensPerSecond = float64(c.stats.GeneratedTokens) / secs
		}
	}
	return c.stats
}
