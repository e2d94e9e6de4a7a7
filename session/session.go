// Package session is the generation orchestration layer: it owns a loaded
// model and turns input text into a streamed, simplified rewrite.
//
// A ModelSession runs each request through a fixed pipeline:
//
//	MemoryPreflight -> PromptBuilder -> BudgetValidator -> BatchIngester -> generationLoop -> StatsCollector
//
// Every rejection happens before the first decode. Only one generation runs
// per session at a time; a second concurrent call is rejected, not queued.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leveler/llamaruntime"
	"leveler/logging"
)

// State is the lifecycle state of a ModelSession.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateGenerating
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// ProgressFunc receives load progress in [0, 1], non-decreasing.
type ProgressFunc func(progress float64)

// Load progress checkpoints.
const (
	ProgressWeightsLoading = 0.1
	ProgressWeightsLoaded  = 0.5
	ProgressContextReady   = 0.9
	ProgressSamplerReady   = 1.0
)

// Option configures a ModelSession.
type Option func(*ModelSession)

// WithLogger sets the logger. The session logs under the "session" name.
func WithLogger(l *logging.Logger) Option {
	return func(s *ModelSession) {
		if l != nil {
			s.logger = l.Named("session")
		}
	}
}

// WithMemoryProbe replaces the procfs memory probe. nil disables preflight.
func WithMemoryProbe(p MemoryProbe) Option {
	return func(s *ModelSession) { s.probe = p }
}

// WithStatsReporter adds a reporter that receives every request's stats.
func WithStatsReporter(r StatsReporter) Option {
	return func(s *ModelSession) {
		if r != nil {
			s.reporters = append(s.reporters, r)
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ModelSession) { s.now = now }
}

// ModelSession owns one model, its runtime context and its sampler.
// Sessions are independent; several may coexist.
type ModelSession struct {
	engine    llamaruntime.Engine
	cfg       Config
	logger    *logging.Logger
	probe     MemoryProbe
	reporters []StatsReporter
	now       func() time.Time

	// mu guards the engine resources, state transitions and done.
	mu        sync.Mutex
	model     llamaruntime.Model
	rctx      llamaruntime.Context
	sampler   llamaruntime.Sampler
	modelPath string
	done      chan struct{}

	state  atomic.Int32
	memory atomic.Int64
	// active is the cancel flag of the request in flight, nil when idle.
	// Admission installs a fresh flag in one step so a cancel can never
	// land on a stale or about-to-be-reset flag.
	active atomic.Pointer[atomic.Bool]
}

var _ interface{ Close() error } = (*ModelSession)(nil)

// New creates an unloaded session. Zero-valued Config fields take defaults.
func New(engine llamaruntime.Engine, cfg Config, opts ...Option) *ModelSession {
	s := &ModelSession{
		engine: engine,
		cfg:    applyDefaults(cfg),
		logger: logging.NewNopLogger(),
		probe:  NewProcMemoryProbe(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *ModelSession) Config() Config { return s.cfg }

// State returns the current lifecycle state.
func (s *ModelSession) State() State { return State(s.state.Load()) }

// IsModelLoaded reports whether the session can accept requests.
func (s *ModelSession) IsModelLoaded() bool {
	st := s.State()
	return st == StateReady || st == StateGenerating
}

// MemoryUsage returns the estimate captured at load time (model plus context
// size in bytes), or 0 when unloaded. It is not refreshed during generation.
func (s *ModelSession) MemoryUsage() int64 { return s.memory.Load() }

// ModelPath returns the path of the loaded model, or "".
func (s *ModelSession) ModelPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelPath
}

// LoadModel loads weights, creates the runtime context and the sampler.
// It is valid only from Unloaded. On failure everything built so far is
// released and the session is Unloaded again.
func (s *ModelSession) LoadModel(path string, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateUnloaded {
		return fmt.Errorf("%w: load requested while %s", ErrInvalidState, st)
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	s.state.Store(int32(StateLoading))
	start := s.now()
	s.logger.Info("loading model", zap.String("model", llamaruntime.ExtractModelName(path)))

	fail := func(step string, err error) error {
		s.releaseLocked()
		s.logger.Error("model load failed", zap.String("step", step), zap.Error(err))
		return fmt.Errorf("%s: %w", step, err)
	}

	onProgress(ProgressWeightsLoading)
	model, err := s.engine.LoadModel(path, s.cfg.modelParams())
	if err != nil {
		return fail("load weights", err)
	}
	s.model = model
	onProgress(ProgressWeightsLoaded)

	rctx, err := model.NewContext(s.cfg.contextParams())
	if err != nil {
		return fail("create context", err)
	}
	s.rctx = rctx
	onProgress(ProgressContextReady)

	sampler, err := rctx.NewSampler(s.cfg.Sampling)
	if err != nil {
		return fail("create sampler", err)
	}
	s.sampler = sampler

	s.modelPath = path
	s.memory.Store(model.SizeBytes() + rctx.SizeBytes())
	s.state.Store(int32(StateReady))
	onProgress(ProgressSamplerReady)

	s.logger.Info("model loaded",
		zap.String("model", llamaruntime.ExtractModelName(path)),
		zap.Int64("memory_bytes", s.memory.Load()),
		zap.Duration("load_time", s.now().Sub(start)),
	)
	return nil
}

// ReleaseModel frees the sampler, the context and the model, in that order.
// It is idempotent and always leaves the session Unloaded. A generation in
// flight is cancelled and allowed to exit first.
func (s *ModelSession) ReleaseModel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.done != nil {
		done := s.done
		s.CancelProcessing()
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}

	if s.model != nil {
		s.logger.Info("releasing model")
	}
	s.releaseLocked()
}

// Close releases the model. It implements io.Closer.
func (s *ModelSession) Close() error {
	s.ReleaseModel()
	return nil
}

func (s *ModelSession) releaseLocked() {
	if s.sampler != nil {
		s.sampler.Close()
		s.sampler = nil
	}
	if s.rctx != nil {
		s.rctx.Close()
		s.rctx = nil
	}
	if s.model != nil {
		s.model.Close()
		s.model = nil
	}
	s.modelPath = ""
	s.memory.Store(0)
	s.state.Store(int32(StateUnloaded))
}

// CancelProcessing asks the in-flight generation to stop at its next
// iteration. It has no effect when nothing is in flight.
func (s *ModelSession) CancelProcessing() {
	if flag := s.active.Load(); flag != nil {
		flag.Store(true)
	}
}

// ProcessText simplifies input, streaming fragments to sink. sink always
// receives exactly one ("", true) as its last call, on every path.
//
// Cancelling ctx is equivalent to CancelProcessing. A cancelled request
// returns ErrCancelled together with the stats of what was produced.
func (s *ModelSession) ProcessText(ctx context.Context, input string, sink TokenSink) (GenerationStats, error) {
	if sink == nil {
		sink = discardSink
	}
	defer sink("", true)

	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	stats := newStatsCollector(s.now, requestID, input)

	cancel := new(atomic.Bool)
	if !s.active.CompareAndSwap(nil, cancel) {
		return stats.finish(ErrGenerationInProgress, StopRejected, s.MemoryUsage()), ErrGenerationInProgress
	}
	defer s.active.Store(nil)

	res, err := s.begin()
	if err != nil {
		return stats.finish(err, StopRejected, 0), err
	}
	defer s.end(res.done)

	logger := s.logger.With(zap.String("request_id", requestID))
	reason, err := s.run(ctx, res, cancel, input, sink, stats)

	out := stats.finish(err, reason, s.MemoryUsage())
	s.report(logger, out, err)
	return out, err
}

type generationResources struct {
	model   llamaruntime.Model
	rctx    llamaruntime.Context
	sampler llamaruntime.Sampler
	done    chan struct{}
}

// begin moves Ready to Generating and hands out the engine resources.
func (s *ModelSession) begin() (generationResources, error) {
	if s.State() != StateReady {
		return generationResources{}, ErrModelNotLoaded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateReady {
		return generationResources{}, ErrModelNotLoaded
	}
	s.state.Store(int32(StateGenerating))
	s.done = make(chan struct{})
	return generationResources{model: s.model, rctx: s.rctx, sampler: s.sampler, done: s.done}, nil
}

// end returns the session to Ready and wakes a waiting ReleaseModel.
func (s *ModelSession) end(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateGenerating {
		s.state.Store(int32(StateReady))
	}
	s.done = nil
	close(done)
}

func (s *ModelSession) run(ctx context.Context, res generationResources, cancel *atomic.Bool, input string, sink TokenSink, stats *StatsCollector) (StopReason, error) {
	if strings.TrimSpace(input) == "" {
		return StopEmptyInput, nil
	}

	preflight := NewMemoryPreflight(s.probe, s.cfg.MinFreeMemory, s.logger)
	if err := preflight.Check(ctx); err != nil {
		return StopRejected, err
	}

	prompt, err := NewPromptBuilder(res.model, s.cfg).Build(input)
	if err != nil {
		return StopError, err
	}
	stats.prompt(prompt)

	budget, err := NewBudgetValidator(res.model, s.cfg).Validate(input, prompt)
	stats.budget(budget)
	if err != nil {
		if errors.Is(err, ErrInferenceFailed) {
			return StopError, err
		}
		return StopRejected, err
	}

	loop := &generationLoop{
		model:   res.model,
		rctx:    res.rctx,
		sampler: res.sampler,
		ctx:     ctx,
		cancel:  cancel,
		stats:   stats,
	}
	if loop.cancelled() {
		return StopCancelled, ErrCancelled
	}

	// Each request starts from an empty cache and a fresh penalty history.
	res.rctx.ClearCache()
	res.sampler.Reset()

	pos, err := NewBatchIngester(res.rctx, s.cfg.BatchSize).Ingest(budget.PromptTokens, 0)
	if err != nil {
		return StopError, err
	}
	stats.ingested()

	stops := append(append([]string(nil), prompt.StopMarkers...), safetyStopMarkers...)
	stops = append(stops, s.cfg.ExtraStopMarkers...)
	loop.stream = newFragmentStreamer(newStopMatcher(stops, echoMarkers), func(frag string) {
		stats.fragment(frag)
		sink(frag, false)
	})

	maxTokens := min(prompt.MaxOutputTokens, s.cfg.ContextSize-pos)
	return loop.run(pos, maxTokens)
}

func (s *ModelSession) report(logger *logging.Logger, stats GenerationStats, err error) {
	fields := []zap.Field{logging.GenerationFields(GenerationMetrics(stats))}
	switch {
	case err == nil:
		logger.Info("generation finished", fields...)
	case IsRejection(err) || errors.Is(err, ErrCancelled):
		logger.Info("generation stopped", append(fields, zap.Error(err))...)
	default:
		logger.Error("generation failed", append(fields, zap.Error(err))...)
	}

	for _, r := range s.reporters {
		r.ReportGeneration(stats)
	}
}

// GenerationMetrics converts stats into the loggable summary.
func GenerationMetrics(stats GenerationStats) logging.GenerationMetrics {
	return logging.GenerationMetrics{
		RequestID:        stats.RequestID,
		Tier:             stats.Tier.String(),
		Outcome:          stats.Outcome.String(),
		InputWords:       stats.InputWords,
		PromptTokens:     stats.PromptTokens,
		GeneratedTokens:  stats.GeneratedTokens,
		FewShot:          stats.FewShot,
		TimeToFirstToken: stats.TimeToFirstToken,
		Duration:         stats.Duration,
		TokensPerSecond:  stats.TokensPerSecond,
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that ProcessText uses in its stats and logs.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
