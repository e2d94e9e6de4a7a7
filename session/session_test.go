package session

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"leveler/llamaruntime"
)

// recordingSink captures every sink call.
type recordingSink struct {
	mu         sync.Mutex
	fragments  []string
	finals     int
	afterFinal int

	// block, when set, is waited on during the first fragment; started is
	// closed just before waiting.
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (r *recordingSink) sink(fragment string, final bool) {
	r.mu.Lock()
	if r.finals > 0 {
		r.afterFinal++
	}
	if final {
		r.finals++
		r.mu.Unlock()
		return
	}
	r.fragments = append(r.fragments, fragment)
	r.mu.Unlock()

	if r.block != nil {
		r.once.Do(func() {
			close(r.started)
			<-r.block
		})
	}
}

func newBlockingSink() *recordingSink {
	return &recordingSink{block: make(chan struct{}), started: make(chan struct{})}
}

func (r *recordingSink) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.fragments, "")
}

func (r *recordingSink) assertTerminatedOnce(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finals != 1 {
		t.Errorf("sink received %d final calls, want exactly 1", r.finals)
	}
	if r.afterFinal != 0 {
		t.Errorf("sink received %d calls after the final one", r.afterFinal)
	}
	for i, f := range r.fragments {
		if f == "" {
			t.Errorf("fragment %d is empty", i)
		}
	}
}

func plentyOfMemory() MemoryProbe {
	return MemoryProbeFunc(func(context.Context) (uint64, error) { return 8 << 30, nil })
}

func loadedSession(t *testing.T, eng *fakeEngine, cfg Config, opts ...Option) *ModelSession {
	t.Helper()
	opts = append([]Option{WithMemoryProbe(plentyOfMemory())}, opts...)
	s := New(eng, cfg, opts...)
	if err := s.LoadModel("/models/test.gguf", nil); err != nil {
		t.Fatalf("LoadModel() returned error: %v", err)
	}
	t.Cleanup(s.ReleaseModel)
	return s
}

func generationBatches(eng *fakeEngine, promptTokens int) [][]llamaruntime.BatchEntry {
	var out [][]llamaruntime.BatchEntry
	for _, b := range eng.rctx.recorded() {
		if len(b) == 1 && b[0].Pos >= promptTokens {
			out = append(out, b)
		}
	}
	return out
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestLoadModel_ProgressAndState(t *testing.T) {
	eng := newFakeEngine()
	s := New(eng, Config{}, WithMemoryProbe(nil))

	if s.State() != StateUnloaded || s.IsModelLoaded() {
		t.Fatalf("new session state = %v, want unloaded", s.State())
	}

	var progress []float64
	if err := s.LoadModel("/models/test.gguf", func(p float64) { progress = append(progress, p) }); err != nil {
		t.Fatalf("LoadModel() returned error: %v", err)
	}
	defer s.ReleaseModel()

	if len(progress) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress decreased: %v", progress)
		}
	}
	if last := progress[len(progress)-1]; last != 1.0 {
		t.Errorf("final progress = %v, want 1.0", last)
	}
	if !s.IsModelLoaded() || s.State() != StateReady {
		t.Errorf("state = %v, want ready", s.State())
	}
	if want := int64(400<<20 + 64<<20); s.MemoryUsage() != want {
		t.Errorf("MemoryUsage() = %d, want %d", s.MemoryUsage(), want)
	}
	if s.ModelPath() != "/models/test.gguf" {
		t.Errorf("ModelPath() = %q", s.ModelPath())
	}
}

func TestLoadModel_RejectedWhenLoaded(t *testing.T) {
	s := loadedSession(t, newFakeEngine(), Config{})

	err := s.LoadModel("/models/other.gguf", nil)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second LoadModel() error = %v, want ErrInvalidState", err)
	}
	if s.State() != StateReady {
		t.Errorf("state = %v, want ready", s.State())
	}
}

func TestLoadModel_FailureReleasesPartialState(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*fakeEngine)
		wantClosed []string
	}{
		{"weights", func(e *fakeEngine) { e.loadErr = llamaruntime.ErrModelLoadFailed }, nil},
		{"context", func(e *fakeEngine) { e.contextErr = llamaruntime.ErrContextCreateFailed }, []string{"model"}},
		{"sampler", func(e *fakeEngine) { e.samplerErr = llamaruntime.ErrSamplerInitFailed }, []string{"context", "model"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			tt.setup(eng)
			s := New(eng, Config{}, WithMemoryProbe(nil))

			if err := s.LoadModel("/models/test.gguf", nil); err == nil {
				t.Fatal("LoadModel() should fail")
			}
			if s.State() != StateUnloaded {
				t.Errorf("state = %v, want unloaded", s.State())
			}
			if s.MemoryUsage() != 0 {
				t.Errorf("MemoryUsage() = %d, want 0", s.MemoryUsage())
			}
			got := eng.closeOrder()
			if strings.Join(got, ",") != strings.Join(tt.wantClosed, ",") {
				t.Errorf("closed = %v, want %v", got, tt.wantClosed)
			}

			// A failed load leaves the session reusable.
			eng.loadErr, eng.contextErr, eng.samplerErr = nil, nil, nil
			if err := s.LoadModel("/models/test.gguf", nil); err != nil {
				t.Fatalf("retry LoadModel() returned error: %v", err)
			}
			s.ReleaseModel()
		})
	}
}

func TestLoadModel_InvalidConfig(t *testing.T) {
	s := New(newFakeEngine(), Config{ContextSize: 64}, WithMemoryProbe(nil))
	if err := s.LoadModel("/models/test.gguf", nil); err == nil {
		t.Fatal("LoadModel() should reject a 64-token context")
	}
	if s.State() != StateUnloaded {
		t.Errorf("state = %v, want unloaded", s.State())
	}
}

func TestReleaseModel_Idempotent(t *testing.T) {
	eng := newFakeEngine()
	s := loadedSession(t, eng, Config{})

	s.ReleaseModel()
	s.ReleaseModel()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	if got := strings.Join(eng.closeOrder(), ","); got != "sampler,context,model" {
		t.Errorf("close order = %s, want sampler,context,model", got)
	}
	if s.IsModelLoaded() || s.MemoryUsage() != 0 {
		t.Errorf("after release: loaded=%v memory=%d", s.IsModelLoaded(), s.MemoryUsage())
	}

	rec := &recordingSink{}
	_, err := s.ProcessText(context.Background(), "hello there", rec.sink)
	if !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("ProcessText() after release error = %v, want ErrModelNotLoaded", err)
	}
	rec.assertTerminatedOnce(t)
}

func TestReleaseModel_WaitsForGeneration(t *testing.T) {
	eng := newFakeEngine([]string{"one", " two", " three", " four", " five"})
	s := loadedSession(t, eng, Config{})
	rec := newBlockingSink()

	type result struct {
		stats GenerationStats
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		st, err := s.ProcessText(context.Background(), "a short line of text", rec.sink)
		resCh <- result{st, err}
	}()
	<-rec.started

	released := make(chan struct{})
	go func() {
		s.ReleaseModel()
		close(released)
	}()

	waitFor(t, func() bool { f := s.active.Load(); return f != nil && f.Load() })
	select {
	case <-released:
		t.Fatal("ReleaseModel returned while generation was in flight")
	default:
	}
	close(rec.block)

	res := <-resCh
	<-released
	if !errors.Is(res.err, ErrCancelled) {
		t.Errorf("ProcessText() error = %v, want ErrCancelled", res.err)
	}
	if got := strings.Join(eng.closeOrder(), ","); got != "sampler,context,model" {
		t.Errorf("close order = %s", got)
	}
	if s.State() != StateUnloaded {
		t.Errorf("state = %v, want unloaded", s.State())
	}
	rec.assertTerminatedOnce(t)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		runtime.Gosched()
	}
}

// =============================================================================
// Generation
// =============================================================================

func TestProcessText_StreamsUntilEOS(t *testing.T) {
	eng := newFakeEngine([]string{"Hello", " world", eosPiece, " ignored"})
	s := loadedSession(t, eng, Config{})
	rec := &recordingSink{}

	stats, err := s.ProcessText(context.Background(), "Please make this simpler for me.", rec.sink)
	if err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}
	if got := rec.text(); got != "Hello world" {
		t.Errorf("output = %q, want %q", got, "Hello world")
	}
	rec.assertTerminatedOnce(t)

	if stats.StopReason != StopEOS || stats.Outcome != KindNone {
		t.Errorf("stop=%q outcome=%v", stats.StopReason, stats.Outcome)
	}
	if stats.GeneratedTokens != 2 {
		t.Errorf("GeneratedTokens = %d, want 2", stats.GeneratedTokens)
	}
	if stats.Tier != TierShort || stats.InputWords != 6 {
		t.Errorf("tier=%v words=%d", stats.Tier, stats.InputWords)
	}
	if stats.OutputChars != len("Hello world") {
		t.Errorf("OutputChars = %d", stats.OutputChars)
	}
	if s.State() != StateReady {
		t.Errorf("state after generation = %v, want ready", s.State())
	}
}

func TestProcessText_IngestsPromptInChunks(t *testing.T) {
	eng := newFakeEngine([]string{"Hi", " there", eosPiece})
	s := loadedSession(t, eng, Config{BatchSize: 4})

	stats, err := s.ProcessText(context.Background(), "Short input text here.", nil)
	if err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}

	n := stats.PromptTokens
	if n <= 4 {
		t.Fatalf("prompt is %d tokens, want more than one chunk", n)
	}

	batches := eng.rctx.recorded()
	pos := 0
	var i int
	for i = 0; pos < n; i++ {
		b := batches[i]
		if len(b) > 4 {
			t.Errorf("batch %d has %d entries, limit 4", i, len(b))
		}
		for _, e := range b {
			if e.Pos != pos {
				t.Fatalf("batch %d: position %d, want %d", i, e.Pos, pos)
			}
			if e.Logits != (pos == n-1) {
				t.Errorf("position %d: logits=%v", pos, e.Logits)
			}
			pos++
		}
	}

	gen := batches[i:]
	if len(gen) != 2 {
		t.Fatalf("generation decodes = %d, want 2", len(gen))
	}
	for j, b := range gen {
		if len(b) != 1 || b[0].Pos != n+j || !b[0].Logits {
			t.Errorf("generation batch %d = %+v", j, b)
		}
	}
}

func TestProcessText_RespectsTierCap(t *testing.T) {
	eng := newFakeEngine([]string{"a", " b", " c", " d", " e", " f", " g"})
	s := loadedSession(t, eng, Config{TierCaps: TierCaps{Short: 3, Medium: 10, Long: 10}})
	rec := &recordingSink{}

	stats, err := s.ProcessText(context.Background(), "one two three", rec.sink)
	if err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}
	if stats.GeneratedTokens != 3 || stats.StopReason != StopLength {
		t.Errorf("generated=%d stop=%q, want 3 and length", stats.GeneratedTokens, stats.StopReason)
	}
	if got := rec.text(); got != "a b c" {
		t.Errorf("output = %q", got)
	}
	// The last sampled token is never decoded.
	if gen := generationBatches(eng, stats.PromptTokens); len(gen) != 2 {
		t.Errorf("generation decodes = %d, want 2", len(gen))
	}
}

func TestProcessText_StopMarkersNeverEmitted(t *testing.T) {
	tests := []struct {
		name     string
		template bool
		script   []string
		want     string
		reason   StopReason
	}{
		{
			name:     "template end of turn split across pieces",
			template: true,
			script:   []string{"Short", " answer", "<|im", "_end|>", " junk"},
			want:     "Short answer",
			reason:   StopMarker,
		},
		{
			name:   "legacy end marker",
			script: []string{"Done.", "\n###", " End", " more"},
			want:   "Done.\n",
			reason: StopMarker,
		},
		{
			name:   "fallback user turn",
			script: []string{"Simple text.", "\nUs", "er:", " next"},
			want:   "Simple text.",
			reason: StopMarker,
		},
		{
			name:   "safety marker",
			script: []string{"Fine", "<|endoftext|>", "tail"},
			want:   "Fine",
			reason: StopMarker,
		},
		{
			name:   "fallback user turn as the first output",
			script: []string{"\n", "User:", " next"},
			want:   "",
			reason: StopMarker,
		},
		{
			name:   "fallback user turn in one leading piece",
			script: []string{"\nUser:", " next question"},
			want:   "",
			reason: StopMarker,
		},
		{
			name:   "prompt echo",
			script: []string{"Sure.", " You are a plain", "-language editor", " ok"},
			want:   "Sure. ",
			reason: StopEcho,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine(tt.script)
			eng.chatTemplate = tt.template
			s := loadedSession(t, eng, Config{})
			rec := &recordingSink{}

			stats, err := s.ProcessText(context.Background(), "Make this easier to read.", rec.sink)
			if err != nil {
				t.Fatalf("ProcessText() returned error: %v", err)
			}
			got := rec.text()
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
			for _, m := range append(append([]string{LegacyEndMarker}, safetyStopMarkers...), echoMarkers...) {
				if strings.Contains(got, m) {
					t.Errorf("output contains marker %q", m)
				}
			}
			if stats.StopReason != tt.reason {
				t.Errorf("StopReason = %q, want %q", stats.StopReason, tt.reason)
			}
			rec.assertTerminatedOnce(t)
		})
	}
}

func TestProcessText_TrimsLeadingWhitespace(t *testing.T) {
	eng := newFakeEngine([]string{"\n", "  ", " Plain", " words", eosPiece})
	s := loadedSession(t, eng, Config{})
	rec := &recordingSink{}

	if _, err := s.ProcessText(context.Background(), "Some text.", rec.sink); err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}
	if got := rec.text(); got != "Plain words" {
		t.Errorf("output = %q, want %q", got, "Plain words")
	}
}

func TestProcessText_HoldsPartialUTF8(t *testing.T) {
	euro := "€" // 3 bytes
	eng := newFakeEngine([]string{"Cost: ", euro[:1], euro[1:], "5", eosPiece})
	s := loadedSession(t, eng, Config{})
	rec := &recordingSink{}

	if _, err := s.ProcessText(context.Background(), "What does it cost?", rec.sink); err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}
	if got := rec.text(); got != "Cost: €5" {
		t.Errorf("output = %q", got)
	}
	for _, f := range rec.fragments {
		if !utf8.ValidString(f) {
			t.Errorf("fragment %q is not valid UTF-8", f)
		}
	}
}

// =============================================================================
// Rejections
// =============================================================================

func TestProcessText_Rejections(t *testing.T) {
	long := strings.Repeat("word ", 200)

	tests := []struct {
		name    string
		cfg     Config
		probe   MemoryProbe
		input   string
		wantErr error
	}{
		{
			name:    "input over token limit",
			cfg:     Config{MaxInputTokens: 10},
			input:   "one two three four five six seven eight nine ten eleven",
			wantErr: ErrTokenLimitExceeded,
		},
		{
			name:    "prompt over prompt limit",
			cfg:     Config{MaxInputTokens: 50, MaxPromptTokens: 60},
			input:   strings.Repeat("word ", 40),
			wantErr: ErrContextOverflow,
		},
		{
			name:    "prompt leaves no headroom",
			cfg:     Config{ContextSize: 256},
			input:   long,
			wantErr: ErrContextOverflow,
		},
		{
			name:    "low memory",
			probe:   MemoryProbeFunc(func(context.Context) (uint64, error) { return 1 << 20, nil }),
			input:   "hello",
			wantErr: ErrOutOfMemory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine([]string{"never"})
			var opts []Option
			if tt.probe != nil {
				opts = append(opts, WithMemoryProbe(tt.probe))
			}
			s := loadedSession(t, eng, tt.cfg, opts...)
			rec := &recordingSink{}

			stats, err := s.ProcessText(context.Background(), tt.input, rec.sink)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ProcessText() error = %v, want %v", err, tt.wantErr)
			}
			if !IsRejection(err) {
				t.Errorf("IsRejection(%v) = false", err)
			}
			if n := len(eng.rctx.recorded()); n != 0 {
				t.Errorf("%d decodes ran for a rejected request", n)
			}
			if stats.StopReason != StopRejected || stats.Outcome != KindOf(tt.wantErr) {
				t.Errorf("stop=%q outcome=%v", stats.StopReason, stats.Outcome)
			}
			if len(rec.fragments) != 0 {
				t.Errorf("fragments = %v, want none", rec.fragments)
			}
			rec.assertTerminatedOnce(t)
			if s.State() != StateReady {
				t.Errorf("state = %v, want ready", s.State())
			}
		})
	}
}

func TestProcessText_UnreadableMemoryPasses(t *testing.T) {
	probe := MemoryProbeFunc(func(context.Context) (uint64, error) { return 0, errors.New("no meminfo") })
	eng := newFakeEngine([]string{"ok", eosPiece})
	s := loadedSession(t, eng, Config{}, WithMemoryProbe(probe))

	if _, err := s.ProcessText(context.Background(), "hello", nil); err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}
}

func TestProcessText_EmptyInput(t *testing.T) {
	eng := newFakeEngine([]string{"never"})
	s := loadedSession(t, eng, Config{})
	rec := &recordingSink{}

	stats, err := s.ProcessText(context.Background(), " \n\t ", rec.sink)
	if err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}
	if stats.StopReason != StopEmptyInput {
		t.Errorf("StopReason = %q", stats.StopReason)
	}
	if n := len(eng.rctx.recorded()); n != 0 {
		t.Errorf("%d decodes ran for empty input", n)
	}
	rec.assertTerminatedOnce(t)
}

// =============================================================================
// Failures and cancellation
// =============================================================================

func TestProcessText_DecodeFailure(t *testing.T) {
	tests := []struct {
		name       string
		failDecode int
		wantText   string
	}{
		{"during ingestion", 1, ""},
		{"during generation", 3, "Hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine([]string{"Hello", " world", " again", eosPiece})
			eng.failDecode = tt.failDecode
			s := loadedSession(t, eng, Config{})
			rec := &recordingSink{}

			stats, err := s.ProcessText(context.Background(), "hello", rec.sink)
			if !errors.Is(err, ErrInferenceFailed) {
				t.Fatalf("ProcessText() error = %v, want ErrInferenceFailed", err)
			}
			if IsRejection(err) {
				t.Error("decode failure reported as a rejection")
			}
			if got := rec.text(); got != tt.wantText {
				t.Errorf("output = %q, want %q", got, tt.wantText)
			}
			if stats.Outcome != KindInferenceFailed {
				t.Errorf("Outcome = %v", stats.Outcome)
			}
			rec.assertTerminatedOnce(t)
			if s.State() != StateReady {
				t.Errorf("state = %v, want ready", s.State())
			}
		})
	}
}

func TestProcessText_CancelledContextProducesNothing(t *testing.T) {
	eng := newFakeEngine([]string{"never"})
	s := loadedSession(t, eng, Config{})
	rec := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := s.ProcessText(ctx, "hello there", rec.sink)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("ProcessText() error = %v, want ErrCancelled", err)
	}
	if len(rec.fragments) != 0 {
		t.Errorf("fragments = %v, want none", rec.fragments)
	}
	if n := len(eng.rctx.recorded()); n != 0 {
		t.Errorf("%d decodes ran after cancellation", n)
	}
	if stats.StopReason != StopCancelled || stats.Outcome != KindCancelled {
		t.Errorf("stop=%q outcome=%v", stats.StopReason, stats.Outcome)
	}
	rec.assertTerminatedOnce(t)
}

func TestCancelProcessing_StopsAtNextToken(t *testing.T) {
	eng := newFakeEngine([]string{"one", " two", " three", " four", eosPiece})
	s := loadedSession(t, eng, Config{})
	rec := newBlockingSink()

	errCh := make(chan error, 1)
	var stats GenerationStats
	go func() {
		var err error
		stats, err = s.ProcessText(context.Background(), "count for me", rec.sink)
		errCh <- err
	}()

	<-rec.started
	s.CancelProcessing()
	close(rec.block)

	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Fatalf("ProcessText() error = %v, want ErrCancelled", err)
	}
	if got := rec.text(); got != "one" {
		t.Errorf("output = %q, want %q", got, "one")
	}
	if stats.GeneratedTokens != 1 {
		t.Errorf("GeneratedTokens = %d, want 1", stats.GeneratedTokens)
	}
	rec.assertTerminatedOnce(t)

	// The cancel request does not leak into the next call.
	rec2 := &recordingSink{}
	if _, err := s.ProcessText(context.Background(), "count again", rec2.sink); err != nil {
		t.Fatalf("second ProcessText() returned error: %v", err)
	}
}

func TestCancelProcessing_RightAfterAdmission(t *testing.T) {
	eng := newFakeEngine([]string{"should", " not", " appear", eosPiece})

	var s *ModelSession
	probe := MemoryProbeFunc(func(context.Context) (uint64, error) {
		// Runs inside ProcessText once the request holds the slot.
		s.CancelProcessing()
		return 8 << 30, nil
	})
	s = loadedSession(t, eng, Config{}, WithMemoryProbe(probe))
	rec := &recordingSink{}

	_, err := s.ProcessText(context.Background(), "cancel me early", rec.sink)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("ProcessText() error = %v, want ErrCancelled", err)
	}
	if len(rec.fragments) != 0 {
		t.Errorf("fragments = %v, want none", rec.fragments)
	}
	rec.assertTerminatedOnce(t)
}

func TestCancelProcessing_NoopWhenIdle(t *testing.T) {
	eng := newFakeEngine([]string{"fine", eosPiece})
	s := loadedSession(t, eng, Config{})

	s.CancelProcessing()
	if _, err := s.ProcessText(context.Background(), "hello", nil); err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}
}

func TestProcessText_ConcurrentCallRejected(t *testing.T) {
	eng := newFakeEngine([]string{"first", " answer", eosPiece})
	s := loadedSession(t, eng, Config{})
	rec := newBlockingSink()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.ProcessText(context.Background(), "first request", rec.sink)
		errCh <- err
	}()
	<-rec.started

	rec2 := &recordingSink{}
	stats, err := s.ProcessText(context.Background(), "second request", rec2.sink)
	if !errors.Is(err, ErrGenerationInProgress) {
		t.Errorf("concurrent ProcessText() error = %v, want ErrGenerationInProgress", err)
	}
	if stats.Outcome != KindBusy {
		t.Errorf("Outcome = %v, want busy", stats.Outcome)
	}
	rec2.assertTerminatedOnce(t)

	close(rec.block)
	if err := <-errCh; err != nil {
		t.Fatalf("first ProcessText() returned error: %v", err)
	}
	if got := rec.text(); got != "first answer" {
		t.Errorf("first output = %q", got)
	}
}

// =============================================================================
// Per-request isolation and stats
// =============================================================================

func TestProcessText_ResetsStateBetweenCalls(t *testing.T) {
	eng := newFakeEngine(
		[]string{"alpha", " beta", " gamma", eosPiece},
		[]string{"delta", eosPiece},
	)
	s := loadedSession(t, eng, Config{})

	for i, want := range []string{"alpha beta gamma", "delta"} {
		rec := &recordingSink{}
		if _, err := s.ProcessText(context.Background(), "some input", rec.sink); err != nil {
			t.Fatalf("call %d returned error: %v", i, err)
		}
		if got := rec.text(); got != want {
			t.Errorf("call %d output = %q, want %q", i, got, want)
		}
	}

	if got := eng.sampler.historyAtFirstSample; len(got) != 2 || got[0] != 0 || got[1] != 0 {
		t.Errorf("penalty history at start of each call = %v, want [0 0]", got)
	}
	if eng.rctx.clears != 2 {
		t.Errorf("ClearCache calls = %d, want 2", eng.rctx.clears)
	}

	// Both calls ingest from position 0.
	starts := 0
	for _, b := range eng.rctx.recorded() {
		if len(b) > 0 && b[0].Pos == 0 {
			starts++
		}
	}
	if starts != 2 {
		t.Errorf("ingestions starting at 0 = %d, want 2", starts)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

func TestProcessText_ReportsStats(t *testing.T) {
	eng := newFakeEngine([]string{"Simple", " words", eosPiece})
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	var reported []GenerationStats
	reporter := StatsReporterFunc(func(st GenerationStats) { reported = append(reported, st) })
	s := loadedSession(t, eng, Config{}, WithClock(clock.Now), WithStatsReporter(reporter))

	ctx := WithRequestID(context.Background(), "req-42")
	stats, err := s.ProcessText(ctx, "A rather complicated sentence.", nil)
	if err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}

	if len(reported) != 1 {
		t.Fatalf("reporter called %d times, want 1", len(reported))
	}
	if reported[0].RequestID != "req-42" || stats.RequestID != "req-42" {
		t.Errorf("RequestID = %q", reported[0].RequestID)
	}
	if stats.TimeToFirstToken <= 0 {
		t.Errorf("TimeToFirstToken = %v", stats.TimeToFirstToken)
	}
	if stats.Duration < stats.TimeToFirstToken {
		t.Errorf("Duration %v below TTFT %v", stats.Duration, stats.TimeToFirstToken)
	}
	if stats.TokensPerSecond <= 0 {
		t.Errorf("TokensPerSecond = %v", stats.TokensPerSecond)
	}
	if stats.MemoryUsage != s.MemoryUsage() {
		t.Errorf("MemoryUsage = %d", stats.MemoryUsage)
	}
	if stats.InputTokens != 4 || stats.PromptTokens == 0 {
		t.Errorf("InputTokens=%d PromptTokens=%d", stats.InputTokens, stats.PromptTokens)
	}
}

func TestProcessText_GeneratesRequestID(t *testing.T) {
	eng := newFakeEngine([]string{eosPiece})
	s := loadedSession(t, eng, Config{})

	a, _ := s.ProcessText(context.Background(), "hello", nil)
	b, _ := s.ProcessText(context.Background(), "hello", nil)
	if a.RequestID == "" || a.RequestID == b.RequestID {
		t.Errorf("request ids %q and %q", a.RequestID, b.RequestID)
	}
}

func TestChannelSink(t *testing.T) {
	eng := newFakeEngine([]string{"one", " two", eosPiece})
	s := loadedSession(t, eng, Config{})

	sink, ch := ChannelSink(context.Background(), 16)
	if _, err := s.ProcessText(context.Background(), "hello", sink); err != nil {
		t.Fatalf("ProcessText() returned error: %v", err)
	}

	var got []Fragment
	for f := range ch {
		got = append(got, f)
	}
	if len(got) != 3 || !got[2].Final || got[0].Text+got[1].Text != "one two" {
		t.Errorf("fragments = %+v", got)
	}
}
