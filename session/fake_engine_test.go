package session

import (
	"errors"
	"strings"
	"sync"

	"leveler/llamaruntime"
)

// Test double for the llama.cpp engine. The tokenizer maps each
// whitespace-separated word to a token; generation replays scripted pieces.

const (
	fakeBOS llamaruntime.Token = 1
	fakeEOS llamaruntime.Token = 2

	// eosPiece in a script makes the sampler return EOS.
	eosPiece = "<EOS>"
)

type fakeEngine struct {
	mu sync.Mutex

	loadErr    error
	contextErr error
	samplerErr error
	decodeErr  error
	failDecode int // 1-based decode call that fails; 0 never

	chatTemplate bool
	scripts      [][]string

	vocab  map[string]llamaruntime.Token
	pieces []string

	model   *fakeModel
	rctx    *fakeContext
	sampler *fakeSampler

	closed []string
}

func newFakeEngine(scripts ...[]string) *fakeEngine {
	return &fakeEngine{
		scripts: scripts,
		vocab:   map[string]llamaruntime.Token{},
		pieces:  []string{"", "<s>", "</eos>"},
	}
}

func (e *fakeEngine) intern(s string) llamaruntime.Token {
	if tok, ok := e.vocab[s]; ok {
		return tok
	}
	tok := llamaruntime.Token(len(e.pieces))
	e.vocab[s] = tok
	e.pieces = append(e.pieces, s)
	return tok
}

func (e *fakeEngine) recordClose(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = append(e.closed, name)
}

func (e *fakeEngine) closeOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.closed...)
}

func (e *fakeEngine) LoadModel(path string, params llamaruntime.ModelParams) (llamaruntime.Model, error) {
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	e.model = &fakeModel{engine: e}
	return e.model, nil
}

type fakeModel struct {
	engine      *fakeEngine
	tokenizeErr error
}

func (m *fakeModel) NewContext(params llamaruntime.ContextParams) (llamaruntime.Context, error) {
	if m.engine.contextErr != nil {
		return nil, m.engine.contextErr
	}
	m.engine.rctx = &fakeContext{engine: m.engine, batchSize: params.BatchSize}
	return m.engine.rctx, nil
}

func (m *fakeModel) Tokenize(text string, addSpecial bool) ([]llamaruntime.Token, error) {
	if m.tokenizeErr != nil {
		return nil, m.tokenizeErr
	}
	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()

	var out []llamaruntime.Token
	if addSpecial {
		out = append(out, fakeBOS)
	}
	for _, w := range strings.Fields(text) {
		out = append(out, m.engine.intern(w))
	}
	return out, nil
}

func (m *fakeModel) TokenToPiece(tok llamaruntime.Token) string {
	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()
	if int(tok) < len(m.engine.pieces) {
		return m.engine.pieces[tok]
	}
	return ""
}

func (m *fakeModel) EOS() llamaruntime.Token { return fakeEOS }

func (m *fakeModel) ChatFormat(messages []llamaruntime.ChatMessage) (llamaruntime.ChatPrompt, bool) {
	if !m.engine.chatTemplate {
		return llamaruntime.ChatPrompt{}, false
	}
	stops := llamaruntime.DetectTemplateStops(func(msgs []llamaruntime.ChatMessage) (string, bool) {
		return renderChatML(msgs), true
	})
	return llamaruntime.ChatPrompt{Prompt: renderChatML(messages), StopMarkers: stops}, true
}

func renderChatML(messages []llamaruntime.ChatMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString("<|im_start|>" + msg.Role + "\n" + msg.Content + "<|im_end|>\n")
	}
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}

func (m *fakeModel) SizeBytes() int64 { return 400 << 20 }

func (m *fakeModel) Close() { m.engine.recordClose("model") }

type fakeContext struct {
	engine    *fakeEngine
	batchSize int

	mu          sync.Mutex
	batches     [][]llamaruntime.BatchEntry
	decodeCalls int
	clears      int
}

func (c *fakeContext) Decode(batch []llamaruntime.BatchEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodeCalls++
	if c.engine.failDecode > 0 && c.decodeCalls == c.engine.failDecode {
		if c.engine.decodeErr != nil {
			return c.engine.decodeErr
		}
		return errors.New("decode failed")
	}
	c.batches = append(c.batches, append([]llamaruntime.BatchEntry(nil), batch...))
	return nil
}

func (c *fakeContext) recorded() [][]llamaruntime.BatchEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]llamaruntime.BatchEntry(nil), c.batches...)
}

func (c *fakeContext) resetRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = nil
	c.decodeCalls = 0
}

func (c *fakeContext) NewSampler(params llamaruntime.SamplingParams) (llamaruntime.Sampler, error) {
	if c.engine.samplerErr != nil {
		return nil, c.engine.samplerErr
	}
	c.engine.sampler = &fakeSampler{engine: c.engine, params: params}
	return c.engine.sampler, nil
}

func (c *fakeContext) SizeBytes() int64 { return 64 << 20 }

func (c *fakeContext) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
}

func (c *fakeContext) Close() { c.engine.recordClose("context") }

// fakeSampler replays engine.scripts, one script per Reset. It keeps a
// penalty history the way the real sampler chain does.
type fakeSampler struct {
	engine *fakeEngine
	params llamaruntime.SamplingParams

	call    int
	step    int
	history []llamaruntime.Token

	// historyAtFirstSample records len(history) at the first Sample of each call.
	historyAtFirstSample []int
}

func (s *fakeSampler) Sample() llamaruntime.Token {
	if s.step == 0 {
		s.historyAtFirstSample = append(s.historyAtFirstSample, len(s.history))
	}
	script := s.script()
	if s.step >= len(script) {
		return fakeEOS
	}
	piece := script[s.step]
	s.step++
	if piece == eosPiece {
		return fakeEOS
	}
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.engine.intern(piece)
}

func (s *fakeSampler) script() []string {
	if len(s.engine.scripts) == 0 {
		return nil
	}
	i := min(max(s.call-1, 0), len(s.engine.scripts)-1)
	return s.engine.scripts[i]
}

func (s *fakeSampler) Accept(tok llamaruntime.Token) {
	s.history = append(s.history, tok)
}

func (s *fakeSampler) Reset() {
	s.call++
	s.step = 0
	s.history = nil
}

func (s *fakeSampler) Close() { s.engine.recordClose("sampler") }

var (
	_ llamaruntime.Engine  = (*fakeEngine)(nil)
	_ llamaruntime.Model   = (*fakeModel)(nil)
	_ llamaruntime.Context = (*fakeContext)(nil)
	_ llamaruntime.Sampler = (*fakeSampler)(nil)
)
