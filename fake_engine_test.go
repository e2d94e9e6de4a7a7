package main

import (
	"strings"
	"sync"
	"sync/atomic"

	"leveler/llamaruntime"
)

// scriptedEngine is a minimal llamaruntime.Engine: words tokenize to ids
// and every request replays the same pieces, then EOS.
type scriptedEngine struct {
	pieces []string
	loads  atomic.Int32

	mu    sync.Mutex
	vocab map[string]llamaruntime.Token
	words []string
}

const scriptedEOS llamaruntime.Token = 2

func newScriptedEngine(pieces ...string) *scriptedEngine {
	return &scriptedEngine{
		pieces: pieces,
		vocab:  map[string]llamaruntime.Token{},
		words:  []string{"", "<s>", ""},
	}
}

func (e *scriptedEngine) token(word string) llamaruntime.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tok, ok := e.vocab[word]; ok {
		return tok
	}
	tok := llamaruntime.Token(len(e.words))
	e.vocab[word] = tok
	e.words = append(e.words, word)
	return tok
}

func (e *scriptedEngine) piece(tok llamaruntime.Token) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(tok) < len(e.words) {
		return e.words[tok]
	}
	return ""
}

func (e *scriptedEngine) LoadModel(path string, _ llamaruntime.ModelParams) (llamaruntime.Model, error) {
	e.loads.Add(1)
	return &scriptedModel{e: e}, nil
}

type scriptedModel struct{ e *scriptedEngine }

func (m *scriptedModel) NewContext(llamaruntime.ContextParams) (llamaruntime.Context, error) {
	return &scriptedContext{e: m.e}, nil
}

func (m *scriptedModel) Tokenize(text string, addSpecial bool) ([]llamaruntime.Token, error) {
	var out []llamaruntime.Token
	if addSpecial {
		out = append(out, 1)
	}
	for _, w := range strings.Fields(text) {
		out = append(out, m.e.token(w))
	}
	return out, nil
}

func (m *scriptedModel) TokenToPiece(tok llamaruntime.Token) string { return m.e.piece(tok) }
func (m *scriptedModel) EOS() llamaruntime.Token                    { return scriptedEOS }
func (m *scriptedModel) SizeBytes() int64                           { return 300 << 20 }
func (m *scriptedModel) Close()                                     {}

func (m *scriptedModel) ChatFormat([]llamaruntime.ChatMessage) (llamaruntime.ChatPrompt, bool) {
	return llamaruntime.ChatPrompt{}, false
}

type scriptedContext struct{ e *scriptedEngine }

func (c *scriptedContext) Decode([]llamaruntime.BatchEntry) error { return nil }
func (c *scriptedContext) SizeBytes() int64                       { return 32 << 20 }
func (c *scriptedContext) ClearCache()                            {}
func (c *scriptedContext) Close()                                 {}

func (c *scriptedContext) NewSampler(llamaruntime.SamplingParams) (llamaruntime.Sampler, error) {
	return &scriptedSampler{e: c.e}, nil
}

type scriptedSampler struct {
	e    *scriptedEngine
	step int
}

func (s *scriptedSampler) Sample() llamaruntime.Token {
	if s.step >= len(s.e.pieces) {
		return scriptedEOS
	}
	p := s.e.pieces[s.step]
	s.step++
	return s.e.token(p)
}

func (s *scriptedSampler) Accept(llamaruntime.Token) {}
func (s *scriptedSampler) Reset()                    { s.step = 0 }
func (s *scriptedSampler) Close()                    {}

var _ llamaruntime.Engine = (*scriptedEngine)(nil)
