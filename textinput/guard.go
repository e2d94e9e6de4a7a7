// Package textinput gets user text into the leveler: it reads the text from
// wherever the caller points (arguments, stdin, files, PDFs) and applies the
// caller-side length guard before any model work starts.
package textinput

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultTokenLimit is the caller-side limit on raw user text, in CL100K tokens.
const DefaultTokenLimit = 1200

// ErrTextTooLong is returned by Guard.Check for text over the limit.
var ErrTextTooLong = errors.New("text exceeds the input token limit")

// Guard counts user text with the CL100K encoding, independent of the model's
// own tokenizer, so the limit means the same thing for every model.
type Guard struct {
	limit int

	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewGuard returns a guard with the given limit. limit <= 0 selects
// DefaultTokenLimit. The encoding is loaded on first use.
func NewGuard(limit int) *Guard {
	if limit <= 0 {
		limit = DefaultTokenLimit
	}
	return &Guard{limit: limit}
}

// Limit returns the configured token limit.
func (g *Guard) Limit() int { return g.limit }

func (g *Guard) load() (tokenizer.Codec, error) {
	g.once.Do(func() {
		g.codec, g.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return g.codec, g.err
}

// Count returns the CL100K token count of text. Empty text counts 0.
func (g *Guard) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	codec, err := g.load()
	if err != nil {
		return 0, fmt.Errorf("load cl100k encoding: %w", err)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return len(ids), nil
}

// Check returns the token count and ErrTextTooLong when it exceeds the limit.
// A count exactly at the limit passes.
func (g *Guard) Check(text string) (int, error) {
	n, err := g.Count(text)
	if err != nil {
		return 0, err
	}
	if n > g.limit {
		return n, fmt.Errorf("%w: %d tokens, limit %d", ErrTextTooLong, n, g.limit)
	}
	return n, nil
}
