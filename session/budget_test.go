package session

import (
	"errors"
	"strings"
	"testing"

	"leveler/llamaruntime"
)

func TestBudgetValidator_Order(t *testing.T) {
	model := &fakeModel{engine: newFakeEngine()}

	tests := []struct {
		name    string
		cfg     Config
		input   string
		prompt  string
		wantErr error
	}{
		{
			name:   "within limits",
			cfg:    Config{MaxInputTokens: 5, MaxPromptTokens: 10, ContextSize: 256, ContextMargin: 100},
			input:  "a b c",
			prompt: "x y z a b c",
		},
		{
			name:    "input checked first",
			cfg:     Config{MaxInputTokens: 2, MaxPromptTokens: 3, ContextSize: 256, ContextMargin: 255},
			input:   "a b c",
			prompt:  "x y z a b c",
			wantErr: ErrTokenLimitExceeded,
		},
		{
			name:    "prompt ceiling",
			cfg:     Config{MaxInputTokens: 5, MaxPromptTokens: 6, ContextSize: 256, ContextMargin: 100},
			input:   "a b c",
			prompt:  "x y z a b c",
			wantErr: ErrContextOverflow,
		},
		{
			name:    "context headroom",
			cfg:     Config{MaxInputTokens: 5, MaxPromptTokens: 10, ContextSize: 256, ContextMargin: 250},
			input:   "a b c",
			prompt:  "x y z a b c",
			wantErr: ErrContextOverflow,
		},
		{
			name:   "exactly at headroom",
			cfg:    Config{MaxInputTokens: 5, MaxPromptTokens: 10, ContextSize: 256, ContextMargin: 249},
			input:  "a b c",
			prompt: "x y z a b c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewBudgetValidator(model, tt.cfg)
			res, err := v.Validate(tt.input, FormattedPrompt{Text: tt.prompt})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if res.InputTokens != 3 {
				t.Errorf("InputTokens = %d, want 3", res.InputTokens)
			}
			if tt.wantErr == nil && len(res.PromptTokens) != 7 {
				// six words plus BOS
				t.Errorf("PromptTokens = %d, want 7", len(res.PromptTokens))
			}
		})
	}
}

func TestBudgetValidator_TokenizerError(t *testing.T) {
	model := &fakeModel{engine: newFakeEngine(), tokenizeErr: llamaruntime.ErrTokenizeFailed}
	_, err := NewBudgetValidator(model, DefaultConfig()).Validate("a", FormattedPrompt{Text: "a"})
	if !errors.Is(err, ErrInferenceFailed) {
		t.Errorf("Validate() error = %v, want ErrInferenceFailed", err)
	}
}

func TestBatchIngester(t *testing.T) {
	eng := newFakeEngine()
	rctx := &fakeContext{engine: eng}
	tokens := make([]llamaruntime.Token, 10)
	for i := range tokens {
		tokens[i] = llamaruntime.Token(100 + i)
	}

	next, err := NewBatchIngester(rctx, 4).Ingest(tokens, 0)
	if err != nil {
		t.Fatalf("Ingest() returned error: %v", err)
	}
	if next != 10 {
		t.Errorf("next position = %d, want 10", next)
	}

	batches := rctx.recorded()
	if len(batches) != 3 || len(batches[0]) != 4 || len(batches[1]) != 4 || len(batches[2]) != 2 {
		t.Fatalf("batch shapes = %d batches", len(batches))
	}
	pos := 0
	for _, b := range batches {
		for _, e := range b {
			if e.Pos != pos || e.Token != tokens[pos] {
				t.Errorf("entry %+v at index %d", e, pos)
			}
			if e.Logits != (pos == 9) {
				t.Errorf("position %d logits = %v", pos, e.Logits)
			}
			pos++
		}
	}
}

func TestBatchIngester_Errors(t *testing.T) {
	eng := newFakeEngine()
	rctx := &fakeContext{engine: eng}

	if _, err := NewBatchIngester(rctx, 4).Ingest(nil, 0); !errors.Is(err, ErrInferenceFailed) {
		t.Errorf("empty Ingest() error = %v, want ErrInferenceFailed", err)
	}

	eng.failDecode = 2
	eng.decodeErr = llamaruntime.ErrDecodeFailed
	_, err := NewBatchIngester(rctx, 4).Ingest(make([]llamaruntime.Token, 10), 0)
	if !errors.Is(err, ErrInferenceFailed) || !errors.Is(err, llamaruntime.ErrDecodeFailed) {
		t.Errorf("Ingest() error = %v, want both ErrInferenceFailed and ErrDecodeFailed", err)
	}
	if !strings.Contains(err.Error(), "position 4") {
		t.Errorf("error %q does not name the failing chunk", err)
	}
}
