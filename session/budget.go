package session

import (
	"fmt"

	"leveler/llamaruntime"
)

// BudgetValidator enforces the token ceilings before any decode runs.
type BudgetValidator struct {
	model llamaruntime.Model
	cfg   Config
}

// NewBudgetValidator returns a validator using model's tokenizer.
func NewBudgetValidator(model llamaruntime.Model, cfg Config) *BudgetValidator {
	return &BudgetValidator{model: model, cfg: cfg}
}

// BudgetResult carries the token counts measured during validation.
type BudgetResult struct {
	InputTokens  int
	PromptTokens []llamaruntime.Token
}

// Validate checks, in order: raw input against MaxInputTokens, the formatted
// prompt against MaxPromptTokens, and the prompt plus ContextMargin against
// ContextSize. It returns the prompt tokens for ingestion.
func (v *BudgetValidator) Validate(input string, prompt FormattedPrompt) (BudgetResult, error) {
	inputTokens, err := v.model.Tokenize(input, false)
	if err != nil {
		return BudgetResult{}, fmt.Errorf("%w: tokenize input: %v", ErrInferenceFailed, err)
	}
	res := BudgetResult{InputTokens: len(inputTokens)}
	if len(inputTokens) > v.cfg.MaxInputTokens {
		return res, fmt.Errorf("%w: input is %d tokens, limit %d", ErrTokenLimitExceeded, len(inputTokens), v.cfg.MaxInputTokens)
	}

	promptTokens, err := v.model.Tokenize(prompt.Text, true)
	if err != nil {
		return res, fmt.Errorf("%w: tokenize prompt: %v", ErrInferenceFailed, err)
	}
	n := len(promptTokens)
	if n > v.cfg.MaxPromptTokens {
		return res, fmt.Errorf("%w: prompt is %d tokens, limit %d", ErrContextOverflow, n, v.cfg.MaxPromptTokens)
	}
	if n+v.cfg.ContextMargin > v.cfg.ContextSize {
		return res, fmt.Errorf("%w: prompt is %d tokens, needs %d of headroom in a %d-token context",
			ErrContextOverflow, n, v.cfg.ContextMargin, v.cfg.ContextSize)
	}

	res.PromptTokens = promptTokens
	return res, nil
}
