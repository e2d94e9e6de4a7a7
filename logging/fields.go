package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GenerationMetrics is the loggable summary of one generation. It never
// carries text, only counts and timings.
type GenerationMetrics struct {
	RequestID        string
	Tier             string
	Outcome          string
	InputWords       int
	PromptTokens     int
	GeneratedTokens  int
	FewShot          bool
	TimeToFirstToken time.Duration
	Duration         time.Duration
	TokensPerSecond  float64
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m GenerationMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if m.RequestID != "" {
		enc.AddString("request_id", m.RequestID)
	}
	enc.AddString("tier", m.Tier)
	enc.AddString("outcome", m.Outcome)
	enc.AddInt("input_words", m.InputWords)
	enc.AddInt("prompt_tokens", m.PromptTokens)
	enc.AddInt("generated_tokens", m.GeneratedTokens)
	enc.AddBool("few_shot", m.FewShot)
	enc.AddInt64("ttft_ms", m.TimeToFirstToken.Milliseconds())
	enc.AddInt64("duration_ms", m.Duration.Milliseconds())
	enc.AddFloat64("tokens_per_second", m.TokensPerSecond)
	return nil
}

// GenerationFields nests a generation summary under "generation".
func GenerationFields(m GenerationMetrics) zap.Field {
	return zap.Object("generation", m)
}

// TokenFields returns prompt/generated/total token count fields.
func TokenFields(prompt, generated int) []zap.Field {
	return []zap.Field{
		zap.Int("prompt_tokens", prompt),
		zap.Int("generated_tokens", generated),
		zap.Int("total_tokens", prompt+generated),
	}
}

// TimingFields returns start/end/duration/throughput fields.
func TimingFields(start, end time.Time, tokensPerSecond float64) []zap.Field {
	return []zap.Field{
		zap.Time("start_time", start),
		zap.Time("end_time", end),
		zap.Duration("duration", end.Sub(start)),
		zap.Float64("tokens_per_second", tokensPerSecond),
	}
}
