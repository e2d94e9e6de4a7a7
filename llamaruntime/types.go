// Package llamaruntime provides the inference engine boundary.
// This file contains pure Go types and constants - no CGo dependencies.
package llamaruntime

import "fmt"

// =============================================================================
// Default Constants
// =============================================================================

const (
	// DefaultContextSize is the default context window size in tokens.
	DefaultContextSize = 2048

	// DefaultBatchSize is the maximum number of tokens per decode call.
	DefaultBatchSize = 128

	// DefaultNumThreads is the default number of CPU threads for inference.
	DefaultNumThreads = 4

	// DefaultNumGPULayers keeps every layer on the CPU.
	DefaultNumGPULayers = 0

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7

	// DefaultTopP is the default top-p (nucleus) threshold.
	DefaultTopP = 0.9

	// DefaultTopK is the default top-k candidate count.
	DefaultTopK = 40

	// DefaultMinP is the default minimum-probability floor.
	DefaultMinP = 0.05

	// DefaultRepeatPenalty is the default repetition penalty.
	DefaultRepeatPenalty = 1.1

	// DefaultPenaltyLastN is how many recent tokens the penalties look at.
	DefaultPenaltyLastN = 64

	// MinContextSize is the minimum allowed context size.
	MinContextSize = 256

	// MaxContextSize is the maximum allowed context size.
	MaxContextSize = 32768
)

// =============================================================================
// Parameter Types
// =============================================================================

// ModelParams configures weight loading.
type ModelParams struct {
	// NumGPULayers is passed through to llama.cpp. 0 keeps the model on the CPU.
	NumGPULayers int

	// UseMMap enables memory-mapped loading. Defaults to true.
	UseMMap bool

	// UseMlock pins the weights in RAM.
	UseMlock bool
}

// DefaultModelParams returns CPU-only, memory-mapped loading.
func DefaultModelParams() ModelParams {
	return ModelParams{
		NumGPULayers: DefaultNumGPULayers,
		UseMMap:      true,
	}
}

// ContextParams configures a runtime context.
type ContextParams struct {
	ContextSize int
	BatchSize   int
	NumThreads  int
}

// DefaultContextParams returns the default context configuration.
func DefaultContextParams() ContextParams {
	return ContextParams{
		ContextSize: DefaultContextSize,
		BatchSize:   DefaultBatchSize,
		NumThreads:  DefaultNumThreads,
	}
}

// Validate checks that the context parameters are usable.
func (p ContextParams) Validate() error {
	if p.ContextSize < MinContextSize || p.ContextSize > MaxContextSize {
		return fmt.Errorf("context size %d out of range [%d, %d]", p.ContextSize, MinContextSize, MaxContextSize)
	}
	if p.BatchSize < 1 || p.BatchSize > p.ContextSize {
		return fmt.Errorf("batch size %d out of range [1, %d]", p.BatchSize, p.ContextSize)
	}
	if p.NumThreads < 1 {
		return fmt.Errorf("thread count must be positive, got %d", p.NumThreads)
	}
	return nil
}

// SamplingParams are fixed per model profile. The penalty history they
// drive is reset at the start of every generation.
type SamplingParams struct {
	Temperature      float32 `yaml:"temperature" toml:"temperature" json:"temperature"`
	TopP             float32 `yaml:"top_p" toml:"top_p" json:"top_p"`
	TopK             int     `yaml:"top_k" toml:"top_k" json:"top_k"`
	MinP             float32 `yaml:"min_p" toml:"min_p" json:"min_p"`
	RepeatPenalty    float32 `yaml:"repeat_penalty" toml:"repeat_penalty" json:"repeat_penalty"`
	FrequencyPenalty float32 `yaml:"frequency_penalty" toml:"frequency_penalty" json:"frequency_penalty"`
	PresencePenalty  float32 `yaml:"presence_penalty" toml:"presence_penalty" json:"presence_penalty"`
	PenaltyLastN     int     `yaml:"penalty_last_n" toml:"penalty_last_n" json:"penalty_last_n"`

	// Seed for the final distribution sampler. 0 lets llama.cpp pick one.
	Seed uint32 `yaml:"seed" toml:"seed" json:"seed"`
}

// DefaultSamplingParams returns the default sampling profile.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature:   DefaultTemperature,
		TopP:          DefaultTopP,
		TopK:          DefaultTopK,
		MinP:          DefaultMinP,
		RepeatPenalty: DefaultRepeatPenalty,
		PenaltyLastN:  DefaultPenaltyLastN,
	}
}

// UsesPenalties reports whether any repetition penalty is active.
func (p SamplingParams) UsesPenalties() bool {
	return p.PenaltyLastN != 0 &&
		(p.RepeatPenalty != 1.0 || p.FrequencyPenalty != 0 || p.PresencePenalty != 0)
}
