package session

import (
	"fmt"

	"leveler/llamaruntime"
)

// =============================================================================
// Default Constants
// =============================================================================

const (
	DefaultMaxInputTokens         = 1000
	DefaultMaxPromptTokens        = 1200
	DefaultContextMargin          = 100
	DefaultShortTierCap           = 150
	DefaultMediumTierCap          = 300
	DefaultLongTierCap            = 500
	DefaultFewShotMaxPromptTokens = 400
	DefaultFewShotMinWords        = 15

	// DefaultMinFreeMemory is the preflight threshold (100 MiB).
	DefaultMinFreeMemory uint64 = 100 * 1024 * 1024
)

// TierCaps are the per-tier output token caps.
type TierCaps struct {
	Short  int `yaml:"short" toml:"short" json:"short"`
	Medium int `yaml:"medium" toml:"medium" json:"medium"`
	Long   int `yaml:"long" toml:"long" json:"long"`
}

// For returns the cap for tier.
func (c TierCaps) For(t Tier) int {
	switch t {
	case TierShort:
		return c.Short
	case TierMedium:
		return c.Medium
	default:
		return c.Long
	}
}

// Config holds the session limits. It is fixed for the lifetime of a session.
type Config struct {
	ContextSize int
	BatchSize   int
	Threads     int
	GPULayers   int

	MaxInputTokens  int
	MaxPromptTokens int
	ContextMargin   int

	TierCaps TierCaps

	FewShotMaxPromptTokens int
	FewShotMinWords        int

	MinFreeMemory uint64

	Sampling llamaruntime.SamplingParams

	// ExtraStopMarkers are appended to the built-in safety stop list.
	ExtraStopMarkers []string
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		ContextSize:            llamaruntime.DefaultContextSize,
		BatchSize:              llamaruntime.DefaultBatchSize,
		Threads:                llamaruntime.DefaultNumThreads,
		GPULayers:              llamaruntime.DefaultNumGPULayers,
		MaxInputTokens:         DefaultMaxInputTokens,
		MaxPromptTokens:        DefaultMaxPromptTokens,
		ContextMargin:          DefaultContextMargin,
		TierCaps:               TierCaps{Short: DefaultShortTierCap, Medium: DefaultMediumTierCap, Long: DefaultLongTierCap},
		FewShotMaxPromptTokens: DefaultFewShotMaxPromptTokens,
		FewShotMinWords:        DefaultFewShotMinWords,
		MinFreeMemory:          DefaultMinFreeMemory,
		Sampling:               llamaruntime.DefaultSamplingParams(),
	}
}

// applyDefaults fills zero-valued fields. GPULayers has no zero default
// because 0 is the intended value. A zero Sampling block is replaced whole
// so an explicit temperature of 0 in a profile is preserved.
func applyDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.ContextSize == 0 {
		cfg.ContextSize = d.ContextSize
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Threads == 0 {
		cfg.Threads = d.Threads
	}
	if cfg.MaxInputTokens == 0 {
		cfg.MaxInputTokens = d.MaxInputTokens
	}
	if cfg.MaxPromptTokens == 0 {
		cfg.MaxPromptTokens = d.MaxPromptTokens
	}
	if cfg.ContextMargin == 0 {
		cfg.ContextMargin = d.ContextMargin
	}
	if cfg.TierCaps.Short == 0 {
		cfg.TierCaps.Short = d.TierCaps.Short
	}
	if cfg.TierCaps.Medium == 0 {
		cfg.TierCaps.Medium = d.TierCaps.Medium
	}
	if cfg.TierCaps.Long == 0 {
		cfg.TierCaps.Long = d.TierCaps.Long
	}
	if cfg.FewShotMaxPromptTokens == 0 {
		cfg.FewShotMaxPromptTokens = d.FewShotMaxPromptTokens
	}
	if cfg.FewShotMinWords == 0 {
		cfg.FewShotMinWords = d.FewShotMinWords
	}
	if cfg.MinFreeMemory == 0 {
		cfg.MinFreeMemory = d.MinFreeMemory
	}
	if cfg.Sampling == (llamaruntime.SamplingParams{}) {
		cfg.Sampling = d.Sampling
	}
	return cfg
}

// Validate reports the first inconsistent limit.
func (c Config) Validate() error {
	if err := c.contextParams().Validate(); err != nil {
		return err
	}
	if c.MaxInputTokens < 1 {
		return fmt.Errorf("max input tokens must be positive, got %d", c.MaxInputTokens)
	}
	if c.MaxPromptTokens < c.MaxInputTokens {
		return fmt.Errorf("max prompt tokens (%d) is below max input tokens (%d)", c.MaxPromptTokens, c.MaxInputTokens)
	}
	if c.ContextMargin < 0 || c.ContextMargin >= c.ContextSize {
		return fmt.Errorf("context margin %d out of range [0, %d)", c.ContextMargin, c.ContextSize)
	}
	if c.TierCaps.Short < 1 || c.TierCaps.Medium < 1 || c.TierCaps.Long < 1 {
		return fmt.Errorf("tier caps must be positive, got %+v", c.TierCaps)
	}
	if c.GPULayers < -1 {
		return fmt.Errorf("gpu layers must be -1 or greater, got %d", c.GPULayers)
	}
	return nil
}

func (c Config) modelParams() llamaruntime.ModelParams {
	p := llamaruntime.DefaultModelParams()
	p.NumGPULayers = c.GPULayers
	return p
}

func (c Config) contextParams() llamaruntime.ContextParams {
	return llamaruntime.ContextParams{
		ContextSize: c.ContextSize,
		BatchSize:   c.BatchSize,
		NumThreads:  c.Threads,
	}
}
