package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"leveler/llamaruntime"
	"leveler/session"
)

// Environment variables read by LoadConfig.
const (
	EnvModelPath        = "LEVELER_MODEL_PATH"
	EnvProfile          = "LEVELER_PROFILE"
	EnvDataDir          = "LEVELER_DATA_DIR"
	EnvContextSize      = "LEVELER_CONTEXT_SIZE"
	EnvBatchSize        = "LEVELER_BATCH_SIZE"
	EnvThreads          = "LEVELER_THREADS"
	EnvGPULayers        = "LEVELER_GPU_LAYERS"
	EnvMaxInputTokens   = "LEVELER_MAX_INPUT_TOKENS"
	EnvMaxPromptTokens  = "LEVELER_MAX_PROMPT_TOKENS"
	EnvContextMargin    = "LEVELER_CONTEXT_MARGIN"
	EnvMinFreeMemory    = "LEVELER_MIN_FREE_MEMORY"
	EnvCallerTokenLimit = "LEVELER_CALLER_TOKEN_LIMIT"
	EnvLogFile          = "LEVELER_LOG_FILE"
	EnvDevMode          = "DEV_MODE"
	EnvHTTPAddr         = "LEVELER_HTTP_ADDR"
	EnvQueueTimeout     = "LEVELER_QUEUE_TIMEOUT"
	EnvCORSOrigins      = "LEVELER_CORS_ORIGINS"
	EnvShutdownTimeout  = "LEVELER_SHUTDOWN_TIMEOUT"
)

// Defaults for settings outside the session.
const (
	DefaultModelPath        = "models/model.gguf"
	DefaultCallerTokenLimit = 1200
	DefaultHTTPAddr         = "127.0.0.1:8765"
	DefaultQueueTimeout     = 30 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DatabaseFileName        = "leveler.db"
	LogFileName             = "leveler.log"
)

// Config holds all configuration values.
type Config struct {
	ModelPath   string
	ProfilePath string
	DataDir     string

	// Session limits and sampling, with the profile applied.
	Session session.Config

	// CallerTokenLimit is the CL100K limit checked before a request reaches the session.
	CallerTokenLimit int

	LogFile string
	DevMode bool

	HTTPAddr        string
	QueueTimeout    time.Duration
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// LoadConfig reads LEVELER_* variables over the defaults, applies the
// sampling profile if one is named, and validates the result.
func LoadConfig() (*Config, error) {
	defaults := session.DefaultConfig()
	dataDir := GetDataDirectory()

	cfg := &Config{
		ModelPath:   GetEnvOrDefault(EnvModelPath, DefaultModelPath),
		ProfilePath: GetEnvOrDefault(EnvProfile, ""),
		DataDir:     dataDir,
		Session: session.Config{
			ContextSize:     ParseIntEnv(EnvContextSize, defaults.ContextSize),
			BatchSize:       ParseIntEnv(EnvBatchSize, defaults.BatchSize),
			Threads:         ParseIntEnv(EnvThreads, defaults.Threads),
			GPULayers:       ParseIntEnv(EnvGPULayers, defaults.GPULayers),
			MaxInputTokens:  ParseIntEnv(EnvMaxInputTokens, defaults.MaxInputTokens),
			MaxPromptTokens: ParseIntEnv(EnvMaxPromptTokens, defaults.MaxPromptTokens),
			ContextMargin:   ParseIntEnv(EnvContextMargin, defaults.ContextMargin),
			MinFreeMemory:   uint64(ParseBytesEnv(EnvMinFreeMemory, int64(defaults.MinFreeMemory))),

			TierCaps:               defaults.TierCaps,
			FewShotMaxPromptTokens: defaults.FewShotMaxPromptTokens,
			FewShotMinWords:        defaults.FewShotMinWords,
			Sampling:               defaults.Sampling,
		},
		CallerTokenLimit: ParseIntEnv(EnvCallerTokenLimit, DefaultCallerTokenLimit),
		LogFile:          GetEnvOrDefault(EnvLogFile, filepath.Join(dataDir, LogFileName)),
		DevMode:          ParseBoolEnv(EnvDevMode, false),
		HTTPAddr:         GetEnvOrDefault(EnvHTTPAddr, DefaultHTTPAddr),
		QueueTimeout:     ParseDurationEnv(EnvQueueTimeout, DefaultQueueTimeout),
		CORSOrigins:      ParseListEnv(EnvCORSOrigins),
		ShutdownTimeout:  ParseDurationEnv(EnvShutdownTimeout, DefaultShutdownTimeout),
	}

	if cfg.ProfilePath != "" {
		profile, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		profile.Apply(&cfg.Session)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFileName)
}

// ValidateConfig returns the first problem as a *ConfigError.
func ValidateConfig(cfg *Config) error {
	if cfg.ModelPath == "" {
		return ErrMissingConfig(EnvModelPath)
	}
	if cfg.DataDir == "" {
		return ErrMissingConfig(EnvDataDir)
	}
	if err := cfg.Session.Validate(); err != nil {
		return ErrInvalidLimit("session limits", err)
	}
	if cfg.Session.MinFreeMemory == 0 {
		return ErrInvalidLimit(EnvMinFreeMemory, fmt.Errorf("must be positive"))
	}
	if cfg.CallerTokenLimit < 1 {
		return ErrInvalidLimit(EnvCallerTokenLimit, fmt.Errorf("must be positive, got %d", cfg.CallerTokenLimit))
	}
	if cfg.HTTPAddr == "" {
		return ErrMissingConfig(EnvHTTPAddr)
	}
	if cfg.QueueTimeout < 0 {
		return ErrInvalidLimit(EnvQueueTimeout, fmt.Errorf("must not be negative, got %s", cfg.QueueTimeout))
	}
	if s := cfg.Session.Sampling; s.Temperature < 0 || s.TopP < 0 || s.TopP > 1 || s.MinP < 0 || s.MinP > 1 {
		return ErrInvalidLimit("sampling", fmt.Errorf("temperature %.2f, top_p %.2f, min_p %.2f out of range",
			s.Temperature, s.TopP, s.MinP))
	}
	return nil
}

// ValidateModel checks the configured model file and maps failures to ConfigErrors.
func ValidateModel(path string) error {
	if err := llamaruntime.ValidateModelFile(path); err != nil {
		if errors.Is(err, llamaruntime.ErrModelNotFound) {
			return ErrModelNotFound(path, err)
		}
		return ErrInvalidModel(path, err)
	}
	return nil
}
