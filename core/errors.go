package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Error codes for configuration errors
const (
	ErrCodeMissingConfig  = "MISSING_CONFIG"
	ErrCodeModelNotFound  = "MODEL_NOT_FOUND"
	ErrCodeInvalidModel   = "INVALID_MODEL"
	ErrCodeInvalidLimit   = "INVALID_LIMIT"
	ErrCodeInvalidProfile = "INVALID_PROFILE"
	ErrCodeDataDirectory  = "DATA_DIRECTORY"
)

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your environment or .env file", varName),
	}
}

// ErrModelNotFound returns an error for a model path that does not exist.
func ErrModelNotFound(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeModelNotFound,
		Message: fmt.Sprintf("Model file not found: %s", path),
		Action:  "Set LEVELER_MODEL_PATH to a downloaded .gguf model",
		Err:     cause,
	}
}

// ErrInvalidModel returns an error for a file that is not a usable GGUF model.
func ErrInvalidModel(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidModel,
		Message: fmt.Sprintf("Model file %s is not a valid GGUF model: %v", path, cause),
		Action:  "Download the model again; the file may be truncated or in another format",
		Err:     cause,
	}
}

// ErrInvalidLimit returns an error for an inconsistent numeric setting.
func ErrInvalidLimit(varName string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidLimit,
		Message: fmt.Sprintf("Invalid %s: %v", varName, cause),
		Action:  fmt.Sprintf("Check %s and the related limits in your environment", varName),
		Err:     cause,
	}
}

// ErrInvalidProfile returns an error for a sampling profile that cannot be read.
func ErrInvalidProfile(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidProfile,
		Message: fmt.Sprintf("Cannot read sampling profile %s: %v", path, cause),
		Action:  "Use a .yaml, .yml, .toml or .json file with a sampling section",
		Err:     cause,
	}
}

// ErrDataDirectory returns an error for a data directory that cannot be created.
func ErrDataDirectory(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeDataDirectory,
		Message: fmt.Sprintf("Cannot create data directory %s: %v", path, cause),
		Action:  "Set LEVELER_DATA_DIR to a writable directory",
		Err:     cause,
	}
}

// IsConfigError checks if an error is (or wraps) a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
