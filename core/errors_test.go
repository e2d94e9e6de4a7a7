package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"leveler/llamaruntime"
)

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		contains []string
	}{
		{
			name:     "error with action",
			err:      &ConfigError{Code: "TEST_CODE", Message: "Test message", Action: "Take this action"},
			contains: []string{"Test message", "Take this action"},
		},
		{
			name:     "error without action",
			err:      &ConfigError{Code: "TEST_CODE", Message: "Test message only"},
			contains: []string{"Test message only"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(errStr, s) {
					t.Errorf("ConfigError.Error() = %q, expected to contain %q", errStr, s)
				}
			}
		})
	}
}

func TestConfigErrorConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      *ConfigError
		code     string
		mentions string
	}{
		{"missing config", ErrMissingConfig("LEVELER_MODEL_PATH"), ErrCodeMissingConfig, "LEVELER_MODEL_PATH"},
		{"model not found", ErrModelNotFound("/m/x.gguf", cause), ErrCodeModelNotFound, "/m/x.gguf"},
		{"invalid model", ErrInvalidModel("/m/x.gguf", cause), ErrCodeInvalidModel, "GGUF"},
		{"invalid limit", ErrInvalidLimit("LEVELER_BATCH_SIZE", cause), ErrCodeInvalidLimit, "LEVELER_BATCH_SIZE"},
		{"invalid profile", ErrInvalidProfile("p.ini", cause), ErrCodeInvalidProfile, "p.ini"},
		{"data directory", ErrDataDirectory("/ro", cause), ErrCodeDataDirectory, "LEVELER_DATA_DIR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if !strings.Contains(tt.err.Error(), tt.mentions) {
				t.Errorf("Error() = %q, expected to mention %q", tt.err.Error(), tt.mentions)
			}
			if tt.err.Action == "" {
				t.Error("Action is empty")
			}
		})
	}

	if !errors.Is(ErrModelNotFound("x", llamaruntime.ErrModelNotFound), llamaruntime.ErrModelNotFound) {
		t.Error("ConfigError does not unwrap to its cause")
	}
}

func TestIsConfigError(t *testing.T) {
	wrapped := fmt.Errorf("startup: %w", ErrMissingConfig("X"))

	if ce, ok := IsConfigError(wrapped); !ok || ce.Code != ErrCodeMissingConfig {
		t.Errorf("IsConfigError(wrapped) = %v, %v", ce, ok)
	}
	if _, ok := IsConfigError(errors.New("plain")); ok {
		t.Error("IsConfigError(plain) = true")
	}
	if got := GetErrorCode(wrapped); got != ErrCodeMissingConfig {
		t.Errorf("GetErrorCode() = %q", got)
	}
	if got := GetErrorCode(nil); got != "" {
		t.Errorf("GetErrorCode(nil) = %q", got)
	}
}
