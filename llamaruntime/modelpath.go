// Package llamaruntime provides the inference engine boundary.
// This file contains atom functions for model path resolution and validation.
//
// These are pure functions with no dependencies on external state.
package llamaruntime

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// GGUFMagic is the four-byte header of every GGUF file.
const GGUFMagic = "GGUF"

// MinModelSize is the smallest file accepted as a usable model. Anything
// smaller is a truncated download or a placeholder.
const MinModelSize int64 = 100 * 1024 * 1024

// =============================================================================
// Model Path Validation Atoms
// =============================================================================

// ValidateModelPath checks that path names a readable .gguf file carrying the
// GGUF magic number. Errors wrap ErrModelNotFound or ErrInvalidModelFile.
func ValidateModelPath(path string) error {
	if path == "" {
		return &LlamaError{Op: "validateModel", Code: -1, Message: "model path is empty", Err: ErrModelNotFound}
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &LlamaError{Op: "validateModel", Code: -1, Message: fmt.Sprintf("no file at %s", path), Err: ErrModelNotFound}
	}
	if err != nil {
		return &LlamaError{Op: "validateModel", Code: -1, Message: "cannot access model file", Err: fmt.Errorf("%w: %v", ErrModelNotFound, err)}
	}
	if info.IsDir() {
		return &LlamaError{Op: "validateModel", Code: -1, Message: fmt.Sprintf("%s is a directory", path), Err: ErrInvalidModelFile}
	}
	if !IsGGUFFile(path) {
		return &LlamaError{Op: "validateModel", Code: -1, Message: fmt.Sprintf("%s does not have a .gguf extension", path), Err: ErrInvalidModelFile}
	}

	f, err := os.Open(path)
	if err != nil {
		return &LlamaError{Op: "validateModel", Code: -1, Message: "cannot open model file", Err: fmt.Errorf("%w: %v", ErrInvalidModelFile, err)}
	}
	defer f.Close()

	header := make([]byte, len(GGUFMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return &LlamaError{Op: "validateModel", Code: -1, Message: "cannot read model file header", Err: ErrInvalidModelFile}
	}
	if string(header) != GGUFMagic {
		return &LlamaError{Op: "validateModel", Code: -1, Message: fmt.Sprintf("magic number mismatch (got %q)", string(header)), Err: ErrInvalidModelFile}
	}

	return nil
}

// ValidateModelFile runs ValidateModelPath and additionally rejects files
// smaller than MinModelSize.
func ValidateModelFile(path string) error {
	if err := ValidateModelPath(path); err != nil {
		return err
	}
	if size := GetModelSize(path); size < MinModelSize {
		return &LlamaError{
			Op:      "validateModel",
			Code:    -1,
			Message: fmt.Sprintf("model file is %d bytes, expected at least %d", size, MinModelSize),
			Err:     ErrInvalidModelFile,
		}
	}
	return nil
}

// IsGGUFFile returns true if the path has a .gguf extension.
func IsGGUFFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gguf")
}

// ResolveModelPath resolves a relative model path against modelsDir.
// Absolute paths are returned as-is.
func ResolveModelPath(path, modelsDir string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	if modelsDir == "" {
		modelsDir = "."
	}
	return filepath.Join(modelsDir, path)
}

// ModelExists checks if a regular file exists at the given path.
func ModelExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// GetModelSize returns the size of the model file in bytes, or 0.
func GetModelSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// ExtractModelName extracts the model name from a file path.
// For "models/gemma-3-1b-it-q4_k_m.gguf", returns "gemma-3-1b-it-q4_k_m".
func ExtractModelName(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
