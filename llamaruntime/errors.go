package llamaruntime

import (
	"errors"
	"fmt"
)

// LlamaError represents an error from llama.cpp operations.
// It carries the operation that failed, the return code from the C layer
// and a descriptive message.
type LlamaError struct {
	Op      string // Operation that failed (e.g., "loadModel", "decode")
	Code    int    // Return code from the C layer (0 = success)
	Message string // Human-readable error message
	Err     error  // Wrapped underlying error (if any)
}

// Error implements the error interface.
func (e *LlamaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llama.cpp %s: %s (code: %d): %v", e.Op, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("llama.cpp %s: %s (code: %d)", e.Op, e.Message, e.Code)
}

// Unwrap allows errors.Is and errors.As to see the wrapped sentinel.
func (e *LlamaError) Unwrap() error {
	return e.Err
}

// Sentinel errors for common failure conditions.
var (
	// ErrModelNotFound indicates the model file was not found at the specified path.
	ErrModelNotFound = errors.New("model file not found")

	// ErrInvalidModelFile indicates the file exists but is not a usable GGUF file.
	ErrInvalidModelFile = errors.New("invalid model file")

	// ErrModelLoadFailed indicates llama.cpp could not load the weights.
	ErrModelLoadFailed = errors.New("failed to load model")

	// ErrContextCreateFailed indicates failure to create an inference context.
	ErrContextCreateFailed = errors.New("failed to create inference context")

	// ErrSamplerInitFailed indicates the sampler chain could not be built.
	ErrSamplerInitFailed = errors.New("failed to initialize sampler")

	// ErrTokenizeFailed indicates tokenization failed even after growing the buffer.
	ErrTokenizeFailed = errors.New("tokenization failed")

	// ErrDecodeFailed indicates llama_decode returned a non-zero status.
	ErrDecodeFailed = errors.New("decode failed")

	// ErrBackendUnavailable is returned by builds without the llama.cpp backend.
	ErrBackendUnavailable = errors.New("llama.cpp backend not available in this build")
)
