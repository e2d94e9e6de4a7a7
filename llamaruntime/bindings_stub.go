// Package llamaruntime provides the inference engine boundary.
// This file provides the Engine used when llama.cpp is not linked in.
//
//go:build !cgo || nocgo

package llamaruntime

// BackendAvailable reports whether this build links llama.cpp.
func BackendAvailable() bool { return false }

// NewEngine returns an engine whose LoadModel always fails with
// ErrBackendUnavailable after validating the model file.
func NewEngine() Engine {
	return stubEngine{}
}

type stubEngine struct{}

var _ Engine = stubEngine{}

func (stubEngine) LoadModel(path string, _ ModelParams) (Model, error) {
	if err := ValidateModelFile(path); err != nil {
		return nil, err
	}
	return nil, &LlamaError{
		Op:      "loadModel",
		Code:    -1,
		Message: "built without cgo; rebuild with CGO_ENABLED=1 and libllama available",
		Err:     ErrBackendUnavailable,
	}
}
