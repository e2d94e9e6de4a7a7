//go:build !cgo || nocgo

package llamaruntime

import (
	"errors"
	"testing"
)

func TestStubEngine_LoadModel(t *testing.T) {
	if BackendAvailable() {
		t.Fatal("BackendAvailable() = true in a nocgo build")
	}

	engine := NewEngine()

	if _, err := engine.LoadModel("", DefaultModelParams()); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("LoadModel(\"\") = %v, want ErrModelNotFound", err)
	}

	path := writeModelFile(t, "model.gguf", GGUFMagic, MinModelSize)
	model, err := engine.LoadModel(path, DefaultModelParams())
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("LoadModel() = %v, want ErrBackendUnavailable", err)
	}
	if model != nil {
		t.Error("LoadModel() returned a model without a backend")
	}
}
