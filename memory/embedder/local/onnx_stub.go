//go:build !onnx

package local

import (
	"fmt"

	"github.com/becomeliminal/nim-memory/memory"
)

// ONNXConfig configures the ONNX model.
type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string
	Dimensions    int
}

// NewONNXModel is unavailable without the onnx build tag.
func NewONNXModel(ONNXConfig) (Model, error) {
	return nil, fmt.Errorf("%w: local embeddings require building with -tags onnx and an ONNX Runtime shared library", memory.ErrConfiguration)
}
