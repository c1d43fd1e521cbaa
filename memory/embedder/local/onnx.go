//go:build onnx

package local

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/nim-memory/memory"
)

// ONNXConfig configures the ONNX model.
type ONNXConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath is the ONNX Runtime shared library. Defaults to
	// ONNXRUNTIME_LIB.
	LibraryPath string

	// Dimensions is the hidden size. Zero means measure it from the model.
	Dimensions int
}

var (
	envOnce sync.Once
	envErr  error
)

// ONNXModel runs a sentence-transformer exported to ONNX with mean pooling
// and L2 normalisation.
type ONNXModel struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	dims      int

	// ONNX Runtime sessions are not safe for concurrent Run calls.
	mu sync.Mutex
}

// NewONNXModel loads the model and tokenizer.
func NewONNXModel(cfg ONNXConfig) (Model, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: local.model_path is required", memory.ErrConfiguration)
	}
	if cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("%w: local.tokenizer_path is required", memory.ErrConfiguration)
	}

	envOnce.Do(func() {
		lib := cfg.LibraryPath
		if lib == "" {
			lib = os.Getenv("ONNXRUNTIME_LIB")
		}
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", envErr)
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXModel{session: session, tokenizer: tokenizer, dims: cfg.Dimensions}, nil
}

// EmbedBatch embeds each text in turn.
func (m *ONNXModel) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured size or measures it with a probe.
func (m *ONNXModel) Dimensions() (int, error) {
	if m.dims > 0 {
		return m.dims, nil
	}
	vec, err := m.embed("Test")
	if err != nil {
		return 0, err
	}
	m.dims = len(vec)
	return m.dims, nil
}

// Close releases the session.
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func (m *ONNXModel) embed(text string) ([]float32, error) {
	enc := m.tokenizer.Encode(text, MaxSequenceLength)
	shape := ort.NewShape(1, int64(MaxSequenceLength))

	inputIDs, err := ort.NewTensor(shape, enc.InputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	mask, err := ort.NewTensor(shape, enc.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer mask.Destroy()

	typeIDs, err := ort.NewTensor(shape, enc.TokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	outputs := []ort.Value{nil}
	m.mu.Lock()
	err = m.session.Run([]ort.Value{inputIDs, mask, typeIDs}, outputs)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	data := tensor.GetData()
	shapeOut := tensor.GetShape()

	switch len(shapeOut) {
	case 2:
		// already pooled: [1, hidden]
		vec := make([]float32, shapeOut[1])
		copy(vec, data)
		return memory.Normalize(vec), nil
	case 3:
		return memory.Normalize(meanPool(data, enc.AttentionMask, int(shapeOut[1]), int(shapeOut[2]))), nil
	}
	return nil, fmt.Errorf("unexpected output shape %v", shapeOut)
}
