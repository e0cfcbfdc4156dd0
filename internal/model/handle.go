package model

import (
	"fmt"
	"image"
	"io"
)

// Runner executes a forward pass on a flattened input tensor.
type Runner interface {
	Run(input []float32) ([]float32, error)
}

// Handle is a loaded model plus the preprocessing it expects. It is never
// mutated after construction and may be shared by any number of goroutines.
type Handle struct {
	runner    Runner
	transform Transform
	meta      Metadata
}

func NewHandle(runner Runner, transform Transform, meta Metadata) *Handle {
	return &Handle{runner: runner, transform: transform, meta: meta}
}

// Load reads the metadata file and opens the ONNX graph it describes.
func Load(modelPath, metadataPath string, opts Options) (*Handle, error) {
	meta, err := ReadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	session, err := OpenSession(modelPath, meta, opts)
	if err != nil {
		return nil, err
	}
	return NewHandle(session, meta.Transform(), meta), nil
}

func (h *Handle) Metadata() Metadata {
	return h.meta
}

func (h *Handle) Transform() Transform {
	return h.transform
}

// Logits preprocesses img and runs the model on it.
func (h *Handle) Logits(img image.Image) ([]float32, error) {
	input := h.transform.Apply(img)
	out, err := h.runner.Run(input)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model returned no outputs")
	}
	return out, nil
}

// Probabilities is Logits followed by Softmax.
func (h *Handle) Probabilities(img image.Image) ([]float64, error) {
	logits, err := h.Logits(img)
	if err != nil {
		return nil, err
	}
	return Softmax(logits), nil
}

func (h *Handle) Close() error {
	if c, ok := h.runner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
