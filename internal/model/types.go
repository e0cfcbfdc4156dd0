package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// ImageNet normalisation used by both the torchvision backbones we export.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Metadata describes an exported ONNX graph and the preprocessing it expects.
type Metadata struct {
	InputName   string    `json:"input_name"`
	OutputName  string    `json:"output_name"`
	InputShape  []int64   `json:"input_shape"`
	OutputShape []int64   `json:"output_shape"`
	Classes     []string  `json:"classes,omitempty"`
	ImageSize   int       `json:"image_size"`
	ResizeTo    int       `json:"resize_to,omitempty"`
	Mean        []float32 `json:"mean,omitempty"`
	Std         []float32 `json:"std,omitempty"`
}

// Score is one entry of a probability distribution.
type Score struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ReadMetadata loads a metadata file and fills in defaults for anything missing.
func ReadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.normalize(); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return meta, nil
}

func (m *Metadata) normalize() error {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.ImageSize <= 0 {
		m.ImageSize = 224
	}
	if len(m.InputShape) == 0 {
		m.InputShape = []int64{1, 3, int64(m.ImageSize), int64(m.ImageSize)}
	}
	if len(m.Mean) == 0 {
		m.Mean = ImageNetMean[:]
	}
	if len(m.Std) == 0 {
		m.Std = ImageNetStd[:]
	}
	if len(m.Mean) != 3 || len(m.Std) != 3 {
		return fmt.Errorf("mean and std need 3 channels, got %d and %d", len(m.Mean), len(m.Std))
	}
	for _, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("std must be non-zero")
		}
	}
	if len(m.OutputShape) == 0 && len(m.Classes) > 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
	return nil
}

// OutputWidth is the size of the last output dimension, or 0 when unknown.
func (m Metadata) OutputWidth() int {
	if len(m.OutputShape) == 0 {
		return 0
	}
	w := m.OutputShape[len(m.OutputShape)-1]
	if w < 0 {
		return 0
	}
	return int(w)
}

// Transform builds the preprocessing described by the metadata.
func (m Metadata) Transform() Transform {
	t := Transform{Size: m.ImageSize, ResizeTo: m.ResizeTo, Mean: ImageNetMean, Std: ImageNetStd}
	if len(m.Mean) == 3 && len(m.Std) == 3 {
		copy(t.Mean[:], m.Mean)
		copy(t.Std[:], m.Std)
	}
	return t
}
