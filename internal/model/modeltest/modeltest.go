// Package modeltest provides in-memory model runners and images for tests
// that must not depend on the onnxruntime shared library.
package modeltest

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync/atomic"

	"github.com/Brownie44l1/damagex-api/internal/model"
)

// ErrRunner is returned by a Runner built with Failing.
var ErrRunner = errors.New("modeltest: forced runner failure")

// Runner is a model.Runner backed by a function of the input tensor.
type Runner struct {
	Fn    func(input []float32) ([]float32, error)
	calls atomic.Int64
}

func (r *Runner) Run(input []float32) ([]float32, error) {
	r.calls.Add(1)
	return r.Fn(input)
}

// Calls reports how many forward passes ran.
func (r *Runner) Calls() int64 {
	return r.calls.Load()
}

// Failing returns a runner whose every pass errors.
func Failing() *Runner {
	return &Runner{Fn: func([]float32) ([]float32, error) { return nil, ErrRunner }}
}

// Panicking returns a runner whose every pass panics.
func Panicking() *Runner {
	return &Runner{Fn: func([]float32) ([]float32, error) { panic("modeltest: forced panic") }}
}

// Hot returns n logits that are zero except for the given index/value pairs.
func Hot(n int, hot map[int]float32) []float32 {
	logits := make([]float32, n)
	for i, v := range hot {
		logits[i] = v
	}
	return logits
}

// ChannelMeans averages each plane of a CHW tensor.
func ChannelMeans(input []float32) [3]float32 {
	var means [3]float32
	plane := len(input) / 3
	if plane == 0 {
		return means
	}
	for c := 0; c < 3; c++ {
		var sum float32
		for _, v := range input[c*plane : (c+1)*plane] {
			sum += v
		}
		means[c] = sum / float32(plane)
	}
	return means
}

// Handle wraps a runner with a small transform suitable for tests.
func Handle(r model.Runner, size int) *model.Handle {
	meta := model.Metadata{ImageSize: size}
	return model.NewHandle(r, meta.Transform(), meta)
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// PNG encodes img as PNG bytes.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG encodes img as JPEG bytes.
func JPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
