package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// MaxPixels bounds the decoded size of one upload. A small compressed
	// file can otherwise expand to gigabytes.
	MaxPixels = 50_000_000
	// MaxAspectRatio bounds the longer side against the shorter one.
	MaxAspectRatio = 20
)

var (
	ErrEmpty         = errors.New("empty image data")
	ErrTooManyPixels = errors.New("image dimensions too large")
	ErrAspectRatio   = errors.New("image aspect ratio too extreme")
)

// Decode turns raw bytes into an opaque RGB image. Alpha is dropped rather
// than composited, so transparent pixels keep their colour.
func Decode(data []byte) (*image.RGBA, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if err := CheckDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, format, err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, format, fmt.Errorf("decode image: %s has no pixels", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst, format, nil
}

// CheckDimensions rejects images too large or too elongated to preprocess.
func CheckDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("decode image: %dx%d has no pixels", width, height)
	}
	if int64(width)*int64(height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooManyPixels, width, height, MaxPixels)
	}
	long, short := width, height
	if short > long {
		long, short = short, long
	}
	if long > short*MaxAspectRatio {
		return fmt.Errorf("%w: %dx%d", ErrAspectRatio, width, height)
	}
	return nil
}
