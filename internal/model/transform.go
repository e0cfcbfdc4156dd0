package model

import (
	"image"

	"github.com/nfnt/resize"
)

// Transform turns an image into a normalised CHW float32 tensor.
//
// With ResizeTo set, the shorter side is scaled to ResizeTo and a centred
// Size x Size square is cropped out (torchvision's ImageNet eval transform).
// Otherwise the image is stretched straight to Size x Size.
type Transform struct {
	Size     int
	ResizeTo int
	Mean     [3]float32
	Std      [3]float32
}

// Len is the number of float32 values Apply produces.
func (t Transform) Len() int {
	return 3 * t.Size * t.Size
}

// Apply is pure: the same image always yields the same tensor.
func (t Transform) Apply(img image.Image) []float32 {
	size := t.Size
	var resized image.Image
	if t.ResizeTo > 0 {
		shorter := t.ResizeTo
		if shorter < size {
			shorter = size
		}
		b := img.Bounds()
		if b.Dx() <= b.Dy() {
			resized = resize.Resize(uint(shorter), 0, img, resize.Bilinear)
		} else {
			resized = resize.Resize(0, uint(shorter), img, resize.Bilinear)
		}
	} else {
		resized = resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	}

	bounds := resized.Bounds()
	x0 := bounds.Min.X + (bounds.Dx()-size)/2
	y0 := bounds.Min.Y + (bounds.Dy()-size)/2

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x0+x, y0+y).RGBA()

			i := y*size + x
			data[i] = (float32(r)/65535.0 - t.Mean[0]) / t.Std[0]
			data[plane+i] = (float32(g)/65535.0 - t.Mean[1]) / t.Std[1]
			data[2*plane+i] = (float32(b)/65535.0 - t.Mean[2]) / t.Std[2]
		}
	}
	return data
}
