// Package imaging provides image loading and conversion into the tensor
// layout the detector consumes.
package imaging

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"synthdetect/pkg/tensor"
)

// Load decodes an image file (PNG, JPEG, or TIFF).
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Prepare scales an image to size×size and converts it to a 3×H×W tensor
// with channel values in [0,1].
func Prepare(img image.Image, size int) *tensor.Volume {
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	return ToTensor(scaled)
}

// ToTensor converts an image to a 3×H×W tensor in [0,1] without scaling.
func ToTensor(img image.Image) *tensor.Volume {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	out := tensor.NewVolume(3, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.Set(0, y, x, float64(r)/65535.0)
			out.Set(1, y, x, float64(g)/65535.0)
			out.Set(2, y, x, float64(b)/65535.0)
		}
	}
	return out
}
