package model

import (
	"math"

	"synthdetect/pkg/tensor"
)

// PatchBackbone is a deterministic stand-in encoder used when no
// pretrained network is wired in. It tiles the image into a fixed grid and
// emits hand-engineered per-cell statistics as channels, which is enough
// structure for the fusion head to train against and for saliency maps to
// localize. It has no trainable parameters, matching the frozen-backbone
// contract.
type PatchBackbone struct {
	// Grid is the spatial resolution of the output activation.
	Grid int
}

// Output channel meanings, in order: mean R/G/B, std R/G/B, edge energy,
// mean luminance.
const patchChannels = 8

// NewPatchBackbone returns a backbone with the given grid size (7 if
// non-positive, the spatial resolution of common encoder final stages).
func NewPatchBackbone(grid int) *PatchBackbone {
	if grid <= 0 {
		grid = 7
	}
	return &PatchBackbone{Grid: grid}
}

// Channels reports the fixed channel count of the activation.
func (b *PatchBackbone) Channels() int {
	return patchChannels
}

// Forward computes the per-cell statistics volume. Cells smaller than one
// pixel contribute zeros.
func (b *PatchBackbone) Forward(img *tensor.Volume) *tensor.Volume {
	out := tensor.NewVolume(patchChannels, b.Grid, b.Grid)
	lum := tensor.Luminance(img)

	r := img.Channel(0)
	g := r
	bl := r
	if img.C >= 3 {
		g = img.Channel(1)
		bl = img.Channel(2)
	}

	for gy := 0; gy < b.Grid; gy++ {
		y0 := gy * img.H / b.Grid
		y1 := (gy + 1) * img.H / b.Grid
		for gx := 0; gx < b.Grid; gx++ {
			x0 := gx * img.W / b.Grid
			x1 := (gx + 1) * img.W / b.Grid
			if y1 <= y0 || x1 <= x0 {
				continue
			}

			var sumR, sumG, sumB, sumL float64
			var sqR, sqG, sqB float64
			var edge float64
			n := float64((y1 - y0) * (x1 - x0))
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					i := y*img.W + x
					sumR += r[i]
					sumG += g[i]
					sumB += bl[i]
					sumL += lum.Data[i]
					sqR += r[i] * r[i]
					sqG += g[i] * g[i]
					sqB += bl[i] * bl[i]
					if x+1 < img.W {
						edge += math.Abs(lum.Data[i+1] - lum.Data[i])
					}
					if y+1 < img.H {
						edge += math.Abs(lum.Data[i+img.W] - lum.Data[i])
					}
				}
			}

			meanR, meanG, meanB := sumR/n, sumG/n, sumB/n
			out.Set(0, gy, gx, meanR)
			out.Set(1, gy, gx, meanG)
			out.Set(2, gy, gx, meanB)
			out.Set(3, gy, gx, math.Sqrt(math.Max(0, sqR/n-meanR*meanR)))
			out.Set(4, gy, gx, math.Sqrt(math.Max(0, sqG/n-meanG*meanG)))
			out.Set(5, gy, gx, math.Sqrt(math.Max(0, sqB/n-meanB*meanB)))
			out.Set(6, gy, gx, edge/n)
			out.Set(7, gy, gx, sumL/n)
		}
	}
	return out
}
