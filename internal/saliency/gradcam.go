// Package saliency produces gradient-weighted class-activation maps that
// attribute a decision to spatial regions, needed so forensic claims can
// be audited.
package saliency

import (
	"fmt"

	"synthdetect/pkg/tensor"
)

// Source yields the spatial activation of a designated layer together with
// the gradient of a class score with respect to it, in one explicit call.
type Source interface {
	ScoreGradient(img *tensor.Volume, targetClass int) (activation, grad *tensor.Volume)
}

// Mapper computes Grad-CAM heatmaps from a gradient source.
type Mapper struct {
	source Source
}

// NewMapper wraps a gradient source.
func NewMapper(source Source) *Mapper {
	return &Mapper{source: source}
}

// Heatmap returns a non-negative 2-D attribution map for the target class
// at the activation layer's spatial resolution. Per-channel importance is
// the spatial mean of that channel's gradient; negative contributions are
// clipped so only evidence for the class is visualized, and the map is
// normalized by its maximum. An all-zero map is returned unchanged rather
// than divided by zero.
func (m *Mapper) Heatmap(img *tensor.Volume, targetClass int) (*tensor.Plane, error) {
	activation, grad := m.source.ScoreGradient(img, targetClass)
	if activation == nil || grad == nil {
		return nil, fmt.Errorf("no activation gradient captured for class %d", targetClass)
	}
	if activation.C != grad.C || activation.H != grad.H || activation.W != grad.W {
		return nil, fmt.Errorf("activation %dx%dx%d and gradient %dx%dx%d shapes differ",
			activation.C, activation.H, activation.W, grad.C, grad.H, grad.W)
	}

	area := float64(activation.H * activation.W)
	cam := tensor.NewPlane(activation.H, activation.W)
	for c := 0; c < activation.C; c++ {
		gch := grad.Channel(c)
		weight := 0.0
		for _, v := range gch {
			weight += v
		}
		weight /= area

		ach := activation.Channel(c)
		for i, v := range ach {
			cam.Data[i] += weight * v
		}
	}

	maxVal := 0.0
	for i, v := range cam.Data {
		if v < 0 {
			cam.Data[i] = 0
		} else if v > maxVal {
			maxVal = v
		}
	}
	if maxVal > 0 {
		for i := range cam.Data {
			cam.Data[i] /= maxVal
		}
	}
	return cam, nil
}
