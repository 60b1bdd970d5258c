package saliency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthdetect/pkg/tensor"
)

// fixedSource returns canned activation and gradient volumes.
type fixedSource struct {
	activation *tensor.Volume
	grad       *tensor.Volume
}

func (s *fixedSource) ScoreGradient(_ *tensor.Volume, _ int) (*tensor.Volume, *tensor.Volume) {
	return s.activation, s.grad
}

func fillVolume(c, h, w int, vals ...float64) *tensor.Volume {
	v := tensor.NewVolume(c, h, w)
	copy(v.Data, vals)
	return v
}

func TestHeatmapSingleChannel(t *testing.T) {
	// One 2x2 channel, gradient uniformly 1 so the channel weight is 1;
	// the map is the activation clipped and normalized by its max.
	src := &fixedSource{
		activation: fillVolume(1, 2, 2, 2, 4, -6, 0),
		grad:       fillVolume(1, 2, 2, 1, 1, 1, 1),
	}
	m := NewMapper(src)

	cam, err := m.Heatmap(nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.0, 0.0, 0.0}, cam.Data)
}

func TestHeatmapWeightsByGradientMean(t *testing.T) {
	// Two channels: the first has gradient mean 1, the second mean -1, so
	// the second channel's activation is subtracted before clipping.
	src := &fixedSource{
		activation: fillVolume(2, 1, 2, 3, 1 /* ch0 */, 1, 2 /* ch1 */),
		grad:       fillVolume(2, 1, 2, 1, 1, -1, -1),
	}
	cam, err := NewMapper(src).Heatmap(nil, 0)
	require.NoError(t, err)

	// Raw map: (3-1, 1-2) = (2, -1); clip then normalize by 2.
	assert.Equal(t, []float64{1.0, 0.0}, cam.Data)
}

func TestHeatmapNonNegativeAndNormalized(t *testing.T) {
	src := &fixedSource{
		activation: fillVolume(1, 2, 2, -1, 5, 3, -8),
		grad:       fillVolume(1, 2, 2, 0.5, 0.5, 0.5, 0.5),
	}
	cam, err := NewMapper(src).Heatmap(nil, 0)
	require.NoError(t, err)

	maxVal := 0.0
	for _, v := range cam.Data {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		if v > maxVal {
			maxVal = v
		}
	}
	assert.Equal(t, 1.0, maxVal)
}

func TestHeatmapAllZeroUnchanged(t *testing.T) {
	src := &fixedSource{
		activation: tensor.NewVolume(1, 3, 3),
		grad:       tensor.NewVolume(1, 3, 3),
	}
	cam, err := NewMapper(src).Heatmap(nil, 0)
	require.NoError(t, err)

	for _, v := range cam.Data {
		assert.Zero(t, v, "an all-zero map must not be normalized")
	}
}

func TestHeatmapNilSourceOutput(t *testing.T) {
	_, err := NewMapper(&fixedSource{}).Heatmap(nil, 0)
	assert.Error(t, err)
}

func TestHeatmapShapeMismatch(t *testing.T) {
	src := &fixedSource{
		activation: tensor.NewVolume(2, 2, 2),
		grad:       tensor.NewVolume(1, 2, 2),
	}
	_, err := NewMapper(src).Heatmap(nil, 0)
	assert.Error(t, err)
}
