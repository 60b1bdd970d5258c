// Package model fuses encoder features with forensic frequency features
// and classifies the result. The backbone encoder is an external
// collaborator specified only at its interface; everything after it is
// trainable and tracked by name for consolidation and checkpointing.
package model

import (
	"math/rand"

	"synthdetect/internal/nn"
	"synthdetect/internal/spectral"
	"synthdetect/pkg/tensor"
)

// Backbone maps an image tensor to the spatial activation of its final
// encoder stage. Implementations are treated as frozen: the model never
// propagates gradients into them.
type Backbone interface {
	// Forward returns a C×Hs×Ws activation volume for a 3×H×W input in [0,1].
	Forward(img *tensor.Volume) *tensor.Volume
	// Channels reports C, the activation channel count.
	Channels() int
}

// Fusion layer widths, ending in the two-class head.
const (
	fusionWidth1 = 512
	fusionWidth2 = 256
	fusionWidth3 = 128
	numClasses   = 2
)

// Model is the backbone–fusion–classifier stack. Forward caches enough
// state for an explicit Backward call; there is no hidden hook machinery.
type Model struct {
	backbone  Backbone
	extractor *spectral.Extractor

	fusion1, fusion2, fusion3, head *nn.Linear
	act1, act2, act3                *nn.ReLU

	params []*nn.Param

	// Most recent forward/backward caches for the saliency capability.
	lastActivation *tensor.Volume
	lastPooledGrad []float64
}

// New builds a model around the given backbone. The seed makes parameter
// initialization reproducible, which keeps inference deterministic across
// identically constructed instances.
func New(backbone Backbone, seed int64) *Model {
	rng := rand.New(rand.NewSource(seed))
	inWidth := backbone.Channels() + spectral.OutputWidth

	m := &Model{
		backbone:  backbone,
		extractor: spectral.NewExtractor(rng),
		fusion1:   nn.NewLinear("fusion.0", inWidth, fusionWidth1, rng),
		fusion2:   nn.NewLinear("fusion.1", fusionWidth1, fusionWidth2, rng),
		fusion3:   nn.NewLinear("fusion.2", fusionWidth2, fusionWidth3, rng),
		head:      nn.NewLinear("classifier", fusionWidth3, numClasses, rng),
		act1:      &nn.ReLU{},
		act2:      &nn.ReLU{},
		act3:      &nn.ReLU{},
	}

	// Tilt the head slightly toward the synthetic class; an unbiased start
	// tends to collapse to confident "real" before any feedback arrives.
	bias := m.head.Bias()
	bias[0] = 0.1
	bias[1] = -0.1

	m.params = append(m.params, m.extractor.Params()...)
	m.params = append(m.params, m.fusion1.Params()...)
	m.params = append(m.params, m.fusion2.Params()...)
	m.params = append(m.params, m.fusion3.Params()...)
	m.params = append(m.params, m.head.Params()...)
	return m
}

// Extractor exposes the spectral extractor for diagnostics.
func (m *Model) Extractor() *spectral.Extractor {
	return m.extractor
}

// Forward runs one image through the full stack and returns raw logits.
func (m *Model) Forward(img *tensor.Volume) [2]float64 {
	activation := m.backbone.Forward(img)
	m.lastActivation = activation

	pooled := globalAvgPool(activation)
	forensic := m.extractor.Extract(img)

	x := make([]float64, 0, len(pooled)+len(forensic))
	x = append(x, pooled...)
	x = append(x, forensic...)

	h := m.act1.Forward(m.fusion1.Forward(x))
	h = m.act2.Forward(m.fusion2.Forward(h))
	h = m.act3.Forward(m.fusion3.Forward(h))
	logits := m.head.Forward(h)
	return [2]float64{logits[0], logits[1]}
}

// Backward accumulates parameter gradients for the most recent Forward
// given the loss gradient with respect to the raw logits. The backbone is
// frozen, so the gradient reaching the pooled encoder features is cached
// for saliency rather than propagated further.
func (m *Model) Backward(dLogits [2]float64) {
	d := m.head.Backward(dLogits[:])
	d = m.fusion3.Backward(m.act3.Backward(d))
	d = m.fusion2.Backward(m.act2.Backward(d))
	dIn := m.fusion1.Backward(m.act1.Backward(d))

	c := m.backbone.Channels()
	m.lastPooledGrad = dIn[:c]
	m.extractor.Backward(dIn[c:])
}

// Params returns every trainable parameter in a stable order.
func (m *Model) Params() []*nn.Param {
	return m.params
}

// ZeroGrad clears all accumulated gradients.
func (m *Model) ZeroGrad() {
	for _, p := range m.params {
		p.ZeroGrad()
	}
}

// ScoreGradient runs a forward and backward pass for the given target
// class score and returns the backbone's spatial activation together with
// the gradient of the score with respect to that activation. This is the
// explicit capability the saliency mapper consumes; parameter gradients
// touched along the way are cleared before returning.
func (m *Model) ScoreGradient(img *tensor.Volume, targetClass int) (activation, grad *tensor.Volume) {
	m.ZeroGrad()
	m.Forward(img)

	var dLogits [2]float64
	dLogits[targetClass] = 1
	m.Backward(dLogits)

	activation = m.lastActivation
	grad = tensor.NewVolume(activation.C, activation.H, activation.W)
	// The pooled features average each channel, so the score gradient
	// spreads uniformly over the channel's spatial positions.
	area := float64(activation.H * activation.W)
	for c := 0; c < activation.C; c++ {
		g := m.lastPooledGrad[c] / area
		plane := grad.Channel(c)
		for i := range plane {
			plane[i] = g
		}
	}
	m.ZeroGrad()
	return activation, grad
}

// ParamValues exports a name→value copy of all parameters.
func (m *Model) ParamValues() map[string][]float64 {
	out := make(map[string][]float64, len(m.params))
	for _, p := range m.params {
		c := make([]float64, len(p.Value))
		copy(c, p.Value)
		out[p.Name] = c
	}
	return out
}

// Restore installs parameter values from a checkpoint. Unknown names are
// ignored and length mismatches leave the parameter untouched.
func (m *Model) Restore(values map[string][]float64) {
	for _, p := range m.params {
		if src, ok := values[p.Name]; ok && len(src) == len(p.Value) {
			copy(p.Value, src)
		}
	}
}

func globalAvgPool(v *tensor.Volume) []float64 {
	out := make([]float64, v.C)
	area := float64(v.H * v.W)
	for c := 0; c < v.C; c++ {
		sum := 0.0
		for _, val := range v.Channel(c) {
			sum += val
		}
		out[c] = sum / area
	}
	return out
}
