package nn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearForwardKnownWeights(t *testing.T) {
	l := NewLinear("test", 2, 2, rand.New(rand.NewSource(1)))
	copy(l.weight.Value, []float64{1, 2, 3, 4}) // row-major Out×In
	copy(l.bias.Value, []float64{0.5, -0.5})

	out := l.Forward([]float64{1, 1})
	require.Len(t, out, 2)
	assert.InDelta(t, 3.5, out[0], 1e-12)
	assert.InDelta(t, 6.5, out[1], 1e-12)
}

func TestLinearBackwardGradients(t *testing.T) {
	l := NewLinear("test", 2, 2, rand.New(rand.NewSource(1)))
	copy(l.weight.Value, []float64{1, 2, 3, 4})

	l.Forward([]float64{0.5, -1.0})
	dIn := l.Backward([]float64{1, 2})

	// dW = dOut ⊗ x, db = dOut, dIn = Wᵀ dOut.
	assert.InDelta(t, 0.5, l.weight.Grad[0], 1e-12)
	assert.InDelta(t, -1.0, l.weight.Grad[1], 1e-12)
	assert.InDelta(t, 1.0, l.weight.Grad[2], 1e-12)
	assert.InDelta(t, -2.0, l.weight.Grad[3], 1e-12)
	assert.Equal(t, []float64{1, 2}, l.bias.Grad)
	assert.InDelta(t, 1*1+3*2.0, dIn[0], 1e-12)
	assert.InDelta(t, 2*1+4*2.0, dIn[1], 1e-12)
}

func TestLinearBackwardAccumulates(t *testing.T) {
	l := NewLinear("test", 2, 1, rand.New(rand.NewSource(1)))

	l.Forward([]float64{1, 1})
	l.Backward([]float64{1})
	l.Forward([]float64{1, 1})
	l.Backward([]float64{1})

	assert.InDelta(t, 2.0, l.bias.Grad[0], 1e-12, "gradients accumulate until cleared")

	l.bias.ZeroGrad()
	assert.Zero(t, l.bias.Grad[0])
}

func TestLinearXavierInitBounded(t *testing.T) {
	l := NewLinear("test", 100, 50, rand.New(rand.NewSource(7)))
	limit := 0.2 // sqrt(6/150) ≈ 0.2
	for _, w := range l.weight.Value {
		assert.LessOrEqual(t, w, limit+1e-9)
		assert.GreaterOrEqual(t, w, -limit-1e-9)
	}
	for _, b := range l.bias.Value {
		assert.Zero(t, b, "bias starts at zero")
	}
}

func TestLinearParamNaming(t *testing.T) {
	l := NewLinear("fusion.0", 3, 2, rand.New(rand.NewSource(1)))
	params := l.Params()
	require.Len(t, params, 2)
	assert.Equal(t, "fusion.0.weight", params[0].Name)
	assert.Equal(t, "fusion.0.bias", params[1].Name)
}

func TestReLUMasksBackward(t *testing.T) {
	r := &ReLU{}
	out := r.Forward([]float64{-1, 0, 2})
	assert.Equal(t, []float64{0, 0, 2}, out)

	dIn := r.Backward([]float64{5, 5, 5})
	assert.Equal(t, []float64{0, 0, 5}, dIn)
}
