// Package nn implements the dense layers and parameter plumbing used by the
// fusion model. Layers keep explicit forward caches so a backward pass can
// be driven without hidden callback state.
package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is a named trainable tensor with its gradient accumulator. The
// name identifies the parameter across snapshots, Fisher maps, and
// checkpoints.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Linear is a fully connected layer y = Wx + b.
type Linear struct {
	In, Out int

	weight *Param // Out×In, row-major
	bias   *Param

	w      *mat.Dense
	gw     *mat.Dense
	lastIn []float64
}

// NewLinear creates a layer with Xavier-uniform weights and zero bias.
// The rng is injected so model construction is reproducible.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		weight: &Param{
			Name:  name + ".weight",
			Value: make([]float64, out*in),
			Grad:  make([]float64, out*in),
		},
		bias: &Param{
			Name:  name + ".bias",
			Value: make([]float64, out),
			Grad:  make([]float64, out),
		},
	}
	limit := math.Sqrt(6.0 / float64(in+out))
	for i := range l.weight.Value {
		l.weight.Value[i] = (rng.Float64()*2 - 1) * limit
	}
	l.w = mat.NewDense(out, in, l.weight.Value)
	l.gw = mat.NewDense(out, in, l.weight.Grad)
	return l
}

// Forward computes Wx + b and caches x for the next Backward call.
func (l *Linear) Forward(x []float64) []float64 {
	l.lastIn = x
	out := make([]float64, l.Out)
	y := mat.NewVecDense(l.Out, out)
	y.MulVec(l.w, mat.NewVecDense(l.In, x))
	for i := range out {
		out[i] += l.bias.Value[i]
	}
	return out
}

// Backward accumulates parameter gradients for the most recent Forward and
// returns the gradient with respect to the layer input.
func (l *Linear) Backward(dOut []float64) []float64 {
	dv := mat.NewVecDense(l.Out, dOut)
	xv := mat.NewVecDense(l.In, l.lastIn)

	// dW += dOut ⊗ x, db += dOut
	l.gw.RankOne(l.gw, 1, dv, xv)
	for i := range dOut {
		l.bias.Grad[i] += dOut[i]
	}

	dIn := make([]float64, l.In)
	di := mat.NewVecDense(l.In, dIn)
	di.MulVec(l.w.T(), dv)
	return dIn
}

// Params returns the layer's trainable parameters.
func (l *Linear) Params() []*Param {
	return []*Param{l.weight, l.bias}
}

// Bias exposes the bias values for explicit initialization.
func (l *Linear) Bias() []float64 {
	return l.bias.Value
}

// ReLU is a rectifier layer with a cached pass-through mask.
type ReLU struct {
	mask []bool
}

// Forward zeroes negative entries.
func (r *ReLU) Forward(x []float64) []float64 {
	if cap(r.mask) < len(x) {
		r.mask = make([]bool, len(x))
	}
	r.mask = r.mask[:len(x)]
	out := make([]float64, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
			r.mask[i] = true
		} else {
			r.mask[i] = false
		}
	}
	return out
}

// Backward gates the upstream gradient by the cached mask.
func (r *ReLU) Backward(dOut []float64) []float64 {
	dIn := make([]float64, len(dOut))
	for i, pass := range r.mask {
		if pass {
			dIn[i] = dOut[i]
		}
	}
	return dIn
}
