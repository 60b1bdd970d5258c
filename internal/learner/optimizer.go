package learner

import (
	"math"

	"synthdetect/internal/nn"
)

// AdamW applies decoupled weight decay on top of Adam moment estimates.
// Per-parameter state is keyed by parameter name so restoring a model does
// not invalidate it.
type AdamW struct {
	Beta1, Beta2 float64
	Epsilon      float64
	WeightDecay  float64

	step   int
	moment map[string][]float64
	second map[string][]float64
}

// NewAdamW returns an optimizer with the stock coefficients.
func NewAdamW(weightDecay float64) *AdamW {
	return &AdamW{
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: weightDecay,
		moment:      make(map[string][]float64),
		second:      make(map[string][]float64),
	}
}

// Step applies one update to every parameter from its accumulated
// gradient at the given learning rate.
func (o *AdamW) Step(params []*nn.Param, lr float64) {
	o.step++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for _, p := range params {
		m := o.state(o.moment, p)
		v := o.state(o.second, p)
		for i, g := range p.Grad {
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2
			p.Value[i] -= lr * (mHat/(math.Sqrt(vHat)+o.Epsilon) + o.WeightDecay*p.Value[i])
		}
	}
}

func (o *AdamW) state(store map[string][]float64, p *nn.Param) []float64 {
	s, ok := store[p.Name]
	if !ok || len(s) != len(p.Value) {
		s = make([]float64, len(p.Value))
		store[p.Name] = s
	}
	return s
}

// CosineSchedule anneals the learning rate from base toward min over tMax
// steps, one step per retraining invocation.
type CosineSchedule struct {
	Base, Min float64
	TMax      int

	step int
}

// NewCosineSchedule builds a schedule; tMax must be positive.
func NewCosineSchedule(base, min float64, tMax int) *CosineSchedule {
	if tMax <= 0 {
		tMax = 100
	}
	return &CosineSchedule{Base: base, Min: min, TMax: tMax}
}

// LR returns the current learning rate.
func (s *CosineSchedule) LR() float64 {
	t := s.step
	if t > s.TMax {
		t = s.TMax
	}
	return s.Min + (s.Base-s.Min)*(1+math.Cos(math.Pi*float64(t)/float64(s.TMax)))/2
}

// Step advances the schedule.
func (s *CosineSchedule) Step() {
	s.step++
}
