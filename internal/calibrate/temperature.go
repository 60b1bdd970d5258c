// Package calibrate corrects raw-logit overconfidence with temperature
// scaling and converts calibrated probabilities into a gated three-way
// verdict.
package calibrate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

const (
	// MinTemperature and MaxTemperature bound the learned scalar. Below the
	// floor the scaled softmax collapses toward one-hot overconfidence;
	// above the ceiling it flattens into an uninformative uniform.
	MinTemperature = 0.1
	MaxTemperature = 10.0

	// initialTemperature starts above 1 so an unfitted calibrator already
	// softens raw logits.
	initialTemperature = 1.5
)

// Calibrator rescales classification logits by a learned scalar
// temperature. The temperature is its sole trainable state.
type Calibrator struct {
	temperature float64
}

// NewCalibrator returns a calibrator with the default starting temperature.
func NewCalibrator() *Calibrator {
	return &Calibrator{temperature: initialTemperature}
}

// Temperature returns the current scaling temperature.
func (c *Calibrator) Temperature() float64 {
	return c.temperature
}

// SetTemperature installs a temperature, clamped into the sane range. Used
// when restoring from a checkpoint.
func (c *Calibrator) SetTemperature(t float64) {
	c.temperature = clampTemperature(t)
}

// Scale divides logits by the current temperature.
func (c *Calibrator) Scale(logits [2]float64) [2]float64 {
	return [2]float64{logits[0] / c.temperature, logits[1] / c.temperature}
}

// FitOptions tune the offline calibration fit.
type FitOptions struct {
	MaxIterations int
}

// Fit minimizes the cross-entropy of the scaled logits against the true
// labels using a quasi-Newton line-search optimizer over the single
// temperature parameter, then clamps the result into the sane range. This
// is a validation-time operation, never run per inference call. Optimizer
// divergence is corrected by the clamp rather than surfaced.
func (c *Calibrator) Fit(logits [][2]float64, labels []int, opts FitOptions) (float64, error) {
	if len(logits) == 0 || len(logits) != len(labels) {
		return c.temperature, fmt.Errorf("calibration needs matching logit/label batches, got %d/%d", len(logits), len(labels))
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 50
	}

	// Optimize log-temperature so every line-search probe stays positive.
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return nll(logits, labels, math.Exp(x[0]))
		},
		Grad: func(grad, x []float64) {
			t := math.Exp(x[0])
			grad[0] = nllGradT(logits, labels, t) * t
		},
	}
	settings := &optimize.Settings{MajorIterations: maxIter}

	result, err := optimize.Minimize(problem, []float64{math.Log(c.temperature)}, settings, &optimize.LBFGS{})
	if err == nil && result != nil {
		c.temperature = math.Exp(result.X[0])
	}
	c.temperature = clampTemperature(c.temperature)
	return c.temperature, nil
}

// nll is the mean negative log-likelihood of labels under softmax(z/t).
func nll(logits [][2]float64, labels []int, t float64) float64 {
	total := 0.0
	for i, z := range logits {
		p := Softmax([2]float64{z[0] / t, z[1] / t})
		total += -math.Log(math.Max(p[labels[i]], 1e-12))
	}
	return total / float64(len(logits))
}

// nllGradT is the analytic derivative of nll with respect to t:
// d/dt of z_j/t is -z_j/t², chained through softmax - onehot.
func nllGradT(logits [][2]float64, labels []int, t float64) float64 {
	total := 0.0
	for i, z := range logits {
		p := Softmax([2]float64{z[0] / t, z[1] / t})
		for j := 0; j < 2; j++ {
			y := 0.0
			if labels[i] == j {
				y = 1.0
			}
			total += (p[j] - y) * (-z[j] / (t * t))
		}
	}
	return total / float64(len(logits))
}

// Softmax converts a logit pair to probabilities with the usual
// max-subtraction for stability.
func Softmax(logits [2]float64) [2]float64 {
	m := math.Max(logits[0], logits[1])
	e0 := math.Exp(logits[0] - m)
	e1 := math.Exp(logits[1] - m)
	sum := e0 + e1
	return [2]float64{e0 / sum, e1 / sum}
}

func clampTemperature(t float64) float64 {
	if math.IsNaN(t) || t < MinTemperature {
		return MinTemperature
	}
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}
