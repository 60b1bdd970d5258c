// Package spectral derives forensic feature vectors from the frequency and
// block-transform structure of an image. Generative models leave statistical
// signatures in the magnitude spectrum and in JPEG-granularity cosine
// coefficients that camera sensor noise does not, and aggregate band
// statistics keep the vector width independent of image resolution.
package spectral

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"synthdetect/internal/nn"
	"synthdetect/pkg/tensor"
)

const (
	// StatWidth is the raw statistic width per transform domain. Band and
	// block statistics are padded or truncated to this length so they can
	// feed a fixed-size projection regardless of input resolution.
	StatWidth = 256

	// dctFeatureCap bounds how many block statistics are collected on large
	// images before padding. Divisible by four so a block is never split.
	dctFeatureCap = 252

	// OutputWidth is the fused feature width: both projected branches
	// concatenated.
	OutputWidth = 2 * StatWidth
)

// Radial band boundaries for the magnitude spectrum, in pixels from the
// zero-frequency center, plus the high-frequency cutoff.
var bandLimits = [3][2]float64{{0, 20}, {20, 50}, {50, 100}}

const highFreqRadius = 80.0

// Extractor converts an image tensor into a fixed-length forensic feature
// vector. The two per-domain projections are trainable and belong to the
// model's parameter set.
type Extractor struct {
	freqProj *nn.Linear
	dctProj  *nn.Linear
}

// NewExtractor creates an extractor with freshly initialized projections.
func NewExtractor(rng *rand.Rand) *Extractor {
	return &Extractor{
		freqProj: nn.NewLinear("spectral.freq_proj", StatWidth, StatWidth, rng),
		dctProj:  nn.NewLinear("spectral.dct_proj", StatWidth, StatWidth, rng),
	}
}

// Extract computes the fused forensic vector for a 3×H×W image in [0,1].
// The result always has length OutputWidth; degenerate regions contribute
// zero statistics rather than failing. Raw statistics are log-compressed
// and standardized before projection so the classifier sees unit-scale
// inputs regardless of image area.
func (e *Extractor) Extract(img *tensor.Volume) []float64 {
	lum := tensor.Luminance(img)
	freq := e.freqProj.Forward(normalizeStats(FrequencyStats(lum)))
	dct := e.dctProj.Forward(normalizeStats(BlockDCTStats(lum)))

	out := make([]float64, 0, OutputWidth)
	out = append(out, freq...)
	out = append(out, dct...)
	return out
}

// Backward propagates a fused-vector gradient into the projection
// parameters. The raw statistics are fixed functions of the image, so no
// input gradient is returned.
func (e *Extractor) Backward(dOut []float64) {
	e.freqProj.Backward(dOut[:StatWidth])
	e.dctProj.Backward(dOut[StatWidth:])
}

// Params returns the trainable projection parameters.
func (e *Extractor) Params() []*nn.Param {
	return append(e.freqProj.Params(), e.dctProj.Params()...)
}

// FrequencyStats computes the spectral-branch statistics of a luminance
// plane: radial band aggregates, global spectrum aggregates, directional
// center-line aggregates, and high-frequency outlier measures, padded to
// StatWidth.
func FrequencyStats(lum *tensor.Plane) []float64 {
	spec := magnitudeSpectrum(lum)
	h, w := spec.H, spec.W
	cy, cx := h/2, w/2

	features := make([]float64, 0, StatWidth)

	var bands [len(bandLimits)][]float64
	var highFreq []float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(x-cx), float64(y-cy))
			v := spec.At(y, x)
			for b, lim := range bandLimits {
				if d >= lim[0] && d < lim[1] {
					bands[b] = append(bands[b], v)
				}
			}
			if d > highFreqRadius {
				highFreq = append(highFreq, v)
			}
		}
	}

	for _, band := range bands {
		if len(band) == 0 {
			features = append(features, 0, 0, 0, 0)
			continue
		}
		features = append(features,
			stat.Mean(band, nil),
			stat.PopStdDev(band, nil),
			maxOf(band),
			percentile(band, 0.95),
		)
	}

	features = append(features,
		stat.Mean(spec.Data, nil),
		stat.PopStdDev(spec.Data, nil),
		maxOf(spec.Data),
		percentile(spec.Data, 0.95),
		percentile(spec.Data, 0.05),
	)

	hLine := spec.Data[cy*w : (cy+1)*w]
	vLine := make([]float64, h)
	for y := 0; y < h; y++ {
		vLine[y] = spec.At(y, cx)
	}
	features = append(features,
		stat.Mean(hLine, nil),
		stat.PopStdDev(hLine, nil),
		stat.Mean(vLine, nil),
		stat.PopStdDev(vLine, nil),
	)

	if len(highFreq) > 0 {
		m := stat.Mean(highFreq, nil)
		outliers := 0
		for _, v := range highFreq {
			if v > 2*m {
				outliers++
			}
		}
		features = append(features, m, stat.PopStdDev(highFreq, nil), float64(outliers))
	} else {
		features = append(features, 0, 0, 0)
	}

	return padTo(features, StatWidth)
}

// BlockDCTStats tiles the luminance plane into non-overlapping 8×8 blocks,
// applies a 2-D cosine transform per block, and aggregates AC-coefficient
// statistics in raster order until the feature cap is reached, padded to
// StatWidth. Trailing rows and columns that do not fill a block are ignored.
func BlockDCTStats(lum *tensor.Plane) []float64 {
	const n = 8
	features := make([]float64, 0, StatWidth)
	dct := fourier.NewDCT(n)

	block := make([]float64, n*n)
	row := make([]float64, n)
	col := make([]float64, n)
	colOut := make([]float64, n)
	ac := make([]float64, 0, n*n-1)

collect:
	for by := 0; by+n <= lum.H; by += n {
		for bx := 0; bx+n <= lum.W; bx += n {
			for y := 0; y < n; y++ {
				copy(block[y*n:(y+1)*n], lum.Data[(by+y)*lum.W+bx:(by+y)*lum.W+bx+n])
			}
			// Separable 2-D transform: rows, then columns.
			for y := 0; y < n; y++ {
				dct.Transform(row, block[y*n:(y+1)*n])
				copy(block[y*n:(y+1)*n], row)
			}
			for x := 0; x < n; x++ {
				for y := 0; y < n; y++ {
					col[y] = block[y*n+x]
				}
				dct.Transform(colOut, col)
				for y := 0; y < n; y++ {
					block[y*n+x] = colOut[y]
				}
			}

			// Drop the DC coefficient; generative artifacts live in the AC terms.
			ac = append(ac[:0], block[1:]...)

			meanAbs := 0.0
			maxAbs := 0.0
			for _, v := range ac {
				a := math.Abs(v)
				meanAbs += a
				if a > maxAbs {
					maxAbs = a
				}
			}
			meanAbs /= float64(len(ac))
			std := stat.PopStdDev(ac, nil)
			significant := 0
			for _, v := range ac {
				if math.Abs(v) > std {
					significant++
				}
			}
			features = append(features, meanAbs, std, maxAbs, float64(significant))

			if len(features) >= dctFeatureCap {
				break collect
			}
		}
	}

	return padTo(features, StatWidth)
}

// normalizeStats compresses the heavy-tailed raw statistics with log1p and
// standardizes the vector to zero mean and unit variance. Spectrum
// magnitudes grow with image area (the zero-frequency term alone is H*W
// times the mean intensity); fed raw into the projections they drive the
// classifier logits far enough apart to saturate the softmax at exactly
// 1.0, which no temperature in the sane range can soften. A constant
// vector comes back all zero.
func normalizeStats(stats []float64) []float64 {
	out := make([]float64, len(stats))
	for i, v := range stats {
		out[i] = math.Copysign(math.Log1p(math.Abs(v)), v)
	}

	m := stat.Mean(out, nil)
	s := stat.PopStdDev(out, nil)
	for i := range out {
		out[i] -= m
	}
	if s > 0 {
		for i := range out {
			out[i] /= s
		}
	}
	return out
}

// magnitudeSpectrum computes |FFT2(lum)| with the zero frequency shifted to
// the center, matching the orientation the radial bands are defined in.
func magnitudeSpectrum(lum *tensor.Plane) *tensor.Plane {
	h, w := lum.H, lum.W
	buf := make([]complex128, h*w)
	for i, v := range lum.Data {
		buf[i] = complex(v, 0)
	}

	rowFFT := fourier.NewCmplxFFT(w)
	rowOut := make([]complex128, w)
	for y := 0; y < h; y++ {
		rowFFT.Coefficients(rowOut, buf[y*w:(y+1)*w])
		copy(buf[y*w:(y+1)*w], rowOut)
	}
	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	colOut := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = buf[y*w+x]
		}
		colFFT.Coefficients(colOut, col)
		for y := 0; y < h; y++ {
			buf[y*w+x] = colOut[y]
		}
	}

	out := tensor.NewPlane(h, w)
	sy := (h + 1) / 2
	sx := (w + 1) / 2
	for y := 0; y < h; y++ {
		srcY := (y + sy) % h
		for x := 0; x < w; x++ {
			srcX := (x + sx) % w
			out.Set(y, x, cmplxAbs(buf[srcY*w+srcX]))
		}
	}
	return out
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func maxOf(vals []float64) float64 {
	max := vals[0]
	for _, v := range vals[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// percentile returns the p-quantile using linear interpolation between
// order statistics.
func percentile(vals []float64, p float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

func padTo(features []float64, width int) []float64 {
	if len(features) >= width {
		return features[:width]
	}
	out := make([]float64, width)
	copy(out, features)
	return out
}
