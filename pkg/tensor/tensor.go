// Package tensor provides the small dense tensor types shared across the
// detection pipeline.
package tensor

// Volume is a C×H×W float tensor stored in channel-major raster order.
// Image inputs use C=3 with values normalized to [0,1]; encoder activations
// use whatever channel count the encoder produces.
type Volume struct {
	C    int       `json:"c"`
	H    int       `json:"h"`
	W    int       `json:"w"`
	Data []float64 `json:"data"`
}

// NewVolume allocates a zero-filled C×H×W volume.
func NewVolume(c, h, w int) *Volume {
	return &Volume{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// At returns the value at channel c, row y, column x.
func (v *Volume) At(c, y, x int) float64 {
	return v.Data[(c*v.H+y)*v.W+x]
}

// Set stores a value at channel c, row y, column x.
func (v *Volume) Set(c, y, x int, val float64) {
	v.Data[(c*v.H+y)*v.W+x] = val
}

// Channel returns the backing slice of one channel plane.
func (v *Volume) Channel(c int) []float64 {
	return v.Data[c*v.H*v.W : (c+1)*v.H*v.W]
}

// Clone returns a deep copy. Stored replay samples use this so later
// mutation of the original cannot corrupt them.
func (v *Volume) Clone() *Volume {
	out := &Volume{C: v.C, H: v.H, W: v.W, Data: make([]float64, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// Plane is a single 2-D float map in row-major order.
type Plane struct {
	H    int       `json:"h"`
	W    int       `json:"w"`
	Data []float64 `json:"data"`
}

// NewPlane allocates a zero-filled H×W plane.
func NewPlane(h, w int) *Plane {
	return &Plane{H: h, W: w, Data: make([]float64, h*w)}
}

// At returns the value at row y, column x.
func (p *Plane) At(y, x int) float64 {
	return p.Data[y*p.W+x]
}

// Set stores a value at row y, column x.
func (p *Plane) Set(y, x int, val float64) {
	p.Data[y*p.W+x] = val
}

// Luminance collapses a color volume to a single luma plane using the
// standard Rec. 601 weighting. Volumes with fewer than three channels fall
// back to the first channel unchanged rather than failing.
func Luminance(v *Volume) *Plane {
	p := NewPlane(v.H, v.W)
	if v.C < 3 {
		copy(p.Data, v.Channel(0))
		return p
	}
	r := v.Channel(0)
	g := v.Channel(1)
	b := v.Channel(2)
	for i := range p.Data {
		p.Data[i] = 0.299*r[i] + 0.587*g[i] + 0.114*b[i]
	}
	return p
}
