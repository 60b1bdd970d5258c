package tensor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeIndexing(t *testing.T) {
	v := NewVolume(3, 4, 5)
	v.Set(2, 3, 4, 1.5)
	v.Set(0, 0, 0, -0.5)

	assert.Equal(t, 1.5, v.At(2, 3, 4))
	assert.Equal(t, -0.5, v.At(0, 0, 0))
	assert.Len(t, v.Data, 3*4*5)

	ch := v.Channel(2)
	assert.Len(t, ch, 20)
	assert.Equal(t, 1.5, ch[3*5+4])
}

func TestVolumeCloneIsIndependent(t *testing.T) {
	v := NewVolume(1, 2, 2)
	v.Set(0, 0, 0, 1.0)

	c := v.Clone()
	c.Set(0, 0, 0, 9.0)

	assert.Equal(t, 1.0, v.At(0, 0, 0), "mutating the clone must not touch the original")
	assert.Equal(t, 9.0, c.At(0, 0, 0))
}

func TestPlaneIndexing(t *testing.T) {
	p := NewPlane(3, 4)
	p.Set(2, 3, 0.25)
	assert.Equal(t, 0.25, p.At(2, 3))
	assert.Equal(t, 0.25, p.Data[2*4+3])
}

func TestLuminanceWeights(t *testing.T) {
	v := NewVolume(3, 1, 1)
	v.Set(0, 0, 0, 1.0) // R
	v.Set(1, 0, 0, 0.5) // G
	v.Set(2, 0, 0, 0.0) // B

	p := Luminance(v)
	assert.InDelta(t, 0.299*1.0+0.587*0.5, p.At(0, 0), 1e-12)
}

func TestLuminanceSingleChannelFallback(t *testing.T) {
	v := NewVolume(1, 2, 2)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	p := Luminance(v)
	assert.Equal(t, v.Data, p.Data)
}

func TestVolumeJSONRoundtrip(t *testing.T) {
	v := NewVolume(2, 2, 3)
	for i := range v.Data {
		v.Data[i] = float64(i) * 0.1
	}

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var back Volume
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v.C, back.C)
	assert.Equal(t, v.H, back.H)
	assert.Equal(t, v.W, back.W)
	assert.Equal(t, v.Data, back.Data)
}
