package model

import (
	"bytes"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
)

func TestSchedule(t *testing.T) {
	s := Schedule{Base: 0.01, DecayFactor: 0.5, DecaySteps: 10000}
	require.Equal(t, float32(0.01), s.Rate(0))
	require.Equal(t, float32(0.01), s.Rate(9999))
	require.InDelta(t, 0.005, s.Rate(10000), 1e-9)
	require.InDelta(t, 0.0025, s.Rate(25000), 1e-9)
	require.Equal(t, float32(0.02), Schedule{Base: 0.02}.Rate(1e6))
}

func TestLossesIsNaN(t *testing.T) {
	require.False(t, Losses{Total: 1}.IsNaN())
	require.True(t, Losses{BBox: math32.NaN()}.IsNaN())
}

func TestVariables(t *testing.T) {
	v := NewVariables()
	a := v.Add("conv1", "kernel", 2, 3)
	v.Add("conv12", "bias", 4)
	require.Equal(t, "conv1/kernel", a.Name)
	require.Equal(t, []string{"conv1/kernel", "conv12/bias"}, v.Names())
	require.Equal(t, 10, v.NumParams())
	require.Panics(t, func() { v.Add("conv1", "kernel", 1) })

	c := v.Clone()
	c.Get("conv1/kernel").Value.Data[0] = 5
	require.Equal(t, float32(0), v.Get("conv1/kernel").Value.Data[0])
	require.Nil(t, v.Get("nope"))
}

func TestStatsWrite(t *testing.T) {
	s := Stats{Layers: []LayerStat{
		{Name: "conv1", Params: 10, Activations: 100, Flops: 1000},
		{Name: "conv2", Params: 5, Activations: 50, Flops: 500},
	}}
	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf))
	out := buf.String()
	require.Contains(t, out, "Model size counter:\n\tconv1: 10\n\tconv2: 5\n\ttotal: 15\n")
	require.Contains(t, out, "Number of flops counter:")
	require.Contains(t, out, "\ttotal: 1500\n")
}
