package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDense(t *testing.T) {
	d := NewDense(2, 3, 4)
	require.Equal(t, 24, d.Len())
	d.Set(1, 2, 3, 5)
	require.Equal(t, float32(5), d.At(1, 2, 3))
	require.Equal(t, 23, d.Offset(1, 2, 3))
	require.Equal(t, []float32{0, 0, 0, 5}, d.Row(1, 2))

	c := d.Clone()
	require.True(t, c.BitEqual(d))
	c.Data[0] = float32(math.Copysign(0, -1))
	require.False(t, c.BitEqual(d))
	require.False(t, d.BitEqual(NewDense(2, 12)))

	require.False(t, d.HasNaN())
	d.Data[3] = float32(math.NaN())
	require.True(t, d.HasNaN())
}

func TestBool(t *testing.T) {
	b := NewBool(2, 2, 2)
	b.Set(1, 1, 0, true)
	require.True(t, b.At(1, 1, 0))
	require.Equal(t, []bool{true, false}, b.Row(1, 1))
	require.Equal(t, 1, b.Count())
}

func TestImage(t *testing.T) {
	pix := []byte{10, 20, 30, 40, 50, 60, 0, 0} // 2x1, with 2 bytes of stride padding
	img := FromRGB(2, 1, 8, pix)
	require.Equal(t, float32(40), img.At(1, 0, 0))
	require.Equal(t, [3]float32{25, 35, 45}, img.ChannelMeans())
	img.Set(0, 0, 0, 300)
	require.Equal(t, []byte{255, 20, 30, 40, 50, 60}, img.ToRGB())
}
