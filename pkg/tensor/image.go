package tensor

// Image is an RGB image stored as interleaved float32 channels, in the range [0, 255].
// Mean subtraction and any other normalization is the model's responsibility.
type Image struct {
	Width  int
	Height int
	Pix    []float32 // len = Width * Height * 3
}

func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*3),
	}
}

// FromRGB converts packed 8-bit RGB pixels
func FromRGB(width, height, stride int, pix []byte) *Image {
	img := NewImage(width, height)
	for y := 0; y < height; y++ {
		src := pix[y*stride : y*stride+width*3]
		dst := img.Pix[y*width*3 : (y+1)*width*3]
		for i, v := range src {
			dst[i] = float32(v)
		}
	}
	return img
}

func (m *Image) At(x, y, c int) float32 {
	return m.Pix[(y*m.Width+x)*3+c]
}

func (m *Image) Set(x, y, c int, v float32) {
	m.Pix[(y*m.Width+x)*3+c] = v
}

// ChannelMeans returns the average value of each of the 3 channels
func (m *Image) ChannelMeans() [3]float32 {
	var sum [3]float64
	for i, v := range m.Pix {
		sum[i%3] += float64(v)
	}
	n := float64(max(1, m.Width*m.Height))
	return [3]float32{float32(sum[0] / n), float32(sum[1] / n), float32(sum[2] / n)}
}

// ToRGB converts to packed 8-bit RGB, clamping out of range values
func (m *Image) ToRGB() []byte {
	out := make([]byte, len(m.Pix))
	for i, v := range m.Pix {
		out[i] = byte(max(0, min(255, v+0.5)))
	}
	return out
}
