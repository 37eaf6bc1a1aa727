package dataset

import (
	"fmt"

	"github.com/cyclopcam/detrain/pkg/tensor"
)

// Object is a ground truth object, in the pixel space of the network input
type Object struct {
	Class  int
	Params []float32 // cx, cy, w, h, optionally followed by 4 octagon cuts
}

// Sample is an image and its objects, already resized to the network input size
type Sample struct {
	Image   *tensor.Image
	Objects []Object
}

// Source provides random access to the samples of an image set
type Source interface {
	Len() int
	Load(idx int) (*Sample, error)
}

// MemorySource is a Source backed by a slice of samples
type MemorySource struct {
	Samples []*Sample
}

func NewMemorySource(samples []*Sample) *MemorySource {
	return &MemorySource{Samples: samples}
}

func (m *MemorySource) Len() int {
	return len(m.Samples)
}

func (m *MemorySource) Load(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(m.Samples) {
		return nil, fmt.Errorf("Sample index %v out of range [0, %v)", idx, len(m.Samples))
	}
	return m.Samples[idx], nil
}
