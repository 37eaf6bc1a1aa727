package arch

import (
	"fmt"

	"github.com/cyclopcam/detrain/pkg/model"
)

// Architecture is one of the supported detector backbones
type Architecture int

const (
	SqueezeDet Architecture = iota
	SqueezeDetPlus
	VGG16
	ResNet50
)

var names = map[Architecture]string{
	SqueezeDet:     "squeezeDet",
	SqueezeDetPlus: "squeezeDet+",
	VGG16:          "vgg16",
	ResNet50:       "resnet50",
}

func Parse(s string) (Architecture, error) {
	for a, n := range names {
		if n == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("Unknown network architecture '%v'", s)
}

func (a Architecture) String() string {
	if n, ok := names[a]; ok {
		return n
	}
	return fmt.Sprintf("Architecture(%d)", int(a))
}

// FinalLayer is the name of the layer that emits the per-anchor predictions
func (a Architecture) FinalLayer() string {
	switch a {
	case VGG16:
		return "conv6"
	case ResNet50:
		return "conv5"
	}
	return "conv12"
}

// UsesPretrained is false for backbones that are always trained from scratch
func (a Architecture) UsesPretrained() bool {
	return a != VGG16
}

// Output describes the final layer: OutputChannels = anchorsPerGrid * (classes + 1 + params)
type Output struct {
	AnchorsPerGrid int
	Classes        int
	Params         int
}

func (o Output) Channels() int {
	return o.AnchorsPerGrid * (o.Classes + 1 + o.Params)
}

// Stats computes the per-layer parameter, activation and flop counts for an input of the given size
func (a Architecture) Stats(width, height int, out Output) model.Stats {
	b := &builder{w: width, h: height, c: 3}
	switch a {
	case SqueezeDet:
		b.conv("conv1", 3, 2, 64)
		b.pool("pool1", 3, 2)
		b.fire("fire2", 16, 64, 64)
		b.fire("fire3", 16, 64, 64)
		b.pool("pool3", 3, 2)
		b.fire("fire4", 32, 128, 128)
		b.fire("fire5", 32, 128, 128)
		b.pool("pool5", 3, 2)
		b.fire("fire6", 48, 192, 192)
		b.fire("fire7", 48, 192, 192)
		b.fire("fire8", 64, 256, 256)
		b.fire("fire9", 64, 256, 256)
		b.fire("fire10", 96, 384, 384)
		b.fire("fire11", 96, 384, 384)
	case SqueezeDetPlus:
		b.conv("conv1", 7, 2, 96)
		b.pool("pool1", 3, 2)
		b.fire("fire2", 96, 64, 64)
		b.fire("fire3", 96, 64, 64)
		b.fire("fire4", 192, 128, 128)
		b.pool("pool4", 3, 2)
		b.fire("fire5", 192, 128, 128)
		b.fire("fire6", 288, 192, 192)
		b.fire("fire7", 288, 192, 192)
		b.fire("fire8", 384, 256, 256)
		b.pool("pool8", 3, 2)
		b.fire("fire9", 384, 256, 256)
		b.fire("fire10", 384, 256, 256)
		b.fire("fire11", 384, 256, 256)
	case VGG16:
		blocks := []struct{ n, c int }{{2, 64}, {2, 128}, {3, 256}, {3, 512}, {3, 512}}
		for i, blk := range blocks {
			for j := 1; j <= blk.n; j++ {
				b.conv(fmt.Sprintf("conv%v_%v", i+1, j), 3, 1, blk.c)
			}
			if i < 4 {
				b.pool(fmt.Sprintf("pool%v", i+1), 2, 2)
			}
		}
	case ResNet50:
		b.conv("conv1", 7, 2, 64)
		b.pool("pool1", 3, 2)
		stages := []struct {
			name   string
			blocks int
			mid    int
			out    int
			stride int
		}{
			{"conv2", 3, 64, 256, 1},
			{"conv3", 4, 128, 512, 2},
			{"conv4", 6, 256, 1024, 2},
		}
		for _, st := range stages {
			for i := 0; i < st.blocks; i++ {
				stride := 1
				if i == 0 {
					stride = st.stride
				}
				b.bottleneck(fmt.Sprintf("%v_%v", st.name, i+1), st.mid, st.out, stride)
			}
		}
	}
	b.conv(a.FinalLayer(), 3, 1, out.Channels())
	return model.Stats{Layers: b.layers}
}

// GridSize returns the output grid for an input of the given size.
// All backbones reduce the input by a factor of 16.
func GridSize(width, height int) (int, int) {
	return (width + 15) / 16, (height + 15) / 16
}
