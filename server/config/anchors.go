package config

import "github.com/cyclopcam/detrain/pkg/nn"

// Anchor shapes, as (width, height) in pixels of the network input
var (
	kittiAnchorShapes = [][2]float32{
		{36, 37}, {366, 174}, {115, 59},
		{162, 87}, {38, 90}, {258, 173},
		{224, 108}, {78, 170}, {72, 43},
	}

	cityscapeAnchorShapes = [][2]float32{
		{30, 62}, {60, 40}, {96, 190},
		{140, 80}, {44, 100}, {210, 150},
		{320, 180}, {80, 150}, {24, 24},
	}

	// Sizes spaced evenly in log space, which gives small objects as many anchors as large ones
	cityscapeLogAnchorShapes = [][2]float32{
		{16, 16}, {24, 48}, {40, 28},
		{48, 96}, {80, 56}, {96, 192},
		{160, 112}, {192, 384}, {320, 224},
	}
)

// GridAnchors places every anchor shape at every cell of a gridWidth x gridHeight grid.
// Cell centers are spaced evenly across the image, excluding the borders.
// Anchor index = (y * gridWidth + x) * len(shapes) + shape.
func GridAnchors(gridWidth, gridHeight, imageWidth, imageHeight int, shapes [][2]float32) []nn.Box {
	anchors := make([]nn.Box, 0, gridWidth*gridHeight*len(shapes))
	for y := 0; y < gridHeight; y++ {
		cy := float32(y+1) * float32(imageHeight) / float32(gridHeight+1)
		for x := 0; x < gridWidth; x++ {
			cx := float32(x+1) * float32(imageWidth) / float32(gridWidth+1)
			for _, s := range shapes {
				anchors = append(anchors, nn.Box{CX: cx, CY: cy, W: s[0], H: s[1]})
			}
		}
	}
	return anchors
}
