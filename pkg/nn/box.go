package nn

import (
	"fmt"

	"github.com/chewxy/math32"
)

// A box is either parameterized by 4 numbers (cx, cy, w, h), or by 8 numbers, which
// adds 4 corner cuts that turn the rectangle into an octagon.
// Cuts are in pixels, and run clockwise from the top-left corner: TL, TR, BR, BL.
const (
	ParamsRect    = 4
	ParamsOctagon = 8
)

// ValidParameterization returns true if p is a supported parameter count
func ValidParameterization(p int) bool {
	return p == ParamsRect || p == ParamsOctagon
}

// DeltaEncoding controls how a ground truth box is expressed relative to its anchor
type DeltaEncoding int

const (
	// dw = log(w / anchor_w)
	EncodingNormal DeltaEncoding = iota
	// dw = (w - anchor_w) / anchor_w
	EncodingLinear
)

func ParseDeltaEncoding(s string) (DeltaEncoding, error) {
	switch s {
	case "normal":
		return EncodingNormal, nil
	case "linear":
		return EncodingLinear, nil
	}
	return 0, fmt.Errorf("Unknown encoding type '%v'", s)
}

func (e DeltaEncoding) String() string {
	switch e {
	case EncodingNormal:
		return "normal"
	case EncodingLinear:
		return "linear"
	}
	return fmt.Sprintf("DeltaEncoding(%d)", int(e))
}

// Octagon is a box with its four corners cut off
type Octagon struct {
	Box  Box
	Cuts [4]float32
}

// OctagonFromParams reads either a 4 or 8 element parameter vector.
// A 4 element vector produces an octagon with zero cuts.
func OctagonFromParams(p []float32) Octagon {
	o := Octagon{Box: BoxFromSlice(p)}
	if len(p) >= ParamsOctagon {
		copy(o.Cuts[:], p[4:8])
	}
	return o
}

// Params returns the parameter vector of length n (4 or 8)
func (o Octagon) Params(n int) []float32 {
	p := make([]float32, n)
	p[0], p[1], p[2], p[3] = o.Box.CX, o.Box.CY, o.Box.W, o.Box.H
	if n >= ParamsOctagon {
		copy(p[4:8], o.Cuts[:])
	}
	return p
}

// Points returns the 8 vertices of the octagon, clockwise from the top edge
func (o Octagon) Points() [8]Point {
	x1, y1, x2, y2 := o.Box.Corners()
	c := o.Cuts
	return [8]Point{
		{x1 + c[0], y1},
		{x2 - c[1], y1},
		{x2, y1 + c[1]},
		{x2, y2 - c[2]},
		{x2 - c[2], y2},
		{x1 + c[3], y2},
		{x1, y2 - c[3]},
		{x1, y1 + c[0]},
	}
}

// maxCut is the largest cut that still leaves a convex octagon
func maxCut(b Box) float32 {
	return max(min(b.W, b.H)/2, 1e-6)
}

// EncodeDelta expresses the ground truth relative to the anchor.
// The result has the same length as the ground truth parameter vector.
func EncodeDelta(gt []float32, anchor Box, enc DeltaEncoding) []float32 {
	d := make([]float32, len(gt))
	box := BoxFromSlice(gt)
	w := max(box.W, 1e-3)
	h := max(box.H, 1e-3)
	d[0] = (box.CX - anchor.CX) / anchor.W
	d[1] = (box.CY - anchor.CY) / anchor.H
	switch enc {
	case EncodingLinear:
		d[2] = (w - anchor.W) / anchor.W
		d[3] = (h - anchor.H) / anchor.H
	default:
		d[2] = math32.Log(w / anchor.W)
		d[3] = math32.Log(h / anchor.H)
	}
	if len(gt) >= ParamsOctagon {
		mc := maxCut(box)
		for k := 0; k < 4; k++ {
			d[4+k] = min(gt[4+k]/mc, 1)
		}
	}
	return d
}

// DecodeDelta is the inverse of EncodeDelta
func DecodeDelta(delta []float32, anchor Box, enc DeltaEncoding) []float32 {
	p := make([]float32, len(delta))
	p[0] = anchor.CX + delta[0]*anchor.W
	p[1] = anchor.CY + delta[1]*anchor.H
	switch enc {
	case EncodingLinear:
		p[2] = anchor.W * (1 + delta[2])
		p[3] = anchor.H * (1 + delta[3])
	default:
		// Clamp the exponent, so that an untrained network can't produce infinite boxes
		p[2] = anchor.W * math32.Exp(min(delta[2], 8))
		p[3] = anchor.H * math32.Exp(min(delta[3], 8))
	}
	if len(delta) >= ParamsOctagon {
		mc := maxCut(BoxFromSlice(p))
		for k := 0; k < 4; k++ {
			p[4+k] = max(0, min(delta[4+k], 1)) * mc
		}
	}
	return p
}

// EdgeAdhesion flags the parts of a box that touch the image border, and whose
// true extent is therefore unknown.
// The first 4 flags are the left, top, right and bottom edges.
// For octagons, flags 4..7 are the TL, TR, BR, BL corners, which adhere when both of
// their adjoining edges adhere.
func EdgeAdhesion(params []float32, imageWidth, imageHeight int, tolerance float32) []bool {
	flags := make([]bool, len(params))
	x1, y1, x2, y2 := BoxFromSlice(params).Corners()
	left := x1 <= tolerance
	top := y1 <= tolerance
	right := x2 >= float32(imageWidth-1)-tolerance
	bottom := y2 >= float32(imageHeight-1)-tolerance
	flags[0], flags[1], flags[2], flags[3] = left, top, right, bottom
	if len(params) >= ParamsOctagon {
		flags[4] = left && top
		flags[5] = top && right
		flags[6] = right && bottom
		flags[7] = bottom && left
	}
	return flags
}

// FormatEdgeAdhesion renders flags as a string of 0 and 1
func FormatEdgeAdhesion(flags []bool) string {
	b := make([]byte, len(flags))
	for i, f := range flags {
		if f {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
