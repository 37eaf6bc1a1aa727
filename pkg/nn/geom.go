package nn

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y))
}

// Rect is an integer pixel rectangle, used for spatial indexing and drawing
type Rect struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

func (r Rect) X2() int32 {
	return r.X + r.Width
}

func (r Rect) Y2() int32 {
	return r.Y + r.Height
}

func (r Rect) Area() int32 {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Box is a floating point box in center form (cx, cy, w, h), which is how
// anchors, deltas and detections are expressed.
type Box struct {
	CX float32 `json:"cx"`
	CY float32 `json:"cy"`
	W  float32 `json:"w"`
	H  float32 `json:"h"`
}

// BoxFromCorners converts (xmin, ymin, xmax, ymax) to center form
func BoxFromCorners(x1, y1, x2, y2 float32) Box {
	return Box{
		CX: (x1 + x2) / 2,
		CY: (y1 + y2) / 2,
		W:  x2 - x1,
		H:  y2 - y1,
	}
}

// BoxFromSlice reads the first 4 elements of a parameter vector
func BoxFromSlice(p []float32) Box {
	return Box{CX: p[0], CY: p[1], W: p[2], H: p[3]}
}

func (b Box) Corners() (x1, y1, x2, y2 float32) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

func (b Box) Area() float32 {
	return max(0, b.W) * max(0, b.H)
}

func (b Box) Center() Point {
	return Point{X: b.CX, Y: b.CY}
}

// Intersection over Union
func (b Box) IOU(o Box) float32 {
	ax1, ay1, ax2, ay2 := b.Corners()
	bx1, by1, bx2, by2 := o.Corners()
	iw := min(ax2, bx2) - max(ax1, bx1)
	ih := min(ay2, by2) - max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Rect returns the smallest integer rectangle enclosing the box
func (b Box) Rect() Rect {
	x1, y1, x2, y2 := b.Corners()
	ix1 := int32(math32.Floor(x1))
	iy1 := int32(math32.Floor(y1))
	ix2 := int32(math32.Ceil(x2))
	iy2 := int32(math32.Ceil(y2))
	return Rect{X: ix1, Y: iy1, Width: ix2 - ix1, Height: iy2 - iy1}
}

// Squared euclidean distance between two boxes, treating (cx, cy, w, h) as a 4-vector
func (b Box) SquaredDistance(o Box) float32 {
	dx := b.CX - o.CX
	dy := b.CY - o.CY
	dw := b.W - o.W
	dh := b.H - o.H
	return dx*dx + dy*dy + dw*dw + dh*dh
}
