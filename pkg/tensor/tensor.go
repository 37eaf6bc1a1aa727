package tensor

import (
	"fmt"
	"math"
)

// Dense is a row-major float32 tensor
type Dense struct {
	Shape []int
	Data  []float32
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// NewDense creates a zero-filled tensor
func NewDense(shape ...int) *Dense {
	return &Dense{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, numElements(shape)),
	}
}

// FromData wraps existing data. Panics if the data length does not match the shape.
func FromData(data []float32, shape ...int) *Dense {
	if len(data) != numElements(shape) {
		panic(fmt.Sprintf("tensor data length %v does not match shape %v", len(data), shape))
	}
	return &Dense{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}
}

func (d *Dense) Len() int {
	return len(d.Data)
}

// Offset returns the flat index of the given coordinates
func (d *Dense) Offset(idx ...int) int {
	off := 0
	for i, v := range idx {
		off = off*d.Shape[i] + v
	}
	return off
}

// At reads a 3D tensor
func (d *Dense) At(i, j, k int) float32 {
	return d.Data[(i*d.Shape[1]+j)*d.Shape[2]+k]
}

// Set writes a 3D tensor
func (d *Dense) Set(i, j, k int, v float32) {
	d.Data[(i*d.Shape[1]+j)*d.Shape[2]+k] = v
}

// Row returns the innermost vector of a 3D tensor at (i, j), sharing memory with the tensor
func (d *Dense) Row(i, j int) []float32 {
	start := (i*d.Shape[1] + j) * d.Shape[2]
	return d.Data[start : start+d.Shape[2]]
}

// Sum of all elements
func (d *Dense) Sum() float64 {
	s := 0.0
	for _, v := range d.Data {
		s += float64(v)
	}
	return s
}

func (d *Dense) SameShape(o *Dense) bool {
	return sameShape(d.Shape, o.Shape)
}

func (d *Dense) Clone() *Dense {
	return &Dense{
		Shape: append([]int(nil), d.Shape...),
		Data:  append([]float32(nil), d.Data...),
	}
}

// BitEqual returns true if the shapes are equal and every element has an identical bit pattern
func (d *Dense) BitEqual(o *Dense) bool {
	if !d.SameShape(o) {
		return false
	}
	for i, v := range d.Data {
		if math.Float32bits(v) != math.Float32bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// HasNaN returns true if any element is NaN
func (d *Dense) HasNaN() bool {
	for _, v := range d.Data {
		if v != v {
			return true
		}
	}
	return false
}

// Bool is a row-major boolean tensor
type Bool struct {
	Shape []int
	Data  []bool
}

func NewBool(shape ...int) *Bool {
	return &Bool{
		Shape: append([]int(nil), shape...),
		Data:  make([]bool, numElements(shape)),
	}
}

func (b *Bool) At(i, j, k int) bool {
	return b.Data[(i*b.Shape[1]+j)*b.Shape[2]+k]
}

func (b *Bool) Set(i, j, k int, v bool) {
	b.Data[(i*b.Shape[1]+j)*b.Shape[2]+k] = v
}

func (b *Bool) Row(i, j int) []bool {
	start := (i*b.Shape[1] + j) * b.Shape[2]
	return b.Data[start : start+b.Shape[2]]
}

// Count returns the number of true elements
func (b *Bool) Count() int {
	n := 0
	for _, v := range b.Data {
		if v {
			n++
		}
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
