package dataset

import "github.com/cyclopcam/detrain/pkg/tensor"

// Annotation is one ground truth object, already matched to an anchor.
// Delta, Box and Edge all have length P (the box parameterization).
type Annotation struct {
	Class  int       // Class index
	Anchor int       // Anchor index, in [0, A)
	Delta  []float32 // Ground truth expressed relative to the anchor
	Box    []float32 // Ground truth in image pixels (cx, cy, w, h [, cuts])
	Edge   []bool    // Edge adhesion flags
}

// RawBatch is the sparse output of a Reader.
// Images and Annotations are parallel, with one entry per image.
type RawBatch struct {
	Images      []*tensor.Image
	Annotations [][]Annotation
}

func (r *RawBatch) NumImages() int {
	return len(r.Images)
}

// NumAnnotations returns the total number of annotations across all images
func (r *RawBatch) NumAnnotations() int {
	n := 0
	for _, a := range r.Annotations {
		n += len(a)
	}
	return n
}

// Reader produces sparse batches.
// Implementations must be safe to call from multiple goroutines.
type Reader interface {
	// ReadBatch returns the next batch.
	// If shuffle is true, images are drawn in a random order, which is reshuffled after every epoch.
	// If wrapAround is true, the batch is always full, continuing from the start of the image set when the end is reached.
	// If wrapAround is false, the last batch of a pass may be short, and the next call starts a new pass.
	ReadBatch(shuffle, wrapAround bool) (*RawBatch, error)

	// Size returns the number of images in the image set
	Size() int
}
