package feed

import (
	"fmt"

	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/pkg/tensor"
	"github.com/cyclopcam/logs"
)

// Shape is the fixed geometry of every dense batch
type Shape struct {
	BatchSize int // B
	Anchors   int // A
	Classes   int // C
	Params    int // P (4 or 8)
}

// Batch is the dense form of a RawBatch, ready to be fed to a model.
// Images beyond NumImages (when the last validation batch is short) have all-zero labels.
type Batch struct {
	Images       []*tensor.Image
	NumImages    int
	Mask         *tensor.Dense // [B, A, 1]
	BoxDelta     *tensor.Dense // [B, A, P]
	BoxValue     *tensor.Dense // [B, A, P]
	Label        *tensor.Dense // [B, A, C], one-hot
	EdgeAdhesion *tensor.Bool  // [B, A, P]
	KeepProb     float32       // Dropout keep probability

	NumLabels    int     // Annotations received from the reader
	NumDiscarded int     // Annotations dropped because their (image, anchor) was already taken
	Assigned     [][]int // Per image, the anchors that carry a label, in the order they were assigned

	Raw *dataset.RawBatch
}

// DiscardRatio is the fraction of annotations that were dropped as duplicates
func (b *Batch) DiscardRatio() float32 {
	if b.NumLabels == 0 {
		return 0
	}
	return float32(b.NumDiscarded) / float32(b.NumLabels)
}

// Assembler converts sparse reader output into dense tensors
type Assembler struct {
	Shape Shape
	Debug bool // Log a warning whenever labels are discarded
	Log   logs.Log
}

func NewAssembler(log logs.Log, shape Shape, debug bool) *Assembler {
	return &Assembler{
		Shape: shape,
		Debug: debug,
		Log:   log,
	}
}

// Assemble builds the dense tensors for one batch.
// When two annotations map to the same (image, anchor) pair, the first one wins,
// and the rest are counted as discarded.
func (a *Assembler) Assemble(raw *dataset.RawBatch, keepProb float32) (*Batch, error) {
	s := a.Shape
	n := raw.NumImages()
	if n > s.BatchSize {
		return nil, fmt.Errorf("Batch has %v images, but batch size is %v", n, s.BatchSize)
	}
	if len(raw.Annotations) != n {
		return nil, fmt.Errorf("Batch has %v images, but %v annotation lists", n, len(raw.Annotations))
	}

	b := &Batch{
		Images:       raw.Images,
		NumImages:    n,
		Mask:         tensor.NewDense(s.BatchSize, s.Anchors, 1),
		BoxDelta:     tensor.NewDense(s.BatchSize, s.Anchors, s.Params),
		BoxValue:     tensor.NewDense(s.BatchSize, s.Anchors, s.Params),
		Label:        tensor.NewDense(s.BatchSize, s.Anchors, s.Classes),
		EdgeAdhesion: tensor.NewBool(s.BatchSize, s.Anchors, s.Params),
		KeepProb:     keepProb,
		Assigned:     make([][]int, n),
		Raw:          raw,
	}

	for i, anns := range raw.Annotations {
		b.NumLabels += len(anns)
		for j := range anns {
			ann := &anns[j]
			if err := a.validate(ann); err != nil {
				return nil, fmt.Errorf("Image %v, annotation %v: %w", i, j, err)
			}
			if b.Mask.At(i, ann.Anchor, 0) != 0 {
				b.NumDiscarded++
				continue
			}
			b.Mask.Set(i, ann.Anchor, 0, 1)
			b.Label.Set(i, ann.Anchor, ann.Class, 1)
			copy(b.BoxDelta.Row(i, ann.Anchor), ann.Delta)
			copy(b.BoxValue.Row(i, ann.Anchor), ann.Box)
			copy(b.EdgeAdhesion.Row(i, ann.Anchor), ann.Edge)
			b.Assigned[i] = append(b.Assigned[i], ann.Anchor)
		}
	}

	if a.Debug && b.NumDiscarded != 0 && a.Log != nil {
		a.Log.Warnf("Discarded %v/(%v) labels that are assigned to the same anchor", b.NumDiscarded, b.NumLabels)
	}
	return b, nil
}

func (a *Assembler) validate(ann *dataset.Annotation) error {
	s := a.Shape
	if ann.Anchor < 0 || ann.Anchor >= s.Anchors {
		return fmt.Errorf("anchor %v out of range [0, %v)", ann.Anchor, s.Anchors)
	}
	if ann.Class < 0 || ann.Class >= s.Classes {
		return fmt.Errorf("class %v out of range [0, %v)", ann.Class, s.Classes)
	}
	if len(ann.Delta) != s.Params || len(ann.Box) != s.Params || len(ann.Edge) != s.Params {
		return fmt.Errorf("expected %v box parameters, but got delta:%v box:%v edge:%v", s.Params, len(ann.Delta), len(ann.Box), len(ann.Edge))
	}
	return nil
}
