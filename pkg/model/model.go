package model

import (
	"github.com/chewxy/math32"
	"github.com/cyclopcam/detrain/pkg/feed"
)

// Losses of a single step. Total is the sum of the other three, plus any regularization.
type Losses struct {
	Total float32 `json:"total"`
	Conf  float32 `json:"conf"`
	BBox  float32 `json:"bbox"`
	Class float32 `json:"class"`
}

func (l Losses) IsNaN() bool {
	return math32.IsNaN(l.Total) || math32.IsNaN(l.Conf) || math32.IsNaN(l.BBox) || math32.IsNaN(l.Class)
}

// Detections are the raw, unfiltered per-anchor predictions for one image.
// The three slices are parallel, with one entry per anchor.
type Detections struct {
	Boxes   [][]float32 // Center form box parameters, in image pixels
	Probs   []float32
	Classes []int
}

// Outputs of a training or evaluation step
type Outputs struct {
	Losses     Losses
	Detections []Detections // One per image in the batch
}

// Model is a trainable detector.
// A Model is driven from a single goroutine.
type Model interface {
	// TrainStep runs forward and backward passes on the batch, and applies one update.
	// The global step is incremented.
	TrainStep(batch *feed.Batch) (*Outputs, error)

	// Evaluate runs a forward pass without updating any weights
	Evaluate(batch *feed.Batch) (*Outputs, error)

	GlobalStep() int64
	SetGlobalStep(step int64)

	// LearningRate is the rate that the next TrainStep will use
	LearningRate() float32
	Schedule() Schedule
	SetSchedule(s Schedule)

	// Variables returns the model's variables. The returned object is live.
	Variables() *Variables

	// FinalLayer is the name of the output layer, which is skipped by a partial restore
	FinalLayer() string

	// FilterPrediction reduces raw detections to the final set, using top-N and per-class NMS
	FilterPrediction(det *Detections) *Detections

	Stats() Stats
}
