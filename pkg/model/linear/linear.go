package linear

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/detrain/pkg/feed"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/nn"
)

// Package linear is a small reference detector. Every anchor predicts its confidence,
// class and box delta from a linear function of global image statistics, plus a
// per-anchor bias. It shares the loss structure of SqueezeDet, which makes it useful for
// exercising the training pipeline end to end without a deep learning runtime.

const numFeatures = 4 // 3 channel means, plus a constant

// LossCoefs weight the three loss components
type LossCoefs struct {
	ConfPos float32
	ConfNeg float32
	BBox    float32
	Class   float32
}

type Options struct {
	Anchors           []nn.Box
	Classes           int
	Params            int
	Encoding          nn.DeltaEncoding
	Schedule          model.Schedule
	Filter            nn.FilterParams
	FinalLayer        string
	Stats             model.Stats
	Coefs             LossCoefs
	MaxGradNorm       float32
	TuneLastLayerOnly bool
	Seed              int64
}

// Model implements model.Model
type Model struct {
	opts     Options
	vars     *model.Variables
	scale    *model.Variable // [3]
	kernel   *model.Variable // [K, numFeatures]
	bias     *model.Variable // [A, K]
	step     int64
	schedule model.Schedule
	rnd      *rand.Rand
}

func New(opts Options) (*Model, error) {
	if len(opts.Anchors) == 0 {
		return nil, errors.New("No anchors")
	}
	if opts.Classes <= 0 {
		return nil, fmt.Errorf("Invalid number of classes %v", opts.Classes)
	}
	if !nn.ValidParameterization(opts.Params) {
		return nil, fmt.Errorf("Invalid box parameterization %v", opts.Params)
	}
	if opts.FinalLayer == "" {
		opts.FinalLayer = "conv12"
	}
	m := &Model{
		opts:     opts,
		vars:     model.NewVariables(),
		schedule: opts.Schedule,
		rnd:      rand.New(rand.NewSource(opts.Seed)),
	}
	k := m.outputs()
	m.scale = m.vars.Add("features", "scale", 3)
	m.kernel = m.vars.Add(opts.FinalLayer, "kernel", k, numFeatures)
	m.bias = m.vars.Add(opts.FinalLayer, "bias", len(opts.Anchors), k)
	for i := range m.scale.Value.Data {
		m.scale.Value.Data[i] = 1.0 / 128
	}
	for i := range m.kernel.Value.Data {
		m.kernel.Value.Data[i] = float32(m.rnd.NormFloat64() * 0.01)
	}
	return m, nil
}

// outputs per anchor: confidence, class logits, box deltas
func (m *Model) outputs() int {
	return 1 + m.opts.Classes + m.opts.Params
}

func (m *Model) GlobalStep() int64 {
	return m.step
}

func (m *Model) SetGlobalStep(step int64) {
	m.step = step
}

func (m *Model) LearningRate() float32 {
	return m.schedule.Rate(m.step)
}

func (m *Model) Schedule() model.Schedule {
	return m.schedule
}

func (m *Model) SetSchedule(s model.Schedule) {
	m.schedule = s
}

func (m *Model) Variables() *model.Variables {
	return m.vars
}

func (m *Model) FinalLayer() string {
	return m.opts.FinalLayer
}

func (m *Model) Stats() model.Stats {
	return m.opts.Stats
}

func (m *Model) TrainStep(batch *feed.Batch) (*model.Outputs, error) {
	out, grads, err := m.run(batch, true)
	if err != nil {
		return nil, err
	}
	if out.Losses.IsNaN() {
		return out, nil
	}
	grads.clip(m.opts.MaxGradNorm)
	lr := m.LearningRate()
	axpy(-lr, grads.kernel, m.kernel.Value.Data)
	axpy(-lr, grads.bias, m.bias.Value.Data)
	if !m.opts.TuneLastLayerOnly {
		axpy(-lr, grads.scale, m.scale.Value.Data)
	}
	m.step++
	return out, nil
}

func (m *Model) Evaluate(batch *feed.Batch) (*model.Outputs, error) {
	out, _, err := m.run(batch, false)
	return out, err
}

func (m *Model) FilterPrediction(det *model.Detections) *model.Detections {
	boxes := make([]nn.Box, len(det.Boxes))
	for i, b := range det.Boxes {
		boxes[i] = nn.BoxFromSlice(b)
	}
	keep := nn.FilterPrediction(boxes, det.Probs, det.Classes, &m.opts.Filter)
	final := &model.Detections{}
	for _, i := range keep {
		final.Boxes = append(final.Boxes, det.Boxes[i])
		final.Probs = append(final.Probs, det.Probs[i])
		final.Classes = append(final.Classes, det.Classes[i])
	}
	return final
}

type gradients struct {
	scale  []float32
	kernel []float32
	bias   []float32
}

// clip scales the gradients so that their global norm is at most maxNorm
func (g *gradients) clip(maxNorm float32) {
	if maxNorm <= 0 {
		return
	}
	sum := float32(0)
	for _, s := range [][]float32{g.scale, g.kernel, g.bias} {
		for _, v := range s {
			sum += v * v
		}
	}
	norm := math32.Sqrt(sum)
	if norm <= maxNorm {
		return
	}
	f := maxNorm / norm
	for _, s := range [][]float32{g.scale, g.kernel, g.bias} {
		for i := range s {
			s[i] *= f
		}
	}
}

func axpy(a float32, x, y []float32) {
	for i, v := range x {
		y[i] += a * v
	}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
