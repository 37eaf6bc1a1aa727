package linear

import (
	"testing"

	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/pkg/feed"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/nn"
	"github.com/cyclopcam/detrain/pkg/tensor"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testAnchors() []nn.Box {
	anchors := []nn.Box{}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			anchors = append(anchors, nn.Box{CX: float32(x*20 + 10), CY: float32(y*20 + 10), W: 20, H: 20})
		}
	}
	return anchors
}

func newTestModel(t *testing.T, tuneLastOnly bool) *Model {
	m, err := New(Options{
		Anchors:           testAnchors(),
		Classes:           3,
		Params:            4,
		Encoding:          nn.EncodingNormal,
		Schedule:          model.Schedule{Base: 0.05, DecayFactor: 0.5, DecaySteps: 1000},
		Filter:            nn.FilterParams{TopN: 4, NMSThresh: 0.4, NumClasses: 3},
		Coefs:             LossCoefs{ConfPos: 75, ConfNeg: 100, BBox: 5, Class: 1},
		MaxGradNorm:       1,
		TuneLastLayerOnly: tuneLastOnly,
		Seed:              1,
	})
	require.NoError(t, err)
	return m
}

func testBatch(t *testing.T) *feed.Batch {
	asm := feed.NewAssembler(logs.NewTestingLog(t), feed.Shape{BatchSize: 2, Anchors: 9, Classes: 3, Params: 4}, false)
	img := tensor.NewImage(60, 60)
	for i := range img.Pix {
		img.Pix[i] = float32(i % 200)
	}
	raw := &dataset.RawBatch{
		Images: []*tensor.Image{img, img},
		Annotations: [][]dataset.Annotation{
			{{Class: 1, Anchor: 4, Delta: []float32{0.1, -0.1, 0.2, 0}, Box: []float32{32, 28, 24, 20}, Edge: make([]bool, 4)}},
			{{Class: 2, Anchor: 0, Delta: []float32{0, 0, 0, 0}, Box: []float32{10, 10, 20, 20}, Edge: make([]bool, 4)}},
		},
	}
	b, err := asm.Assemble(raw, 1)
	require.NoError(t, err)
	return b
}

func TestTrainingReducesLoss(t *testing.T) {
	m := newTestModel(t, false)
	b := testBatch(t)

	first, err := m.TrainStep(b)
	require.NoError(t, err)
	require.False(t, first.Losses.IsNaN())
	require.InDelta(t, first.Losses.Conf+first.Losses.Class+first.Losses.BBox, first.Losses.Total, 1e-4)
	require.Equal(t, int64(1), m.GlobalStep())

	var last *model.Outputs
	for i := 0; i < 50; i++ {
		last, err = m.TrainStep(b)
		require.NoError(t, err)
	}
	require.Less(t, last.Losses.Total, first.Losses.Total)
	require.Equal(t, int64(51), m.GlobalStep())
}

func TestEvaluateDoesNotUpdate(t *testing.T) {
	m := newTestModel(t, false)
	b := testBatch(t)
	before := m.Variables().Clone()
	out, err := m.Evaluate(b)
	require.NoError(t, err)
	require.Len(t, out.Detections, 2)
	require.Len(t, out.Detections[0].Boxes, 9)
	require.Equal(t, int64(0), m.GlobalStep())
	for _, v := range before.List() {
		require.True(t, v.Value.BitEqual(m.Variables().Get(v.Name).Value), v.Name)
	}
}

func TestTuneLastLayerOnly(t *testing.T) {
	m := newTestModel(t, true)
	scale := m.Variables().Get("features/scale").Value.Clone()
	kernel := m.Variables().Get("conv12/kernel").Value.Clone()
	_, err := m.TrainStep(testBatch(t))
	require.NoError(t, err)
	require.True(t, scale.BitEqual(m.Variables().Get("features/scale").Value))
	require.False(t, kernel.BitEqual(m.Variables().Get("conv12/kernel").Value))
}

func TestFilterPrediction(t *testing.T) {
	m := newTestModel(t, false)
	out, err := m.Evaluate(testBatch(t))
	require.NoError(t, err)
	final := m.FilterPrediction(&out.Detections[0])
	require.LessOrEqual(t, len(final.Boxes), 4)
	require.Equal(t, len(final.Boxes), len(final.Probs))
	require.Equal(t, len(final.Boxes), len(final.Classes))
}

func TestLearningRate(t *testing.T) {
	m := newTestModel(t, false)
	require.Equal(t, float32(0.05), m.LearningRate())
	m.SetGlobalStep(1000)
	require.InDelta(t, 0.025, m.LearningRate(), 1e-7)
	m.SetSchedule(model.Schedule{Base: 0.001})
	require.Equal(t, float32(0.001), m.LearningRate())
}

func TestShapeMismatch(t *testing.T) {
	m := newTestModel(t, false)
	asm := feed.NewAssembler(logs.NewTestingLog(t), feed.Shape{BatchSize: 1, Anchors: 5, Classes: 3, Params: 4}, false)
	b, err := asm.Assemble(&dataset.RawBatch{Images: []*tensor.Image{tensor.NewImage(2, 2)}, Annotations: [][]dataset.Annotation{{}}}, 1)
	require.NoError(t, err)
	_, err = m.TrainStep(b)
	require.Error(t, err)
}
