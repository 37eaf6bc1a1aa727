package train

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/pkg/feed"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/model/arch"
	"github.com/cyclopcam/detrain/pkg/nn"
	"github.com/cyclopcam/detrain/pkg/tensor"
	"github.com/cyclopcam/detrain/server/checkpoint"
	"github.com/cyclopcam/detrain/server/config"
	"github.com/cyclopcam/detrain/server/log"
	"github.com/cyclopcam/detrain/server/storage"
	"github.com/cyclopcam/detrain/server/summary"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Dataset:        config.DatasetKITTI,
		Arch:           arch.SqueezeDet,
		Classes:        nn.KITTIClasses,
		ImageWidth:     64,
		ImageHeight:    48,
		AnchorShapes:   [][2]float32{{16, 16}, {32, 24}},
		Params:         4,
		Encoding:       nn.EncodingNormal,
		BatchSize:      4,
		Schedule:       model.Schedule{Base: 0.01, DecayFactor: 0.5, DecaySteps: 1000},
		KeepProb:       0.5,
		MaxGradNorm:    1,
		LossCoefs:      config.LossCoefs{ConfPos: 75, ConfNeg: 100, BBox: 5, Class: 1},
		Filter:         *nn.NewFilterParams(len(nn.KITTIClasses)),
		PlotProbThresh: 0.4,
		NumThreads:     2,
		QueueCapacity:  3,
		DequeueTimeout: 10 * time.Second,
		TrainDir:       t.TempDir(),
		MaxSteps:       25,
		SummaryStep:    10,
		CheckpointStep: 10,
		WarmRestartLR:  -1,
	}
	cfg.GridWidth, cfg.GridHeight = arch.GridSize(cfg.ImageWidth, cfg.ImageHeight)
	cfg.Anchors = config.GridAnchors(cfg.GridWidth, cfg.GridHeight, cfg.ImageWidth, cfg.ImageHeight, cfg.AnchorShapes)
	return cfg
}

func testReader(t *testing.T, cfg *config.Config, n int, seed int64) *dataset.ImageDB {
	rnd := rand.New(rand.NewSource(seed))
	samples := []*dataset.Sample{}
	for i := 0; i < n; i++ {
		img := tensor.NewImage(cfg.ImageWidth, cfg.ImageHeight)
		for j := range img.Pix {
			img.Pix[j] = float32(rnd.Intn(256))
		}
		objects := []dataset.Object{}
		for j := 0; j < 1+rnd.Intn(3); j++ {
			objects = append(objects, dataset.Object{
				Class:  rnd.Intn(len(cfg.Classes)),
				Params: []float32{float32(10 + rnd.Intn(40)), float32(10 + rnd.Intn(30)), float32(8 + rnd.Intn(20)), float32(8 + rnd.Intn(20))},
			})
		}
		samples = append(samples, &dataset.Sample{Image: img, Objects: objects})
	}
	db, err := dataset.NewImageDB(logs.NewTestingLog(t), dataset.NewMemorySource(samples), dataset.ImageDBOptions{
		Anchors:     cfg.Anchors,
		BatchSize:   cfg.BatchSize,
		Params:      cfg.Params,
		Encoding:    cfg.Encoding,
		ImageWidth:  cfg.ImageWidth,
		ImageHeight: cfg.ImageHeight,
		Seed:        seed,
	})
	require.NoError(t, err)
	return db
}

type testEnv struct {
	cfg     *config.Config
	store   *storage.StorageFS
	summary *summary.Store
	deps    Deps
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	log := logs.NewTestingLog(t)
	store, err := storage.NewStorageFS(log, cfg.TrainDir)
	require.NoError(t, err)
	sum, err := summary.Open(log, cfg.TrainDir)
	require.NoError(t, err)
	t.Cleanup(sum.Close)
	mdl, err := NewModel(cfg)
	require.NoError(t, err)
	env := &testEnv{
		cfg:     cfg,
		store:   store,
		summary: sum,
		deps: Deps{
			Model:       mdl,
			TrainReader: testReader(t, cfg, 12, 1),
			Checkpoints: checkpoint.NewManager(log, store),
			Summary:     sum,
		},
	}
	if cfg.EvalValid {
		env.deps.ValidReader = testReader(t, cfg, 10, 2)
	}
	return env
}

func (e *testEnv) trainer(t *testing.T) *Trainer {
	tr, err := NewTrainer(logs.NewTestingLog(t), e.cfg, e.deps)
	require.NoError(t, err)
	require.NoError(t, tr.Prepare())
	return tr
}

func (e *testEnv) checkpoints(t *testing.T) []string {
	names, err := e.store.List(checkpoint.Prefix)
	require.NoError(t, err)
	return names
}

func readFile(t *testing.T, path string) string {
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestTrainAndResume(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg)
	tr := env.trainer(t)
	require.NoError(t, tr.Run(context.Background()))

	require.ElementsMatch(t, []string{"model.ckpt-0", "model.ckpt-10", "model.ckpt-20", "model.ckpt-24"}, env.checkpoints(t))
	require.Equal(t, int64(25), env.deps.Model.GlobalStep())
	status := tr.Status()
	require.False(t, status.Running)
	require.Equal(t, int64(24), status.Step)
	require.Equal(t, "model.ckpt-24", status.LastCheckpoint)
	require.Empty(t, status.Error)

	metrics := readFile(t, filepath.Join(cfg.TrainDir, "training_metrics.txt"))
	require.Contains(t, metrics, "Global step after restore: 0\n")
	require.Contains(t, metrics, "step: 0, total_loss: ")
	require.Contains(t, metrics, "step: 20, total_loss: ")
	require.Contains(t, metrics, "step 20, loss = ")
	require.Contains(t, readFile(t, filepath.Join(cfg.TrainDir, "model_metrics.txt")), "Model size counter:")

	losses, err := env.summary.Scalars("train/total_loss", 10)
	require.NoError(t, err)
	require.Len(t, losses, 3)
	images, err := env.summary.Images(10)
	require.NoError(t, err)
	require.Len(t, images, cfg.BatchSize)
	saved, err := env.summary.Checkpoints()
	require.NoError(t, err)
	require.Len(t, saved, 4)

	// A fresh model resumes from the last checkpoint
	cfg2 := *cfg
	cfg2.MaxSteps = 30
	env.deps.Model, err = NewModel(&cfg2)
	require.NoError(t, err)
	env.cfg = &cfg2
	tr = env.trainer(t)
	require.Equal(t, int64(25), env.deps.Model.GlobalStep())
	require.NoError(t, tr.Run(context.Background()))
	require.Contains(t, env.checkpoints(t), "model.ckpt-29")
	require.Len(t, env.checkpoints(t), 5)
	require.Contains(t, readFile(t, filepath.Join(cfg.TrainDir, "training_metrics.txt")), "Global step after restore: 25\n")
}

// Train a box model, warm restart an octagon model from it, and then resume the octagon model
func TestWarmRestartAndResume(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg)
	require.NoError(t, env.trainer(t).Run(context.Background()))
	require.ElementsMatch(t, []string{"model.ckpt-0", "model.ckpt-10", "model.ckpt-20", "model.ckpt-24"}, env.checkpoints(t))

	octagon := cfg.WithWarmRestart(0.001)
	octagon.Params = nn.ParamsOctagon
	octagon.BBoxCheckpoint = true
	octagon.MaxSteps = 15
	require.True(t, octagon.PartialRestore())
	var err error
	env.cfg = octagon
	env.deps.Model, err = NewModel(octagon)
	require.NoError(t, err)
	env.deps.TrainReader = testReader(t, octagon, 12, 1)
	tr := env.trainer(t)
	require.Equal(t, int64(0), env.deps.Model.GlobalStep())
	require.Equal(t, float32(0.001), env.deps.Model.LearningRate())
	require.NoError(t, tr.Run(context.Background()))

	// The restarted run writes new checkpoints beside the old ones
	require.ElementsMatch(t, []string{
		"model.ckpt-0", "model.ckpt-10", "model.ckpt-20", "model.ckpt-24",
		"model.ckpt-0.1", "model.ckpt-10.1", "model.ckpt-14",
	}, env.checkpoints(t))
	require.Equal(t, "model.ckpt-14", tr.Status().LastCheckpoint)
	require.Empty(t, tr.Status().Error)
	saved, err := env.summary.Checkpoints()
	require.NoError(t, err)
	require.Len(t, saved, 7)

	// Resuming picks up the octagon checkpoint, even though a box checkpoint has a higher step.
	// A full restore of the box checkpoint would fail on the final layer's shape.
	resume := *octagon
	resume.BBoxCheckpoint = false
	resume.WarmRestartLR = -1
	resume.MaxSteps = 20
	env.cfg = &resume
	env.deps.Model, err = NewModel(&resume)
	require.NoError(t, err)
	tr = env.trainer(t)
	require.Equal(t, int64(15), env.deps.Model.GlobalStep())
	require.NoError(t, tr.Run(context.Background()))
	require.Contains(t, env.checkpoints(t), "model.ckpt-19")
	require.Contains(t, readFile(t, filepath.Join(cfg.TrainDir, "training_metrics.txt")), "Global step after restore: 15\n")
}

func TestTrainWithoutProducers(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumThreads = 0
	cfg.MaxSteps = 3
	env := newTestEnv(t, cfg)
	tr := env.trainer(t)
	require.NoError(t, tr.Run(context.Background()))
	require.ElementsMatch(t, []string{"model.ckpt-0", "model.ckpt-2"}, env.checkpoints(t))
}

// nanModel produces a NaN loss from the given step onwards
type nanModel struct {
	model.Model
	nanAt    int64
	cancel   context.CancelCauseFunc // If not nil, called instead of producing NaN
	bboxOnly bool                    // Only the bounding box loss is NaN
	steps    atomic.Int64
}

func (m *nanModel) TrainStep(batch *feed.Batch) (*model.Outputs, error) {
	step := m.GlobalStep()
	out, err := m.Model.TrainStep(batch)
	m.steps.Add(1)
	if err != nil || step < m.nanAt {
		return out, err
	}
	if m.cancel != nil {
		m.cancel(ErrInterrupted)
		return out, nil
	}
	out.Losses.BBox = math32.NaN()
	if !m.bboxOnly {
		out.Losses.Total = math32.NaN()
	}
	return out, nil
}

func TestDivergence(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSteps = 1000
	env := newTestEnv(t, cfg)
	env.deps.Model = &nanModel{Model: env.deps.Model, nanAt: 13}
	tr := env.trainer(t)

	err := tr.Run(context.Background())
	require.ErrorIs(t, err, ErrDiverged)
	var div *DivergenceError
	require.True(t, errors.As(err, &div))
	require.Equal(t, int64(13), div.Step)
	require.True(t, math32.IsNaN(div.Losses.Total))

	// No checkpoint is written for the step that diverged
	require.ElementsMatch(t, []string{"model.ckpt-0", "model.ckpt-10"}, env.checkpoints(t))
	require.Contains(t, tr.Status().Error, "diverged")
	require.NotContains(t, readFile(t, filepath.Join(cfg.TrainDir, "training_metrics.txt")), "step 13,")
}

func TestComponentNaNIsNotDivergence(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSteps = 15
	env := newTestEnv(t, cfg)
	env.deps.Model = &nanModel{Model: env.deps.Model, nanAt: 3, bboxOnly: true}
	tr := env.trainer(t)

	require.NoError(t, tr.Run(context.Background()))
	require.Equal(t, int64(15), env.deps.Model.GlobalStep())
	require.ElementsMatch(t, []string{"model.ckpt-0", "model.ckpt-10", "model.ckpt-14"}, env.checkpoints(t))
	require.Empty(t, tr.Status().Error)
}

func TestInterrupt(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSteps = 1 << 40
	cfg.NumThreads = 4
	cfg.QueueCapacity = 1
	env := newTestEnv(t, cfg)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	fake := &nanModel{Model: env.deps.Model, nanAt: 5, cancel: cancel}
	env.deps.Model = fake
	tr := env.trainer(t)

	err := tr.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	require.Equal(t, int64(6), fake.steps.Load())
	require.False(t, tr.Status().Running)
	// No emergency checkpoint
	require.Equal(t, []string{"model.ckpt-0"}, env.checkpoints(t))
}

func TestValidation(t *testing.T) {
	cfg := testConfig(t)
	cfg.EvalValid = true
	cfg.MaxSteps = 11
	env := newTestEnv(t, cfg)
	tr := env.trainer(t)
	require.NotNil(t, tr.validator)
	require.Equal(t, 3, tr.validator.NumBatches())

	before := env.deps.Model.Variables().Clone()
	step := env.deps.Model.GlobalStep()
	res, err := tr.validator.Run(env.deps.Model, 0)
	require.NoError(t, err)
	require.Len(t, res.Batches, 3)
	require.Equal(t, step, env.deps.Model.GlobalStep())
	for _, name := range before.Names() {
		require.True(t, before.Get(name).Value.BitEqual(env.deps.Model.Variables().Get(name).Value), name)
	}
	sum := float32(0)
	for _, l := range res.Batches {
		sum += l.Total
	}
	require.InDelta(t, sum/3, res.Mean.Total, 1e-3)

	require.NoError(t, tr.Run(context.Background()))
	text := readFile(t, filepath.Join(cfg.TrainDir, "validation_metrics.txt"))
	require.Contains(t, text, "Global step after restore: 0\n")
	require.Equal(t, 3, strings.Count(text, "!! Validation Set evaluation at step"))
	require.Equal(t, 9, strings.Count(text, "Batch: "))
	require.Equal(t, 3, strings.Count(text, "Batch: 1, total_loss: "))
	require.Equal(t, 3, strings.Count(text, "Batch: 3, total_loss: "))
	require.NotContains(t, text, "Batch: 0,")
	require.NotContains(t, text, "Batch: 4,")
	require.Equal(t, 3, strings.Count(text, "Mean values : total_loss: "))
	require.Equal(t, 3, strings.Count(text, "Standard Deviation values : total_loss: "))

	images, err := env.summary.Images(10)
	require.NoError(t, err)
	require.Len(t, images, cfg.BatchSize)
	require.Equal(t, "validation", images[0].Tag)
	vals, err := env.summary.Scalars("validation/total_loss", 10)
	require.NoError(t, err)
	require.Len(t, vals, 3)
}

// warnLog records warnings
type warnLog struct {
	logs.Log
	lock     sync.Mutex
	warnings []string
}

func (l *warnLog) Warnf(format string, a ...any) {
	l.lock.Lock()
	l.warnings = append(l.warnings, fmt.Sprintf(format, a...))
	l.lock.Unlock()
	l.Log.Warnf(format, a...)
}

func TestMetricsWriteFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.EvalValid = true
	env := newTestEnv(t, cfg)
	tr := env.trainer(t)

	// Component loggers hang off the trainer's logger
	require.Equal(t, "Trainer: Validation: ", tr.validator.log.(*log.PrefixLogger).Prefix)

	wl := &warnLog{Log: logs.NewTestingLog(t)}
	tr.validator.log = wl
	tr.validator.metrics = summary.NewMetricsFile(filepath.Join(cfg.TrainDir, "missing", "validation_metrics.txt"))
	res, err := tr.validator.Run(env.deps.Model, 0)
	require.NoError(t, err)
	require.Len(t, res.Batches, 3)
	// Header, 3 batches, mean, std
	require.Len(t, wl.warnings, 6)
	require.Contains(t, wl.warnings[0], "Failed to write validation_metrics.txt")
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd([]model.Losses{{Total: 1, Conf: 2}, {Total: 3, Conf: 2}})
	require.Equal(t, float32(2), mean.Total)
	require.Equal(t, float32(1), std.Total)
	require.Equal(t, float32(0), std.Conf)
}
