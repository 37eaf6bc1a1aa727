// Package train drives the training loop: it feeds batches to the model, and writes
// summaries, validation results and checkpoints as it goes.
package train

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/pkg/feed"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/server/checkpoint"
	"github.com/cyclopcam/detrain/server/config"
	"github.com/cyclopcam/detrain/server/log"
	"github.com/cyclopcam/detrain/server/summary"
	"github.com/cyclopcam/detrain/server/viz"
	"github.com/cyclopcam/logs"
)

// Number of recent losses that are averaged into the smoothed loss
const smoothingWindow = 20

// Throughput is reported every this many steps
const throughputInterval = 10

// Deps are the collaborators of a Trainer
type Deps struct {
	Model       model.Model
	TrainReader dataset.Reader
	ValidReader dataset.Reader // Required if cfg.EvalValid
	Checkpoints *checkpoint.Manager
	Summary     *summary.Store // Optional
}

// Status is a snapshot of the training loop, for the status API
type Status struct {
	Running        bool         `json:"running"`
	Step           int64        `json:"step"`
	MaxSteps       int64        `json:"maxSteps"`
	Losses         model.Losses `json:"losses"`
	SmoothedLoss   float32      `json:"smoothedLoss"`
	LearningRate   float32      `json:"learningRate"`
	ImagesPerSec   float64      `json:"imagesPerSec"`
	LastCheckpoint string       `json:"lastCheckpoint"`
	Error          string       `json:"error,omitempty"`
}

type Trainer struct {
	log       *log.PrefixLogger
	cfg       *config.Config
	mdl       model.Model
	reader    dataset.Reader
	ckpt      *checkpoint.Manager
	summary   *summary.Store
	asm       *feed.Assembler
	renderer  *viz.Renderer
	validator *Validator

	trainMetrics *summary.MetricsFile
	validMetrics *summary.MetricsFile

	// Valid during Run
	coord     *feed.Coordinator
	queue     *feed.Queue
	producers *feed.Producers
	stopOnce  sync.Once

	recentLoss ringbuffer.RingP[float32]

	statusLock sync.Mutex
	status     Status
}

func NewTrainer(logger logs.Log, cfg *config.Config, deps Deps) (*Trainer, error) {
	if deps.Model == nil || deps.TrainReader == nil || deps.Checkpoints == nil {
		return nil, errors.New("Trainer requires a model, a training reader, and a checkpoint manager")
	}
	if cfg.EvalValid && deps.ValidReader == nil {
		return nil, errors.New("Validation is enabled, but there is no validation reader")
	}
	if err := os.MkdirAll(cfg.TrainDir, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create train dir: %w", err)
	}
	shape := feed.Shape{
		BatchSize: cfg.BatchSize,
		Anchors:   cfg.NumAnchors(),
		Classes:   len(cfg.Classes),
		Params:    cfg.Params,
	}
	tlog := log.NewPrefixLogger(logger, "Trainer")
	t := &Trainer{
		log:          tlog,
		cfg:          cfg,
		mdl:          deps.Model,
		reader:       deps.TrainReader,
		ckpt:         deps.Checkpoints,
		summary:      deps.Summary,
		asm:          feed.NewAssembler(tlog.Sub("Assembler"), shape, cfg.Debug),
		trainMetrics: summary.NewMetricsFile(filepath.Join(cfg.TrainDir, "training_metrics.txt")),
		validMetrics: summary.NewMetricsFile(filepath.Join(cfg.TrainDir, "validation_metrics.txt")),
		recentLoss:   ringbuffer.NewRingP[float32](smoothingWindow),
	}
	t.renderer = viz.NewRenderer(viz.Options{
		Classes:    cfg.Classes,
		ProbThresh: cfg.PlotProbThresh,
		Mode:       viz.ModeForParams(cfg.Params),
		EdgeText:   cfg.Debug,
	})
	if cfg.EvalValid {
		vlog := tlog.Sub("Validation")
		validAsm := feed.NewAssembler(vlog.Sub("Assembler"), shape, cfg.Debug)
		t.validator = NewValidator(vlog, deps.ValidReader, validAsm, t.renderer, t.validMetrics, deps.Summary)
	}
	t.status.MaxSteps = cfg.MaxSteps
	return t, nil
}

// Prepare writes the model statistics, loads pretrained weights, and restores the latest checkpoint.
// It must be called once, before Run.
func (t *Trainer) Prepare() error {
	path, err := writeModelMetrics(t.cfg.TrainDir, t.mdl.Stats())
	if err != nil {
		return err
	}
	t.log.Infof("Model statistics saved to %v", path)

	if t.cfg.LoadPretrained {
		if !t.cfg.Arch.UsesPretrained() {
			t.log.Infof("Not using pretrained model for %v", t.cfg.Arch)
		} else if _, err := checkpoint.LoadPretrained(t.log, t.cfg.PretrainedModelPath, t.mdl); err != nil {
			return err
		}
	}

	mode := checkpoint.ModeFull
	if t.cfg.PartialRestore() {
		mode = checkpoint.ModePartial
	}
	t.log.Infof("Global step before restore: %v", t.mdl.GlobalStep())
	res, err := t.ckpt.Restore(t.mdl, mode, t.cfg.WarmRestartLR)
	if err != nil {
		return err
	}
	if res.Restored {
		t.log.Infof("Found checkpoint at step %v", res.CheckpointStep)
	}
	step := t.mdl.GlobalStep()
	t.log.Infof("Global step after restore: %v", step)
	appendMetrics(t.log, t.trainMetrics, "Global step after restore: %v", step)
	if t.cfg.EvalValid {
		appendMetrics(t.log, t.validMetrics, "Global step after restore: %v", step)
	}
	t.setStatus(func(s *Status) {
		s.Step = step
		s.LearningRate = t.mdl.LearningRate()
	})
	return nil
}

// Run trains until MaxSteps, or until ctx is cancelled, or until something fails.
// It returns nil when training completes, ErrInterrupted if ctx was cancelled with that cause,
// and otherwise the first error that stopped training.
// Producers are always joined before Run returns.
func (t *Trainer) Run(ctx context.Context) error {
	t.coord = feed.NewCoordinator(ctx)
	if t.cfg.NumThreads > 0 {
		t.queue = feed.NewQueue(t.cfg.QueueCapacity)
		t.producers = feed.StartProducers(t.log.Sub("Producer"), t.cfg.NumThreads, t.reader, t.asm, t.queue, t.coord, t.cfg.KeepProb)
	}
	t.setStatus(func(s *Status) { s.Running = true })

	err := t.loop()
	if err != nil {
		t.coord.RequestStop(err)
	}
	t.shutdown()

	// The first cause wins, so an interrupt that arrived before a failure is reported as such
	err = t.coord.Cause()
	switch {
	case err == nil:
		t.log.Infof("Training finished at step %v", t.mdl.GlobalStep())
	case errors.Is(err, ErrInterrupted):
		t.log.Infof("Interrupted. Terminating..")
	case errors.Is(err, ErrDiverged):
		t.log.Errorf("%v", err)
	default:
		t.log.Errorf("Unexpected error (%T): %v", err, err)
	}
	t.setStatus(func(s *Status) {
		s.Running = false
		if err != nil {
			s.Error = err.Error()
		}
	})
	return err
}

// shutdown stops the coordinator, closes the queue, and waits for the producers.
// Every way out of Run goes through here.
func (t *Trainer) shutdown() {
	t.stopOnce.Do(func() {
		t.coord.RequestStop(nil)
		if t.queue != nil {
			t.queue.Close()
		}
		if t.producers != nil {
			if err := t.producers.Wait(); err != nil {
				t.log.Warnf("Producer exited with error: %v", err)
			}
		}
	})
}

func (t *Trainer) loop() error {
	for step := t.mdl.GlobalStep(); step < t.cfg.MaxSteps; step++ {
		if t.coord.ShouldStop() {
			return nil
		}
		start := time.Now()
		isSummary := step%t.cfg.SummaryStep == 0

		batch, err := t.nextBatch(isSummary)
		if err != nil {
			if t.coord.ShouldStop() && (errors.Is(err, context.Canceled) || errors.Is(err, feed.ErrQueueClosed)) {
				return nil
			}
			return err
		}

		out, err := t.mdl.TrainStep(batch)
		if err != nil {
			return fmt.Errorf("Training step %v failed: %w", step, err)
		}
		duration := time.Since(start)
		// Only the total loss decides divergence
		if math32.IsNaN(out.Losses.Total) {
			return &DivergenceError{Step: step, Losses: out.Losses}
		}
		t.recordStep(step, out.Losses, duration)

		if isSummary {
			if err := t.summarize(step, batch, out); err != nil {
				return err
			}
		}
		if step%throughputInterval == 0 {
			t.logThroughput(step, out.Losses, duration)
		}
		if step%t.cfg.CheckpointStep == 0 || step+1 == t.cfg.MaxSteps {
			if err := t.saveCheckpoint(step); err != nil {
				return err
			}
		}
	}
	return nil
}

// nextBatch takes a batch from the queue, or reads one directly when there are no producers.
// Summary steps always read directly.
func (t *Trainer) nextBatch(direct bool) (*feed.Batch, error) {
	if direct || t.queue == nil {
		raw, err := t.reader.ReadBatch(true, true)
		if err != nil {
			return nil, fmt.Errorf("Failed to read batch: %w", err)
		}
		return t.asm.Assemble(raw, t.cfg.KeepProb)
	}
	batch, err := t.queue.Dequeue(t.coord.Context(), t.cfg.DequeueTimeout)
	if err != nil {
		return nil, fmt.Errorf("Failed to dequeue batch: %w", err)
	}
	return batch, nil
}

func (t *Trainer) recordStep(step int64, losses model.Losses, duration time.Duration) {
	t.recentLoss.Add(losses.Total)
	smoothed := t.smoothedLoss()
	t.setStatus(func(s *Status) {
		s.Step = step
		s.Losses = losses
		s.SmoothedLoss = smoothed
		s.LearningRate = t.mdl.LearningRate()
		if duration > 0 {
			s.ImagesPerSec = float64(t.cfg.BatchSize) / duration.Seconds()
		}
	})
}

func (t *Trainer) smoothedLoss() float32 {
	n := t.recentLoss.Len()
	if n == 0 {
		return 0
	}
	sum := float32(0)
	for i := 0; i < n; i++ {
		sum += t.recentLoss.Peek(i)
	}
	return sum / float32(n)
}

func (t *Trainer) summarize(step int64, batch *feed.Batch, out *model.Outputs) error {
	l := out.Losses
	t.log.Infof("%v", formatLosses(l))
	appendMetrics(t.log, t.trainMetrics, "step: %v, %v", step, formatLosses(l))

	if t.summary != nil {
		scalars := lossScalars("train/", l)
		scalars["train/smoothed_loss"] = float64(t.smoothedLoss())
		scalars["train/learning_rate"] = float64(t.mdl.LearningRate())
		scalars["train/discard_ratio"] = float64(batch.DiscardRatio())
		if err := t.summary.AddScalars(step, scalars); err != nil {
			t.log.Warnf("Failed to write summary: %v", err)
		}
	}

	if t.validator != nil {
		if _, err := t.validator.Run(t.mdl, step); err != nil {
			return fmt.Errorf("Validation failed: %w", err)
		}
	} else if t.summary != nil {
		images := t.renderer.Render(batch, out, t.mdl)
		if err := t.summary.AddImages(step, "train", images); err != nil {
			t.log.Warnf("Failed to write training images: %v", err)
		}
	}
	return nil
}

func (t *Trainer) logThroughput(step int64, losses model.Losses, duration time.Duration) {
	sec := duration.Seconds()
	imagesPerSec := 0.0
	if sec > 0 {
		imagesPerSec = float64(t.cfg.BatchSize) / sec
	}
	msg := fmt.Sprintf("step %d, loss = %.2f (%.1f images/sec; %.3f sec/batch)", step, losses.Total, imagesPerSec, sec)
	t.log.Infof("%v, smoothed loss = %.2f", msg, t.smoothedLoss())
	appendMetrics(t.log, t.trainMetrics, "%v: %v", time.Now().Format("2006-01-02 15:04:05.000000"), msg)
}

func (t *Trainer) saveCheckpoint(step int64) error {
	t.log.Infof("Checkpointing at step %v", step)
	name, err := t.ckpt.Save(t.mdl, step)
	if err != nil {
		return fmt.Errorf("Failed to save checkpoint: %w", err)
	}
	if t.summary != nil {
		if err := t.summary.AddCheckpoint(step, name); err != nil {
			t.log.Warnf("%v", err)
		}
	}
	t.setStatus(func(s *Status) { s.LastCheckpoint = name })
	return nil
}

func (t *Trainer) setStatus(f func(s *Status)) {
	t.statusLock.Lock()
	f(&t.status)
	t.statusLock.Unlock()
}

// Status returns a snapshot of the training loop. It is safe to call from any goroutine.
func (t *Trainer) Status() Status {
	t.statusLock.Lock()
	defer t.statusLock.Unlock()
	return t.status
}
