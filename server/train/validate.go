package train

import (
	"fmt"

	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/pkg/feed"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/server/summary"
	"github.com/cyclopcam/detrain/server/viz"
	"github.com/cyclopcam/logs"
	"gonum.org/v1/gonum/stat"
)

// ValidationResult holds the losses of one pass over the validation set
type ValidationResult struct {
	Step    int64
	Batches []model.Losses
	Mean    model.Losses
	Std     model.Losses
}

// Validator evaluates the model on the whole validation set, without updating it
type Validator struct {
	log      logs.Log
	reader   dataset.Reader
	asm      *feed.Assembler
	renderer *viz.Renderer
	metrics  *summary.MetricsFile
	summary  *summary.Store // May be nil
}

func NewValidator(log logs.Log, reader dataset.Reader, asm *feed.Assembler, renderer *viz.Renderer, metrics *summary.MetricsFile, store *summary.Store) *Validator {
	return &Validator{
		log:      log,
		reader:   reader,
		asm:      asm,
		renderer: renderer,
		metrics:  metrics,
		summary:  store,
	}
}

// NumBatches is the number of batches that covers the validation set exactly once
func (v *Validator) NumBatches() int {
	b := v.asm.Shape.BatchSize
	return (v.reader.Size() + b - 1) / b
}

func (v *Validator) Run(mdl model.Model, step int64) (*ValidationResult, error) {
	v.log.Infof("Validation set evaluation at step %v", step)
	appendMetrics(v.log, v.metrics, "\n!! Validation Set evaluation at step %v !!", step)

	res := &ValidationResult{Step: step}
	n := v.NumBatches()
	for i := 0; i < n; i++ {
		raw, err := v.reader.ReadBatch(false, false)
		if err != nil {
			return nil, fmt.Errorf("Failed to read validation batch %v: %w", i, err)
		}
		batch, err := v.asm.Assemble(raw, 1)
		if err != nil {
			return nil, fmt.Errorf("Failed to assemble validation batch %v: %w", i, err)
		}
		out, err := mdl.Evaluate(batch)
		if err != nil {
			return nil, fmt.Errorf("Failed to evaluate validation batch %v: %w", i, err)
		}
		l := out.Losses
		res.Batches = append(res.Batches, l)
		appendMetrics(v.log, v.metrics, "Batch: %v, %v", i+1, formatLosses(l))

		if i == 0 && v.summary != nil {
			images := v.renderer.Render(batch, out, mdl)
			if err := v.summary.AddImages(step, "validation", images); err != nil {
				v.log.Warnf("Failed to write validation images: %v", err)
			}
		}
	}

	res.Mean, res.Std = meanStd(res.Batches)
	v.log.Infof("Mean values : %v", formatLosses(res.Mean))
	v.log.Infof("Standard Deviation values : %v", formatLosses(res.Std))
	appendMetrics(v.log, v.metrics, "Mean values : %v", formatLosses(res.Mean))
	appendMetrics(v.log, v.metrics, "Standard Deviation values : %v", formatLosses(res.Std))

	if v.summary != nil {
		scalars := map[string]float64{}
		for tag, val := range lossScalars("validation/", res.Mean) {
			scalars[tag] = val
		}
		for tag, val := range lossScalars("validation_std/", res.Std) {
			scalars[tag] = val
		}
		if err := v.summary.AddScalars(step, scalars); err != nil {
			v.log.Warnf("Failed to write validation scalars: %v", err)
		}
	}
	return res, nil
}

// meanStd computes the population mean and standard deviation of each loss component
func meanStd(losses []model.Losses) (mean, std model.Losses) {
	if len(losses) == 0 {
		return
	}
	series := make([][]float64, 4)
	for _, l := range losses {
		series[0] = append(series[0], float64(l.Total))
		series[1] = append(series[1], float64(l.Conf))
		series[2] = append(series[2], float64(l.BBox))
		series[3] = append(series[3], float64(l.Class))
	}
	var m, s [4]float64
	for i, x := range series {
		m[i], s[i] = stat.PopMeanStdDev(x, nil)
	}
	mean = model.Losses{Total: float32(m[0]), Conf: float32(m[1]), BBox: float32(m[2]), Class: float32(m[3])}
	std = model.Losses{Total: float32(s[0]), Conf: float32(s[1]), BBox: float32(s[2]), Class: float32(s[3])}
	return
}

func formatLosses(l model.Losses) string {
	return fmt.Sprintf("total_loss: %v, conf_loss: %v, bbox_loss: %v, class_loss: %v", l.Total, l.Conf, l.BBox, l.Class)
}

func lossScalars(prefix string, l model.Losses) map[string]float64 {
	return map[string]float64{
		prefix + "total_loss": float64(l.Total),
		prefix + "conf_loss":  float64(l.Conf),
		prefix + "bbox_loss":  float64(l.BBox),
		prefix + "class_loss": float64(l.Class),
	}
}
