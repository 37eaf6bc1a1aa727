package train

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/detrain/pkg/model"
)

var (
	ErrDiverged    = errors.New("Model diverged")
	ErrInterrupted = errors.New("Interrupted")
)

// DivergenceError is returned when the total loss of a step is NaN
type DivergenceError struct {
	Step   int64
	Losses model.Losses
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("Model diverged at step %v. Total loss: %v, conf_loss: %v, bbox_loss: %v, class_loss: %v",
		e.Step, e.Losses.Total, e.Losses.Conf, e.Losses.BBox, e.Losses.Class)
}

func (e *DivergenceError) Unwrap() error {
	return ErrDiverged
}
