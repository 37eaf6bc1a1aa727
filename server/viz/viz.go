// Package viz draws ground truth and predicted boxes onto batch images, for the summary stream.
package viz

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/pkg/feed"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/nn"
	"github.com/cyclopcam/detrain/pkg/tensor"
	"github.com/fogleman/gg"
)

type Mode int

const (
	ModeBoxes   Mode = iota // Axis aligned rectangles
	ModeOctagon             // Polygon masks from the 8 parameter representation
)

var (
	GroundTruthColor = color.RGBA{0, 255, 0, 255}
	PredictionColor  = color.RGBA{255, 0, 0, 255}
)

const lineWidth = 2

type Options struct {
	Classes    []string
	ProbThresh float32 // Predictions at or below this probability are not drawn
	Mode       Mode
	EdgeText   bool // Draw the edge adhesion flags of each ground truth object
}

// Predictor reduces raw detections to the final set that gets drawn
type Predictor interface {
	FilterPrediction(det *model.Detections) *model.Detections
}

type Renderer struct {
	Options
}

func NewRenderer(opts Options) *Renderer {
	return &Renderer{Options: opts}
}

// ModeForParams picks polygon masks for octagon models, and rectangles otherwise
func ModeForParams(params int) Mode {
	if params == nn.ParamsOctagon {
		return ModeOctagon
	}
	return ModeBoxes
}

// Render draws onto a copy of each real image in the batch.
// outputs may be nil, in which case only ground truth is drawn.
func (r *Renderer) Render(batch *feed.Batch, outputs *model.Outputs, predictor Predictor) []image.Image {
	images := []image.Image{}
	for i := 0; i < batch.NumImages; i++ {
		dc := gg.NewContextForRGBA(ToRGBA(batch.Images[i]))
		if batch.Raw != nil && i < len(batch.Raw.Annotations) {
			for _, ann := range batch.Raw.Annotations[i] {
				r.drawGroundTruth(dc, &ann)
			}
		}
		if outputs != nil && i < len(outputs.Detections) {
			det := &outputs.Detections[i]
			if predictor != nil {
				det = predictor.FilterPrediction(det)
			}
			for j := range det.Probs {
				if det.Probs[j] <= r.ProbThresh {
					continue
				}
				label := fmt.Sprintf("%v: (%.2f)", r.className(det.Classes[j]), det.Probs[j])
				r.drawObject(dc, nn.OctagonFromParams(det.Boxes[j]), PredictionColor, label, false)
			}
		}
		images = append(images, dc.Image())
	}
	return images
}

func (r *Renderer) drawGroundTruth(dc *gg.Context, ann *dataset.Annotation) {
	label := r.className(ann.Class)
	if r.EdgeText && len(ann.Edge) != 0 {
		label += " " + nn.FormatEdgeAdhesion(ann.Edge)
	}
	r.drawObject(dc, nn.OctagonFromParams(ann.Box), GroundTruthColor, label, r.EdgeText)
}

func (r *Renderer) drawObject(dc *gg.Context, obj nn.Octagon, c color.RGBA, label string, fillMask bool) {
	x1, y1, x2, y2 := obj.Box.Corners()
	dc.SetLineWidth(lineWidth)
	dc.SetColor(c)
	if r.Mode == ModeOctagon {
		pts := obj.Points()
		dc.NewSubPath()
		for _, p := range pts {
			dc.LineTo(float64(p.X), float64(p.Y))
		}
		dc.ClosePath()
		if fillMask {
			dc.SetRGBA255(int(c.R), int(c.G), int(c.B), 128)
			dc.FillPreserve()
			dc.SetColor(c)
		}
		dc.Stroke()
	} else {
		dc.DrawRectangle(float64(x1), float64(y1), float64(x2-x1), float64(y2-y1))
		dc.Stroke()
	}
	drawLabel(dc, label, float64(x1), float64(y1), c)
}

// drawLabel puts white text on a filled rectangle, just above (x, y)
func drawLabel(dc *gg.Context, text string, x, y float64, bg color.RGBA) {
	w, h := dc.MeasureString(text)
	pad := 2.0
	top := y - h - pad*2
	if top < 0 {
		top = y
	}
	dc.SetColor(bg)
	dc.DrawRectangle(x, top, w+pad*2, h+pad*2)
	dc.Fill()
	dc.SetColor(color.White)
	dc.DrawString(text, x+pad, top+pad+h)
}

func (r *Renderer) className(cls int) string {
	if cls >= 0 && cls < len(r.Classes) {
		return r.Classes[cls]
	}
	return fmt.Sprintf("class%v", cls)
}

// ToRGBA converts a float image to 8 bits, clamping to [0, 255]
func ToRGBA(img *tensor.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			p := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				out.Pix[p+c] = uint8(min(max(img.At(x, y, c), 0), 255))
			}
			out.Pix[p+3] = 255
		}
	}
	return out
}
