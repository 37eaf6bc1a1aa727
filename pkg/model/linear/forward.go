package linear

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/detrain/pkg/feed"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/nn"
)

const epsilon = 1e-16

// run computes the outputs, losses and (when training) gradients for a batch
func (m *Model) run(batch *feed.Batch, train bool) (*model.Outputs, *gradients, error) {
	numAnchors := len(m.opts.Anchors)
	numClasses := m.opts.Classes
	numParams := m.opts.Params
	k := m.outputs()
	if batch.Mask.Shape[1] != numAnchors || batch.Label.Shape[2] != numClasses || batch.BoxDelta.Shape[2] != numParams {
		return nil, nil, fmt.Errorf("Batch shape %v/%v/%v does not match model (anchors: %v, classes: %v, params: %v)",
			batch.Mask.Shape, batch.Label.Shape, batch.BoxDelta.Shape, numAnchors, numClasses, numParams)
	}
	n := batch.NumImages
	if n == 0 {
		return nil, nil, fmt.Errorf("Batch is empty")
	}

	numObjects := float32(0)
	for i := 0; i < n; i++ {
		for a := 0; a < numAnchors; a++ {
			numObjects += batch.Mask.At(i, a, 0)
		}
	}
	numObjects = max(numObjects, 1)
	negDenom := max(float32(numAnchors)-numObjects, 1)
	coefs := m.opts.Coefs

	grads := &gradients{
		scale:  make([]float32, 3),
		kernel: make([]float32, len(m.kernel.Value.Data)),
		bias:   make([]float32, len(m.bias.Value.Data)),
	}
	out := &model.Outputs{Detections: make([]model.Detections, n)}
	kernel := m.kernel.Value.Data
	bias := m.bias.Value.Data
	z := make([]float32, k)
	dz := make([]float32, k)
	q := make([]float32, numClasses)

	for i := 0; i < n; i++ {
		means := batch.Images[i].ChannelMeans()
		var f, dropMask [numFeatures]float32
		for c := 0; c < 3; c++ {
			f[c] = means[c] * m.scale.Value.Data[c]
			dropMask[c] = 1
			if train && batch.KeepProb > 0 && batch.KeepProb < 1 {
				if m.rnd.Float32() < batch.KeepProb {
					dropMask[c] = 1 / batch.KeepProb
				} else {
					dropMask[c] = 0
				}
			}
			f[c] *= dropMask[c]
		}
		f[3] = 1
		var df [numFeatures]float32

		det := &out.Detections[i]
		det.Boxes = make([][]float32, numAnchors)
		det.Probs = make([]float32, numAnchors)
		det.Classes = make([]int, numAnchors)

		for a := 0; a < numAnchors; a++ {
			for o := 0; o < k; o++ {
				s := bias[a*k+o]
				for j := 0; j < numFeatures; j++ {
					s += kernel[o*numFeatures+j] * f[j]
				}
				z[o] = s
			}

			// Confidence
			p := sigmoid(z[0])
			mask := batch.Mask.At(i, a, 0)
			w := coefs.ConfNeg / negDenom
			if mask != 0 {
				w = coefs.ConfPos / numObjects
			}
			w /= float32(n)
			out.Losses.Conf += w * (p - mask) * (p - mask)
			dz[0] = 2 * w * (p - mask) * p * (1 - p)

			// Class
			softmax(z[1:1+numClasses], q)
			best := 0
			for c := 0; c < numClasses; c++ {
				y := batch.Label.At(i, a, c)
				if mask != 0 && y != 0 {
					out.Losses.Class += -math32.Log(max(q[c], epsilon)) * coefs.Class / numObjects
				}
				dz[1+c] = mask * coefs.Class / numObjects * (q[c] - y)
				if q[c] > q[best] {
					best = c
				}
			}

			// Box
			delta := z[1+numClasses:]
			for j := 0; j < numParams; j++ {
				diff := mask * (delta[j] - batch.BoxDelta.At(i, a, j))
				out.Losses.BBox += coefs.BBox * diff * diff / numObjects
				dz[1+numClasses+j] = 2 * coefs.BBox * diff * mask / numObjects
			}

			det.Boxes[a] = nn.DecodeDelta(delta, m.opts.Anchors[a], m.opts.Encoding)
			det.Probs[a] = p * q[best]
			det.Classes[a] = best

			if !train {
				continue
			}
			for o := 0; o < k; o++ {
				if dz[o] == 0 {
					continue
				}
				grads.bias[a*k+o] += dz[o]
				for j := 0; j < numFeatures; j++ {
					grads.kernel[o*numFeatures+j] += dz[o] * f[j]
					df[j] += dz[o] * kernel[o*numFeatures+j]
				}
			}
		}
		for c := 0; c < 3; c++ {
			grads.scale[c] += df[c] * means[c] * dropMask[c]
		}
	}

	out.Losses.Total = out.Losses.Conf + out.Losses.Class + out.Losses.BBox
	return out, grads, nil
}

func softmax(x, out []float32) {
	mx := x[0]
	for _, v := range x[1:] {
		mx = max(mx, v)
	}
	sum := float32(0)
	for i, v := range x {
		out[i] = math32.Exp(v - mx)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}
