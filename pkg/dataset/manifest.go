package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/detrain/pkg/nn"
	"github.com/cyclopcam/detrain/pkg/tensor"
)

// ManifestSource reads an image set described by <dataPath>/<imageSet>.json.
// Images are decoded with cimg, and resized to the network input size.
// Objects whose class is not in the configured class list are ignored.
type ManifestSource struct {
	dataPath string
	manifest nn.Manifest
	classes  []string
	width    int
	height   int
}

func NewManifestSource(dataPath, imageSet string, classes []string, width, height int) (*ManifestSource, error) {
	filename := filepath.Join(dataPath, imageSet+".json")
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to read image set '%v': %w", imageSet, err)
	}
	m := &ManifestSource{
		dataPath: dataPath,
		classes:  classes,
		width:    width,
		height:   height,
	}
	if err := json.Unmarshal(raw, &m.manifest); err != nil {
		return nil, fmt.Errorf("Failed to decode %v: %w", filename, err)
	}
	return m, nil
}

func (m *ManifestSource) Len() int {
	return len(m.manifest.Images)
}

func (m *ManifestSource) Load(idx int) (*Sample, error) {
	if idx < 0 || idx >= len(m.manifest.Images) {
		return nil, fmt.Errorf("Image index %v out of range [0, %v)", idx, len(m.manifest.Images))
	}
	labels := m.manifest.Images[idx]
	img, err := cimg.ReadFile(filepath.Join(m.dataPath, labels.File))
	if err != nil {
		return nil, fmt.Errorf("Failed to read image %v: %w", labels.File, err)
	}
	if img.NChan() != 3 {
		img = img.ToRGB()
	}
	sx := float32(m.width) / float32(img.Width)
	sy := float32(m.height) / float32(img.Height)
	if img.Width != m.width || img.Height != m.height {
		img = cimg.ResizeNew(img, m.width, m.height, nil)
	}

	sample := &Sample{
		Image: tensor.FromRGB(img.Width, img.Height, img.Stride, img.Pixels),
	}
	for _, obj := range labels.Objects {
		cls := nn.ClassIndex(m.classes, strings.ToLower(obj.Class))
		if cls == -1 {
			continue
		}
		x1 := float32(obj.Box.X) * sx
		y1 := float32(obj.Box.Y) * sy
		x2 := float32(obj.Box.X2()) * sx
		y2 := float32(obj.Box.Y2()) * sy
		box := nn.BoxFromCorners(x1, y1, x2, y2)
		params := []float32{box.CX, box.CY, box.W, box.H}
		if obj.Cuts != nil {
			// Cuts run diagonally, so scale them by the mean of the two axes
			s := (sx + sy) / 2
			for _, c := range obj.Cuts {
				params = append(params, c*s)
			}
		}
		sample.Objects = append(sample.Objects, Object{Class: cls, Params: params})
	}
	return sample, nil
}
