package checkpoint

import (
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/tensor"
)

const formatVersion = 1

// Checkpoint is the decoded content of a checkpoint file.
// On disk, it is zlib-compressed JSON. float32 values survive the JSON round trip exactly.
type Checkpoint struct {
	Version    int            `json:"version"`
	GlobalStep int64          `json:"globalStep"`
	Schedule   model.Schedule `json:"schedule"`
	Variables  []Variable     `json:"variables"`
}

type Variable struct {
	Name  string    `json:"name"`
	Layer string    `json:"layer"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Snapshot copies the state of a model into a Checkpoint
func Snapshot(m model.Model) (*Checkpoint, error) {
	c := &Checkpoint{
		Version:    formatVersion,
		GlobalStep: m.GlobalStep(),
		Schedule:   m.Schedule(),
	}
	for _, v := range m.Variables().List() {
		if v.Value.HasNaN() {
			return nil, fmt.Errorf("Variable %v contains NaN", v.Name)
		}
		c.Variables = append(c.Variables, Variable{
			Name:  v.Name,
			Layer: v.Layer,
			Shape: append([]int(nil), v.Value.Shape...),
			Data:  append([]float32(nil), v.Value.Data...),
		})
	}
	return c, nil
}

func (c *Checkpoint) find(name string) *Variable {
	for i := range c.Variables {
		if c.Variables[i].Name == name {
			return &c.Variables[i]
		}
	}
	return nil
}

func (v *Variable) Tensor() *tensor.Dense {
	return tensor.FromData(v.Data, v.Shape...)
}

func Encode(w io.Writer, c *Checkpoint) error {
	zw := zlib.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(c); err != nil {
		zw.Close()
		return fmt.Errorf("Failed to encode checkpoint: %w", err)
	}
	return zw.Close()
}

func Decode(r io.Reader) (*Checkpoint, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("Failed to open checkpoint: %w", err)
	}
	defer zr.Close()
	c := &Checkpoint{}
	if err := json.NewDecoder(zr).Decode(c); err != nil {
		return nil, fmt.Errorf("Failed to decode checkpoint: %w", err)
	}
	if c.Version != formatVersion {
		return nil, fmt.Errorf("Unsupported checkpoint version %v", c.Version)
	}
	for _, v := range c.Variables {
		n := 1
		for _, s := range v.Shape {
			n *= s
		}
		if n != len(v.Data) {
			return nil, fmt.Errorf("Checkpoint variable %v has shape %v, but %v values", v.Name, v.Shape, len(v.Data))
		}
	}
	return c, nil
}
