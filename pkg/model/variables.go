package model

import (
	"fmt"
	"sort"

	"github.com/cyclopcam/detrain/pkg/tensor"
)

// Variable is a named weight tensor. Names take the form "layer/name".
type Variable struct {
	Name  string
	Layer string
	Value *tensor.Dense
}

// Variables is an ordered set of model variables
type Variables struct {
	list   []*Variable
	byName map[string]*Variable
}

func NewVariables() *Variables {
	return &Variables{
		byName: map[string]*Variable{},
	}
}

// Add creates a zero-filled variable. Panics if the name is already taken.
func (v *Variables) Add(layer, name string, shape ...int) *Variable {
	full := layer + "/" + name
	if _, exists := v.byName[full]; exists {
		panic(fmt.Sprintf("Variable %v already exists", full))
	}
	nv := &Variable{
		Name:  full,
		Layer: layer,
		Value: tensor.NewDense(shape...),
	}
	v.list = append(v.list, nv)
	v.byName[full] = nv
	return nv
}

func (v *Variables) Get(name string) *Variable {
	return v.byName[name]
}

func (v *Variables) List() []*Variable {
	return v.list
}

func (v *Variables) Len() int {
	return len(v.list)
}

// Names returns the sorted variable names
func (v *Variables) Names() []string {
	names := make([]string, 0, len(v.list))
	for _, nv := range v.list {
		names = append(names, nv.Name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy
func (v *Variables) Clone() *Variables {
	c := NewVariables()
	for _, nv := range v.list {
		cv := &Variable{
			Name:  nv.Name,
			Layer: nv.Layer,
			Value: nv.Value.Clone(),
		}
		c.list = append(c.list, cv)
		c.byName[cv.Name] = cv
	}
	return c
}

// NumParams counts the scalar parameters of all variables
func (v *Variables) NumParams() int {
	n := 0
	for _, nv := range v.list {
		n += nv.Value.Len()
	}
	return n
}
