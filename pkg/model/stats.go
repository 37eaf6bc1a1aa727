package model

import (
	"fmt"
	"io"
)

// LayerStat describes the size and cost of one layer
type LayerStat struct {
	Name        string
	Params      int64
	Activations int64
	Flops       int64
}

// Stats are the per-layer model statistics, written to model_metrics.txt before training starts
type Stats struct {
	Layers []LayerStat
}

func (s Stats) Totals() LayerStat {
	t := LayerStat{Name: "total"}
	for _, l := range s.Layers {
		t.Params += l.Params
		t.Activations += l.Activations
		t.Flops += l.Flops
	}
	return t
}

// Write emits the three sections: model size, activation size, and flops
func (s Stats) Write(w io.Writer) error {
	sections := []struct {
		title string
		value func(l LayerStat) int64
	}{
		{"Model size", func(l LayerStat) int64 { return l.Params }},
		{"Activation size", func(l LayerStat) int64 { return l.Activations }},
		{"Number of flops", func(l LayerStat) int64 { return l.Flops }},
	}
	totals := s.Totals()
	for _, sec := range sections {
		if _, err := fmt.Fprintf(w, "%v counter:\n", sec.title); err != nil {
			return err
		}
		for _, l := range s.Layers {
			fmt.Fprintf(w, "\t%v: %v\n", l.Name, sec.value(l))
		}
		fmt.Fprintf(w, "\ttotal: %v\n", sec.value(totals))
	}
	return nil
}
