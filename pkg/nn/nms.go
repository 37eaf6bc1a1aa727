package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// FilterParams controls how raw per-anchor detections are reduced to a final set
type FilterParams struct {
	TopN       int     // Keep only the N most probable detections before NMS (0 = no limit)
	ProbThresh float32 // If TopN is not in effect, discard detections below this probability
	NMSThresh  float32 // Suppress a box if it overlaps a more probable box of the same class by more than this IoU
	NumClasses int
}

// FilterPrediction picks the detections that survive top-N selection and per-class
// non-maximum suppression. The three input slices are parallel.
// Returns the indices of the surviving detections, ordered by class and then by
// decreasing probability.
func FilterPrediction(boxes []Box, probs []float32, classes []int, params *FilterParams) []int {
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return probs[order[i]] > probs[order[j]]
	})

	var candidates []int
	if params.TopN > 0 && params.TopN < len(order) {
		candidates = order[:params.TopN]
	} else {
		for _, i := range order {
			if probs[i] > params.ProbThresh {
				candidates = append(candidates, i)
			}
		}
	}

	keep := []int{}
	byClass := make([][]int, max(params.NumClasses, 1))
	for _, i := range candidates {
		c := classes[i]
		if c < 0 {
			continue
		}
		if c >= len(byClass) {
			byClass = append(byClass, make([][]int, c-len(byClass)+1)...)
		}
		byClass[c] = append(byClass[c], i)
	}
	for _, list := range byClass {
		keep = append(keep, SuppressOverlaps(boxes, list, params.NMSThresh)...)
	}
	return keep
}

// SuppressOverlaps runs non-maximum suppression over boxes[candidates[...]].
// The candidates must already be sorted by decreasing score.
// Returns the retained subset of candidates, in the original order.
func SuppressOverlaps(boxes []Box, candidates []int, maxIoU float32) []int {
	if len(candidates) == 0 {
		return nil
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(candidates))
	for _, i := range candidates {
		r := boxes[i].Rect()
		fb.Add(r.X, r.Y, r.X2(), r.Y2())
	}
	fb.Finish()

	suppressed := make([]bool, len(candidates))
	retain := make([]int, 0, len(candidates))
	nearby := []int{}
	for rank, i := range candidates {
		if suppressed[rank] {
			continue
		}
		retain = append(retain, i)
		r := boxes[i].Rect()
		nearby = fb.SearchFast(r.X, r.Y, r.X2(), r.Y2(), nearby)
		for _, other := range nearby {
			// Only boxes with a lower score can be suppressed by this one
			if other <= rank || suppressed[other] {
				continue
			}
			if boxes[i].IOU(boxes[candidates[other]]) > maxIoU {
				suppressed[other] = true
			}
		}
	}
	return retain
}
