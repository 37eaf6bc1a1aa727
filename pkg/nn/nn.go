package nn

// Package nn holds the geometry shared by the detector training pipeline:
// boxes, octagons, anchor deltas, and detection filtering.

const DefaultProbabilityThreshold = 0.4
const DefaultNmsIouThreshold = 0.4
const DefaultTopN = 64

// Create a default FilterParams object
func NewFilterParams(numClasses int) *FilterParams {
	return &FilterParams{
		TopN:       DefaultTopN,
		ProbThresh: DefaultProbabilityThreshold,
		NMSThresh:  DefaultNmsIouThreshold,
		NumClasses: numClasses,
	}
}
