package model

import "github.com/chewxy/math32"

// Schedule is a staircase exponential learning rate decay:
// lr = Base * DecayFactor ^ floor(step / DecaySteps)
type Schedule struct {
	Base        float32 `json:"base"`
	DecayFactor float32 `json:"decayFactor"`
	DecaySteps  int64   `json:"decaySteps"`
}

func (s Schedule) Rate(step int64) float32 {
	if s.DecaySteps <= 0 || s.DecayFactor == 1 {
		return s.Base
	}
	return s.Base * math32.Pow(s.DecayFactor, float32(step/s.DecaySteps))
}
