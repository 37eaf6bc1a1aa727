package summary

import "github.com/cyclopcam/dbh"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Scalar is a single value of a named series, such as "loss/total"
type Scalar struct {
	BaseModel
	Step  int64       `json:"step"`
	Tag   string      `json:"tag"`
	Value float64     `json:"value"`
	Time  dbh.IntTime `json:"time"`
}

// Image is a rendered visualization, stored as a JPEG file next to the database
type Image struct {
	BaseModel
	Step int64       `json:"step"`
	Tag  string      `json:"tag"`
	Path string      `json:"path"` // Relative to the summary directory
	Time dbh.IntTime `json:"time"`
}

// Checkpoint records every checkpoint that was saved during the run
type Checkpoint struct {
	BaseModel
	Step int64       `json:"step"`
	Name string      `json:"name"`
	Time dbh.IntTime `json:"time"`
}
