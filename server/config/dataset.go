package config

import (
	"fmt"
	"strings"
)

// Dataset is one of the supported annotated datasets
type Dataset int

const (
	DatasetKITTI Dataset = iota
	DatasetCityscape
)

func ParseDataset(s string) (Dataset, error) {
	switch strings.ToUpper(s) {
	case "KITTI":
		return DatasetKITTI, nil
	case "CITYSCAPE":
		return DatasetCityscape, nil
	}
	return 0, fmt.Errorf("Unknown dataset '%v'", s)
}

func (d Dataset) String() string {
	switch d {
	case DatasetKITTI:
		return "KITTI"
	case DatasetCityscape:
		return "CITYSCAPE"
	}
	return fmt.Sprintf("Dataset(%d)", int(d))
}
