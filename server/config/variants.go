package config

import (
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/model/arch"
	"github.com/cyclopcam/detrain/pkg/nn"
)

type variantKey struct {
	arch    arch.Architecture
	dataset Dataset
}

// variantParams are the options that alter a variant's constants
type variantParams struct {
	params    int
	logAnchor bool
}

// The closed set of supported {architecture, dataset} pairs
var variants = map[variantKey]func(p variantParams) *Config{
	{arch.SqueezeDet, DatasetKITTI}:         kittiSqueezeDet,
	{arch.SqueezeDetPlus, DatasetKITTI}:     kittiSqueezeDetPlus,
	{arch.VGG16, DatasetKITTI}:              kittiVGG16,
	{arch.ResNet50, DatasetKITTI}:           kittiResNet50,
	{arch.SqueezeDet, DatasetCityscape}:     cityscapeSqueezeDet,
	{arch.SqueezeDetPlus, DatasetCityscape}: cityscapeSqueezeDetPlus,
	{arch.VGG16, DatasetCityscape}:          cityscapeVGG16,
	{arch.ResNet50, DatasetCityscape}:       cityscapeResNet50,
}

// base holds the constants shared by every variant
func base(a arch.Architecture, ds Dataset, p variantParams) *Config {
	c := &Config{
		Dataset:        ds,
		Arch:           a,
		Params:         p.params,
		BatchSize:      20,
		Schedule:       model.Schedule{Base: 0.01, DecayFactor: 0.5, DecaySteps: 10000},
		KeepProb:       0.5,
		MaxGradNorm:    1.0,
		LossCoefs:      LossCoefs{ConfPos: 75, ConfNeg: 100, BBox: 5, Class: 1},
		PlotProbThresh: 0.4,
		LoadPretrained: a.UsesPretrained(),
		NumThreads:     4,
		QueueCapacity:  10,
	}
	switch ds {
	case DatasetKITTI:
		c.Classes = nn.KITTIClasses
		c.ImageWidth, c.ImageHeight = 1248, 384
		c.AnchorShapes = kittiAnchorShapes
	case DatasetCityscape:
		c.Classes = nn.CityscapeClasses
		c.ImageWidth, c.ImageHeight = 1024, 512
		c.AnchorShapes = cityscapeAnchorShapes
		if p.logAnchor {
			c.AnchorShapes = cityscapeLogAnchorShapes
		}
	}
	c.Filter = nn.FilterParams{
		TopN:       nn.DefaultTopN,
		ProbThresh: nn.DefaultProbabilityThreshold,
		NMSThresh:  nn.DefaultNmsIouThreshold,
		NumClasses: len(c.Classes),
	}
	return c
}

func kittiSqueezeDet(p variantParams) *Config {
	return base(arch.SqueezeDet, DatasetKITTI, p)
}

func kittiSqueezeDetPlus(p variantParams) *Config {
	c := base(arch.SqueezeDetPlus, DatasetKITTI, p)
	c.BatchSize = 10
	return c
}

func kittiVGG16(p variantParams) *Config {
	return base(arch.VGG16, DatasetKITTI, p)
}

func kittiResNet50(p variantParams) *Config {
	return base(arch.ResNet50, DatasetKITTI, p)
}

func cityscapeSqueezeDet(p variantParams) *Config {
	return base(arch.SqueezeDet, DatasetCityscape, p)
}

func cityscapeSqueezeDetPlus(p variantParams) *Config {
	c := base(arch.SqueezeDetPlus, DatasetCityscape, p)
	c.BatchSize = 10
	return c
}

func cityscapeVGG16(p variantParams) *Config {
	return base(arch.VGG16, DatasetCityscape, p)
}

func cityscapeResNet50(p variantParams) *Config {
	c := base(arch.ResNet50, DatasetCityscape, p)
	c.BatchSize = 10
	return c
}
