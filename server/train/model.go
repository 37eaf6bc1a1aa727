package train

import (
	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/model/arch"
	"github.com/cyclopcam/detrain/pkg/model/linear"
	"github.com/cyclopcam/detrain/server/config"
	"github.com/cyclopcam/logs"
)

// NewModel creates the reference detector for the configured variant
func NewModel(cfg *config.Config) (model.Model, error) {
	out := arch.Output{
		AnchorsPerGrid: cfg.AnchorsPerGrid(),
		Classes:        len(cfg.Classes),
		Params:         cfg.Params,
	}
	return linear.New(linear.Options{
		Anchors:  cfg.Anchors,
		Classes:  len(cfg.Classes),
		Params:   cfg.Params,
		Encoding: cfg.Encoding,
		Schedule: cfg.Schedule,
		Filter:   cfg.Filter,
		// The final layer name is the one that a partial restore skips
		FinalLayer: cfg.Arch.FinalLayer(),
		Stats:      cfg.Arch.Stats(cfg.ImageWidth, cfg.ImageHeight, out),
		Coefs: linear.LossCoefs{
			ConfPos: cfg.LossCoefs.ConfPos,
			ConfNeg: cfg.LossCoefs.ConfNeg,
			BBox:    cfg.LossCoefs.BBox,
			Class:   cfg.LossCoefs.Class,
		},
		MaxGradNorm:       cfg.MaxGradNorm,
		TuneLastLayerOnly: cfg.OnlyTuneLastLayer,
		Seed:              cfg.Seed,
	})
}

// OpenReader creates a reader over the JSON manifest <DataPath>/<imageSet>.json
func OpenReader(log logs.Log, cfg *config.Config, imageSet string) (*dataset.ImageDB, error) {
	src, err := dataset.NewManifestSource(cfg.DataPath, imageSet, cfg.Classes, cfg.ImageWidth, cfg.ImageHeight)
	if err != nil {
		return nil, err
	}
	return dataset.NewImageDB(log, src, dataset.ImageDBOptions{
		Anchors:     cfg.Anchors,
		BatchSize:   cfg.BatchSize,
		Params:      cfg.Params,
		Encoding:    cfg.Encoding,
		ImageWidth:  cfg.ImageWidth,
		ImageHeight: cfg.ImageHeight,
		Seed:        cfg.Seed,
	})
}
