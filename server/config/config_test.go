package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/detrain/pkg/model/arch"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	c, err := Build(DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, DatasetKITTI, c.Dataset)
	require.Equal(t, arch.SqueezeDet, c.Arch)
	require.Equal(t, 1248, c.ImageWidth)
	require.Equal(t, 78, c.GridWidth)
	require.Equal(t, 24, c.GridHeight)
	require.Equal(t, 9, c.AnchorsPerGrid())
	require.Equal(t, 78*24*9, c.NumAnchors())
	require.Equal(t, 20, c.BatchSize)
	require.Equal(t, 4, c.Params)
	require.Equal(t, int64(200000), c.MaxSteps)
	require.Equal(t, float32(-1), c.WarmRestartLR)
	require.Equal(t, float32(0.01), c.Schedule.Base)
	require.Equal(t, 4, c.NumThreads)
	require.False(t, c.PartialRestore())
	require.Contains(t, c.Describe(), "squeezeDet on KITTI")
}

func TestBuildVariants(t *testing.T) {
	for _, ds := range []string{"KITTI", "CITYSCAPE"} {
		for _, net := range []string{"squeezeDet", "squeezeDet+", "vgg16", "resnet50"} {
			opts := DefaultOptions()
			opts.Dataset = ds
			opts.Net = net
			opts.PretrainedModelPath = "pretrained.ckpt"
			c, err := Build(opts)
			require.NoError(t, err, "%v/%v", ds, net)
			require.Equal(t, net, c.Arch.String())
			require.Equal(t, len(c.Classes), c.Filter.NumClasses)
			require.Equal(t, net != "vgg16", c.LoadPretrained)
		}
	}
}

func TestBuildInvalid(t *testing.T) {
	cases := []func(o *Options){
		func(o *Options) { o.Dataset = "COCO" },
		func(o *Options) { o.Net = "alexnet" },
		func(o *Options) { o.MaskParameterization = 6 },
		func(o *Options) { o.EncodingType = "fancy" },
		func(o *Options) { o.MaxSteps = 0 },
		func(o *Options) { o.SummaryStep = 0 },
		func(o *Options) { o.CheckpointStep = -1 },
		func(o *Options) { o.TrainDir = "" },
	}
	for i, mutate := range cases {
		opts := DefaultOptions()
		mutate(&opts)
		_, err := Build(opts)
		var cerr *ConfigError
		require.True(t, errors.As(err, &cerr), "case %v: %v", i, err)
	}
}

func TestWarmRestart(t *testing.T) {
	opts := DefaultOptions()
	opts.WarmRestartLR = 0.001
	opts.MaskParameterization = 8
	opts.BBoxCheckpoint = true
	c, err := Build(opts)
	require.NoError(t, err)
	require.Equal(t, float32(0.001), c.Schedule.Base)
	require.Equal(t, float32(0.001), c.WarmRestartLR)
	require.True(t, c.PartialRestore())

	c2 := c.WithWarmRestart(0.5)
	require.Equal(t, float32(0.5), c2.Schedule.Base)
	require.Equal(t, float32(0.001), c.Schedule.Base)
}

func TestGridAnchors(t *testing.T) {
	anchors := GridAnchors(3, 2, 40, 30, [][2]float32{{4, 5}, {6, 7}})
	require.Len(t, anchors, 12)
	require.Equal(t, float32(10), anchors[0].CX)
	require.Equal(t, float32(10), anchors[0].CY)
	require.Equal(t, float32(6), anchors[1].W)
	// Second row, third column, first shape
	a := anchors[(1*3+2)*2]
	require.Equal(t, float32(30), a.CX)
	require.Equal(t, float32(20), a.CY)
	require.Equal(t, float32(4), a.W)
}

func TestCityscapeLogAnchors(t *testing.T) {
	opts := DefaultOptions()
	opts.Dataset = "CITYSCAPE"
	c1, err := Build(opts)
	require.NoError(t, err)
	opts.LogAnchors = true
	c2, err := Build(opts)
	require.NoError(t, err)
	require.NotEqual(t, c1.AnchorShapes, c2.AnchorShapes)
	require.Equal(t, 64*32*9, c2.NumAnchors())
}

func TestLoadOptions(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "train.json")
	require.NoError(t, os.WriteFile(filename, []byte(`{"net": "resnet50", "maxSteps": 50}`), 0644))
	opts, err := LoadOptions(filename)
	require.NoError(t, err)
	require.Equal(t, "resnet50", opts.Net)
	require.Equal(t, 50, opts.MaxSteps)
	require.Equal(t, "KITTI", opts.Dataset)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
