package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/pkg/model/arch"
	"github.com/cyclopcam/detrain/pkg/nn"
)

// The training loop gives up if no batch arrives from the producers within this time
const DefaultDequeueTimeout = 60 * time.Second

// Options are the raw command line options, before validation
type Options struct {
	Dataset              string  `json:"dataset"`
	DataPath             string  `json:"dataPath"`
	ImageSet             string  `json:"imageSet"`
	ValidImageSet        string  `json:"validImageSet"`
	TrainDir             string  `json:"trainDir"`
	MaxSteps             int     `json:"maxSteps"`
	Net                  string  `json:"net"`
	PretrainedModelPath  string  `json:"pretrainedModelPath"`
	SummaryStep          int     `json:"summaryStep"`
	CheckpointStep       int     `json:"checkpointStep"`
	GPU                  string  `json:"gpu"`
	MaskParameterization int     `json:"maskParameterization"`
	EvalValid            bool    `json:"evalValid"`
	LogAnchors           bool    `json:"logAnchors"`
	BBoxCheckpoint       bool    `json:"bboxCheckpoint"`
	OnlyTuneLastLayer    bool    `json:"onlyTuneLastLayer"`
	WarmRestartLR        float64 `json:"warmRestartLR"` // Negative means no warm restart
	EncodingType         string  `json:"encodingType"`
	Threads              int     `json:"threads"` // Number of batch producers. Negative means the variant's default.
	Debug                bool    `json:"debug"`
	GCSBucket            string  `json:"gcsBucket"` // If set, checkpoints are stored in this bucket instead of TrainDir
	HTTPAddr             string  `json:"httpAddr"`  // If set, serve the status API on this address
	Seed                 int64   `json:"seed"`
}

// DefaultOptions returns the same defaults as the command line flags
func DefaultOptions() Options {
	return Options{
		Dataset:              "KITTI",
		DataPath:             "",
		ImageSet:             "train",
		ValidImageSet:        "val",
		TrainDir:             "/tmp/detrain/train",
		MaxSteps:             200000,
		Net:                  "squeezeDet",
		SummaryStep:          10,
		CheckpointStep:       1000,
		GPU:                  "0",
		MaskParameterization: 4,
		WarmRestartLR:        -1,
		EncodingType:         "normal",
		Threads:              -1,
	}
}

// LoadOptions reads options from a JSON file. Fields missing from the file keep their defaults.
func LoadOptions(filename string) (Options, error) {
	opts := DefaultOptions()
	err := opts.LoadFile(filename)
	return opts, err
}

// LoadFile overrides the options with the fields present in a JSON file
func (o *Options) LoadFile(filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, o); err != nil {
		return fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return nil
}

// ConfigError is returned when an option is invalid. It is always raised before any
// resource is allocated.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("Invalid %v '%v': %v", e.Field, e.Value, e.Reason)
}

// LossCoefs weight the loss components
type LossCoefs struct {
	ConfPos float32
	ConfNeg float32
	BBox    float32
	Class   float32
}

// Config is the resolved training configuration.
// It is built once by Build, and callers treat it as read-only.
// WithWarmRestart is the only way to derive a modified Config, and it returns a copy.
type Config struct {
	// Model variant
	Dataset        Dataset
	Arch           arch.Architecture
	Classes        []string
	ImageWidth     int
	ImageHeight    int
	GridWidth      int
	GridHeight     int
	AnchorShapes   [][2]float32
	Anchors        []nn.Box
	Params         int // Box parameterization (4 or 8)
	Encoding       nn.DeltaEncoding
	BatchSize      int
	Schedule       model.Schedule
	KeepProb       float32 // Dropout keep probability during training
	MaxGradNorm    float32
	LossCoefs      LossCoefs
	Filter         nn.FilterParams
	PlotProbThresh float32
	LoadPretrained bool
	NumThreads     int
	QueueCapacity  int
	DequeueTimeout time.Duration

	// Run
	DataPath            string
	ImageSet            string
	ValidImageSet       string
	TrainDir            string
	PretrainedModelPath string
	MaxSteps            int64
	SummaryStep         int64
	CheckpointStep      int64
	EvalValid           bool
	BBoxCheckpoint      bool
	OnlyTuneLastLayer   bool
	LogAnchors          bool
	WarmRestartLR       float32 // Negative if not set
	Debug               bool
	GPU                 string
	GCSBucket           string
	HTTPAddr            string
	Seed                int64
}

// Build validates the options, and resolves the model variant
func Build(opts Options) (*Config, error) {
	ds, err := ParseDataset(opts.Dataset)
	if err != nil {
		return nil, &ConfigError{"dataset", opts.Dataset, "must be KITTI or CITYSCAPE"}
	}
	a, err := arch.Parse(opts.Net)
	if err != nil {
		return nil, &ConfigError{"net", opts.Net, "must be squeezeDet, squeezeDet+, vgg16 or resnet50"}
	}
	if !nn.ValidParameterization(opts.MaskParameterization) {
		return nil, &ConfigError{"mask parameterization", opts.MaskParameterization, "must be 4 or 8"}
	}
	enc, err := nn.ParseDeltaEncoding(opts.EncodingType)
	if err != nil {
		return nil, &ConfigError{"encoding type", opts.EncodingType, "must be normal or linear"}
	}
	if opts.MaxSteps <= 0 {
		return nil, &ConfigError{"max steps", opts.MaxSteps, "must be positive"}
	}
	if opts.SummaryStep <= 0 {
		return nil, &ConfigError{"summary step", opts.SummaryStep, "must be positive"}
	}
	if opts.CheckpointStep <= 0 {
		return nil, &ConfigError{"checkpoint step", opts.CheckpointStep, "must be positive"}
	}
	if opts.TrainDir == "" {
		return nil, &ConfigError{"train dir", opts.TrainDir, "must not be empty"}
	}
	if opts.ImageSet == "" {
		return nil, &ConfigError{"image set", opts.ImageSet, "must not be empty"}
	}
	if opts.EvalValid && opts.ValidImageSet == "" {
		return nil, &ConfigError{"validation image set", opts.ValidImageSet, "must not be empty when validation is enabled"}
	}

	ctor, ok := variants[variantKey{a, ds}]
	if !ok {
		return nil, &ConfigError{"net", opts.Net, fmt.Sprintf("not supported for dataset %v", ds)}
	}
	c := ctor(variantParams{params: opts.MaskParameterization, logAnchor: opts.LogAnchors})

	c.Encoding = enc
	c.GridWidth, c.GridHeight = arch.GridSize(c.ImageWidth, c.ImageHeight)
	c.Anchors = GridAnchors(c.GridWidth, c.GridHeight, c.ImageWidth, c.ImageHeight, c.AnchorShapes)
	if opts.Threads >= 0 {
		c.NumThreads = opts.Threads
	}
	c.DequeueTimeout = DefaultDequeueTimeout
	c.DataPath = opts.DataPath
	c.ImageSet = opts.ImageSet
	c.ValidImageSet = opts.ValidImageSet
	c.TrainDir = opts.TrainDir
	c.PretrainedModelPath = opts.PretrainedModelPath
	if c.PretrainedModelPath == "" {
		c.LoadPretrained = false
	}
	c.MaxSteps = int64(opts.MaxSteps)
	c.SummaryStep = int64(opts.SummaryStep)
	c.CheckpointStep = int64(opts.CheckpointStep)
	c.EvalValid = opts.EvalValid
	c.BBoxCheckpoint = opts.BBoxCheckpoint
	c.OnlyTuneLastLayer = opts.OnlyTuneLastLayer
	c.LogAnchors = opts.LogAnchors
	c.WarmRestartLR = -1
	c.Debug = opts.Debug
	c.GPU = opts.GPU
	c.GCSBucket = opts.GCSBucket
	c.HTTPAddr = opts.HTTPAddr
	c.Seed = opts.Seed

	if opts.WarmRestartLR >= 0 {
		c = c.WithWarmRestart(float32(opts.WarmRestartLR))
	}
	return c, nil
}

// WithWarmRestart returns a copy of the config whose learning rate schedule starts
// from 'lr'
func (c *Config) WithWarmRestart(lr float32) *Config {
	cp := *c
	cp.WarmRestartLR = lr
	cp.Schedule.Base = lr
	return &cp
}

// NumAnchors is the total number of anchors per image
func (c *Config) NumAnchors() int {
	return len(c.Anchors)
}

// AnchorsPerGrid is the number of anchor shapes at each grid cell
func (c *Config) AnchorsPerGrid() int {
	return len(c.AnchorShapes)
}

// PartialRestore is true when restoring from a bounding box checkpoint into an octagon model.
// The final layer has a different shape in that case, so it is not restored.
func (c *Config) PartialRestore() bool {
	return c.BBoxCheckpoint && c.Params == nn.ParamsOctagon
}

// Describe returns a short human readable summary of the variant
func (c *Config) Describe() string {
	return fmt.Sprintf("%v on %v, %vx%v input, %vx%vx%v anchors, %v classes, %v box params, batch %v",
		c.Arch, c.Dataset, c.ImageWidth, c.ImageHeight, c.GridWidth, c.GridHeight, c.AnchorsPerGrid(), len(c.Classes), c.Params, c.BatchSize)
}
