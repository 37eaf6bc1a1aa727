package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/detrain/server/checkpoint"
	"github.com/cyclopcam/detrain/server/config"
	"github.com/cyclopcam/detrain/server/log"
	"github.com/cyclopcam/detrain/server/status"
	"github.com/cyclopcam/detrain/server/storage"
	"github.com/cyclopcam/detrain/server/summary"
	"github.com/cyclopcam/detrain/server/train"
)

func main() {
	def := config.DefaultOptions()
	parser := argparse.NewParser("train", "Train a SqueezeDet family object detector")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON options file. Fields in the file override command line flags"})
	datasetName := parser.String("", "dataset", &argparse.Options{Help: "KITTI or CITYSCAPE", Default: def.Dataset})
	dataPath := parser.String("", "data-path", &argparse.Options{Help: "Root directory of the data", Default: def.DataPath})
	imageSet := parser.String("", "image-set", &argparse.Options{Help: "Training image set", Default: def.ImageSet})
	validImageSet := parser.String("", "valid-image-set", &argparse.Options{Help: "Validation image set", Default: def.ValidImageSet})
	trainDir := parser.String("", "train-dir", &argparse.Options{Help: "Directory for checkpoints, metrics and summaries", Default: def.TrainDir})
	maxSteps := parser.Int("", "max-steps", &argparse.Options{Help: "Maximum number of training steps", Default: def.MaxSteps})
	net := parser.String("", "net", &argparse.Options{Help: "squeezeDet, squeezeDet+, vgg16 or resnet50", Default: def.Net})
	pretrained := parser.String("", "pretrained-model-path", &argparse.Options{Help: "Path to the pretrained model", Default: def.PretrainedModelPath})
	summaryStep := parser.Int("", "summary-step", &argparse.Options{Help: "Number of steps between summaries", Default: def.SummaryStep})
	checkpointStep := parser.Int("", "checkpoint-step", &argparse.Options{Help: "Number of steps between checkpoints", Default: def.CheckpointStep})
	gpu := parser.String("", "gpu", &argparse.Options{Help: "GPU ID", Default: def.GPU})
	maskParams := parser.Int("", "mask-parameterization", &argparse.Options{Help: "Box parameterization: 4 or 8", Default: def.MaskParameterization})
	evalValid := parser.Flag("", "eval-valid", &argparse.Options{Help: "Evaluate the validation set at every summary step"})
	logAnchors := parser.Flag("", "log-anchors", &argparse.Options{Help: "Use anchor shapes spaced evenly in log space"})
	bboxCheckpoint := parser.Flag("", "bbox-checkpoint", &argparse.Options{Help: "The checkpoint was trained with 4 box parameters. Restore everything except the final layer"})
	onlyTuneLastLayer := parser.Flag("", "only-tune-last-layer", &argparse.Options{Help: "Train only the final layer"})
	warmRestartLR := parser.Float("", "warm-restart-lr", &argparse.Options{Help: "Restart the learning rate schedule from this value. Negative to disable", Default: def.WarmRestartLR})
	encodingType := parser.String("", "encoding-type", &argparse.Options{Help: "Box delta encoding: normal or linear", Default: def.EncodingType})
	threads := parser.Int("", "threads", &argparse.Options{Help: "Number of batch producers. Negative for the variant default", Default: def.Threads})
	gcsBucket := parser.String("", "gcs-bucket", &argparse.Options{Help: "Store checkpoints in this Google Cloud Storage bucket"})
	httpAddr := parser.String("", "http", &argparse.Options{Help: "Serve the status API on this address, eg :8080"})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Random seed", Default: 0})
	debug := parser.Flag("", "debug", &argparse.Options{Help: "Verbose logging of discarded labels and restored weights"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	opts := config.Options{
		Dataset:              *datasetName,
		DataPath:             *dataPath,
		ImageSet:             *imageSet,
		ValidImageSet:        *validImageSet,
		TrainDir:             *trainDir,
		MaxSteps:             *maxSteps,
		Net:                  *net,
		PretrainedModelPath:  *pretrained,
		SummaryStep:          *summaryStep,
		CheckpointStep:       *checkpointStep,
		GPU:                  *gpu,
		MaskParameterization: *maskParams,
		EvalValid:            *evalValid,
		LogAnchors:           *logAnchors,
		BBoxCheckpoint:       *bboxCheckpoint,
		OnlyTuneLastLayer:    *onlyTuneLastLayer,
		WarmRestartLR:        *warmRestartLR,
		EncodingType:         *encodingType,
		Threads:              *threads,
		Debug:                *debug,
		GCSBucket:            *gcsBucket,
		HTTPAddr:             *httpAddr,
		Seed:                 int64(*seed),
	}
	if *configFile != "" {
		if err := opts.LoadFile(*configFile); err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
	}

	// Validate everything before touching the filesystem
	cfg, err := config.Build(opts)
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Printf("Configuration error: %v\n", cfgErr)
		} else {
			fmt.Printf("%v\n", err)
		}
		os.Exit(1)
	}

	os.Setenv("CUDA_VISIBLE_DEVICES", cfg.GPU)

	logger, err := log.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := run(logger, cfg); err != nil {
		logger.Close()
		os.Exit(1)
	}
}

func run(logger log.Log, cfg *config.Config) error {
	logger.Infof("Training %v", cfg.Describe())
	if err := os.MkdirAll(cfg.TrainDir, 0755); err != nil {
		logger.Errorf("Failed to create train dir: %v", err)
		return err
	}

	var store storage.Storage
	var err error
	if cfg.GCSBucket != "" {
		store, err = storage.NewStorageGCS(log.NewPrefixLogger(logger, "Storage"), cfg.GCSBucket, "")
	} else {
		store, err = storage.NewStorageFS(log.NewPrefixLogger(logger, "Storage"), cfg.TrainDir)
	}
	if err != nil {
		logger.Errorf("Failed to open checkpoint storage: %v", err)
		return err
	}

	summaryStore, err := summary.Open(log.NewPrefixLogger(logger, "Summary"), cfg.TrainDir)
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	defer summaryStore.Close()

	trainReader, err := train.OpenReader(log.NewPrefixLogger(logger, "Data"), cfg, cfg.ImageSet)
	if err != nil {
		logger.Errorf("Failed to open training set: %v", err)
		return err
	}
	var validReader dataset.Reader
	if cfg.EvalValid {
		validReader, err = train.OpenReader(log.NewPrefixLogger(logger, "Data"), cfg, cfg.ValidImageSet)
		if err != nil {
			logger.Errorf("Failed to open validation set: %v", err)
			return err
		}
	}

	mdl, err := train.NewModel(cfg)
	if err != nil {
		logger.Errorf("Failed to create model: %v", err)
		return err
	}

	ckpt := checkpoint.NewManager(log.NewPrefixLogger(logger, "Checkpoint"), store)
	ckpt.Debug = cfg.Debug

	trainer, err := train.NewTrainer(logger, cfg, train.Deps{
		Model:       mdl,
		TrainReader: trainReader,
		ValidReader: validReader,
		Checkpoints: ckpt,
		Summary:     summaryStore,
	})
	if err != nil {
		logger.Errorf("%v", err)
		return err
	}
	if err := trainer.Prepare(); err != nil {
		logger.Errorf("%v", err)
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := status.NewServer(log.NewPrefixLogger(logger, "HTTP"), cfg.HTTPAddr, trainer, summaryStore)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Errorf("Status server failed: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warnf("Status server shutdown: %v", err)
			}
		}()
	}

	ctx, stopListening := train.WithKillSignals(context.Background())
	defer stopListening()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Run logs its own failure
	return trainer.Run(ctx)
}
