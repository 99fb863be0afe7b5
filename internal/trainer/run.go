package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mnistd/internal/common/fsutil"
	"mnistd/internal/mnist"
	"mnistd/internal/network"
)

// Options locate the dataset and the artifact for Run and EvaluateArtifact.
type Options struct {
	DataDir         string
	VerifyChecksums bool
	OutputPath      string
}

// Report is the outcome of a full training run.
type Report struct {
	History      []EpochStats
	TestLoss     float64
	TestAccuracy float64
	OutputPath   string
	Duration     time.Duration
}

// Run loads the dataset, fits the network, writes the artifact over any
// existing file and scores the test split. Any failure aborts the run.
func Run(ctx context.Context, cfg Config, opts Options, log zerolog.Logger) (*Report, error) {
	start := time.Now()
	ds, err := mnist.Load(opts.DataDir, mnist.Options{VerifyChecksums: opts.VerifyChecksums})
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	log.Info().Str("dir", opts.DataDir).Int("train", ds.Train.Len()).Int("test", ds.Test.Len()).Msg("dataset loaded")

	params, history, err := New(cfg, log).Fit(ctx, ds.Train)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	out, err := fsutil.ExpandHome(opts.OutputPath)
	if err != nil {
		return nil, err
	}
	if err := network.SaveArtifact(out, params); err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	log.Info().Str("path", out).Msg("artifact written")

	rep := &Report{History: history, OutputPath: out}
	if ds.Test.Len() > 0 {
		if rep.TestLoss, rep.TestAccuracy, err = Evaluate(params, ds.Test, cfg.BatchSize); err != nil {
			return nil, fmt.Errorf("evaluate test split: %w", err)
		}
	}
	rep.Duration = time.Since(start)
	log.Info().
		Float64("test_loss", rep.TestLoss).
		Float64("test_accuracy", rep.TestAccuracy).
		Dur("dur", rep.Duration).
		Msg("training done")
	return rep, nil
}

// EvaluateArtifact scores an existing artifact on the test split.
func EvaluateArtifact(modelPath string, opts Options, batchSize int) (loss, accuracy float64, err error) {
	p, err := fsutil.ExpandHome(modelPath)
	if err != nil {
		return 0, 0, err
	}
	params, err := network.LoadArtifact(p)
	if err != nil {
		return 0, 0, fmt.Errorf("load artifact: %w", err)
	}
	ds, err := mnist.Load(opts.DataDir, mnist.Options{VerifyChecksums: opts.VerifyChecksums})
	if err != nil {
		return 0, 0, fmt.Errorf("load dataset: %w", err)
	}
	return Evaluate(params, ds.Test, batchSize)
}
