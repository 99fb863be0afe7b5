package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mnistd/internal/common/logx"
	"mnistd/internal/config"
	"mnistd/internal/trainer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := buildRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mnist-train:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "mnist-train",
		Short:         "Train the digit classifier and write the model artifact",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath, os.Getenv)
			if err != nil {
				return err
			}
			log := logx.New(os.Stderr, cfg.LogLevel, "mnist-train")
			rep, err := trainer.Run(cmd.Context(), trainerConfig(cfg), trainerOptions(cfg), log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "test loss %.4f, test accuracy %.4f, model written to %s\n",
				rep.TestLoss, rep.TestAccuracy, rep.OutputPath)
			return nil
		},
	}

	// Persistent flags -> Config
	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.String("data-dir", "", "Directory holding the MNIST IDX files (default data/mnist, env MNISTD_DATA_DIR)")
	pf.String("log-level", "", "Log level: debug|info|warn|error (env MNISTD_LOG_LEVEL)")
	pf.Int("batch-size", 0, "Samples per batch (default 64)")
	pf.Bool("skip-checksums", false, "Do not verify the sha256 of the compressed dataset files")

	f := root.Flags()
	f.String("out", "", "Artifact output path (default model.mnist, env MNISTD_MODEL_PATH)")
	f.Int("epochs", 0, "Training epochs (default 5)")
	f.Int64("seed", 0, "Seed for weight init and shuffling (default 1)")
	f.Float64("learning-rate", 0, "Adam learning rate (default 0.001)")
	f.Float64("validation-split", -1, "Trailing fraction of the train split held out for validation (default 0.1)")

	var modelPath string
	evalCmd := &cobra.Command{
		Use:     "eval",
		Short:   "Score an existing artifact on the test split",
		Example: "  mnist-train eval --model model.mnist",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath, os.Getenv)
			if err != nil {
				return err
			}
			if modelPath == "" {
				modelPath = cfg.Trainer.OutputPath
			}
			loss, acc, err := trainer.EvaluateArtifact(modelPath, trainerOptions(cfg), cfg.Trainer.BatchSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "test loss %.4f, test accuracy %.4f\n", loss, acc)
			return nil
		},
	}
	evalCmd.Flags().StringVar(&modelPath, "model", "", "Artifact to evaluate (default: the trainer output path)")
	root.AddCommand(evalCmd)

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	root.AddCommand(completionCmd)
	return root
}

// resolveConfig layers defaults, the optional file, the environment and the
// flags the user actually set, in that order.
func resolveConfig(cmd *cobra.Command, path string, getenv func(string) string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(getenv)

	t := &cfg.Trainer
	f := cmd.Flags()
	if f.Changed("data-dir") {
		t.DataDir, _ = f.GetString("data-dir")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("batch-size") {
		t.BatchSize, _ = f.GetInt("batch-size")
	}
	if f.Changed("skip-checksums") {
		skip, _ := f.GetBool("skip-checksums")
		t.VerifyChecksums = !skip
	}
	if f.Lookup("out") != nil && f.Changed("out") {
		t.OutputPath, _ = f.GetString("out")
	}
	if f.Lookup("epochs") != nil && f.Changed("epochs") {
		t.Epochs, _ = f.GetInt("epochs")
	}
	if f.Lookup("seed") != nil && f.Changed("seed") {
		t.Seed, _ = f.GetInt64("seed")
	}
	if f.Lookup("learning-rate") != nil && f.Changed("learning-rate") {
		t.LearningRate, _ = f.GetFloat64("learning-rate")
	}
	if f.Lookup("validation-split") != nil && f.Changed("validation-split") {
		t.ValidationSplit, _ = f.GetFloat64("validation-split")
	}
	return cfg, cfg.Validate()
}

func trainerConfig(cfg config.Config) trainer.Config {
	t := cfg.Trainer
	return trainer.Config{
		Epochs:          t.Epochs,
		BatchSize:       t.BatchSize,
		ValidationSplit: t.ValidationSplit,
		LearningRate:    t.LearningRate,
		Seed:            t.Seed,
	}
}

func trainerOptions(cfg config.Config) trainer.Options {
	t := cfg.Trainer
	return trainer.Options{
		DataDir:         t.DataDir,
		VerifyChecksums: t.VerifyChecksums,
		OutputPath:      t.OutputPath,
	}
}
