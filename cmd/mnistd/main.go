package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mnistd/internal/common/logx"
	"mnistd/internal/config"
	"mnistd/internal/httpapi"
	"mnistd/internal/inference"
)

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "mnistd:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "mnistd",
		Short:         "Serve handwritten digit predictions over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, configPath, os.Getenv)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	f := root.Flags()
	f.StringVar(&configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	f.String("addr", "", "HTTP listen address (default 127.0.0.1:5000, env MNISTD_ADDR)")
	f.String("model", "", "Model artifact path (default model.mnist, env MNISTD_MODEL_PATH)")
	f.String("log-level", "", "Log level: debug|info|warn|error (env MNISTD_LOG_LEVEL)")
	f.String("backend", "", "Model runtime: auto|native|onnx")
	f.Bool("normalize-input", false, "Scale request pixels by 1/255 before the forward pass")
	f.String("cors-origins", "", "Comma-separated origins allowed to call /predict")

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
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

	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Server.Addr, _ = f.GetString("addr")
	}
	if f.Changed("model") {
		cfg.Server.ModelPath, _ = f.GetString("model")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("backend") {
		cfg.Server.Backend, _ = f.GetString("backend")
	}
	if f.Changed("normalize-input") {
		cfg.Server.NormalizeInput, _ = f.GetBool("normalize-input")
	}
	if f.Changed("cors-origins") {
		v, _ := f.GetString("cors-origins")
		cfg.Server.CORSOrigins = splitCSV(v)
	}
	return cfg, cfg.Validate()
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logx.New(os.Stderr, cfg.LogLevel, "mnistd")
	sc := cfg.Server

	engine, err := inference.Load(inference.EngineConfig{
		ModelPath:      sc.ModelPath,
		Backend:        sc.Backend,
		NormalizeInput: sc.NormalizeInput,
		ONNX: inference.ONNXConfig{
			LibraryPath: sc.ONNX.LibraryPath,
			InputName:   sc.ONNX.InputName,
			OutputName:  sc.ONNX.OutputName,
		},
	}, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(sc.MaxBodyBytes)
	httpapi.SetPredictTimeoutSeconds(sc.PredictTimeoutSeconds)
	httpapi.SetCORSOptions(len(sc.CORSOrigins) > 0, sc.CORSOrigins, nil, nil)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           httpapi.NewMux(engine),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", sc.Addr).Strs("cors_origins", sc.CORSOrigins).Msg("mnistd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	log.Info().Msg("shutting down")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
