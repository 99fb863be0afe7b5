package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for both binaries.
// Load overlays a file onto Default(), so fields absent from the file keep
// their defaults.
type Config struct {
	LogLevel string        `json:"log_level" yaml:"log_level" toml:"log_level"`
	Server   ServerConfig  `json:"server" yaml:"server" toml:"server"`
	Trainer  TrainerConfig `json:"trainer" yaml:"trainer" toml:"trainer"`
}

// ServerConfig configures mnistd.
type ServerConfig struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelPath string `json:"model_path" yaml:"model_path" toml:"model_path"`
	// Backend is "auto", "native" or "onnx". Auto picks onnx for *.onnx files.
	Backend        string   `json:"backend" yaml:"backend" toml:"backend"`
	NormalizeInput bool     `json:"normalize_input" yaml:"normalize_input" toml:"normalize_input"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes   int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	// PredictTimeoutSeconds bounds a single /predict call; 0 disables.
	PredictTimeoutSeconds int64      `json:"predict_timeout_seconds" yaml:"predict_timeout_seconds" toml:"predict_timeout_seconds"`
	ONNX                  ONNXConfig `json:"onnx" yaml:"onnx" toml:"onnx"`
}

// ONNXConfig is only consulted by binaries built with -tags onnx.
type ONNXConfig struct {
	LibraryPath string `json:"library_path" yaml:"library_path" toml:"library_path"`
	InputName   string `json:"input_name" yaml:"input_name" toml:"input_name"`
	OutputName  string `json:"output_name" yaml:"output_name" toml:"output_name"`
}

// TrainerConfig configures mnist-train.
type TrainerConfig struct {
	DataDir         string  `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	VerifyChecksums bool    `json:"verify_checksums" yaml:"verify_checksums" toml:"verify_checksums"`
	OutputPath      string  `json:"output_path" yaml:"output_path" toml:"output_path"`
	Epochs          int     `json:"epochs" yaml:"epochs" toml:"epochs"`
	BatchSize       int     `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	ValidationSplit float64 `json:"validation_split" yaml:"validation_split" toml:"validation_split"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate"`
	Seed            int64   `json:"seed" yaml:"seed" toml:"seed"`
}

// Default returns the configuration both binaries run with when no file,
// environment or flag overrides anything.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:         "127.0.0.1:5000",
			ModelPath:    "model.mnist",
			Backend:      "auto",
			CORSOrigins:  []string{"http://localhost:5173"},
			MaxBodyBytes: 1 << 20,
			ONNX: ONNXConfig{
				InputName:  "input",
				OutputName: "output",
			},
		},
		Trainer: TrainerConfig{
			DataDir:         "data/mnist",
			VerifyChecksums: true,
			OutputPath:      "model.mnist",
			Epochs:          5,
			BatchSize:       64,
			ValidationSplit: 0.1,
			LearningRate:    0.001,
			Seed:            1,
		},
	}
}

// Load reads a configuration file based on its extension on top of Default().
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MNISTD_* environment variables.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("MNISTD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("MNISTD_MODEL_PATH"); v != "" {
		c.Server.ModelPath = v
		c.Trainer.OutputPath = v
	}
	if v := getenv("MNISTD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("MNISTD_DATA_DIR"); v != "" {
		c.Trainer.DataDir = v
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	t := c.Trainer
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("server.addr must not be empty")
	case c.Server.ModelPath == "":
		return fmt.Errorf("server.model_path must not be empty")
	case t.Epochs <= 0:
		return fmt.Errorf("trainer.epochs must be positive, got %d", t.Epochs)
	case t.BatchSize <= 0:
		return fmt.Errorf("trainer.batch_size must be positive, got %d", t.BatchSize)
	case t.ValidationSplit < 0 || t.ValidationSplit >= 1:
		return fmt.Errorf("trainer.validation_split must be in [0,1), got %g", t.ValidationSplit)
	case t.LearningRate <= 0:
		return fmt.Errorf("trainer.learning_rate must be positive, got %g", t.LearningRate)
	}
	switch c.Server.Backend {
	case "", "auto", "native", "onnx":
	default:
		return fmt.Errorf("server.backend must be auto, native or onnx, got %q", c.Server.Backend)
	}
	return nil
}
