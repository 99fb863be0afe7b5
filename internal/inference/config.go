package inference

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Backend names accepted by EngineConfig.Backend.
const (
	BackendAuto   = "auto"
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Defaults applied when corresponding ONNXConfig fields are unset.
const (
	defaultONNXInput  = "input"
	defaultONNXOutput = "output"
)

// ONNXConfig configures the onnxruntime backend.
type ONNXConfig struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// runtime's default lookup.
	LibraryPath string
	InputName   string
	OutputName  string
}

// EngineConfig encapsulates all tunables for Load.
type EngineConfig struct {
	ModelPath string
	// Backend is auto, native or onnx. Auto picks onnx for a .onnx file and
	// native for anything else.
	Backend string
	// NormalizeInput divides request pixels by 255 before the forward pass.
	// Off by default: requests are fed as sent.
	NormalizeInput bool
	ONNX           ONNXConfig
}

// resolveBackend returns the concrete backend name for cfg.
func (cfg EngineConfig) resolveBackend() (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(cfg.Backend)); b {
	case "", BackendAuto:
		if strings.EqualFold(filepath.Ext(cfg.ModelPath), ".onnx") {
			return BackendONNX, nil
		}
		return BackendNative, nil
	case BackendNative, BackendONNX:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.InputName == "" {
		c.InputName = defaultONNXInput
	}
	if c.OutputName == "" {
		c.OutputName = defaultONNXOutput
	}
	return c
}
