//go:build onnx

package inference

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"mnistd/internal/mnist"
)

// onnxBackend runs an externally converted model through onnxruntime. The
// model takes a (1,28,28,1) float32 input and yields (1,10) scores.
type onnxBackend struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newONNXBackend(path string, cfg ONNXConfig) (Backend, error) {
	cfg = cfg.withDefaults()
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("onnxruntime init: %v", err))
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, mnist.ImgSize, mnist.ImgSize, 1))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, mnist.NumClasses))
	if err != nil {
		input.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(path,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &onnxBackend{session: session, input: input, output: output}, nil
}

func (b *onnxBackend) Forward(pixels []float32) ([]float32, error) {
	in := b.input.GetData()
	if len(pixels) != len(in) {
		return nil, fmt.Errorf("expected %d pixels, got %d", len(in), len(pixels))
	}
	copy(in, pixels)
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return append([]float32(nil), b.output.GetData()...), nil
}

func (b *onnxBackend) Name() string { return BackendONNX }

func (b *onnxBackend) Close() error {
	if b.session != nil {
		b.session.Destroy()
	}
	if b.input != nil {
		b.input.Destroy()
	}
	if b.output != nil {
		b.output.Destroy()
	}
	return ort.DestroyEnvironment()
}
