//go:build !onnx

package inference

// The onnxruntime backend needs CGO and the shared library; default builds
// leave it out. The real backend lives in backend_onnx.go (tagged 'onnx').

func newONNXBackend(path string, cfg ONNXConfig) (Backend, error) {
	return nil, ErrDependencyUnavailable("onnx support not built (missing 'onnx' build tag)")
}
