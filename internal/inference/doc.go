// Package inference owns the loaded digit model and answers predictions. It is
// split by concern:
//
//   - engine.go: Engine type, Load, Predict, Ready, Status, Close.
//   - config.go: EngineConfig and backend selection.
//   - backend.go: the Backend interface shared by the runtimes.
//   - backend_native.go: gorgonia forward pass over a trainer artifact.
//   - backend_onnx.go / backend_onnx_stub.go: onnxruntime session, compiled
//     with `-tags=onnx`; without the tag loading an onnx model fails with a
//     dependency-unavailable error.
//   - image.go: JSON body decoding and shape inference.
//   - errors.go: error types and helpers (IsInvalidShape, IsDependencyUnavailable).
//
// The model is loaded once and never replaced. Backends are not safe for
// concurrent use, so Predict serializes forward passes on a single slot.
package inference
