package types

// PredictRequest documents the POST /predict body: a 28x28 matrix of pixel
// intensities. The handler reads the raw JSON array, this type exists for the
// API docs.
type PredictRequest [][]float64

// PredictResponse is returned by POST /predict on success.
type PredictResponse struct {
	// Arg-max class of the model output.
	// example: 7
	Prediction int `json:"prediction" example:"7"`
}

// ErrorResponse is the JSON error payload of every endpoint.
type ErrorResponse struct {
	// Error message.
	// example: Invalid input shape. Expected a 28x28 matrix.
	Error string `json:"error" example:"Invalid input shape. Expected a 28x28 matrix."`
}

// ModelInfo describes the loaded model for /status.
type ModelInfo struct {
	// Runtime evaluating the model (native or onnx).
	// example: native
	Backend string `json:"backend" example:"native"`
	// Path of the artifact loaded at startup.
	// example: model.mnist
	Path string `json:"path" example:"model.mnist"`
	// Whether request pixels are divided by 255 before the forward pass.
	// example: false
	NormalizeInput bool `json:"normalize_input" example:"false"`
	// Load time (unix seconds).
	// example: 1700000000
	LoadedAtUnix int64 `json:"loaded_at_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Service state (loading, ready, closed).
	// example: ready
	State string `json:"state" example:"ready"`
	// Loaded model, absent before the model is loaded.
	Model *ModelInfo `json:"model,omitempty"`
	// Number of forward passes currently running (0 or 1).
	// example: 0
	Inflight int `json:"inflight" example:"0"`
	// Successful predictions since startup.
	// example: 42
	PredictionsTotal uint64 `json:"predictions_total" example:"42"`
	// Failed forward passes since startup.
	// example: 0
	FailuresTotal uint64 `json:"failures_total" example:"0"`
	// Successful predictions per class, indexed by digit.
	PerClass []uint64 `json:"per_class"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
