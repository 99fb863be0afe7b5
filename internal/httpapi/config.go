package httpapi

// maxBodyBytes caps the /predict request body. A 28x28 matrix is a few KiB.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes sets the maximum request body size; non-positive restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// predictTimeout bounds a /predict call, including the wait for the model.
// Zero means no timeout beyond the server's own.
var predictTimeout = int64(0) // seconds

// SetPredictTimeoutSeconds sets the predict timeout in seconds (0 disables).
func SetPredictTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	predictTimeout = sec
}

// CORS policy for /predict. Only the listed origins are granted access; an
// empty list or a disabled policy adds no CORS headers at all.
var (
	corsEnabled        = true
	corsAllowedOrigins = []string{"http://localhost:5173"}
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for /predict. Empty methods default
// to POST and OPTIONS; empty headers use the middleware's defaults.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
