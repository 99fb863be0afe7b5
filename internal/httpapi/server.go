package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mnistd/internal/inference"
	"mnistd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Predict(ctx context.Context, pixels []float32) (int, error)
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the router. Configuration setters must be called before.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/predict", func(r chi.Router) {
		r.Use(corsMiddleware())
		r.Post("/", predictHandler(svc))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// corsMiddleware grants the configured origins access to /predict. Other
// origins get no policy headers and are refused by the browser.
func corsMiddleware() func(http.Handler) http.Handler {
	if !corsEnabled || len(corsAllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodPost, http.MethodOptions}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: corsAllowedHeaders,
		MaxAge:         300,
	})
}

// predictHandler classifies one image.
//
//	@Summary		Classify a handwritten digit
//	@Description	Body is a JSON 28x28 array of pixel intensities. Values are fed to the model as sent unless the server normalizes input.
//	@Tags			predict
//	@Accept			json
//	@Produce		json
//	@Param			image	body		types.PredictRequest	true	"28x28 matrix"
//	@Success		200		{object}	types.PredictResponse
//	@Failure		400		{object}	types.ErrorResponse	"input is not a 28x28 matrix"
//	@Failure		500		{object}	types.ErrorResponse	"malformed body or model failure"
//	@Router			/predict [post]
func predictHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lvl := requestLogLevel(r)
		logPredictStart(r, lvl)

		fail := func(err error, decoding bool) {
			status, kind := classify(err, decoding)
			observePredictError(kind)
			writeJSONError(w, status, err.Error())
			logPredictEnd(r, lvl, status, start, err)
		}

		// Content-Type is not checked: the body is always parsed as JSON.
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			fail(err, true)
			return
		}
		pixels, err := inference.DecodeImage(body)
		if err != nil {
			fail(err, true)
			return
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if predictTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(predictTimeout)*time.Second)
			defer tcancel()
		}

		callStart := time.Now()
		class, err := svc.Predict(ctx, pixels)
		if err != nil {
			// Client went away: nobody to answer.
			if r.Context().Err() != nil {
				return
			}
			fail(err, false)
			return
		}
		observePrediction(class, time.Since(callStart))
		logPrediction(r, lvl, class)
		writeJSON(w, http.StatusOK, types.PredictResponse{Prediction: class})
		logPredictEnd(r, lvl, http.StatusOK, start, nil)
	}
}
