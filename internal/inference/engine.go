package inference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mnistd/internal/common/fsutil"
	"mnistd/internal/mnist"
	"mnistd/internal/network"
	"mnistd/pkg/types"
)

// Engine holds the single model handle of the process.
type Engine struct {
	cfg       EngineConfig
	log       zerolog.Logger
	backend   Backend
	slot      chan struct{}
	loadedAt  time.Time
	startTime time.Time

	closeOnce   sync.Once
	closed      atomic.Bool
	predictions atomic.Uint64
	failures    atomic.Uint64
	perClass    [mnist.NumClasses]atomic.Uint64
}

// Load opens the model named by cfg once. The returned engine is ready to
// serve; a failure here is fatal to the service.
func Load(cfg EngineConfig, log zerolog.Logger) (*Engine, error) {
	kind, err := cfg.resolveBackend()
	if err != nil {
		return nil, err
	}
	path, err := fsutil.ExpandHome(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	if !fsutil.PathExists(path) {
		return nil, fmt.Errorf("model file not found: %s", path)
	}
	cfg.ModelPath = path

	var b Backend
	switch kind {
	case BackendONNX:
		b, err = newONNXBackend(path, cfg.ONNX)
	default:
		b, err = newNativeBackend(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s model %s: %w", kind, path, err)
	}
	e := newEngine(cfg, b, log)
	log.Info().Str("backend", b.Name()).Str("path", path).Msg("model loaded")
	if !cfg.NormalizeInput {
		log.Warn().Msg("request pixels are not scaled to [0,1] while training data was; set normalize_input to scale them")
	}
	return e, nil
}

func newEngine(cfg EngineConfig, b Backend, log zerolog.Logger) *Engine {
	now := time.Now()
	return &Engine{
		cfg:       cfg,
		log:       log,
		backend:   b,
		slot:      make(chan struct{}, 1),
		loadedAt:  now,
		startTime: now,
	}
}

// Predict runs one forward pass over pixels (784 values, row-major) and
// returns the index of the largest output. Calls are serialized; waiting for
// the model honors ctx.
func (e *Engine) Predict(ctx context.Context, pixels []float32) (int, error) {
	if e == nil || e.backend == nil || e.closed.Load() {
		return 0, errNotLoaded
	}
	if len(pixels) != mnist.ImgSize*mnist.ImgSize {
		return 0, ShapeError{Shape: []int{len(pixels)}}
	}
	in := pixels
	if e.cfg.NormalizeInput {
		in = make([]float32, len(pixels))
		for i, v := range pixels {
			in[i] = v / 255
		}
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return 0, err
	}
	out, err := e.backend.Forward(in)
	release()
	if err != nil {
		e.failures.Add(1)
		return 0, err
	}
	if len(out) != mnist.NumClasses {
		e.failures.Add(1)
		return 0, fmt.Errorf("model produced %d outputs, want %d", len(out), mnist.NumClasses)
	}
	class := network.ArgMax(out)
	e.predictions.Add(1)
	e.perClass[class].Add(1)
	return class, nil
}

// acquire takes the single in-flight slot. Returns a release func.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case e.slot <- struct{}{}:
		return func() { <-e.slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether a model is loaded and the engine is open.
func (e *Engine) Ready() bool {
	return e != nil && e.backend != nil && !e.closed.Load()
}

// Status builds the response for /status.
func (e *Engine) Status() types.StatusResponse {
	now := time.Now()
	resp := types.StatusResponse{
		State:          "loading",
		PerClass:       make([]uint64, mnist.NumClasses),
		ServerTimeUnix: now.Unix(),
	}
	if e == nil {
		return resp
	}
	resp.State = "ready"
	if e.closed.Load() {
		resp.State = "closed"
	}
	if e.backend != nil {
		resp.Model = &types.ModelInfo{
			Backend:        e.backend.Name(),
			Path:           e.cfg.ModelPath,
			NormalizeInput: e.cfg.NormalizeInput,
			LoadedAtUnix:   e.loadedAt.Unix(),
		}
	}
	resp.Inflight = len(e.slot)
	resp.PredictionsTotal = e.predictions.Load()
	resp.FailuresTotal = e.failures.Load()
	for i := range e.perClass {
		resp.PerClass[i] = e.perClass[i].Load()
	}
	resp.UptimeSeconds = int64(now.Sub(e.startTime).Seconds())
	return resp
}

// Close waits for a running forward pass and releases the backend.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.slot <- struct{}{}
		if e.backend != nil {
			err = e.backend.Close()
		}
		e.log.Info().Msg("model closed")
	})
	return err
}
