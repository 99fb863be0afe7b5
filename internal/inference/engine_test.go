package inference

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mnistd/internal/network"
)

// fakeBackend returns out for every call and records the last input.
type fakeBackend struct {
	mu     sync.Mutex
	out    []float32
	err    error
	last   []float32
	calls  int
	block  chan struct{}
	closed bool
}

func (f *fakeBackend) Forward(px []float32) ([]float32, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = append([]float32(nil), px...)
	return f.out, f.err
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Close() error { f.closed = true; return nil }

func ones() []float32 {
	px := make([]float32, 784)
	for i := range px {
		px[i] = 255
	}
	return px
}

func TestPredict_ArgMaxFirstWins(t *testing.T) {
	fb := &fakeBackend{out: []float32{0.1, 0.3, 0.3, 0, 0, 0, 0, 0, 0, 0.3}}
	e := newEngine(EngineConfig{}, fb, zerolog.Nop())
	got, err := e.Predict(context.Background(), ones())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected first maximum (1), got %d", got)
	}
	st := e.Status()
	if st.PredictionsTotal != 1 || st.PerClass[1] != 1 || st.State != "ready" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestPredict_NormalizeInput(t *testing.T) {
	out := []float32{1, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	fb := &fakeBackend{out: out}
	e := newEngine(EngineConfig{}, fb, zerolog.Nop())
	if _, err := e.Predict(context.Background(), ones()); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if fb.last[0] != 255 {
		t.Fatalf("default must feed raw pixels, got %v", fb.last[0])
	}

	fb = &fakeBackend{out: out}
	e = newEngine(EngineConfig{NormalizeInput: true}, fb, zerolog.Nop())
	px := ones()
	if _, err := e.Predict(context.Background(), px); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if fb.last[0] != 1 {
		t.Fatalf("normalized pixel = %v, want 1", fb.last[0])
	}
	if px[0] != 255 {
		t.Fatalf("caller slice was modified")
	}
}

func TestPredict_Failures(t *testing.T) {
	fb := &fakeBackend{out: []float32{1, 2, 3}}
	e := newEngine(EngineConfig{}, fb, zerolog.Nop())
	if _, err := e.Predict(context.Background(), ones()); err == nil {
		t.Fatalf("expected output length error")
	}
	fb.out, fb.err = nil, errors.New("boom")
	if _, err := e.Predict(context.Background(), ones()); err == nil || err.Error() != "boom" {
		t.Fatalf("expected backend error, got %v", err)
	}
	if st := e.Status(); st.FailuresTotal != 2 || st.PredictionsTotal != 0 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if _, err := e.Predict(context.Background(), make([]float32, 10)); !IsInvalidShape(err) {
		t.Fatalf("expected shape error for short input, got %v", err)
	}
}

func TestPredict_SerializedAndHonorsContext(t *testing.T) {
	fb := &fakeBackend{out: make([]float32, 10), block: make(chan struct{})}
	e := newEngine(EngineConfig{}, fb, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := e.Predict(context.Background(), ones())
		done <- err
	}()
	// wait until the first call holds the slot
	deadline := time.Now().Add(2 * time.Second)
	for e.Status().Inflight == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first call never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Predict(ctx, ones()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while waiting, got %v", err)
	}

	close(fb.block)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
	if fb.calls != 1 {
		t.Fatalf("expected exactly one forward pass, got %d", fb.calls)
	}
}

func TestEngine_Close(t *testing.T) {
	fb := &fakeBackend{out: make([]float32, 10)}
	e := newEngine(EngineConfig{}, fb, zerolog.Nop())
	if !e.Ready() {
		t.Fatalf("expected ready")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if e.Ready() || !fb.closed || e.Status().State != "closed" {
		t.Fatalf("engine still open")
	}
	if _, err := e.Predict(context.Background(), ones()); err == nil {
		t.Fatalf("expected error after close")
	}
	var nilEngine *Engine
	if nilEngine.Ready() || nilEngine.Status().State != "loading" {
		t.Fatalf("nil engine must report loading")
	}
}

func saveRandomArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.mnist")
	if err := network.SaveArtifact(path, network.InitParams(rand.New(rand.NewSource(5)))); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestLoad_NativeDeterministic(t *testing.T) {
	e, err := Load(EngineConfig{ModelPath: saveRandomArtifact(t)}, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer e.Close()
	if e.Status().Model.Backend != BackendNative {
		t.Fatalf("expected native backend")
	}
	zeros := make([]float32, 784)
	a, err := e.Predict(context.Background(), zeros)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if a < 0 || a > 9 {
		t.Fatalf("prediction out of range: %d", a)
	}
	b, err := e.Predict(context.Background(), zeros)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if a != b {
		t.Fatalf("non-deterministic: %d vs %d", a, b)
	}
}

func TestLoad_ZeroImageIsNotAlwaysZero(t *testing.T) {
	p := network.InitParams(rand.New(rand.NewSource(5)))
	p["b3"].Data().([]float32)[4] = 2
	path := filepath.Join(t.TempDir(), "model.mnist")
	if err := network.SaveArtifact(path, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	e, err := Load(EngineConfig{ModelPath: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer e.Close()
	got, err := e.Predict(context.Background(), make([]float32, 784))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got != 4 {
		t.Fatalf("zero image predicted %d, want 4", got)
	}
}

// Raw 0..255 pixels and pixels scaled to [0,1] reach the output bias with
// different weight, so the two settings can disagree on one image.
func TestLoad_NormalizeInputCanChangePrediction(t *testing.T) {
	p := network.InitParams(rand.New(rand.NewSource(5)))
	base := filepath.Join(t.TempDir(), "base.mnist")
	if err := network.SaveArtifact(base, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	rng := rand.New(rand.NewSource(9))
	img := make([]float32, 784)
	scaled := make([]float32, 784)
	for i := range img {
		img[i] = float32(rng.Intn(256))
		scaled[i] = img[i] / 255
	}

	b, err := newNativeBackend(base)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	probs, err := b.Forward(scaled)
	b.Close()
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	best := network.ArgMax(probs)
	worst := -1
	for k, v := range probs {
		if k != best && v > 0 && (worst < 0 || v < probs[worst]) {
			worst = k
		}
	}
	if worst < 0 {
		t.Fatalf("degenerate output %v", probs)
	}
	// With zero hidden biases the logits are linear in the input scale, so
	// lifting the weakest class by twice its gap wins only for scaled input.
	gap := math.Log(float64(probs[best])) - math.Log(float64(probs[worst]))
	p["b3"].Data().([]float32)[worst] = float32(2 * gap)
	path := filepath.Join(t.TempDir(), "model.mnist")
	if err := network.SaveArtifact(path, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	predict := func(normalize bool) int {
		e, err := Load(EngineConfig{ModelPath: path, NormalizeInput: normalize}, zerolog.Nop())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		defer e.Close()
		got, err := e.Predict(context.Background(), img)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		return got
	}
	raw, norm := predict(false), predict(true)
	if norm != worst {
		t.Fatalf("normalized prediction %d, want %d", norm, worst)
	}
	if raw == norm {
		t.Fatalf("raw and normalized input agree on %d", raw)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(EngineConfig{ModelPath: filepath.Join(t.TempDir(), "missing")}, zerolog.Nop()); err == nil {
		t.Fatalf("expected missing file error")
	}
	junk := filepath.Join(t.TempDir(), "junk.mnist")
	if err := os.WriteFile(junk, []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(EngineConfig{ModelPath: junk}, zerolog.Nop()); err == nil {
		t.Fatalf("expected artifact error")
	}
	if _, err := Load(EngineConfig{ModelPath: junk, Backend: "tflite"}, zerolog.Nop()); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestResolveBackend(t *testing.T) {
	cases := []struct {
		cfg  EngineConfig
		want string
	}{
		{EngineConfig{ModelPath: "m.mnist"}, BackendNative},
		{EngineConfig{ModelPath: "m.ONNX"}, BackendONNX},
		{EngineConfig{ModelPath: "m.onnx", Backend: "native"}, BackendNative},
		{EngineConfig{ModelPath: "m.bin", Backend: " ONNX "}, BackendONNX},
	}
	for _, c := range cases {
		got, err := c.cfg.resolveBackend()
		if err != nil || got != c.want {
			t.Fatalf("%+v: got %q, %v", c.cfg, got, err)
		}
	}
}
