package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"mnistd/internal/httpapi"
	"mnistd/internal/inference"
	"mnistd/internal/network"
)

// newServer writes a randomly initialized artifact, loads it the way mnistd
// does and serves it over a real listener.
func newServer(t *testing.T, cfg inference.EngineConfig) (*httptest.Server, *inference.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.mnist")
	if err := network.SaveArtifact(path, network.InitParams(rand.New(rand.NewSource(11)))); err != nil {
		t.Fatalf("save artifact: %v", err)
	}
	cfg.ModelPath = path
	eng, err := inference.Load(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("load engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	httpapi.SetLogger(zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewMux(eng))
	t.Cleanup(srv.Close)
	return srv, eng
}

func matrix(rows, cols int, v float64) [][]float64 {
	m := make([][]float64, rows)
	for r := range m {
		m[r] = make([]float64, cols)
		for c := range m[r] {
			m[r][c] = v
		}
	}
	return m
}

func post(t *testing.T, srv *httptest.Server, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("response is not JSON (%d): %q", resp.StatusCode, raw)
	}
	return resp.StatusCode, out
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.String()
}
