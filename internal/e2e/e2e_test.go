package e2e

import (
	"net/http"
	"strings"
	"sync"
	"testing"

	"mnistd/internal/inference"
)

func TestE2E_ZerosPredictsDigit(t *testing.T) {
	srv, _ := newServer(t, inference.EngineConfig{})
	code, body := post(t, srv, mustJSON(t, matrix(28, 28, 0)))
	if code != http.StatusOK {
		t.Fatalf("status=%d body=%v", code, body)
	}
	p, ok := body["prediction"].(float64)
	if !ok || p < 0 || p > 9 || p != float64(int(p)) {
		t.Fatalf("prediction=%v", body["prediction"])
	}
}

func TestE2E_IdenticalRequestsIdenticalPredictions(t *testing.T) {
	srv, _ := newServer(t, inference.EngineConfig{})
	img := matrix(28, 28, 0)
	for r := 5; r < 23; r++ {
		img[r][14] = 255
	}
	body := mustJSON(t, img)
	_, first := post(t, srv, body)
	_, second := post(t, srv, body)
	if first["prediction"] != second["prediction"] {
		t.Fatalf("predictions differ: %v vs %v", first, second)
	}
}

func TestE2E_BadShape400(t *testing.T) {
	srv, _ := newServer(t, inference.EngineConfig{})
	for _, body := range []string{mustJSON(t, matrix(27, 28, 0)), mustJSON(t, matrix(28, 29, 1)), `[1,2,3]`, `{}`} {
		code, resp := post(t, srv, body)
		if code != http.StatusBadRequest {
			t.Fatalf("status=%d", code)
		}
		if resp["error"] != "Invalid input shape. Expected a 28x28 matrix." {
			t.Fatalf("error=%v", resp["error"])
		}
	}
}

func TestE2E_MalformedJSON500AndServiceSurvives(t *testing.T) {
	srv, _ := newServer(t, inference.EngineConfig{})
	code, resp := post(t, srv, `{"broken": [`)
	if code != http.StatusInternalServerError {
		t.Fatalf("status=%d", code)
	}
	if msg, _ := resp["error"].(string); strings.TrimSpace(msg) == "" {
		t.Fatalf("empty error message")
	}
	if code, _ := post(t, srv, mustJSON(t, matrix(28, 28, 0))); code != http.StatusOK {
		t.Fatalf("service did not survive: %d", code)
	}
}

func TestE2E_ConcurrentRequestsAgree(t *testing.T) {
	srv, eng := newServer(t, inference.EngineConfig{NormalizeInput: true})
	body := mustJSON(t, matrix(28, 28, 128))
	_, want := post(t, srv, body)

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/predict", "application/json", strings.NewReader(body))
			if err != nil {
				errs <- err.Error()
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- resp.Status
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("concurrent request failed: %s", e)
	}
	st := eng.Status()
	if st.PredictionsTotal != 17 || st.Inflight != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if want["prediction"] == nil {
		t.Fatalf("no prediction in %v", want)
	}
}

func TestE2E_StatusAndReadiness(t *testing.T) {
	srv, _ := newServer(t, inference.EngineConfig{})
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}
