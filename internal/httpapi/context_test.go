package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestJoinContexts_CancelsWhenEitherDone(t *testing.T) {
	for name, which := range map[string]int{"base": 0, "request": 1} {
		a, ac := context.WithCancel(context.Background())
		b, bc := context.WithCancel(context.Background())
		j, cancelJ := joinContexts(a, b)
		if which == 0 {
			ac()
		} else {
			bc()
		}
		select {
		case <-j.Done():
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("%s: joined context did not cancel", name)
		}
		cancelJ()
		ac()
		bc()
	}
}

func TestJoinContexts_KeepsRequestValues(t *testing.T) {
	type key struct{}
	req := context.WithValue(context.Background(), key{}, "v")
	j, cancel := joinContexts(context.Background(), req)
	defer cancel()
	if j.Value(key{}) != "v" {
		t.Fatalf("request values lost")
	}
}

func TestSetBaseContext_CancelsPredict(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	// nolint:staticcheck // SA1012: nil restores the default
	defer SetBaseContext(nil)
	cancel()
	j, cj := joinContexts(serverBaseCtx, context.Background())
	defer cj()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("shutdown did not cancel joined context")
	}
}
