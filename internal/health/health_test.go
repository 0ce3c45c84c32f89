package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, c *Checker) (int, Status) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.Handler()(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	return rec.Code, st
}

func TestCheckerAllPassing(t *testing.T) {
	c := New()
	c.Add("store", func(ctx context.Context) error { return nil })
	c.Add("queue", func(ctx context.Context) error { return nil })

	code, st := serve(t, c)
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if !st.OK {
		t.Error("Status.OK = false, want true")
	}
	if st.Checks["store"] != "ok" || st.Checks["queue"] != "ok" {
		t.Errorf("Checks = %v, want both ok", st.Checks)
	}
}

func TestCheckerOneFailing(t *testing.T) {
	c := New()
	c.Add("store", func(ctx context.Context) error { return nil })
	c.Add("queue", func(ctx context.Context) error { return errors.New("no nsqd connections") })

	code, st := serve(t, c)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if st.OK {
		t.Error("Status.OK = true with a failing check, want false")
	}
	if st.Checks["store"] != "ok" {
		t.Errorf("store check = %q, want ok", st.Checks["store"])
	}
	if st.Checks["queue"] != "no nsqd connections" {
		t.Errorf("queue check = %q, want the failure text", st.Checks["queue"])
	}
}

func TestCheckerNoChecks(t *testing.T) {
	code, st := serve(t, New())
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if !st.OK {
		t.Error("Status.OK = false with no checks, want true")
	}
}

func TestCheckerBoundsCheckTime(t *testing.T) {
	c := New()
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	code, st := serve(t, c)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if st.Checks["slow"] != context.DeadlineExceeded.Error() {
		t.Errorf("slow check = %q, want deadline exceeded", st.Checks["slow"])
	}
}
