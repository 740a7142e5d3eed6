package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"RoundLedger/internal/observability"
)

func TestHealthChecker_Readiness(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before start: got %d", rec.Code)
	}

	h.SetReady(true)
	h.SetDependency("postgres", true)
	if !h.IsReady() {
		t.Fatal("expected ready")
	}

	h.SetDependency("nats", false)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("with nats down: got %d", rec.Code)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d", rec.Code)
	}
}
