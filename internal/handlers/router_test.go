package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/vitrina/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestNewRouterDefaults(t *testing.T) {
	start := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
		WithHealthStartedAt(start),
		WithHealthVersion("1.2.3"),
	)
	router := NewRouter(WithHealthHandlers(health))

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["uptime"] != "1m30s" || body["version"] != "1.2.3" {
			t.Fatalf("unexpected body %v", body)
		}
	})

	t.Run("unregistered group", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected 501, got %d", rr.Code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected JSON error, got %s", ct)
		}
	})
}

func TestReadyzReflectsDependencies(t *testing.T) {
	down := NewHealthHandlers(WithHealthRepository(stubHealthRepository{report: domain.HealthReport{
		Status: domain.HealthDown,
		Dependencies: map[string]domain.DependencyHealth{
			"firestore": {Status: domain.HealthDown, Detail: "unavailable"},
		},
	}}))
	rr := httptest.NewRecorder()
	NewRouter(WithHealthHandlers(down)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	degraded := NewHealthHandlers(WithHealthRepository(stubHealthRepository{report: domain.HealthReport{Status: domain.HealthDegraded}}))
	rr = httptest.NewRecorder()
	NewRouter(WithHealthHandlers(degraded)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected degraded to pass readiness, got %d", rr.Code)
	}

	failing := NewHealthHandlers(WithHealthRepository(stubHealthRepository{err: errors.New("boom")}))
	rr = httptest.NewRecorder()
	NewRouter(WithHealthHandlers(failing)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on collector failure, got %d", rr.Code)
	}
}

func TestRealtimeHandlerMounted(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	rr := httptest.NewRecorder()
	NewRouter(WithRealtimeHandler(ws)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	if !called {
		t.Fatalf("expected websocket handler to be invoked")
	}
}
