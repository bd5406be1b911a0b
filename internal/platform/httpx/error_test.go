package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vitrina/api/internal/platform/requestctx"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return payload
}

func TestWriteErrorStampsRequestAndTrace(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-7"})

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("insufficient_stock", "not enough\nstock", http.StatusConflict).WithDetails(map[string]any{
		"variant_id": "v1",
		"error":      "overridden",
	}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	payload := decode(t, rec)
	if payload["error"] != "insufficient_stock" {
		t.Fatalf("details must not replace the error code, got %v", payload["error"])
	}
	if payload["message"] != "not enough stock" {
		t.Fatalf("expected sanitised message, got %q", payload["message"])
	}
	if payload["variant_id"] != "v1" || payload["request_id"] != "req-42" || payload["trace_id"] != "trace-7" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["retryable"]; ok {
		t.Fatalf("conflicts are not retryable")
	}
}

func TestWriteErrorMarksUnavailableRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("unavailable", "store offline", http.StatusServiceUnavailable))
	payload := decode(t, rec)
	if payload["retryable"] != true {
		t.Fatalf("expected retryable flag, got %v", payload)
	}
	if _, ok := payload["request_id"]; ok {
		t.Fatalf("request_id must be omitted when unknown")
	}
}

func TestNewErrorDefaultsAndTruncates(t *testing.T) {
	err := NewError("internal", strings.Repeat("x", 600), 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500, got %d", err.Status)
	}
	if len(err.Message) != 512 {
		t.Fatalf("expected message truncated to 512, got %d", len(err.Message))
	}
}
