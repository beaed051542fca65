package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hanko-field/pos/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("lookup_failed", "lookup\nservice unavailable", http.StatusBadGateway).
		WithDetails(map[string]any{"upstream_status": 503}))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "lookup_failed" {
		t.Fatalf("unexpected code %v", body["error"])
	}
	if body["message"] != "lookup service unavailable" {
		t.Fatalf("expected newline stripped, got %v", body["message"])
	}
	if body["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
	if body["upstream_status"] != float64(503) {
		t.Fatalf("expected upstream status detail, got %v", body["upstream_status"])
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if NewError("x", "y", 0).Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500")
	}
}
