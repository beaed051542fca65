package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger")
	}
}

func TestLoggerRoundTrip(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestSessionAndTrace(t *testing.T) {
	ctx := WithSessionID(context.Background(), "01HSESSION")
	ctx = WithTrace(ctx, TraceInfo{TraceID: "abc"})
	if SessionID(ctx) != "01HSESSION" {
		t.Fatalf("unexpected session id %q", SessionID(ctx))
	}
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if SessionID(context.Background()) != "" {
		t.Fatalf("expected empty session id")
	}
}
