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
	logger := zap.NewExample()
	if Logger(WithLogger(context.Background(), logger)) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestOrderIDIgnoresBlankValues(t *testing.T) {
	ctx := WithOrderID(context.Background(), "  ")
	if OrderID(ctx) != "" {
		t.Fatalf("expected blank order id to be ignored")
	}
	ctx = WithOrderID(ctx, " 501 ")
	if OrderID(ctx) != "501" {
		t.Fatalf("expected trimmed order id, got %q", OrderID(ctx))
	}
}

func TestTraceRoundTrip(t *testing.T) {
	if _, ok := Trace(context.Background()); ok {
		t.Fatalf("expected no trace")
	}
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", Sampled: true})
	info, ok := Trace(ctx)
	if !ok || info.TraceID != "abc" || !info.Sampled {
		t.Fatalf("unexpected trace info %+v", info)
	}
}
