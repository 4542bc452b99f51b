package board

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestMutationsAreTraced(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	svc := NewService(openStore(t), nil)
	ctx := WithCorrelationID(context.Background(), "corr-1")

	l, err := svc.CreateList(ctx, "L", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateItem(ctx, l.ID, "", ""); err == nil {
		t.Fatal("expected validation error")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "board.CreateList" || spans[0].Status().Code == codes.Error {
		t.Errorf("first span = %s (%v)", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "board.CreateItem" || spans[1].Status().Code != codes.Error {
		t.Errorf("second span = %s (%v)", spans[1].Name(), spans[1].Status())
	}

	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "correlation.id" && kv.Value.AsString() == "corr-1" {
			found = true
		}
	}
	if !found {
		t.Error("correlation id not recorded on span")
	}
}
