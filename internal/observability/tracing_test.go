package observability

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracerProviderDisabled(t *testing.T) {
	shutdown, err := NewTracerProvider(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{
		0:   sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(),
		1:   sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(),
		0.5: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.5)).Description(),
	}
	for rate, want := range tests {
		if got := Sampler(rate).Description(); got != want {
			t.Errorf("Sampler(%v) = %s, want %s", rate, got, want)
		}
	}
}

func TestExtractHTTPAndTraceID(t *testing.T) {
	if TraceID(context.Background()) != "" {
		t.Fatal("expected no trace id")
	}

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	h := http.Header{}
	h.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	ctx := ExtractHTTP(context.Background(), h)
	if got := TraceID(ctx); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("TraceID = %q", got)
	}
}
