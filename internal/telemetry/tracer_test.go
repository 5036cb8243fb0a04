package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("geoclip-test", "test", true, &buf)
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "upload")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), `"Name":"upload"`) {
		t.Fatalf("expected exported span, got %s", buf.String())
	}
}

func TestInitTracerDisabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("geoclip-test", "test", false, &buf)
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing exported, got %s", buf.String())
	}
}
