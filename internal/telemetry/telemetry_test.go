package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alfredjeanlab/listings/internal/logger"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), logger.Nop(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), logger.Nop(), Config{Exporter: "jaeger"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInit_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), logger.Nop(), Config{Exporter: "stdout", Writer: &buf})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "ingest.run")
	span.SetAttributes(RunAttr("run-1"), SourceAttr("insider"))
	span.End()

	// Shutdown flushes the batcher.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ingest.run", "listings.run_id", "insider"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported span missing %q", want)
		}
	}
}
