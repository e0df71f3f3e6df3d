package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/voxa-labs/voxa-core/internal/config"
)

func TestSetupTelemetryStdoutFallback(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Telemetry.OTLPEndpoint = ""

	shutdown, handler, err := setupTelemetry(cfg, "test", log)
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	if handler == nil {
		t.Fatal("expected a metrics scrape handler")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
