package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/nanoclaw/internal/config"
)

func TestNew_DisabledYieldsNoopTracer(t *testing.T) {
	tr, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New returned error for disabled config: %v", err)
	}
	if tr.provider != nil {
		t.Error("expected no provider for disabled telemetry")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op Shutdown to succeed, got %v", err)
	}
}

func TestDispatchRun_EndsSpanOnError(t *testing.T) {
	tr, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, end := tr.DispatchRun(context.Background(), "acct", "message")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	end(errors.New("boom")) // must not panic on a no-op span
}

func TestIPCRequest_EndsSpanOnSuccess(t *testing.T) {
	tr, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, end := tr.IPCRequest(context.Background(), "main", "message")
	end(nil)
}
