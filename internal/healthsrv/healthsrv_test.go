package healthsrv

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/nanoclaw/internal/config"
)

type fakeProvider struct{ status Status }

func (f fakeProvider) HealthStatus() Status { return f.status }

func TestStart_NoopWithoutHostname(t *testing.T) {
	s := New(config.TailscaleConfig{}, fakeProvider{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("expected no-op start to succeed, got %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("expected no-op stop to succeed, got %v", err)
	}
}

func TestHandleHealthz_ReflectsProviderStatus(t *testing.T) {
	s := New(config.TailscaleConfig{Hostname: "nanoclaw"}, fakeProvider{status: Status{
		Healthy:  false,
		Degraded: []string{"whatsapp"},
	}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.handleHealthz(rec, req)

	if rec.Code != 503 {
		t.Errorf("expected 503 for unhealthy status, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"whatsapp"`) {
		t.Errorf("expected degraded list in body, got %s", rec.Body.String())
	}
}

func TestHandleHealthz_HealthyReturns200(t *testing.T) {
	s := New(config.TailscaleConfig{Hostname: "nanoclaw"}, fakeProvider{status: Status{Healthy: true}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.handleHealthz(rec, req)

	if rec.Code != 200 {
		t.Errorf("expected 200 for healthy status, got %d", rec.Code)
	}
}
