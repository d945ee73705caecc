// Package healthsrv exposes a private /healthz endpoint over a Tailscale
// tsnet node, so the host's health can be checked from inside the
// operator's tailnet without exposing a public port. There is no
// dashboard here — just a liveness/readiness probe for the recovery
// subsystem's health monitor.
package healthsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/nanoclaw/internal/config"
)

// Status is the payload served at /healthz.
type Status struct {
	Healthy    bool              `json:"healthy"`
	Degraded   []string          `json:"degraded,omitempty"`
	Uptime     string            `json:"uptime"`
	LastChecks map[string]string `json:"lastChecks,omitempty"`
}

// Provider supplies the current Status on demand; internal/recovery's
// health monitor is the production implementation.
type Provider interface {
	HealthStatus() Status
}

// Server runs the tsnet node and its /healthz HTTP handler.
type Server struct {
	cfg      config.TailscaleConfig
	provider Provider
	startAt  time.Time

	mu      sync.Mutex
	tsNode  *tsnet.Server
	httpSrv *http.Server
}

func New(cfg config.TailscaleConfig, provider Provider) *Server {
	return &Server{cfg: cfg, provider: provider, startAt: time.Now()}
}

// Start brings up the tsnet node and begins serving /healthz in the
// background. A zero-value Hostname disables the server entirely — this
// is an optional, private diagnostic surface, not a required dependency.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Hostname == "" {
		slog.Debug("healthsrv: no tailscale hostname configured, skipping")
		return nil
	}

	node := &tsnet.Server{
		Hostname:  s.cfg.Hostname,
		AuthKey:   s.cfg.AuthKey,
		Dir:       s.cfg.StateDir,
		Ephemeral: s.cfg.Ephemeral,
		Logf:      func(string, ...any) {}, // tsnet is chatty; its log output is discarded
	}

	ln, err := node.Listen("tcp", ":80")
	if err != nil {
		node.Close()
		return fmt.Errorf("healthsrv: tsnet listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)

	srv := &http.Server{Handler: mux}

	s.mu.Lock()
	s.tsNode = node
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("healthsrv: serve failed", "error", err)
		}
	}()

	slog.Info("healthsrv: listening on tailnet", "hostname", s.cfg.Hostname)
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.provider.HealthStatus()
	status.Uptime = time.Since(s.startAt).Round(time.Second).String()

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Warn("healthsrv: encode response failed", "error", err)
	}
}

// Stop shuts down the HTTP server and tsnet node.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tsNode != nil {
		if err := s.tsNode.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("healthsrv: shutdown errors: %v", errs)
	}
	return nil
}
