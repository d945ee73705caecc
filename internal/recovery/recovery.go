// Package recovery implements startup recovery replay, per-channel
// reconnection with backoff, and the background health monitor.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/dispatch"
	"github.com/nextlevelbuilder/nanoclaw/internal/healthsrv"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// Connector is the subset of a channel's lifecycle recovery drives:
// reconnect with backoff, and report whether it's currently connected.
type Connector interface {
	Name() string
	Connect(ctx context.Context) error
	Connected() bool
}

// Startup replays any inbound traffic missed while the process was down,
// before normal dispatch begins.
type Startup struct {
	Store store.MessageStore
	Queue *dispatch.Dispatcher
}

// Replay finds, for every registered group, any chat whose last
// `kind=user` message timestamp exceeds its cursor (i.e. traffic the
// previous process never acknowledged) and submits a synthetic dispatch
// for it, exactly as if the message had just arrived.
func (s *Startup) Replay(ctx context.Context) error {
	groups, err := s.Store.ListGroups(ctx)
	if err != nil {
		return err
	}

	replayed := 0
	for _, g := range groups {
		cursor, err := s.Store.GetCursor(ctx, g.ChatAddress)
		if err != nil {
			slog.Warn("recovery: get cursor failed", "chat", g.ChatAddress, "error", err)
			continue
		}

		window, err := s.Store.ReadWindow(ctx, g.ChatAddress, cursor.LastAgentTimestamp, 0)
		if err != nil {
			slog.Warn("recovery: read window failed", "chat", g.ChatAddress, "error", err)
			continue
		}

		hasUnhandledUser := false
		for _, m := range window {
			if m.Kind == store.KindUser && m.Timestamp > cursor.LastAgentTimestamp {
				hasUnhandledUser = true
				break
			}
		}
		if !hasUnhandledUser {
			continue
		}

		s.Queue.Submit(dispatch.Job{
			GroupKey:    g.WorkspaceFolder,
			ChatAddress: g.ChatAddress,
			Kind:        dispatch.KindMessage,
		})
		replayed++
	}

	slog.Info("recovery: startup replay complete", "groups", len(groups), "replayed", replayed)
	return nil
}

// ReconnectAll brings up every Connector with independent exponential
// backoff, so one channel's outage doesn't delay the others.
func ReconnectAll(ctx context.Context, connectors []Connector) {
	var wg sync.WaitGroup
	for _, c := range connectors {
		wg.Add(1)
		go func(c Connector) {
			defer wg.Done()
			reconnectWithBackoff(ctx, c)
		}(c)
	}
	wg.Wait()
}

func reconnectWithBackoff(ctx context.Context, c Connector) {
	const (
		base = 1 * time.Second
		cap  = 2 * time.Minute
	)
	delay := base
	for attempt := 1; ; attempt++ {
		if err := c.Connect(ctx); err == nil {
			slog.Info("recovery: channel connected", "channel", c.Name(), "attempt", attempt)
			return
		} else {
			slog.Warn("recovery: channel connect failed, backing off", "channel", c.Name(), "attempt", attempt, "delay", delay, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cap {
			delay = cap
		}
	}
}

// Monitor periodically checks a set of named probes and logs a single
// transition event (WARN on degrade, INFO on recover) rather than
// repeating the same state every tick.
type Monitor struct {
	Probes   map[string]func(ctx context.Context) error
	Interval time.Duration

	mu       sync.Mutex
	degraded map[string]bool
	lastErr  map[string]string
}

func NewMonitor(probes map[string]func(ctx context.Context) error, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		Probes:   probes,
		Interval: interval,
		degraded: make(map[string]bool),
		lastErr:  make(map[string]string),
	}
}

// Run blocks, probing on Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	for name, probe := range m.Probes {
		err := probe(ctx)

		m.mu.Lock()
		was := m.degraded[name]
		now := err != nil
		m.degraded[name] = now
		if now {
			m.lastErr[name] = err.Error()
		}
		m.mu.Unlock()

		switch {
		case !was && now:
			slog.Warn("recovery: component degraded", "component", name, "error", err)
		case was && !now:
			slog.Info("recovery: component recovered", "component", name)
		}
	}
}

// HealthStatus satisfies healthsrv.Provider.
func (m *Monitor) HealthStatus() healthsrv.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var degradedList []string
	checks := make(map[string]string)
	for name, isDegraded := range m.degraded {
		if isDegraded {
			degradedList = append(degradedList, name)
			checks[name] = m.lastErr[name]
		} else {
			checks[name] = "ok"
		}
	}

	return healthsrv.Status{
		Healthy:    len(degradedList) == 0,
		Degraded:   degradedList,
		LastChecks: checks,
	}
}
