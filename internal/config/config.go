package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/cron"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the NanoClaw dispatch core.
type Config struct {
	Data      DataConfig      `json:"data"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Backend   BackendConfig   `json:"backend"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers,omitempty"`
	Sessions  SessionsConfig  `json:"sessions,omitempty"`
	Cron      CronConfig      `json:"cron,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`

	mu sync.RWMutex
}

// DataConfig locates the store, IPC tree, and groups directory on disk.
type DataConfig struct {
	Dir         string `json:"dir"`          // holds store.db and ipc/
	GroupsRoot  string `json:"groups_root"`  // <groups>/<folder> bind-mounted as /workspace/group
	Timezone    string `json:"timezone,omitempty"` // IANA tz for cron evaluation (default UTC)
}

// DispatchConfig controls the per-group queue and dispatcher.
type DispatchConfig struct {
	Concurrency          int    `json:"concurrency,omitempty"`            // global cap on in-flight agent runs (default 5)
	AgentTimeoutSeconds  int    `json:"agent_timeout_seconds,omitempty"`  // wall-clock cap per run (default 600)
	MainFolder           string `json:"main_folder,omitempty"`            // literal "main" (default), the distinguished group
	TriggerWord          string `json:"trigger_word,omitempty"`           // default trigger phrase for requiresTrigger groups
	IPCPollIntervalMs    int    `json:"ipc_poll_interval_ms,omitempty"`   // default 200
	SchedulerTickSeconds int    `json:"scheduler_tick_seconds,omitempty"` // default 10
	MaxIPCFileBytes      int64  `json:"max_ipc_file_bytes,omitempty"`     // default 1MiB; larger files renamed *.oversized
}

// BackendConfig selects which agentrun.Backend implementation to run.
type BackendConfig struct {
	Kind      string          `json:"kind"` // "container" (default) or "inprocess"
	Container ContainerConfig `json:"container,omitempty"`
	InProcess InProcessConfig `json:"inprocess,omitempty"`
}

// ContainerConfig configures the default containerized agent runner.
type ContainerConfig struct {
	Command         string   `json:"command,omitempty"` // e.g. "docker" or "container"
	BaseArgs        []string `json:"base_args,omitempty"`
	GraceSeconds    int      `json:"grace_seconds,omitempty"`
	Sandbox         *SandboxConfig `json:"sandbox,omitempty"`
}

// InProcessConfig configures the alternative in-process SDK backend.
type InProcessConfig struct {
	Provider string `json:"provider"` // matches a key in ProvidersConfig
	Model    string `json:"model,omitempty"`
}

// SandboxConfig describes the resource/isolation envelope the container
// backend should request from the external container runtime. NanoClaw
// does not implement a container runtime itself; these fields are passed
// through to whatever CLI ContainerConfig.Command names.
type SandboxConfig struct {
	Mode            string            `json:"mode,omitempty"`             // "off", "non-main" (default), "all"
	Image           string            `json:"image,omitempty"`
	WorkspaceAccess string            `json:"workspace_access,omitempty"` // "none", "ro", "rw" (default)
	MemoryMB        int               `json:"memory_mb,omitempty"`
	CPUs            float64           `json:"cpus,omitempty"`
	NetworkEnabled  bool              `json:"network_enabled,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
}

// TailscaleConfig configures the optional private health/metrics listener.
// Auth key from env only (never persisted).
type TailscaleConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env NANOCLAW_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// TelemetryConfig configures OpenTelemetry span export, off by default.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// CronConfig configures the scheduler's retry policy for failed dispatch runs.
type CronConfig struct {
	MaxRetries     int    `json:"max_retries,omitempty"`
	RetryBaseDelay string `json:"retry_base_delay,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// ToRetryConfig converts CronConfig to cron.RetryConfig with defaults applied.
func (cc CronConfig) ToRetryConfig() cron.RetryConfig {
	cfg := cron.DefaultRetryConfig()
	if cc.MaxRetries > 0 {
		cfg.MaxRetries = cc.MaxRetries
	}
	if cc.RetryBaseDelay != "" {
		if d, err := time.ParseDuration(cc.RetryBaseDelay); err == nil && d > 0 {
			cfg.BaseDelay = d
		}
	}
	if cc.RetryMaxDelay != "" {
		if d, err := time.ParseDuration(cc.RetryMaxDelay); err == nil && d > 0 {
			cfg.MaxDelay = d
		}
	}
	return cfg
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used for live config reload without invalidating callers holding c.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Data = src.Data
	c.Dispatch = src.Dispatch
	c.Backend = src.Backend
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Sessions = src.Sessions
	c.Cron = src.Cron
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}

// Snapshot returns a copy of the config safe to read without holding c's lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
