package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults applied.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Dir:        "~/.nanoclaw/data",
			GroupsRoot: "~/.nanoclaw/groups",
			Timezone:   "UTC",
		},
		Dispatch: DispatchConfig{
			Concurrency:          5,
			AgentTimeoutSeconds:  600,
			MainFolder:           "main",
			TriggerWord:          "claw",
			IPCPollIntervalMs:    200,
			SchedulerTickSeconds: 10,
			MaxIPCFileBytes:      1 << 20,
		},
		Backend: BackendConfig{
			Kind: "container",
			Container: ContainerConfig{
				Command:      "docker",
				GraceSeconds: 10,
			},
		},
		Cron: CronConfig{
			MaxRetries:     5,
			RetryBaseDelay: "5s",
			RetryMaxDelay:  "5m",
		},
		Sessions: SessionsConfig{
			Scope:   "group",
			DMScope: "per-sender",
			MainKey: "main",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and are the only source for secrets
// (API keys, bot tokens, auth keys never live in the JSON file).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("NANOCLAW_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("NANOCLAW_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("NANOCLAW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("NANOCLAW_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("NANOCLAW_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("NANOCLAW_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("NANOCLAW_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)

	envStr("NANOCLAW_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("NANOCLAW_TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("NANOCLAW_DISCORD_BOT_TOKEN", &c.Channels.Discord.Token)
	envStr("NANOCLAW_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("NANOCLAW_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)
	envStr("NANOCLAW_DINGTALK_CLIENT_ID", &c.Channels.DingTalk.ClientID)
	envStr("NANOCLAW_DINGTALK_CLIENT_SECRET", &c.Channels.DingTalk.ClientSecret)
	envStr("NANOCLAW_WEBHOOK_SECRET", &c.Channels.Webhook.Secret)
	envStr("NANOCLAW_EMAIL_PASSWORD", &c.Channels.Email.Password)

	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}
	if c.Channels.DingTalk.ClientID != "" && c.Channels.DingTalk.ClientSecret != "" {
		c.Channels.DingTalk.Enabled = true
	}

	envStr("NANOCLAW_DATA_DIR", &c.Data.Dir)
	envStr("NANOCLAW_GROUPS_ROOT", &c.Data.GroupsRoot)
	envStr("NANOCLAW_TIMEZONE", &c.Data.Timezone)

	envStr("NANOCLAW_BACKEND_KIND", &c.Backend.Kind)
	envStr("NANOCLAW_BACKEND_COMMAND", &c.Backend.Container.Command)
	envStr("NANOCLAW_INPROCESS_PROVIDER", &c.Backend.InProcess.Provider)
	envStr("NANOCLAW_INPROCESS_MODEL", &c.Backend.InProcess.Model)

	if v := os.Getenv("NANOCLAW_DISPATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.Concurrency = n
		}
	}
	if v := os.Getenv("NANOCLAW_AGENT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.AgentTimeoutSeconds = n
		}
	}
	envStr("NANOCLAW_TRIGGER_WORD", &c.Dispatch.TriggerWord)

	envStr("NANOCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("NANOCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("NANOCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("NANOCLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("NANOCLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("NANOCLAW_TELEMETRY_HEADERS"); v != "" {
		c.Telemetry.Headers = parseHeaderList(v)
	}

	envStr("NANOCLAW_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("NANOCLAW_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("NANOCLAW_TSNET_DIR", &c.Tailscale.StateDir)
	if c.Tailscale.AuthKey != "" {
		c.Tailscale.Enabled = true
	}
}

// parseHeaderList parses "k1=v1,k2=v2" into a map.
func parseHeaderList(v string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return out
}

// Save writes the config to a JSON file. Fields tagged `json:"-"` (all
// secrets) are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// GroupsRootPath returns the expanded groups-root directory.
func (c *Config) GroupsRootPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Data.GroupsRoot)
}

// DataDirPath returns the expanded data directory.
func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Data.Dir)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
