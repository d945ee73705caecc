package config

// ChannelsConfig lists every chat channel adapter NanoClaw can bridge.
// Each entry is independently enableable; disabled channels are not
// dialed at startup.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	DingTalk DingTalkConfig `json:"dingtalk,omitempty"`
	Webhook  WebhookConfig  `json:"webhook,omitempty"`
	IMessage IMessageConfig `json:"imessage,omitempty"`
	Email    EmailConfig    `json:"email,omitempty"`
}

// WhatsAppConfig configures the WhatsApp adapter, which talks to an
// external whatsapp-web.js bridge process over a WebSocket rather than
// implementing the WhatsApp wire protocol directly.
type WhatsAppConfig struct {
	Enabled     bool                `json:"enabled,omitempty"`
	BridgeURL   string              `json:"bridge_url,omitempty"`
	AllowFrom   FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy    string              `json:"dm_policy,omitempty"`
	GroupPolicy string              `json:"group_policy,omitempty"`
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	Enabled        bool                `json:"enabled,omitempty"`
	Token          string              `json:"-"` // env only
	Proxy          string              `json:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	DMPolicy       string              `json:"dm_policy,omitempty"`    // "pairing"(secure default)/"open"/"allowlist"/"disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"` // "open"(default)/"allowlist"/"disabled"
	RequireMention *bool               `json:"require_mention,omitempty"`
	HistoryLimit   int                 `json:"history_limit,omitempty"`
	StreamMode     string              `json:"stream_mode,omitempty"` // "none" or "partial"
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"`
}

// DiscordConfig configures the Discord bot adapter.
type DiscordConfig struct {
	Enabled     bool                `json:"enabled,omitempty"`
	Token       string              `json:"-"` // env only
	AllowFrom   FlexibleStringSlice `json:"allow_from,omitempty"`
	GuildPolicy string              `json:"guild_policy,omitempty"`
	DMPolicy    string              `json:"dm_policy,omitempty"`
}

// SlackConfig configures the Slack Socket Mode adapter.
type SlackConfig struct {
	Enabled       bool                `json:"enabled,omitempty"`
	BotToken      string              `json:"-"` // env only, xoxb-...
	AppToken      string              `json:"-"` // env only, xapp-...
	AllowFrom     FlexibleStringSlice `json:"allow_from,omitempty"`
	ChannelPolicy string              `json:"channel_policy,omitempty"`
}

// DingTalkConfig configures the DingTalk Stream Mode bot adapter.
type DingTalkConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	ClientID     string `json:"-"` // env only
	ClientSecret string `json:"-"` // env only
}

// WebhookConfig configures the generic inbound-webhook adapter used for
// channels that push messages over plain HTTP (e.g. Feishu custom bots,
// SMS gateways) rather than a maintained SDK.
type WebhookConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
	Secret     string `json:"-"` // env only, validates inbound signature
}

// IMessageConfig configures the macOS-only iMessage bridge (polls a local
// AppleScript/Messages.app database; only usable on a Mac runner).
type IMessageConfig struct {
	Enabled     bool `json:"enabled,omitempty"`
	PollSeconds int  `json:"poll_seconds,omitempty"`
}

// EmailConfig configures an IMAP-poll / SMTP-send email adapter.
type EmailConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	IMAPHost    string `json:"imap_host,omitempty"`
	SMTPHost    string `json:"smtp_host,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"-"` // env only
	PollSeconds int    `json:"poll_seconds,omitempty"`
}

// ProvidersConfig lists LLM provider credentials available to the
// in-process backend.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic,omitempty"`
	OpenAI     ProviderConfig `json:"openai,omitempty"`
	OpenRouter ProviderConfig `json:"openrouter,omitempty"`
	Groq       ProviderConfig `json:"groq,omitempty"`
	Gemini     ProviderConfig `json:"gemini,omitempty"`
	DeepSeek   ProviderConfig `json:"deepseek,omitempty"`
}

// ProviderConfig holds one provider's credentials and endpoint override.
type ProviderConfig struct {
	APIKey  string `json:"-"` // env only
	APIBase string `json:"api_base,omitempty"`
}

// HasAny reports whether at least one provider has credentials configured.
func (p ProvidersConfig) HasAny() bool {
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != "" || p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" || p.Gemini.APIKey != "" || p.DeepSeek.APIKey != ""
}

// SessionsConfig holds session-scoping settings. The gateway does not read
// them: sessions are always keyed by workspace folder.
type SessionsConfig struct {
	Scope   string `json:"scope,omitempty"`    // "group" (default) or "isolated-per-task"
	DMScope string `json:"dm_scope,omitempty"` // "shared" or "per-sender"
	MainKey string `json:"main_key,omitempty"` // session key used for the main group
}
