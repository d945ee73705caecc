package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/internal/config"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("nanoclaw doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults will be used)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Data:")
	dataDir := cfg.DataDirPath()
	fmt.Printf("    %-16s %s", "Dir:", dataDir)
	if _, err := os.Stat(dataDir); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}
	groupsRoot := cfg.GroupsRootPath()
	fmt.Printf("    %-16s %s", "Groups root:", groupsRoot)
	if _, err := os.Stat(groupsRoot); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("  Backend:")
	fmt.Printf("    %-16s %s\n", "Kind:", cfg.Backend.Kind)
	if cfg.Backend.Kind == "container" {
		fmt.Printf("    %-16s %s\n", "Command:", cfg.Backend.Container.Command)
	} else {
		fmt.Printf("    %-16s %s\n", "Provider:", cfg.Backend.InProcess.Provider)
		fmt.Printf("    %-16s %s\n", "Model:", cfg.Backend.InProcess.Model)
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)
	checkProvider("Gemini", cfg.Providers.Gemini.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	if !cfg.Providers.HasAny() {
		fmt.Println("    (no provider API key configured)")
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.BridgeURL != "")
	checkChannel("Slack", cfg.Channels.Slack.Enabled, cfg.Channels.Slack.BotToken != "")
	checkChannel("DingTalk", cfg.Channels.DingTalk.Enabled, cfg.Channels.DingTalk.ClientID != "")
	checkChannel("Webhook", cfg.Channels.Webhook.Enabled, true)
	checkChannel("iMessage", cfg.Channels.IMessage.Enabled, true)
	checkChannel("Email", cfg.Channels.Email.Enabled, cfg.Channels.Email.SMTPHost != "")

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-16s enabled, endpoint %s (%s)\n", "OTLP:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Println("    OTLP:            disabled")
	}

	fmt.Println()
	fmt.Println("  Tailscale:")
	if cfg.Tailscale.Enabled && cfg.Tailscale.Hostname != "" {
		fmt.Printf("    %-16s %s\n", "Hostname:", cfg.Tailscale.Hostname)
	} else {
		fmt.Println("    healthsrv:       disabled (no hostname configured)")
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("git")
	if cfg.Backend.Kind == "container" {
		checkBinary(cfg.Backend.Container.Command)
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-16s (not configured)\n", name+":")
		return
	}
	masked := apiKey
	if len(apiKey) > 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-16s %s\n", name+":", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-16s %s\n", name+":", status)
}

func checkBinary(name string) {
	if name == "" {
		return
	}
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-16s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-16s %s\n", name+":", path)
	}
}
