package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/agentrun"
	"github.com/nextlevelbuilder/nanoclaw/internal/bus"
	"github.com/nextlevelbuilder/nanoclaw/internal/chataddr"
	"github.com/nextlevelbuilder/nanoclaw/internal/channels"
	"github.com/nextlevelbuilder/nanoclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/nanoclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/nanoclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/nanoclaw/internal/config"
	"github.com/nextlevelbuilder/nanoclaw/internal/dispatch"
	"github.com/nextlevelbuilder/nanoclaw/internal/healthsrv"
	"github.com/nextlevelbuilder/nanoclaw/internal/hostops"
	"github.com/nextlevelbuilder/nanoclaw/internal/ipc"
	"github.com/nextlevelbuilder/nanoclaw/internal/obs"
	"github.com/nextlevelbuilder/nanoclaw/internal/pathresolve"
	"github.com/nextlevelbuilder/nanoclaw/internal/providers"
	"github.com/nextlevelbuilder/nanoclaw/internal/recovery"
	"github.com/nextlevelbuilder/nanoclaw/internal/scheduler"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// runGateway wires up the dispatch core's process: store, channels,
// backend, dispatcher, scheduler, IPC watcher, recovery, and the health
// server, then runs until a termination signal arrives.
func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("gateway: load config failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DataDirPath() + "/nanoclaw.db")
	if err != nil {
		slog.Error("gateway: open store failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	tracer, err := obs.New(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("gateway: init telemetry failed", "error", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())

	msgBus := bus.NewMessageBus(256)
	manager := channels.NewManager(msgBus)
	connectors := registerChannels(cfg, msgBus, manager)

	backend, err := buildBackend(cfg)
	if err != nil {
		slog.Error("gateway: build backend failed", "error", err)
		os.Exit(1)
	}
	if err := backend.Init(ctx); err != nil {
		slog.Error("gateway: init backend failed", "error", err)
		os.Exit(1)
	}
	defer backend.Shutdown(context.Background())

	router := &chatRouter{bus: msgBus, channels: manager, store: st, backend: backend}
	runner := agentrun.NewRunner(backend)

	tz, err := time.LoadLocation(cfg.Data.Timezone)
	if err != nil {
		slog.Warn("gateway: invalid timezone, defaulting to UTC", "timezone", cfg.Data.Timezone, "error", err)
		tz = time.UTC
	}

	// sched.Queue is filled in once the dispatcher exists below: the
	// RunFunc the dispatcher needs references sched, and sched needs the
	// dispatcher back to submit due tasks, so the pointer is built first
	// and wired second.
	sched := &scheduler.Scheduler{
		Store:     st,
		Clock:     store.RealClock{},
		Checker:   &heartbeatChecklist{groupsRoot: cfg.GroupsRootPath()},
		TZ:        tz,
		TickEvery: time.Duration(cfg.Dispatch.SchedulerTickSeconds) * time.Second,
	}

	deps := &gatewayDeps{
		cfg:       cfg,
		st:        st,
		runner:    runner,
		router:    router,
		manager:   manager,
		scheduler: sched,
		tracer:    tracer,
		clock:     store.RealClock{},
	}

	queue := dispatch.New(dispatch.Config{
		Concurrency: cfg.Dispatch.Concurrency,
		Retry:       cfg.Cron.ToRetryConfig(),
		Clock:       store.RealClock{},
	}, buildRunFunc(deps), makeGiveUpFunc(router))
	sched.Queue = queue

	updater := &hostops.Updater{
		RepoDir:   ".",
		BuildCmd:  []string{"go", "build", "-o", "nanoclaw", "."},
		Restarter: execRestarter{},
	}

	handler := &ipc.Handler{
		Store:      st,
		Router:     router,
		Scheduler:  sched,
		Updater:    updater,
		Clock:      store.RealClock{},
		Mounts:     mountsFor(cfg),
		GroupsRoot: cfg.GroupsRootPath(),
	}
	watcher := ipc.NewWatcher(cfg.DataDirPath()+"/ipc", handler)

	monitor := recovery.NewMonitor(map[string]func(context.Context) error{
		"agent_backend": backend.HealthCheck,
	}, 30*time.Second)
	health := healthsrv.New(cfg.Tailscale, monitor)

	if err := manager.StartAll(ctx); err != nil {
		slog.Error("gateway: start channels failed", "error", err)
	}
	if err := health.Start(ctx); err != nil {
		slog.Error("gateway: start health server failed", "error", err)
	}

	startup := &recovery.Startup{Store: st, Queue: queue}
	if err := startup.Replay(ctx); err != nil {
		slog.Warn("gateway: startup replay failed", "error", err)
	}
	recovery.ReconnectAll(ctx, connectors)

	go queue.Run(ctx)
	go sched.Run(ctx)
	go monitor.Run(ctx)
	go consumeInbound(ctx, msgBus, st, queue, cfg)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("gateway: ipc watcher stopped unexpectedly", "error", err)
		}
	}()

	slog.Info("gateway: nanoclaw running", "channels", manager.GetEnabledChannels())
	<-ctx.Done()

	slog.Info("gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.StopAll(shutdownCtx); err != nil {
		slog.Warn("gateway: stop channels failed", "error", err)
	}
	if err := health.Stop(shutdownCtx); err != nil {
		slog.Warn("gateway: stop health server failed", "error", err)
	}
}

// registerChannels enables every configured chat adapter, returning the
// recovery.Connector wrappers used for the initial reconnect pass.
func registerChannels(cfg *config.Config, msgBus *bus.MessageBus, manager *channels.Manager) []recovery.Connector {
	var connectors []recovery.Connector

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("gateway: telegram channel init failed", "error", err)
		} else {
			manager.RegisterChannel("telegram", ch)
			connectors = append(connectors, channelConnector{ch: ch})
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("gateway: discord channel init failed", "error", err)
		} else {
			manager.RegisterChannel("discord", ch)
			connectors = append(connectors, channelConnector{ch: ch})
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		ch, err := whatsapp.New(cfg.Channels.WhatsApp, msgBus)
		if err != nil {
			slog.Error("gateway: whatsapp channel init failed", "error", err)
		} else {
			manager.RegisterChannel("whatsapp", ch)
			connectors = append(connectors, channelConnector{ch: ch})
		}
	}
	// Slack, DingTalk, Webhook, iMessage, and Email have config structs
	// (internal/config/config_channels.go) but no adapter package in this
	// tree yet; see DESIGN.md for the deferred-adapter note.
	return connectors
}

// buildBackend selects and constructs the configured agentrun.Backend.
func buildBackend(cfg *config.Config) (agentrun.Backend, error) {
	switch cfg.Backend.Kind {
	case "inprocess":
		provider, err := buildProvider(cfg.Providers, cfg.Backend.InProcess.Provider)
		if err != nil {
			return nil, err
		}
		return agentrun.NewInProcessBackend(provider, cfg.Backend.InProcess.Model), nil
	default:
		sandbox := cfg.Backend.Container.Sandbox
		grace := time.Duration(cfg.Backend.Container.GraceSeconds) * time.Second
		baseArgs := cfg.Backend.Container.BaseArgs
		if sandbox != nil && sandbox.Mode == "off" {
			slog.Warn("gateway: container sandbox mode is \"off\"; agents run without isolation")
		}
		return agentrun.NewContainerBackend(agentrun.ContainerBackendConfig{
			Command:     cfg.Backend.Container.Command,
			BaseArgs:    baseArgs,
			GracePeriod: grace,
		}), nil
	}
}

// buildProvider resolves the named LLM provider for the in-process
// backend. Anthropic gets its dedicated client; OpenAI (also the choice for
// an empty name), Groq, OpenRouter, DeepSeek and Gemini use the
// OpenAI-compatible client. Any other name is an error.
func buildProvider(cfg config.ProvidersConfig, name string) (providers.Provider, error) {
	switch name {
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("gateway: anthropic provider selected but NANOCLAW_ANTHROPIC_API_KEY is unset")
		}
		opts := []providers.AnthropicOption{}
		if cfg.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Anthropic.APIBase))
		}
		return providers.NewAnthropicProvider(cfg.Anthropic.APIKey, opts...), nil
	case "openai", "":
		return providers.NewOpenAIProvider("openai", cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, ""), nil
	case "groq":
		return providers.NewOpenAIProvider("groq", cfg.Groq.APIKey, cfg.Groq.APIBase, ""), nil
	case "openrouter":
		return providers.NewOpenAIProvider("openrouter", cfg.OpenRouter.APIKey, cfg.OpenRouter.APIBase, ""), nil
	case "deepseek":
		return providers.NewOpenAIProvider("deepseek", cfg.DeepSeek.APIKey, cfg.DeepSeek.APIBase, ""), nil
	case "gemini":
		return providers.NewOpenAIProvider("gemini", cfg.Gemini.APIKey, cfg.Gemini.APIBase, ""), nil
	default:
		return nil, fmt.Errorf("gateway: unknown inprocess provider %q", name)
	}
}

// mountsFor returns the per-source-folder mount table builder the IPC
// handler uses to resolve container-visible paths to host paths.
func mountsFor(cfg *config.Config) func(sourceFolder string) pathresolve.Table {
	return func(sourceFolder string) pathresolve.Table {
		workspaceRoot := cfg.GroupsRootPath() + "/" + sourceFolder
		ipcRoot := cfg.DataDirPath() + "/ipc/" + sourceFolder
		return pathresolve.Build(workspaceRoot, ipcRoot, nil)
	}
}

// makeGiveUpFunc reports a group's exhausted-retries failure to chat, per
// the dispatcher's give-up contract.
func makeGiveUpFunc(router *chatRouter) dispatch.GiveUpFunc {
	return func(job dispatch.Job, cause error) {
		addr, err := chataddr.Parse(job.ChatAddress)
		if err != nil {
			return
		}
		text := fmt.Sprintf("Sorry, I couldn't process that after several attempts: %s", cause)
		if err := router.SendText(context.Background(), addr, text, nil); err != nil {
			slog.Warn("gateway: give-up notice failed", "chat", job.ChatAddress, "error", err)
		}
	}
}

// execRestarter re-execs the running binary in place, replacing the
// current process image. Used by hostops.Updater after update_project
// rebuilds successfully.
type execRestarter struct{}

func (execRestarter) Restart(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("hostops: resolve executable: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
