package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0x7f/microclaw/internal/agent"
	"github.com/0x7f/microclaw/internal/channels"
	"github.com/0x7f/microclaw/internal/config"
	"github.com/0x7f/microclaw/internal/hooks"
	"github.com/0x7f/microclaw/internal/mcp"
	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/scheduler"
	"github.com/0x7f/microclaw/internal/store"
	"github.com/0x7f/microclaw/internal/tools"
	"github.com/0x7f/microclaw/internal/web"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the gateway: channels, scheduler, and web orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

func runStart() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	dataDir := config.ExpandHome(cfg.DataDir)
	workingDir := config.ExpandHome(cfg.WorkingDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return fmt.Errorf("create working dir: %w", err)
	}

	facade, err := openStore(context.Background(), cfg, dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer facade.Close()

	provider := buildProvider(cfg)

	registry := tools.NewRegistry()
	policy := tools.IsolationShared
	if cfg.WorkingDirIsolation == config.WorkingDirIsolationChat {
		policy = tools.IsolationChat
	}
	registerBuiltinTools(registry, cfg, facade, workingDir, dataDir, policy)

	gw := &gateway{facade: facade, channels: channels.NewRegistry()}
	registerChannelAdapters(gw.channels, cfg, nil)
	registry.Register(tools.NewSendMessageTool(gw))

	subRunner := &agent.SubAgentRunner{
		Provider: provider,
		Tools:    registry.SubAgentRegistry(),
		Model:    cfg.Model,
		System:   "",
	}
	registry.Register(tools.NewSubAgentTool(subRunner))

	mcpMgr := mcp.NewManager(registry)
	mcpMgr.Start(context.Background(), cfg.McpServers)
	defer mcpMgr.Stop()

	pluginDir := filepath.Join(dataDir, "plugins")
	if pluginTools, err := tools.LoadPluginTools(pluginDir); err != nil {
		slog.Warn("start: plugin tools failed to load", "error", err)
	} else {
		for _, t := range pluginTools {
			registry.Register(t)
		}
	}

	audit := &auditSink{facade: facade}
	hooksDir := filepath.Join(dataDir, "hooks")
	hookMgr, err := hooks.Discover(hooksDir, filepath.Join(dataDir, "hooks_state.json"), audit)
	if err != nil {
		return fmt.Errorf("discover hooks: %w", err)
	}

	engine := &agent.Engine{
		Provider: provider,
		Tools:    registry,
		Hooks:    hookMgr,
		Store:    facade,
		Config: agent.Config{
			Model:              cfg.Model,
			MaxTokens:          cfg.MaxTokens,
			MaxToolIterations:  cfg.MaxToolIterations,
			MaxSessionMessages: cfg.MaxSessionMessages,
			CompactKeepRecent:  cfg.CompactKeepRecent,
		},
	}
	var webServer *web.Server
	if cfg.WebEnabled {
		webServer = web.New(cfg, facade, engine, cfgPath)
		registerChannelAdapters(gw.channels, cfg, webServer.Publisher())
	}

	sched := scheduler.New(facade, &scheduledRunner{engine: engine, facade: facade, channels: gw.channels})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	if webServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Run(ctx); err != nil {
				slog.Error("start: web server stopped", "error", err)
			}
		}()
	}

	slog.Info("start: gateway running", "web_enabled", cfg.WebEnabled)
	<-ctx.Done()
	slog.Info("start: shutting down")
	wg.Wait()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, dataDir string) (store.Facade, error) {
	if cfg.Database.Driver == config.DatabaseDriverPostgres {
		return store.OpenPostgres(ctx, cfg.Database.PostgresDSN)
	}
	return store.OpenSQLite(filepath.Join(dataDir, "microclaw.db"))
}

func buildProvider(cfg *config.Config) providers.Provider {
	if cfg.LLMProvider == "" || cfg.LLMProvider == "anthropic" {
		var opts []providers.NativeOption
		opts = append(opts, providers.WithNativeModel(cfg.Model))
		if cfg.LLMBaseURL != "" {
			opts = append(opts, providers.WithNativeBaseURL(cfg.LLMBaseURL))
		}
		return providers.NewNativeProvider(cfg.APIKey, opts...)
	}
	return providers.NewOpenAICompatProvider(cfg.APIKey, cfg.LLMBaseURL,
		providers.WithCompatModel(cfg.Model),
		providers.WithCompatName(cfg.LLMProvider))
}

func registerBuiltinTools(r *tools.Registry, cfg *config.Config, facade store.Facade, workingDir, dataDir string, policy tools.IsolationPolicy) {
	r.Register(tools.NewShellExecTool(workingDir, policy))
	r.Register(tools.NewReadFileTool(workingDir, policy))
	r.Register(tools.NewWriteFileTool(workingDir, policy))
	r.Register(tools.NewEditFileTool(workingDir, policy))
	r.Register(tools.NewGlobTool(workingDir, policy))
	r.Register(tools.NewGrepTool(workingDir, policy))
	r.Register(tools.NewMemoryReadTool(dataDir))
	r.Register(tools.NewMemoryWriteTool(dataDir))
	r.Register(tools.NewWebFetchTool())
	r.Register(tools.NewWebSearchTool())
	r.Register(tools.NewScheduleTaskTool(facade))
	r.Register(tools.NewScheduleListTool(facade))
	r.Register(tools.NewSchedulePauseTool(facade))
	r.Register(tools.NewScheduleResumeTool(facade))
	r.Register(tools.NewScheduleCancelTool(facade))
	r.Register(tools.NewScheduleHistoryTool(facade))
	r.Register(tools.NewExportChatTool(facade, dataDir))
	r.Register(tools.NewActivateSkillTool(filepath.Join(dataDir, "skills")))
	r.Register(tools.NewTodoReadTool(facade))
	r.Register(tools.NewTodoWriteTool(facade))
}

// registerChannelAdapters wires every enabled channel plus the always-on web
// channel. publisher may be nil when the web orchestrator is disabled — the
// web adapter is only registered once a Publisher is available.
func registerChannelAdapters(reg *channels.Registry, cfg *config.Config, publisher channels.WebPublisher) {
	if ch, ok := cfg.Channels["telegram"]; ok && ch.Enabled() {
		if a, err := channels.NewTelegramAdapter(ch.String("token")); err != nil {
			slog.Error("start: telegram adapter failed", "error", err)
		} else {
			reg.Register(a)
		}
	}
	if ch, ok := cfg.Channels["discord"]; ok && ch.Enabled() {
		if a, err := channels.NewDiscordAdapter(ch.String("token")); err != nil {
			slog.Error("start: discord adapter failed", "error", err)
		} else {
			reg.Register(a)
		}
	}
	if ch, ok := cfg.Channels["slack"]; ok && ch.Enabled() {
		reg.Register(channels.NewSlackAdapter(ch.String("bot_token")))
	}
	if ch, ok := cfg.Channels["feishu"]; ok && ch.Enabled() {
		reg.Register(channels.NewFeishuAdapter(ch.String("app_id"), ch.String("app_secret")))
	}
	if publisher != nil {
		reg.Register(channels.NewWebAdapter(publisher))
	}
}

// gateway implements tools.MessageSender on top of the channel registry,
// translating the string chat id space tools see into store.ChatId.
type gateway struct {
	facade   store.Facade
	channels *channels.Registry
}

func (g *gateway) SendMessage(ctx context.Context, chatID, text, attachmentPath, caption string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat_id %q: %w", chatID, err)
	}
	target := store.ChatId(id)
	if attachmentPath == "" {
		return g.channels.DeliverAndStoreBotMessage(ctx, g.facade, "assistant", target, text)
	}
	adapter, _, err := g.channels.GetRequiredChatRouting(ctx, g.facade, target)
	if err != nil {
		return err
	}
	externalID, ok, err := g.facade.GetChatExternalID(ctx, target, adapter.Name())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("target chat %d not found", target)
	}
	if _, err := adapter.SendAttachment(ctx, string(externalID), attachmentPath, caption); err != nil {
		return fmt.Errorf("send attachment via %s: %w", adapter.Name(), err)
	}
	if text != "" {
		return g.channels.DeliverAndStoreBotMessage(ctx, g.facade, "assistant", target, text)
	}
	return nil
}

// scheduledRunner adapts the agent engine to scheduler.AgentRunner: run the
// override prompt against the task's chat, then deliver the reply through
// whichever channel owns that chat.
type scheduledRunner struct {
	engine   *agent.Engine
	facade   store.Facade
	channels *channels.Registry
}

func (r *scheduledRunner) RunScheduled(ctx context.Context, chatID store.ChatId, overridePrompt string) (string, error) {
	chat, err := r.facade.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return "", fmt.Errorf("scheduled run: chat %d not found", chatID)
	}
	channelName, _, _ := r.channels.ParseChatRouting(chat.ChatType)

	reply, err := r.engine.Run(ctx, agent.Request{
		Context: agent.RequestContext{
			CallerChannel: "scheduler",
			ChatID:        chatID,
			ChatType:      chat.ChatType,
		},
		OverridePrompt: overridePrompt,
	})
	if err != nil {
		return "", err
	}
	if channelName != "" {
		if err := r.channels.DeliverAndStoreBotMessage(ctx, r.facade, "assistant", chatID, reply); err != nil {
			slog.Error("scheduled run: delivery failed", "chat_id", chatID, "error", err)
		}
	}
	return reply, nil
}

// auditSink adapts the storage facade's audit log to hooks.AuditSink.
type auditSink struct {
	facade store.Facade
}

func (a *auditSink) RecordHookOutcome(ctx context.Context, hookName, event, action, detail string, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	_ = a.facade.AppendAuditEvent(ctx, store.AuditEvent{
		ActorKind: "hook",
		ActorID:   hookName,
		Action:    event + ":" + action,
		Status:    status,
		Detail:    detail,
	})
}
