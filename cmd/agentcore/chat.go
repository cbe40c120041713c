package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexuscore/agentcore/internal/agentloop"
	"github.com/nexuscore/agentcore/internal/compaction"
	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/events"
	"github.com/nexuscore/agentcore/internal/llm/backend"
	"github.com/nexuscore/agentcore/internal/llm/provider"
	"github.com/nexuscore/agentcore/internal/mcp"
	"github.com/nexuscore/agentcore/internal/middleware"
	"github.com/nexuscore/agentcore/internal/permission"
	"github.com/nexuscore/agentcore/internal/session"
	"github.com/nexuscore/agentcore/internal/toolhost"
)

func buildChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive agent session in this terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}
}

// readonlyMode restricts the session to the two read-only filesystem tools;
// switching to it takes effect at the next turn boundary, not immediately,
// per the Session Supervisor's switch_mode semantics.
var readonlyMode = session.Mode{
	Name:         "readonly",
	AutoApprove:  true,
	EnabledTools: []string{"read_file", "list_dir"},
	SafetyClass:  "restricted",
}

var defaultMode = session.Mode{
	Name:        "default",
	AutoApprove: true,
	SafetyClass: "standard",
}

func runChat(parentCtx context.Context) error {
	cfg, err := loadRuntimeConfig(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := setupTracing(parentCtx)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("tracing shutdown failed", "error", err)
		}
	}()

	registry := provider.NewRegistry()
	if err := registerAdapter(registry, cfg); err != nil {
		return err
	}
	be := backend.New(registry)

	host := toolhost.New(toolhost.ExecConfig{})
	if err := registerBuiltinTools(host); err != nil {
		return err
	}

	mcpManager, err := startMCPServers(parentCtx, cfg, host)
	if err != nil {
		return fmt.Errorf("start MCP servers: %w", err)
	}
	if mcpManager != nil {
		defer func() {
			if err := mcpManager.Stop(); err != nil {
				slog.Error("stop MCP servers failed", "error", err)
			}
		}()
	}

	perm := permission.New()
	perm.SetApprovalCallback(func(ctx context.Context, toolName, arguments, toolCallID string) (permission.ApprovalResponse, error) {
		return permission.ApprovalResponse{Approved: true}, nil
	})

	pipeline := middleware.New()
	pipeline.Use(&middleware.TurnLimit{Max: cfg.MaxTurns})
	if cfg.PriceLimit > 0 {
		pipeline.Use(&middleware.PriceLimit{MaxUSD: cfg.PriceLimit})
	}
	estimate := func(ctx middleware.Context) int { return ctx.Stats.EstimateTokens }
	pipeline.Use(&middleware.AutoCompact{
		ThresholdTokens: int(float64(cfg.ContextWindowTokens) * cfg.CompactThresholdPct),
		Estimate:        estimate,
	})
	pipeline.Use(&middleware.ContextWarning{
		WindowTokens: cfg.ContextWindowTokens,
		WarnPercent:  cfg.WarnThresholdPct,
		Estimate:     estimate,
	})

	emitter := events.New("", events.SinkFunc(printEvent))

	c := convo.New(cfg.SystemPrompt)
	emitter.SetSessionID(c.SessionID())

	compactor := compaction.NewManager(be, cfg.Model, emitter, pipeline)

	loop := agentloop.New(c, be, host, perm, pipeline, emitter, compactor, agentloop.Config{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})

	store, err := session.NewSQLiteStore(session.DefaultSQLiteConfig(cfg.SessionDBPath))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	sup := session.New(loop, perm, pipeline, store, nil, cfg.Environment)
	sup.SwitchMode(defaultMode)
	defer func() {
		if err := sup.End(context.Background()); err != nil {
			slog.Error("persist session archive on exit failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Println("agentcore chat -- /mode readonly|default, /reload, /clear, /mcp, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if handled, err := handleMetaCommand(ctx, sup, cfg, mcpManager, line); handled {
			if err != nil {
				slog.Error("command failed", "error", err)
			}
			if line == "/quit" {
				return nil
			}
			continue
		}
		if err := sup.Act(ctx, line); err != nil {
			slog.Error("turn failed", "error", err)
		}
	}
}

func handleMetaCommand(ctx context.Context, sup *session.Supervisor, cfg *runtimeConfig, mcpManager *mcp.Manager, line string) (bool, error) {
	switch {
	case line == "/quit":
		return true, nil
	case line == "/clear":
		return true, sup.Clear(ctx)
	case line == "/reload":
		return true, sup.Reload(ctx, session.ConfigSnapshot{SystemPrompt: cfg.SystemPrompt})
	case line == "/mode readonly":
		sup.SwitchMode(readonlyMode)
		return true, nil
	case line == "/mode default":
		sup.SwitchMode(defaultMode)
		return true, nil
	case line == "/mcp":
		printMCPStatus(mcpManager)
		return true, nil
	default:
		return false, nil
	}
}

// printMCPStatus reports each configured MCP server's connection state and
// tool/resource/prompt counts.
func printMCPStatus(mcpManager *mcp.Manager) {
	if mcpManager == nil {
		fmt.Println("no MCP servers configured")
		return
	}
	for _, st := range mcpManager.Status() {
		fmt.Printf("%-20s connected=%-5v tools=%d resources=%d prompts=%d\n",
			st.ID, st.Connected, st.Tools, st.Resources, st.Prompts)
	}
}

func registerAdapter(registry *provider.Registry, cfg *runtimeConfig) error {
	envVar := apiKeyEnvVar(cfg.Provider)
	apiKey := os.Getenv(envVar)

	switch cfg.Provider {
	case "openai":
		registry.Register(provider.NewOpenAIAdapter(provider.OpenAIConfig{
			APIKey:       apiKey,
			DefaultModel: cfg.Model,
		}))
	case "anthropic":
		registry.Register(provider.NewAnthropicAdapter(provider.AnthropicConfig{
			APIKey:       apiKey,
			DefaultModel: cfg.Model,
		}))
	default:
		return fmt.Errorf("unknown provider %q (want \"openai\" or \"anthropic\")", cfg.Provider)
	}
	return nil
}

func printEvent(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindAssistant:
		fmt.Print(ev.Delta)
		if ev.Done {
			fmt.Println()
		}
		if ev.StoppedByMiddleware {
			fmt.Fprintf(os.Stderr, "[stopped: %s]\n", ev.Reason)
		}
	case events.KindReasoning:
		fmt.Fprintf(os.Stderr, "[thinking] %s\n", ev.Delta)
	case events.KindToolCall:
		fmt.Printf("\n[tool call] %s(%s)\n", ev.ToolName, ev.ToolArgsJSON)
	case events.KindToolResult:
		fmt.Printf("[tool result: %s] %s\n", ev.ToolResultStatus, truncateForDisplay(ev.ToolResultText))
	case events.KindCompactStart:
		fmt.Fprintln(os.Stderr, "[compacting conversation...]")
	case events.KindCompactEnd:
		fmt.Fprintf(os.Stderr, "[compaction done: %d -> %d tokens]\n", ev.CompactBeforeTokens, ev.CompactAfterTokens)
	}
}

func truncateForDisplay(s string) string {
	const max = 400
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
