package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/martinemde/planact/agent"
	"github.com/martinemde/planact/config"
	"github.com/martinemde/planact/conversation"
	"github.com/martinemde/planact/gateway"
	"github.com/martinemde/planact/policy"
	"github.com/martinemde/planact/server"
	"github.com/martinemde/planact/tools"
)

// app holds the wired components of a running planact process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *agent.Engine
	convs   *conversation.Manager
	models  *gateway.Selector
	closers []func() error
}

// setup loads configuration and builds every component. Without an
// explicit path a missing config file is fine; defaults and PLANACT_*
// environment variables apply.
func setup(ctx context.Context, logOut io.Writer, configPath string) (*app, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Info("config loaded", "path", path)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	gw, err := a.newGateway()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, gw.Close)

	store, err := a.newStore()
	if err != nil {
		return err
	}
	a.convs = conversation.NewManager(store)

	registry := agent.NewToolRegistry()
	env := tools.NewLocalEnvironment(a.cfg.Tools.WorkingDir)
	tools.RegisterBuiltins(registry, env, tools.Options{
		CommandTimeout:  time.Duration(a.cfg.Tools.CommandTimeoutSec) * time.Second,
		DisableCommands: a.cfg.Tools.DisableCommands,
	})
	a.connectMCP(ctx, registry)

	decider, err := a.newDecider(ctx)
	if err != nil {
		return err
	}

	engineCfg, err := a.cfg.EngineConfig()
	if err != nil {
		return err
	}
	a.engine = agent.NewEngine(gw, a.convs, registry,
		agent.WithConfig(engineCfg),
		agent.WithDecider(decider),
		agent.WithLogger(a.logger.With("component", "engine")),
		agent.WithPromptBuilder(agent.NewPromptBuilder(env.WorkingDirectory())),
	)

	a.logger.Info("agent ready",
		"provider", a.cfg.Provider.Type,
		"model", a.cfg.Provider.Model,
		"autonomy_level", engineCfg.AutonomyLevel,
		"tools", registry.Count(),
		"storage", a.cfg.Storage.Driver)
	return nil
}

// newGateway builds the client around the configured provider. The
// selector can later swap that provider at runtime.
func (a *app) newGateway() (*gateway.Client, error) {
	pcfg, err := a.cfg.GatewayConfig()
	if err != nil {
		return nil, err
	}
	provider, err := gateway.NewProvider(pcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", pcfg.Type, err)
	}
	logger := a.logger.With("component", "gateway")
	client := gateway.NewClient(
		gateway.WithProvider(provider.Name(), provider),
		gateway.WithDefaultProvider(provider.Name()),
		gateway.WithDefaultModel(pcfg.Model),
		gateway.WithMiddleware(
			gateway.LoggingMiddleware(logger),
			gateway.RetryMiddleware(a.cfg.RetryPolicy()),
			gateway.TimeoutMiddleware(a.cfg.RequestTimeout()),
		),
		gateway.WithStreamMiddleware(gateway.StreamLoggingMiddleware(logger)),
	)
	a.models = gateway.NewSelector(client, pcfg)
	return client, nil
}

func (a *app) newStore() (conversation.Store, error) {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		s, err := conversation.NewSQLiteStore(a.cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return conversation.NewMemoryStore(), nil
	}
}

// connectMCP registers the tools of every configured MCP server. A server
// that fails to start is logged and skipped.
func (a *app) connectMCP(ctx context.Context, registry *agent.ToolRegistry) {
	if len(a.cfg.MCPServers) == 0 {
		return
	}
	bridge := tools.NewMCPBridge(a.logger.With("component", "mcp"))
	a.closers = append(a.closers, bridge.Close)

	for _, s := range a.cfg.MCPServers {
		mcpTools, err := bridge.Connect(ctx, tools.MCPServer{
			Name:    s.Name,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
		})
		if err != nil {
			a.logger.Warn("mcp server unavailable", "server", s.Name, "error", err)
			continue
		}
		for _, t := range mcpTools {
			registry.Register(t)
		}
	}
}

func (a *app) newDecider(ctx context.Context) (agent.Decider, error) {
	if a.cfg.Policy.File != "" {
		d, err := policy.LoadRegoDecider(ctx, a.cfg.Policy.File)
		if err != nil {
			return nil, err
		}
		a.logger.Info("approval policy loaded", "path", a.cfg.Policy.File)
		return d, nil
	}
	return policy.NewRegoDecider(ctx, "")
}

func (a *app) httpServer() *echo.Echo {
	logger := a.logger.With("component", "http")
	h := server.NewHandler(a.engine, a.convs, logger, server.WithModelSelector(a.models))
	return server.New(h, logger)
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// printEvent writes one event per line for the ask command.
func printEvent(w io.Writer, ev agent.Event) {
	switch ev.Kind {
	case agent.EventThinking:
		if c := ev.String("content"); c != "" {
			fmt.Fprintf(w, "· %s\n", c)
		}
	case agent.EventToolCall:
		args, _ := json.Marshal(ev.Data["arguments"])
		fmt.Fprintf(w, "→ %s %s\n", ev.String("tool"), args)
	case agent.EventToolResult:
		status := "ok"
		if ok, _ := ev.Data["success"].(bool); !ok {
			status = "failed"
		}
		fmt.Fprintf(w, "← %s %s\n", ev.String("tool"), status)
	case agent.EventApprovalRequired:
		fmt.Fprintf(w, "! %s\n", ev.String("message"))
	case agent.EventMessage:
		fmt.Fprintf(w, "\n%s\n", ev.String("content"))
	case agent.EventError:
		fmt.Fprintf(w, "error: %s %s\n", ev.String("message"), ev.String("error"))
	}
}
