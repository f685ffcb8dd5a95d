// Command orchestratord is the thin process wiring for the orchestration
// core: it loads configuration, builds the Memory Store, MCP Client Pool,
// Session Store, and Orchestrator, and serves the HTTP surface of
// spec §4.8/§4.9 until a shutdown signal arrives.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cih1996/AI-intelligent-agent-system/internal/agentruntime"
	"github.com/cih1996/AI-intelligent-agent-system/internal/config"
	"github.com/cih1996/AI-intelligent-agent-system/internal/httpapi"
	"github.com/cih1996/AI-intelligent-agent-system/internal/mcp"
	"github.com/cih1996/AI-intelligent-agent-system/internal/memory"
	"github.com/cih1996/AI-intelligent-agent-system/internal/observability"
	"github.com/cih1996/AI-intelligent-agent-system/internal/orchestrator"
	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
	"github.com/cih1996/AI-intelligent-agent-system/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	configPath := os.Getenv("ORCHESTRATOR_CONFIG")

	if err := run(context.Background(), configPath, logger); err != nil {
		logger.Error("orchestratord exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := providers.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}
	provider, err := registry.Get(cfg.DefaultProvider)
	if err != nil {
		return fmt.Errorf("resolve default provider %q: %w", cfg.DefaultProvider, err)
	}

	metrics := observability.NewMetrics()
	if instrumented, ok := provider.(interface {
		SetMetrics(*observability.Metrics)
	}); ok {
		instrumented.SetMetrics(metrics)
	}

	sessions, err := session.NewFileStore(cfg.ConversationsRoot)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	memStore, err := memory.NewStore(cfg.MemoryRoot, logger)
	if err != nil {
		return fmt.Errorf("build memory store: %w", err)
	}
	memStore.SetMetrics(metrics)

	pool := mcp.NewManager(logger)
	pool.SetMetrics(metrics)
	if err := loadMCPServers(ctx, pool, cfg.MCPConfigPath, logger); err != nil {
		return fmt.Errorf("initialize mcp servers: %w", err)
	}

	templates, err := loadTemplates(cfg.PromptsDir)
	if err != nil {
		return fmt.Errorf("load prompt templates: %w", err)
	}

	orc := orchestrator.New(templates, provider, sessions, memStore, pool, agentruntime.SystemClock{}, logger)
	orc.SetMetrics(metrics)

	handler := httpapi.New(orc, sessions, memStore, logger)
	handler.SetMetrics(metrics)

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("orchestratord started", "addr", cfg.HTTPAddr, "default_provider", cfg.DefaultProvider)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// agentTemplate is one prompt template file's name and required
// placeholder set (spec §9 "Prompt templates").
type agentTemplate struct {
	file     string
	required []string
}

// loadTemplates reads the seven agent prompt files from dir (spec §6:
// "the prompt-text files loaded from disk" are an external collaborator;
// only their presence and placeholder set are the core's concern).
func loadTemplates(dir string) (orchestrator.Templates, error) {
	specs := map[string]agentTemplate{
		"memory_manager": {file: "memory_manager.txt", required: []string{"MEMORY_OUTLINE"}},
		"memory_router":  {file: "memory_router.txt", required: []string{"CATEGORY_INDEX"}},
		"planner":        {file: "planner.txt", required: []string{"USER_MEMORY", "MCP_TOOLS"}},
		"supervisor":     {file: "supervisor.txt", required: []string{"USER_MEMORY"}},
		"router":         {file: "router.txt", required: []string{"MCP_TOOLS"}},
		"executor":       {file: "executor.txt", required: []string{"PLUGINS_INFO", "USER_MEMORY"}},
		"memory_shards":  {file: "memory_shards.txt", required: []string{"USER_MEMORY"}},
	}

	loaded := make(map[string]*agentruntime.Template, len(specs))
	for name, spec := range specs {
		tmpl, err := agentruntime.LoadTemplate(filepath.Join(dir, spec.file), spec.required)
		if err != nil {
			return orchestrator.Templates{}, fmt.Errorf("load %s template: %w", name, err)
		}
		loaded[name] = tmpl
	}

	return orchestrator.Templates{
		MemoryManager: loaded["memory_manager"],
		MemoryRouter:  loaded["memory_router"],
		Planner:       loaded["planner"],
		Supervisor:    loaded["supervisor"],
		Router:        loaded["router"],
		Executor:      loaded["executor"],
		MemoryShards:  loaded["memory_shards"],
	}, nil
}

// loadMCPServers reads the mcp.json server registry (spec §6) and
// initializes every configured server, tolerating a missing file (an
// orchestrator with no tool servers is still valid — it simply never
// reaches the executor sub-loop).
func loadMCPServers(ctx context.Context, pool *mcp.Manager, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("mcp config not found, starting with no tool servers", "path", path)
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var mcpCfg mcp.Config
	if err := json.Unmarshal(data, &mcpCfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return pool.InitializeAll(ctx, mcpCfg)
}
