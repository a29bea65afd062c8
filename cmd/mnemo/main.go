package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mnemo-mcp/mnemo/internal/cache"
	"github.com/mnemo-mcp/mnemo/internal/config"
	"github.com/mnemo-mcp/mnemo/internal/logger"
	"github.com/mnemo-mcp/mnemo/internal/mcp"
	"github.com/mnemo-mcp/mnemo/internal/project"
	"github.com/mnemo-mcp/mnemo/internal/tools"
	"github.com/mnemo-mcp/mnemo/internal/tools/knowledge"
	"github.com/mnemo-mcp/mnemo/internal/tools/memory"
	"github.com/mnemo-mcp/mnemo/internal/vectorstore"
	"github.com/mnemo-mcp/mnemo/pkg/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mnemo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
	log := logger.ForComponent("main")

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// SIGINT/SIGTERM stop the intake of new requests; the one being
	// processed still completes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queryCache := cache.New()

	memoryStore, err := memory.Open(cfg.MemoryDBPath, queryCache)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer memoryStore.Close()

	vectors := vectorstore.NewClient(cfg.QdrantURL, cfg.VectorDim)
	knowledgeStore, err := knowledge.Open(cfg.KnowledgeDBPath, queryCache, vectors, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer knowledgeStore.Close()

	registry := tools.NewRegistry()
	register := func(ts ...tools.Tool) error {
		for _, t := range ts {
			if err := registry.Register(t); err != nil {
				return err
			}
		}
		return nil
	}
	if err := register(memory.GetTools(memoryStore)...); err != nil {
		return err
	}
	if err := register(knowledge.GetTools(knowledgeStore)...); err != nil {
		return err
	}
	if err := register(tools.NewProjectInfoTool(project.NewResolver()), tools.NewHealthTool()); err != nil {
		return err
	}

	if err := config.Watch(ctx, cfg, func(fresh *config.Config) {
		logger.SetLevel(fresh.LogLevel)
		log.Info("config reloaded", "log_level", fresh.LogLevel)
	}); err != nil {
		log.Warn("config watcher unavailable", "error", err)
	}

	log.Info("starting",
		"version", version.Version,
		"data_dir", cfg.DataDir,
		"tools", len(registry.Names()))

	server := mcp.NewServer(registry)
	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}
