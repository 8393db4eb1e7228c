package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xcro3dile/edenchat/internal/adapters/artifacts"
	"github.com/0xcro3dile/edenchat/internal/adapters/documents"
	"github.com/0xcro3dile/edenchat/internal/adapters/filewatcher"
	"github.com/0xcro3dile/edenchat/internal/adapters/llm"
	"github.com/0xcro3dile/edenchat/internal/adapters/pdf"
	"github.com/0xcro3dile/edenchat/internal/adapters/prompts"
	"github.com/0xcro3dile/edenchat/internal/adapters/store"
	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
	"github.com/0xcro3dile/edenchat/internal/domain/usecases"
	"github.com/0xcro3dile/edenchat/internal/infrastructure/config"
	httpserver "github.com/0xcro3dile/edenchat/internal/infrastructure/http"
)

const promptReloadDebounce = 500 * time.Millisecond

type chatStore interface {
	ports.TurnStore
	ports.StepStore
	SaveStep(ctx context.Context, step entities.Step) error
	Close() error
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))

	registry, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}

	lib, err := prompts.NewLibrary(cfg.PromptsDir, log)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}

	docs, err := openDocuments(cfg.Documents)
	if err != nil {
		return err
	}

	renderer := pdf.NewServiceRenderer(cfg.PDFURL)
	cache := artifacts.NewCache(artifacts.Config{
		Size:            cfg.Artifacts.CacheSize,
		TTL:             cfg.Artifacts.CacheTTL,
		BuildServiceURL: cfg.Artifacts.BuildServiceURL,
	}, log)

	chat := usecases.NewChatUseCase(usecases.ChatDeps{
		Models:     registry,
		Turns:      st,
		Steps:      st,
		Prompts:    lib,
		Router:     usecases.NewRouter(lib, cfg.DefaultModel, cfg.BuildModel),
		Dispatcher: usecases.NewDeliverableDispatcher(renderer, docs, st, log),
		Artifacts:  cache,
	}, usecases.ChatConfig{StreamTimeout: cfg.StreamTimeout}, log)

	checks := map[string]httpserver.HealthCheck{
		"pdf_service": renderer.IsServiceHealthy,
	}
	if p, ok := st.(interface{ Ping(context.Context) error }); ok {
		checks["store"] = func(ctx context.Context) bool { return p.Ping(ctx) == nil }
	}
	srv := httpserver.NewServer(httpserver.Deps{
		Chat:      chat,
		Artifacts: cache,
		Providers: registry.Providers(),
		Checks:    checks,
	}, cfg.Addr, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if cfg.PromptsDir != "" {
		g.Go(func() error { return watchPrompts(gctx, lib, log) })
	}
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (chatStore, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return store.OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildRegistry enables the local family always and the hosted families
// only when their key is set. Disabled adapters stay untyped nil.
func buildRegistry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*llm.Registry, error) {
	var anthropic, gemini ports.ModelStream
	if cfg.Anthropic.APIKey != "" {
		anthropic = llm.NewAnthropicAdapter(llm.AnthropicConfig{
			APIKey:         cfg.Anthropic.APIKey,
			BaseURL:        cfg.Anthropic.BaseURL,
			ThinkingBudget: cfg.Anthropic.ThinkingBudget,
		}, log)
	}
	if cfg.Gemini.APIKey != "" {
		g, err := llm.NewGeminiAdapter(ctx, llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
		}, log)
		if err != nil {
			return nil, err
		}
		gemini = g
	}
	registry := llm.NewRegistry(llm.NewOllamaAdapter(cfg.OllamaURL, log), anthropic, gemini)
	log.Info("model providers enabled", zap.Strings("providers", registry.Providers()))
	return registry, nil
}

func openDocuments(cfg config.DocumentsConfig) (ports.DocumentStore, error) {
	if cfg.S3Endpoint != "" {
		return documents.NewS3Store(documents.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return documents.NewDiskStore(cfg.Dir)
}

// watchPrompts reloads the library on edits. A watcher that cannot start
// only disables hot reload.
func watchPrompts(ctx context.Context, lib *prompts.Library, log *zap.Logger) error {
	w, err := filewatcher.NewFSNotifyWatcher(nil, log)
	if err != nil {
		log.Warn("prompt hot reload disabled", zap.Error(err))
		return nil
	}
	defer w.Stop()

	events, err := w.Watch(ctx, lib.Dir())
	if err != nil {
		log.Warn("prompt hot reload disabled", zap.String("dir", lib.Dir()), zap.Error(err))
		return nil
	}
	log.Info("watching prompt directory", zap.String("dir", lib.Dir()))
	filewatcher.OnChange(ctx, events, promptReloadDebounce, func() {
		if err := lib.Reload(); err != nil {
			log.Warn("prompt reload failed, keeping previous catalogue", zap.Error(err))
			return
		}
		log.Info("prompts reloaded", zap.Int("levels", len(lib.Levels())))
	})
	return nil
}
