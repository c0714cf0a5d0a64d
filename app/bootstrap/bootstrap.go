package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/config"
	"github.com/aihub/docqa/internal/di"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
	"github.com/aihub/docqa/internal/services"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config    *config.Config
	Container *dig.Container

	cancel  context.CancelFunc
	warmup  <-chan struct{}
	cleanup *di.Cleanup
}

// Options 启动选项
type Options struct {
	// Warmup 覆盖配置中的 languages.warmup
	Warmup *bool
}

// Init bootstraps configuration, logger and the dependency container.
func Init(opts Options) (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	loader, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	cfg := config.Current()

	if err := logger.InitLogger(logger.Options{
		Level:       cfg.Server.LogLevel,
		Development: cfg.Server.Env == "development",
	}); err != nil {
		return nil, err
	}

	loader.Watch(func(next *config.Config, e fsnotify.Event) {
		logger.Info("Configuration reloaded; restart to apply backend changes",
			zap.String("file", e.Name), zap.String("op", e.Op.String()))
	}, func(err error) {
		logger.Warn("Configuration reload rejected", zap.Error(err))
	})

	ctx, cancel := context.WithCancel(context.Background())
	container, err := di.Build(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}

	app := &App{Config: cfg, Container: container, cancel: cancel}
	if err := container.Invoke(func(c *di.Cleanup) { app.cleanup = c }); err != nil {
		cancel()
		return nil, err
	}

	warmup := cfg.Languages.Warmup
	if opts.Warmup != nil {
		warmup = *opts.Warmup
	}
	if warmup {
		// 预热在后台按优先级加载模型，不阻塞服务启动
		if err := container.Invoke(func(registry *knowledge.ModelRegistry) {
			app.warmup = registry.Warmup(ctx)
		}); err != nil {
			app.Shutdown()
			return nil, err
		}
	}

	logger.Info("Application initialized",
		zap.String("env", cfg.Server.Env),
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.Strings("languages", cfg.Languages.Supported))
	return app, nil
}

// Shutdown cancels background work and closes resources gracefully.
func (a *App) Shutdown() {
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Container.Invoke(func(sessions *services.SessionManager) {
		sessions.Shutdown(ctx)
	}); err != nil {
		logger.Warn("Failed to shut down sessions", zap.Error(err))
	}

	if a.warmup != nil {
		select {
		case <-a.warmup:
		case <-ctx.Done():
		}
	}
	if a.cleanup != nil {
		if err := a.cleanup.Run(); err != nil {
			logger.Warn("Cleanup error", zap.Error(err))
		}
	}

	// Flush logger buffers.
	logger.Sync()
}
