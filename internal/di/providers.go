package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/config"
	"github.com/aihub/docqa/internal/database"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/kafka"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/logger"
	"github.com/aihub/docqa/internal/services"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(ctx context.Context, container *dig.Container, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	providers := []interface{}{
		func() *config.Config { return cfg },
		func() *zap.Logger { return logger.GetLogger() },
		func() *Cleanup { return &Cleanup{} },
		newRegistry,

		// 指标与错误处理
		services.NewMetrics,
		func(reg *prometheus.Registry) *apperrors.ErrorMonitor { return apperrors.NewErrorMonitor(reg) },
		apperrors.NewErrorHandler,

		// 知识层
		func(cfg *config.Config, cleanup *Cleanup) (knowledge.VectorIndex, error) {
			return newVectorIndex(ctx, cfg, cleanup)
		},
		knowledge.NewRetrievalEngine,
		newModelRegistry,
		newLanguageService,
		newTextGenerator,
		knowledge.NewAnswerGenerator,
		newPageGuard,
		func() services.DocumentConverter { return knowledge.NewConverter() },

		// 服务层
		func(cfg *config.Config, cleanup *Cleanup) (*redis.Client, error) {
			return newRedisClient(ctx, cfg, cleanup)
		},
		newStatusMirror,
		newHealthMonitor,
		newProgressBroadcaster,
		newEventSink,
		newSessionManager,
		newIngestionPipeline,
		func(deps qaParams) *services.QAService { return newQAService(ctx, deps) },
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newVectorIndex 按配置选择向量库，远程后端在退出时关闭连接
func newVectorIndex(ctx context.Context, cfg *config.Config, cleanup *Cleanup) (knowledge.VectorIndex, error) {
	index, err := openVectorIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := index.(io.Closer); ok {
		cleanup.Add(closer.Close)
	}
	return index, nil
}

func openVectorIndex(ctx context.Context, cfg *config.Config) (knowledge.VectorIndex, error) {
	vs := cfg.VectorStore
	switch vs.Provider {
	case "", "memory":
		return knowledge.NewMemoryVectorIndex(), nil
	case "milvus":
		return knowledge.NewMilvusVectorIndex(ctx, knowledge.MilvusOptions{
			Address:  vs.Milvus.Address,
			Username: vs.Milvus.Username,
			Password: vs.Milvus.Password,
			Database: vs.Milvus.Database,
			UseTLS:   vs.Milvus.TLS,
		})
	case "qdrant":
		return knowledge.NewQdrantVectorIndex(knowledge.QdrantOptions{
			Endpoint: vs.Qdrant.URL,
			APIKey:   vs.Qdrant.APIKey,
			Timeout:  30 * time.Second,
		})
	case "elasticsearch":
		return knowledge.NewElasticsearchVectorIndex(knowledge.ElasticsearchOptions{
			Addresses: vs.Elasticsearch.Addresses,
			Username:  vs.Elasticsearch.Username,
			Password:  vs.Elasticsearch.Password,
			APIKey:    vs.Elasticsearch.APIKey,
		})
	default:
		return nil, fmt.Errorf("unknown vector store provider %q", vs.Provider)
	}
}

func newModelRegistry(cfg *config.Config, log *zap.Logger, metrics *services.Metrics) *knowledge.ModelRegistry {
	specs := make(map[string]knowledge.ModelSpec, len(cfg.Languages.Models))
	for code, m := range cfg.Languages.Models {
		specs[code] = knowledge.ModelSpec{
			Provider:   m.Provider,
			Model:      m.Model,
			Tokenizer:  m.Tokenizer,
			MaxTokens:  m.MaxTokens,
			Overlap:    m.Overlap,
			Dimensions: m.Dimensions,
		}
	}
	loader := &knowledge.DefaultBundleLoader{
		OpenAIKey:         cfg.Embedding.OpenAI.APIKey,
		OpenAIBaseURL:     cfg.Embedding.OpenAI.BaseURL,
		OllamaHost:        cfg.Embedding.Ollama.Host,
		FastEmbedCacheDir: cfg.Embedding.FastEmbed.CacheDir,
	}
	registry := knowledge.NewModelRegistry(cfg.Languages.Supported, cfg.Languages.Default, specs, loader, log.Named("models"))
	registry.OnLoad = metrics.ModelLoaded
	return registry
}

func newLanguageService(cfg *config.Config) (*knowledge.LanguageService, error) {
	var translator knowledge.Translator = knowledge.NoopTranslator{}
	if cfg.Translation.Provider == "openai" {
		apiKey := cfg.Translation.APIKey
		if apiKey == "" {
			apiKey = cfg.Embedding.OpenAI.APIKey
		}
		t, err := knowledge.NewOpenAITranslator(apiKey, cfg.Translation.BaseURL, cfg.Translation.Model)
		if err != nil {
			return nil, err
		}
		translator = t
	}
	return knowledge.NewLanguageService(cfg.Languages.Supported, cfg.Languages.Default, knowledge.WhatlangDetector{}, translator), nil
}

func newTextGenerator(cfg *config.Config) (knowledge.TextGenerator, error) {
	return knowledge.NewTextGenerator(cfg.Generation.Provider, cfg.Generation.Model, cfg.Generation.BaseURL)
}

func newPageGuard(cfg *config.Config) *knowledge.PageGuard {
	return knowledge.NewPageGuard(cfg.Ingestion.MaxPages, cfg.Ingestion.CharsPerPage)
}

// newRedisClient Redis未启用时返回nil
func newRedisClient(ctx context.Context, cfg *config.Config, cleanup *Cleanup) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	cleanup.Add(client.Close)
	return client, nil
}

// newStatusMirror Redis未启用时不镜像进度
func newStatusMirror(cfg *config.Config, client *redis.Client) services.StatusMirror {
	if client == nil {
		return nil
	}
	return services.NewRedisStatusMirror(client, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
}

func newHealthMonitor(retrieval *knowledge.RetrievalEngine, client *redis.Client) *services.HealthMonitor {
	monitor := services.NewHealthMonitor(2 * time.Second)
	monitor.Register("vector_store", func(ctx context.Context) error {
		if !retrieval.Ready() {
			return fmt.Errorf("vector store is not reachable")
		}
		return nil
	})
	if client != nil {
		monitor.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return monitor
}

func newProgressBroadcaster(cfg *config.Config, mirror services.StatusMirror, metrics *services.Metrics, log *zap.Logger, cleanup *Cleanup) *services.ProgressBroadcaster {
	progress := services.NewProgressBroadcaster(services.ProgressOptions{
		Keepalive: time.Duration(cfg.Progress.KeepaliveSeconds) * time.Second,
		Capacity:  cfg.Progress.Capacity,
		Policy:    services.OverflowPolicy(cfg.Progress.Policy),
	}, mirror, metrics, log.Named("progress"))
	cleanup.Add(progress.Close)
	return progress
}

// newEventSink 生命周期事件总是写日志，Kafka启用时同时发布
func newEventSink(cfg *config.Config, log *zap.Logger, cleanup *Cleanup) (services.EventSink, error) {
	sinks := services.MultiEventSink{services.NewLogEventSink(log.Named("events"))}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		cleanup.Add(producer.Close)
		sinks = append(sinks, services.NewKafkaEventSink(producer, log.Named("events")))
	}
	return sinks, nil
}

// newSessionManager 被驱逐会话的进度队列随之丢弃
func newSessionManager(retrieval *knowledge.RetrievalEngine, events services.EventSink, metrics *services.Metrics, progress *services.ProgressBroadcaster, log *zap.Logger) *services.SessionManager {
	sessions := services.NewSessionManager(retrieval, events, metrics, log.Named("sessions"))
	sessions.OnEvict = progress.Discard
	return sessions
}

type pipelineParams struct {
	dig.In

	Config    *config.Config
	Converter services.DocumentConverter
	Guard     *knowledge.PageGuard
	Languages *knowledge.LanguageService
	Registry  *knowledge.ModelRegistry
	Retrieval *knowledge.RetrievalEngine
	Sessions  *services.SessionManager
	Progress  *services.ProgressBroadcaster
	Events    services.EventSink
	Metrics   *services.Metrics
	Logger    *zap.Logger
}

func newIngestionPipeline(p pipelineParams) *services.IngestionPipeline {
	return services.NewIngestionPipeline(services.IngestionDeps{
		Converter:    p.Converter,
		Guard:        p.Guard,
		Languages:    p.Languages,
		Registry:     p.Registry,
		Retrieval:    p.Retrieval,
		Sessions:     p.Sessions,
		Progress:     p.Progress,
		Events:       p.Events,
		Metrics:      p.Metrics,
		Logger:       p.Logger.Named("ingestion"),
		DetectSample: p.Config.Ingestion.DetectSample,
	})
}

type qaParams struct {
	dig.In

	Config    *config.Config
	Guard     *knowledge.PageGuard
	Pipeline  *services.IngestionPipeline
	Sessions  *services.SessionManager
	Languages *knowledge.LanguageService
	Registry  *knowledge.ModelRegistry
	Retrieval *knowledge.RetrievalEngine
	Answers   *knowledge.AnswerGenerator
	Progress  *services.ProgressBroadcaster
	Metrics   *services.Metrics
	Logger    *zap.Logger
}

func newQAService(ctx context.Context, p qaParams) *services.QAService {
	return services.NewQAService(services.QADeps{
		AllowedTypes:     p.Config.Ingestion.AllowedTypes,
		TopK:             p.Config.Retrieval.TopK,
		Guard:            p.Guard,
		Pipeline:         p.Pipeline,
		Sessions:         p.Sessions,
		Languages:        p.Languages,
		Registry:         p.Registry,
		Retrieval:        p.Retrieval,
		Answers:          p.Answers,
		Progress:         p.Progress,
		Metrics:          p.Metrics,
		Logger:           p.Logger.Named("qa"),
		IngestionContext: ctx,
	})
}
