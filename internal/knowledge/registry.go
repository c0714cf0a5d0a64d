package knowledge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// ModelSpec 单一语言的模型配置
type ModelSpec struct {
	Provider   string
	Model      string
	Tokenizer  string
	MaxTokens  int
	Overlap    int
	Dimensions int
}

// Bundle 一种语言的嵌入模型与分块器，加载后在进程内常驻并被所有会话共享
type Bundle struct {
	Language string
	Embedder Embedder
	Chunker  *HierarchicalChunker
}

// BundleLoader 根据配置构建语言包
type BundleLoader interface {
	Load(ctx context.Context, language string, spec ModelSpec) (*Bundle, error)
}

// BundleLoaderFunc 函数适配器
type BundleLoaderFunc func(ctx context.Context, language string, spec ModelSpec) (*Bundle, error)

func (f BundleLoaderFunc) Load(ctx context.Context, language string, spec ModelSpec) (*Bundle, error) {
	return f(ctx, language, spec)
}

// DefaultBundleLoader 按 provider 选择嵌入实现
type DefaultBundleLoader struct {
	OpenAIKey         string
	OpenAIBaseURL     string
	OllamaHost        string
	FastEmbedCacheDir string
}

func (l *DefaultBundleLoader) Load(ctx context.Context, language string, spec ModelSpec) (*Bundle, error) {
	var tok Tokenizer = &HeuristicTokenizer{}
	if spec.Tokenizer != "" {
		hf, err := NewHFTokenizer(spec.Tokenizer)
		if err != nil {
			return nil, err
		}
		tok = hf
	}

	var (
		embedder Embedder
		err      error
	)
	switch spec.Provider {
	case "fastembed":
		embedder, err = NewFastEmbedder(spec.Model, l.FastEmbedCacheDir, spec.MaxTokens)
	case "openai":
		embedder, err = NewOpenAIEmbedder(l.OpenAIKey, l.OpenAIBaseURL, spec.Model, spec.Dimensions)
	case "ollama":
		var oe Embedder
		oe, err = NewOllamaEmbedder(l.OllamaHost, spec.Model, spec.Dimensions)
		if err == nil {
			err = oe.(*OllamaEmbedder).Probe(ctx)
		}
		embedder = oe
	case "hash":
		embedder = NewHashEmbedder(spec.Dimensions)
	default:
		err = fmt.Errorf("unknown embedding provider %q", spec.Provider)
	}
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Language: language,
		Embedder: embedder,
		Chunker:  NewHierarchicalChunker(tok, spec.MaxTokens, spec.Overlap),
	}, nil
}

type slot struct {
	mu     sync.Mutex
	bundle atomic.Pointer[Bundle]
}

// ModelRegistry 按语言管理模型包：按需同步加载，可在后台按优先级预热
type ModelRegistry struct {
	supported   []string
	defaultLang string
	specs       map[string]ModelSpec
	loader      BundleLoader
	slots       map[string]*slot
	logger      *zap.Logger

	// OnLoad 每次加载结束后回调，用于指标
	OnLoad func(language string, elapsed time.Duration, err error)
}

// NewModelRegistry 创建模型注册表，supported 的顺序即预热顺序
func NewModelRegistry(supported []string, defaultLang string, specs map[string]ModelSpec, loader BundleLoader, logger *zap.Logger) *ModelRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	slots := make(map[string]*slot, len(supported))
	for _, code := range supported {
		slots[code] = &slot{}
	}
	return &ModelRegistry{
		supported:   supported,
		defaultLang: defaultLang,
		specs:       specs,
		loader:      loader,
		slots:       slots,
		logger:      logger,
	}
}

// Default 默认语言
func (r *ModelRegistry) Default() string {
	return r.defaultLang
}

// Languages 支持的语言，按优先级排序
func (r *ModelRegistry) Languages() []string {
	out := make([]string, len(r.supported))
	copy(out, r.supported)
	return out
}

// Supported 是否为支持的语言
func (r *ModelRegistry) Supported(language string) bool {
	_, ok := r.slots[language]
	return ok
}

// Resolve 不支持的语言映射到默认语言
func (r *ModelRegistry) Resolve(language string) string {
	if r.Supported(language) {
		return language
	}
	return r.defaultLang
}

// IsLoaded 该语言的模型包是否已就绪
func (r *ModelRegistry) IsLoaded(language string) bool {
	s, ok := r.slots[language]
	return ok && s.bundle.Load() != nil
}

// Status 每种支持语言的就绪状态
func (r *ModelRegistry) Status() map[string]bool {
	status := make(map[string]bool, len(r.supported))
	for _, code := range r.supported {
		status[code] = r.IsLoaded(code)
	}
	return status
}

// EnsureLoaded 同步加载模型包，幂等；同一语言同一时刻只构建一次，失败后可重试
func (r *ModelRegistry) EnsureLoaded(ctx context.Context, language string) error {
	s, ok := r.slots[language]
	if !ok {
		return apperrors.ModelUnavailable(language, fmt.Errorf("language %q is not supported", language))
	}
	if s.bundle.Load() != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bundle.Load() != nil {
		return nil
	}

	start := time.Now()
	r.logger.Info("Loading language model", zap.String("language", language),
		zap.String("provider", r.specs[language].Provider), zap.String("model", r.specs[language].Model))
	bundle, err := r.loader.Load(ctx, language, r.specs[language])
	elapsed := time.Since(start)
	if r.OnLoad != nil {
		r.OnLoad(language, elapsed, err)
	}
	if err != nil {
		r.logger.Error("Language model failed to load", zap.String("language", language), zap.Error(err))
		return apperrors.ModelUnavailable(language, err)
	}
	s.bundle.Store(bundle)
	r.logger.Info("Language model ready", zap.String("language", language), zap.Duration("elapsed", elapsed))
	return nil
}

// Get 返回语言包；不支持的语言使用默认语言的包。支持但未加载的语言不会借用其他语言的模型
func (r *ModelRegistry) Get(language string) (*Bundle, error) {
	if s, ok := r.slots[language]; ok {
		if b := s.bundle.Load(); b != nil {
			return b, nil
		}
		return nil, apperrors.ModelUnavailable(language, fmt.Errorf("model for %q is not loaded", language))
	}
	if s, ok := r.slots[r.defaultLang]; ok {
		if b := s.bundle.Load(); b != nil {
			return b, nil
		}
	}
	return nil, apperrors.ModelUnavailable(language, fmt.Errorf("neither %q nor default %q is loaded", language, r.defaultLang))
}

// Acquire 解析语言、按需加载并返回语言包
func (r *ModelRegistry) Acquire(ctx context.Context, language string) (*Bundle, error) {
	resolved := r.Resolve(language)
	if err := r.EnsureLoaded(ctx, resolved); err != nil {
		return nil, err
	}
	return r.Get(resolved)
}

// Warmup 在独立goroutine中按优先级依次加载，失败只记录日志；返回的通道在结束时关闭
func (r *ModelRegistry) Warmup(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, code := range r.supported {
			if ctx.Err() != nil {
				r.logger.Info("Model warm-up cancelled")
				return
			}
			if err := r.EnsureLoaded(ctx, code); err != nil {
				r.logger.Warn("Model warm-up skipped language", zap.String("language", code), zap.Error(err))
			}
		}
		r.logger.Info("Model warm-up finished", zap.Any("status", r.Status()))
	}()
	return done
}
