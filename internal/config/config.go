package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion" validate:"required"`
	Languages   LanguagesConfig   `mapstructure:"languages" validate:"required"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store" validate:"required"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Generation  GenerationConfig  `mapstructure:"generation" validate:"required"`
	Translation TranslationConfig `mapstructure:"translation"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port" validate:"required"`
	Env      string `mapstructure:"env" validate:"oneof=development staging production"`
	LogLevel string `mapstructure:"log_level"`
}

// IngestionConfig 文档摄取配置
type IngestionConfig struct {
	MaxPages     int      `mapstructure:"max_pages" validate:"min=1"`
	CharsPerPage int      `mapstructure:"chars_per_page" validate:"min=1"`
	DetectSample int      `mapstructure:"detect_sample" validate:"min=1"`
	AllowedTypes []string `mapstructure:"allowed_types" validate:"required,min=1"`
	UploadDir    string   `mapstructure:"upload_dir"`
	MaxFileSize  int64    `mapstructure:"max_file_size"`
}

// ModelSpec 单一语言的嵌入模型与分块参数
type ModelSpec struct {
	Provider   string `mapstructure:"provider" validate:"required,oneof=fastembed openai ollama hash"`
	Model      string `mapstructure:"model"`
	Tokenizer  string `mapstructure:"tokenizer"`
	MaxTokens  int    `mapstructure:"max_tokens" validate:"min=16"`
	Overlap    int    `mapstructure:"overlap" validate:"min=0"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LanguagesConfig 支持的语言，Supported 的顺序即预热优先级
type LanguagesConfig struct {
	Supported []string             `mapstructure:"supported" validate:"required,min=1"`
	Default   string               `mapstructure:"default" validate:"required"`
	Warmup    bool                 `mapstructure:"warmup"`
	Models    map[string]ModelSpec `mapstructure:"models" validate:"dive"`
}

type EmbeddingConfig struct {
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	FastEmbed FastEmbedConfig `mapstructure:"fastembed"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

type FastEmbedConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
}

type VectorStoreConfig struct {
	Provider      string              `mapstructure:"provider" validate:"oneof=memory milvus qdrant elasticsearch"`
	Milvus        MilvusConfig        `mapstructure:"milvus"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type MilvusConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	TLS      bool   `mapstructure:"tls"`
}

type QdrantConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	APIKey    string   `mapstructure:"api_key"`
}

type RetrievalConfig struct {
	TopK int `mapstructure:"top_k" validate:"min=1"`
}

type GenerationConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=gemini openai anthropic"`
	Model    string `mapstructure:"model" validate:"required"`
	BaseURL  string `mapstructure:"base_url"`
}

type TranslationConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=openai none"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
}

// ProgressConfig 进度队列配置，Capacity 为 0 表示不限长度
type ProgressConfig struct {
	KeepaliveSeconds int    `mapstructure:"keepalive_seconds" validate:"min=1"`
	Capacity         int    `mapstructure:"capacity" validate:"min=0"`
	Policy           string `mapstructure:"policy" validate:"oneof=drop_oldest drop_newest"`
}

type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

var (
	AppConfig *Config
	mu        sync.RWMutex
)

// ConfigLoader 配置加载器
type ConfigLoader struct {
	viper     *viper.Viper
	validator *validator.Validate
}

// NewConfigLoader 创建配置加载器
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		viper:     v,
		validator: validator.New(),
	}
}

// Viper 返回底层viper实例
func (cl *ConfigLoader) Viper() *viper.Viper {
	return cl.viper
}

// Load 从默认值、环境变量和可选配置文件加载配置
func (cl *ConfigLoader) Load() (*Config, error) {
	cl.setDefaults()
	cl.loadFromEnv()

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		cl.viper.SetConfigFile(configFile)
		if err := cl.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return cl.decode()
}

func (cl *ConfigLoader) decode() (*Config, error) {
	var cfg Config
	if err := cl.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(&cfg)

	if err := cl.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := checkLanguages(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch 监听配置文件变更，重新加载成功后回调 onChange
func (cl *ConfigLoader) Watch(onChange func(*Config, fsnotify.Event), onError func(error)) {
	if cl.viper.ConfigFileUsed() == "" {
		return
	}
	cl.viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cl.decode()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		mu.Lock()
		AppConfig = cfg
		mu.Unlock()
		if onChange != nil {
			onChange(cfg, e)
		}
	})
	cl.viper.WatchConfig()
}

// setDefaults 设置默认值
func (cl *ConfigLoader) setDefaults() {
	v := cl.viper

	v.SetDefault("server.port", "8001")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("ingestion.max_pages", 20)
	v.SetDefault("ingestion.chars_per_page", 3000)
	v.SetDefault("ingestion.detect_sample", 1000)
	v.SetDefault("ingestion.allowed_types", []string{"pdf", "docx", "pptx", "xlsx", "html", "txt", "md"})
	v.SetDefault("ingestion.upload_dir", os.TempDir())
	v.SetDefault("ingestion.max_file_size", 50<<20)

	v.SetDefault("languages.supported", []string{"en", "fr", "de", "es", "it", "zh"})
	v.SetDefault("languages.default", "en")
	v.SetDefault("languages.warmup", true)
	v.SetDefault("languages.models", defaultModels())

	v.SetDefault("embedding.openai.base_url", "")
	v.SetDefault("embedding.ollama.host", "http://localhost:11434")
	v.SetDefault("embedding.fastembed.cache_dir", ".fastembed")

	v.SetDefault("vector_store.provider", "memory")
	v.SetDefault("vector_store.milvus.address", "localhost:19530")
	v.SetDefault("vector_store.milvus.database", "default")
	v.SetDefault("vector_store.qdrant.url", "http://localhost:6333")
	v.SetDefault("vector_store.elasticsearch.addresses", []string{"http://localhost:9200"})

	v.SetDefault("retrieval.top_k", 3)

	v.SetDefault("generation.provider", "gemini")
	v.SetDefault("generation.model", "gemini-2.0-flash-exp")

	v.SetDefault("translation.provider", "none")
	v.SetDefault("translation.model", "gpt-4o-mini")

	v.SetDefault("progress.keepalive_seconds", 120)
	v.SetDefault("progress.capacity", 0)
	v.SetDefault("progress.policy", "drop_oldest")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_seconds", 3600)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "docqa-lifecycle")
}

func defaultModels() map[string]interface{} {
	multilingual := map[string]interface{}{
		"provider": "ollama", "model": "paraphrase-multilingual",
		"max_tokens": 128, "overlap": 16, "dimensions": 768,
	}
	return map[string]interface{}{
		"en": localModel("fast-all-MiniLM-L6-v2", 256, 32, 384),
		"zh": localModel("fast-bge-small-zh-v1.5", 512, 48, 512),
		"fr": multilingual,
		"de": multilingual,
		"es": multilingual,
		"it": multilingual,
	}
}

// loadFromEnv 从常用环境变量加载配置
func (cl *ConfigLoader) loadFromEnv() {
	cl.setFromEnv("server.port", "PORT")
	cl.setFromEnv("server.log_level", "LOG_LEVEL")
	cl.setFromEnv("embedding.openai.api_key", "OPENAI_API_KEY")
	cl.setFromEnv("embedding.openai.base_url", "OPENAI_BASE_URL")
	cl.setFromEnv("embedding.ollama.host", "OLLAMA_HOST")
	cl.setFromEnv("translation.api_key", "TRANSLATION_API_KEY")
	cl.setFromEnv("vector_store.provider", "VECTOR_STORE")
	cl.setFromEnv("vector_store.milvus.address", "MILVUS_ADDRESS")
	cl.setFromEnv("vector_store.qdrant.url", "QDRANT_URL")
	cl.setFromEnv("redis.host", "REDIS_HOST")
	cl.setFromEnv("redis.port", "REDIS_PORT")
	cl.setFromEnv("redis.password", "REDIS_PASSWORD")
	cl.setFromEnv("kafka.topic", "KAFKA_TOPIC")

	if langs := os.Getenv("SUPPORTED_LANGUAGES"); langs != "" {
		cl.viper.Set("languages.supported", splitList(langs))
	}
	if addrs := os.Getenv("ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cl.viper.Set("vector_store.elasticsearch.addresses", splitList(addrs))
	}
	if maxPages := os.Getenv("MAX_PAGES"); maxPages != "" {
		if n, err := strconv.Atoi(maxPages); err == nil {
			cl.viper.Set("ingestion.max_pages", n)
		}
	}
	if redisEnabled := os.Getenv("REDIS_ENABLED"); redisEnabled == "true" {
		cl.viper.Set("redis.enabled", true)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cl.viper.Set("kafka.brokers", splitList(brokers))
		cl.viper.Set("kafka.enabled", true)
	}
}

// setFromEnv 辅助函数：从环境变量设置配置
func (cl *ConfigLoader) setFromEnv(configKey, envKey string) {
	if value := os.Getenv(envKey); value != "" {
		cl.viper.Set(configKey, value)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalize(cfg *Config) {
	for i, code := range cfg.Languages.Supported {
		cfg.Languages.Supported[i] = strings.ToLower(strings.TrimSpace(code))
	}
	cfg.Languages.Default = strings.ToLower(strings.TrimSpace(cfg.Languages.Default))
	for i, kind := range cfg.Ingestion.AllowedTypes {
		cfg.Ingestion.AllowedTypes[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(kind), "."))
	}
}

// checkLanguages 默认语言必须在支持列表中，且每种语言都要有模型配置
func checkLanguages(cfg *Config) error {
	found := false
	for _, code := range cfg.Languages.Supported {
		if code == cfg.Languages.Default {
			found = true
		}
		if _, ok := cfg.Languages.Models[code]; !ok {
			return fmt.Errorf("no embedding model configured for language %q", code)
		}
	}
	if !found {
		return fmt.Errorf("default language %q is not in supported languages %v",
			cfg.Languages.Default, cfg.Languages.Supported)
	}
	return nil
}

// LoadConfig 加载全局配置
func LoadConfig() (*ConfigLoader, error) {
	loader := NewConfigLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	mu.Lock()
	AppConfig = cfg
	mu.Unlock()
	return loader, nil
}

// Current 返回当前全局配置
func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return AppConfig
}
