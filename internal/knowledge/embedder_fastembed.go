//go:build fastembed

package knowledge

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedder 使用本地ONNX模型生成向量
type FastEmbedder struct {
	m          *fastembed.FlagEmbedding
	mu         sync.Mutex
	dimensions int
	batchSize  int
}

// NewFastEmbedder 加载本地模型，首次调用会下载模型文件到 cacheDir
func NewFastEmbedder(model, cacheDir string, maxLength int) (Embedder, error) {
	if model == "" {
		model = string(fastembed.AllMiniLML6V2)
	}
	m, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:     fastembed.EmbeddingModel(model),
		CacheDir:  cacheDir,
		MaxLength: maxLength,
	})
	if err != nil {
		return nil, fmt.Errorf("load fastembed model %s: %w", model, err)
	}
	probe, err := m.QueryEmbed("ping")
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("probe fastembed model %s: %w", model, err)
	}
	bs := 4 * runtime.GOMAXPROCS(0)
	if bs > 64 {
		bs = 64
	}
	return &FastEmbedder{m: m, dimensions: len(probe), batchSize: bs}, nil
}

func (e *FastEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m.QueryEmbed(text)
}

func (e *FastEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.m.PassageEmbed(texts, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("passage embed: %w", err)
	}
	return out, nil
}

func (e *FastEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *FastEmbedder) Ready() bool {
	return e.m != nil
}
