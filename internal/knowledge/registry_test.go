package knowledge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa/internal/errors"
)

func hashSpecs(languages ...string) map[string]ModelSpec {
	specs := make(map[string]ModelSpec, len(languages))
	for _, code := range languages {
		specs[code] = ModelSpec{Provider: "hash", MaxTokens: 64, Overlap: 8, Dimensions: 32}
	}
	return specs
}

func countingLoader(calls *int32, failFor map[string]bool) BundleLoader {
	return BundleLoaderFunc(func(ctx context.Context, language string, spec ModelSpec) (*Bundle, error) {
		atomic.AddInt32(calls, 1)
		time.Sleep(10 * time.Millisecond)
		if failFor[language] {
			return nil, errors.New("model download failed")
		}
		return &Bundle{
			Language: language,
			Embedder: NewHashEmbedder(spec.Dimensions),
			Chunker:  NewHierarchicalChunker(nil, spec.MaxTokens, spec.Overlap),
		}, nil
	})
}

func TestModelRegistry_ConcurrentLoadBuildsOnce(t *testing.T) {
	var calls int32
	registry := NewModelRegistry([]string{"en", "fr"}, "en", hashSpecs("en", "fr"), countingLoader(&calls, nil), nil)

	var wg sync.WaitGroup
	bundles := make([]*Bundle, 16)
	for i := range bundles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := registry.Acquire(context.Background(), "fr")
			assert.NoError(t, err)
			bundles[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, b := range bundles {
		assert.Same(t, bundles[0], b)
	}
	assert.Equal(t, map[string]bool{"en": false, "fr": true}, registry.Status())
}

func TestModelRegistry_FailureIsRetried(t *testing.T) {
	var calls int32
	fail := map[string]bool{"de": true}
	registry := NewModelRegistry([]string{"en", "de"}, "en", hashSpecs("en", "de"), countingLoader(&calls, fail), nil)

	err := registry.EnsureLoaded(context.Background(), "de")
	assert.ErrorIs(t, err, apperrors.ErrModelUnavailable)
	assert.False(t, registry.IsLoaded("de"))

	delete(fail, "de")
	require.NoError(t, registry.EnsureLoaded(context.Background(), "de"))
	assert.True(t, registry.IsLoaded("de"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestModelRegistry_UnsupportedUsesDefault(t *testing.T) {
	var calls int32
	registry := NewModelRegistry([]string{"en", "fr"}, "en", hashSpecs("en", "fr"), countingLoader(&calls, nil), nil)

	assert.Equal(t, "en", registry.Resolve("ru"))
	assert.Equal(t, "fr", registry.Resolve("fr"))

	_, err := registry.Get("ru")
	assert.ErrorIs(t, err, apperrors.ErrModelUnavailable)

	bundle, err := registry.Acquire(context.Background(), "ru")
	require.NoError(t, err)
	assert.Equal(t, "en", bundle.Language)

	same, err := registry.Get("ru")
	require.NoError(t, err)
	assert.Same(t, bundle, same)

	// 已支持但未加载的语言不借用默认模型
	_, err = registry.Get("fr")
	assert.ErrorIs(t, err, apperrors.ErrModelUnavailable)
}

func TestModelRegistry_Warmup(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var order []string
	registry := NewModelRegistry([]string{"zh", "en", "fr"}, "en", hashSpecs("zh", "en", "fr"), countingLoader(&calls, map[string]bool{"en": true}), nil)
	registry.OnLoad = func(language string, elapsed time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, language)
	}

	select {
	case <-registry.Warmup(context.Background()):
	case <-time.After(2 * time.Second):
		t.Fatal("warm-up did not finish")
	}

	assert.Equal(t, []string{"zh", "en", "fr"}, order)
	assert.Equal(t, map[string]bool{"zh": true, "en": false, "fr": true}, registry.Status())
}

func TestModelRegistry_WarmupCancelled(t *testing.T) {
	var calls int32
	registry := NewModelRegistry([]string{"en", "fr"}, "en", hashSpecs("en", "fr"), countingLoader(&calls, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	<-registry.Warmup(ctx)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDefaultBundleLoader_Hash(t *testing.T) {
	loader := &DefaultBundleLoader{}
	bundle, err := loader.Load(context.Background(), "en", ModelSpec{Provider: "hash", MaxTokens: 128, Overlap: 16, Dimensions: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, bundle.Embedder.Dimensions())
	assert.Equal(t, 128, bundle.Chunker.MaxTokens())

	_, err = loader.Load(context.Background(), "en", ModelSpec{Provider: "unknown"})
	assert.Error(t, err)
}
