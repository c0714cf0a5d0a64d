package di

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/config"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
	"github.com/aihub/docqa/internal/services"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	cfg, err := config.NewConfigLoader().Load()
	require.NoError(t, err)
	return cfg
}

func TestContainerBasicOperations(t *testing.T) {
	container := InitContainer()
	assert.Same(t, container, GetContainer())

	type TestService struct {
		Name string
	}
	require.NoError(t, Provide(func() *TestService {
		return &TestService{Name: "test"}
	}))
	assert.NoError(t, Invoke(func(svc *TestService) {
		assert.Equal(t, "test", svc.Name)
	}))
}

func TestBuild_ResolvesServiceGraph(t *testing.T) {
	cfg := loadTestConfig(t)
	container, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	err = container.Invoke(func(qa *services.QAService, handler *apperrors.ErrorHandler, index knowledge.VectorIndex, cleanup *Cleanup) {
		assert.NotNil(t, handler)
		assert.IsType(t, &knowledge.MemoryVectorIndex{}, index)
		assert.True(t, qa.Ready())
		assert.Len(t, qa.Languages(), len(cfg.Languages.Supported))
		assert.NoError(t, cleanup.Run())
	})
	assert.NoError(t, err)
}

func TestBuild_UnknownVectorStore(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.VectorStore.Provider = "faiss"
	container, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	err = container.Invoke(func(qa *services.QAService) {})
	assert.ErrorContains(t, err, `unknown vector store provider "faiss"`)
}

func TestProviders_OptionalBackends(t *testing.T) {
	cfg := loadTestConfig(t)
	cleanup := &Cleanup{}

	client, err := newRedisClient(context.Background(), cfg, cleanup)
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.Nil(t, newStatusMirror(cfg, client))

	monitor := newHealthMonitor(knowledge.NewRetrievalEngine(knowledge.NewMemoryVectorIndex(), nil), client)
	assert.Equal(t, []string{"vector_store"}, monitor.Components())

	sink, err := newEventSink(cfg, zap.NewNop(), cleanup)
	require.NoError(t, err)
	assert.Len(t, sink.(services.MultiEventSink), 1)
}

func TestCleanup_RunsInReverse(t *testing.T) {
	var order []int
	cleanup := &Cleanup{}
	for i := 0; i < 3; i++ {
		i := i
		cleanup.Add(func() error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, cleanup.Run())
	assert.Equal(t, []int{2, 1, 0}, order)
	assert.NoError(t, cleanup.Run())
}

func TestVectorIndex_RemoteBackendsRegisterClose(t *testing.T) {
	cfg := loadTestConfig(t)

	cleanup := &Cleanup{}
	_, err := newVectorIndex(context.Background(), cfg, cleanup)
	require.NoError(t, err)
	assert.Empty(t, cleanup.fns)

	for _, provider := range []string{"qdrant", "elasticsearch"} {
		cfg.VectorStore.Provider = provider
		cleanup := &Cleanup{}
		index, err := newVectorIndex(context.Background(), cfg, cleanup)
		require.NoError(t, err, provider)
		assert.Implements(t, (*io.Closer)(nil), index, provider)
		assert.Len(t, cleanup.fns, 1, provider)
		assert.NoError(t, cleanup.Run(), provider)
	}
}

func TestSessionManager_EvictionDiscardsProgress(t *testing.T) {
	cfg := loadTestConfig(t)
	container, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	err = container.Invoke(func(sessions *services.SessionManager, progress *services.ProgressBroadcaster, cleanup *Cleanup) {
		ctx := context.Background()
		old, err := sessions.Start(ctx, "md", "key", "old.md")
		require.NoError(t, err)
		progress.Publish(old, services.ProgressEvent{Step: services.StepConverting})

		_, err = sessions.Start(ctx, "md", "key", "new.md")
		require.NoError(t, err)
		assert.Equal(t, 0, progress.Pending(old))
		assert.NoError(t, cleanup.Run())
	})
	assert.NoError(t, err)
}
