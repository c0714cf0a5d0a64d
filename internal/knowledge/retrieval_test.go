package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa/internal/errors"
)

func TestRetrievalEngine_IndexQueryTeardown(t *testing.T) {
	ctx := context.Background()
	index := NewMemoryVectorIndex()
	engine := NewRetrievalEngine(index, nil)
	embedder := NewHashEmbedder(256)

	chunks := []Chunk{
		{Index: 0, Text: "The warranty covers manufacturing defects for two years."},
		{Index: 1, Text: "Battery replacement is available at any service center."},
		{Index: 2, Text: "Shipping takes five business days within the country."},
		{Index: 3, Text: "Returns are accepted within thirty days of purchase."},
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	require.NoError(t, engine.Index(ctx, "s-1", chunks, vectors))
	assert.Equal(t, 4, index.Len(CollectionName("s-1")))

	query, err := embedder.Embed(ctx, "shipping takes five business days")
	require.NoError(t, err)
	got, err := engine.Query(ctx, "s-1", query, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, chunks[2].Text, got[0])

	// 同一会话重复建索引视为创建失败
	err = engine.Index(ctx, "s-1", chunks, vectors)
	assert.ErrorIs(t, err, apperrors.ErrIndexCreationFailed)

	require.NoError(t, engine.Teardown(ctx, "s-1"))
	require.NoError(t, engine.Teardown(ctx, "s-1"))

	_, err = engine.Query(ctx, "s-1", query, 3)
	assert.ErrorIs(t, err, apperrors.ErrRetrievalFailed)
}

func TestRetrievalEngine_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	engine := NewRetrievalEngine(NewMemoryVectorIndex(), nil)

	require.NoError(t, engine.Index(ctx, "empty", nil, nil))
	got, err := engine.Query(ctx, "empty", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRetrievalEngine_MismatchedEmbeddings(t *testing.T) {
	engine := NewRetrievalEngine(NewMemoryVectorIndex(), nil)
	err := engine.Index(context.Background(), "s-2", []Chunk{{Text: "a"}}, nil)
	assert.ErrorIs(t, err, apperrors.ErrIndexingFailed)
}

func TestCollectionNameAndRecordID(t *testing.T) {
	assert.Equal(t, "docs_abc", CollectionName("abc"))
	assert.Equal(t, "chunk_7", RecordID(7))
	assert.Equal(t, "docs_1f0e_aa", milvusName("docs_1f0e-aa"))
}
