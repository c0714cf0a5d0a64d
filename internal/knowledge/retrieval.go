package knowledge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// RetrievalEngine 会话级向量集合的创建、写入、检索与销毁
type RetrievalEngine struct {
	index  VectorIndex
	logger *zap.Logger
}

// NewRetrievalEngine 创建检索引擎
func NewRetrievalEngine(index VectorIndex, logger *zap.Logger) *RetrievalEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalEngine{index: index, logger: logger}
}

// CollectionName 会话对应的集合名
func CollectionName(sessionID string) string {
	return "docs_" + sessionID
}

// RecordID 第 i 个分块的记录ID
func RecordID(i int) string {
	return fmt.Sprintf("chunk_%d", i)
}

// Ready 底层索引是否可用
func (e *RetrievalEngine) Ready() bool {
	return e.index != nil && e.index.Ready()
}

// Index 为会话新建集合并写入全部分块，集合已存在视为创建失败
func (e *RetrievalEngine) Index(ctx context.Context, sessionID string, chunks []Chunk, embeddings [][]float32) error {
	name := CollectionName(sessionID)
	if len(chunks) != len(embeddings) {
		return apperrors.IndexingFailed(name,
			fmt.Errorf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}

	dim := 0
	if len(embeddings) > 0 {
		dim = len(embeddings[0])
	}
	if err := e.index.Create(ctx, name, dim); err != nil {
		return apperrors.IndexCreationFailed(name, err)
	}

	records := make([]VectorRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = VectorRecord{
			ID:        RecordID(i),
			Embedding: embeddings[i],
			Text:      chunk.Text,
		}
	}
	if err := e.index.Add(ctx, name, records); err != nil {
		return apperrors.IndexingFailed(name, err)
	}

	e.logger.Debug("Session collection indexed",
		zap.String("session_id", sessionID),
		zap.String("collection", name),
		zap.Int("records", len(records)))
	return nil
}

// Query 返回距离最近的 topK 个分块文本，按距离升序；空集合返回空切片
func (e *RetrievalEngine) Query(ctx context.Context, sessionID string, vector []float32, topK int) ([]string, error) {
	matches, err := e.index.Query(ctx, CollectionName(sessionID), vector, topK)
	if err != nil {
		return nil, apperrors.RetrievalFailed(err)
	}
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Text)
	}
	return texts, nil
}

// Teardown 删除会话集合，集合不存在时忽略
func (e *RetrievalEngine) Teardown(ctx context.Context, sessionID string) error {
	err := e.index.Drop(ctx, CollectionName(sessionID))
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	return nil
}
