package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrCollectionExists 同名集合已存在
	ErrCollectionExists = errors.New("collection already exists")
	// ErrCollectionNotFound 集合不存在
	ErrCollectionNotFound = errors.New("collection not found")
)

// VectorRecord 存储在会话集合中的一条向量
type VectorRecord struct {
	ID        string
	Embedding []float32
	Text      string
}

// SearchMatch 检索结果，Distance 为余弦距离（越小越相近）
type SearchMatch struct {
	ID       string
	Text     string
	Distance float64
}

// VectorIndex 向量索引抽象，每个会话一个集合
type VectorIndex interface {
	Create(ctx context.Context, name string, dimensions int) error
	Add(ctx context.Context, name string, records []VectorRecord) error
	Query(ctx context.Context, name string, vector []float32, topK int) ([]SearchMatch, error)
	Drop(ctx context.Context, name string) error
	Ready() bool
}

type memoryCollection struct {
	dimensions int
	records    []VectorRecord
	norms      []float64
}

// MemoryVectorIndex 进程内暴力余弦检索
type MemoryVectorIndex struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryVectorIndex 创建内存向量索引
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryVectorIndex) Create(ctx context.Context, name string, dimensions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	m.collections[name] = &memoryCollection{dimensions: dimensions}
	return nil
}

func (m *MemoryVectorIndex) Add(ctx context.Context, name string, records []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, r := range records {
		if c.dimensions > 0 && len(r.Embedding) != c.dimensions {
			return fmt.Errorf("record %s has %d dimensions, collection expects %d", r.ID, len(r.Embedding), c.dimensions)
		}
	}
	for _, r := range records {
		c.records = append(c.records, r)
		c.norms = append(c.norms, vectorNorm(r.Embedding))
	}
	return nil
}

func (m *MemoryVectorIndex) Query(ctx context.Context, name string, vector []float32, topK int) ([]SearchMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	dimensions := c.dimensions
	if dimensions == 0 && len(c.records) > 0 {
		dimensions = len(c.records[0].Embedding)
	}
	if dimensions > 0 && len(vector) != dimensions {
		return nil, fmt.Errorf("query has %d dimensions, collection %s expects %d", len(vector), name, dimensions)
	}
	if len(c.records) == 0 || topK <= 0 {
		return []SearchMatch{}, nil
	}

	queryNorm := vectorNorm(vector)
	results := make([]SearchMatch, 0, len(c.records))
	for i, r := range c.records {
		results = append(results, SearchMatch{
			ID:       r.ID,
			Text:     r.Text,
			Distance: 1 - cosineSimilarity(vector, r.Embedding, queryNorm, c.norms[i]),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryVectorIndex) Drop(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryVectorIndex) Ready() bool {
	return true
}

// Len 集合中的记录数
func (m *MemoryVectorIndex) Len(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[name]; ok {
		return len(c.records)
	}
	return 0
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA, normB float64) float64 {
	if len(a) == 0 || len(a) != len(b) || normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
