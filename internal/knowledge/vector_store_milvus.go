package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address  string
	Username string
	Password string
	Database string
	UseTLS   bool
}

type milvusVectorIndex struct {
	milvusClient client.Client
}

// NewMilvusVectorIndex 创建Milvus向量索引
func NewMilvusVectorIndex(ctx context.Context, opts MilvusOptions) (VectorIndex, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorIndex{milvusClient: milvusClient}, nil
}

// Close 关闭Milvus连接
func (s *milvusVectorIndex) Close() error {
	return s.milvusClient.Close()
}

// milvusName Milvus集合名只允许字母、数字和下划线
func milvusName(name string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(name)
}

func (s *milvusVectorIndex) Create(ctx context.Context, name string, dimensions int) error {
	name = milvusName(name)
	exists, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    "document session chunks",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     "record_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dimensions),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := s.milvusClient.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (s *milvusVectorIndex) Add(ctx context.Context, name string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	name = milvusName(name)
	dim := len(records[0].Embedding)

	ids := make([]int64, len(records))
	recordIDs := make([]string, len(records))
	contents := make([]string, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %s has %d dimensions, expected %d", r.ID, len(r.Embedding), dim)
		}
		ids[i] = int64(i)
		recordIDs[i] = r.ID
		contents[i] = r.Text
		vectors[i] = r.Embedding
	}

	_, err := s.milvusClient.Insert(ctx, name, "",
		entity.NewColumnInt64("id", ids),
		entity.NewColumnVarChar("record_id", recordIDs),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, name, false); err != nil {
		return fmt.Errorf("milvus flush failed: %w", err)
	}
	return nil
}

func (s *milvusVectorIndex) Query(ctx context.Context, name string, vector []float32, topK int) ([]SearchMatch, error) {
	if len(vector) == 0 || topK <= 0 {
		return []SearchMatch{}, nil
	}
	name = milvusName(name)

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		name,
		[]string{},
		"",
		[]string{"record_id", "content"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var recordIDs, contents []string
	for _, field := range result.Fields {
		col, ok := field.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		switch field.Name() {
		case "record_id":
			recordIDs = col.Data()
		case "content":
			contents = col.Data()
		}
	}

	results := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := SearchMatch{Distance: 1}
		if i < len(recordIDs) {
			match.ID = recordIDs[i]
		}
		if i < len(contents) {
			match.Text = contents[i]
		}
		if i < len(result.Scores) {
			match.Distance = 1 - float64(result.Scores[i])
		}
		results = append(results, match)
	}
	return results, nil
}

func (s *milvusVectorIndex) Drop(ctx context.Context, name string) error {
	name = milvusName(name)
	exists, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil
	}
	return s.milvusClient.DropCollection(ctx, name)
}

func (s *milvusVectorIndex) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
