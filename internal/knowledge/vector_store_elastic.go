package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchOptions ES连接配置
type ElasticsearchOptions struct {
	Addresses   []string
	Username    string
	Password    string
	APIKey      string
	IndexPrefix string
}

// elasticVectorIndex 基于 dense_vector + kNN 的向量索引
type elasticVectorIndex struct {
	client      *elasticsearch.Client
	transport   *http.Transport
	indexPrefix string
}

// NewElasticsearchVectorIndex 创建ES向量索引
func NewElasticsearchVectorIndex(opts ElasticsearchOptions) (VectorIndex, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses are required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
		Transport: transport,
	})
	if err != nil {
		return nil, err
	}

	if opts.IndexPrefix == "" {
		opts.IndexPrefix = "docqa"
	}

	return &elasticVectorIndex{client: client, transport: transport, indexPrefix: opts.IndexPrefix}, nil
}

// Close 释放空闲连接
func (e *elasticVectorIndex) Close() error {
	e.transport.CloseIdleConnections()
	return nil
}

// indexName ES索引名必须小写
func (e *elasticVectorIndex) indexName(name string) string {
	return strings.ToLower(e.indexPrefix + "_" + name)
}

func (e *elasticVectorIndex) Create(ctx context.Context, name string, dimensions int) error {
	index := e.indexName(name)

	existsReq := esapi.IndicesExistsRequest{Index: []string{index}}
	resp, err := existsReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return fmt.Errorf("%w: %s", ErrCollectionExists, index)
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"record_id": map[string]interface{}{"type": "keyword"},
				"content":   map[string]interface{}{"type": "text", "index": false},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       dimensions,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}
	return nil
}

func (e *elasticVectorIndex) Add(ctx context.Context, name string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	index := e.indexName(name)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_index": index, "_id": r.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		doc := map[string]interface{}{
			"record_id": r.ID,
			"content":   r.Text,
			"vector":    r.Embedding,
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   index,
		Body:    &buf,
		Refresh: "true",
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("bulk index error: %s", resp.String())
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Errors {
		for _, item := range result.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk index error: %s", op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk index reported errors")
	}
	return nil
}

func (e *elasticVectorIndex) Query(ctx context.Context, name string, vector []float32, topK int) ([]SearchMatch, error) {
	if len(vector) == 0 || topK <= 0 {
		return []SearchMatch{}, nil
	}

	numCandidates := topK * 10
	if numCandidates < 50 {
		numCandidates = 50
	}
	body := map[string]interface{}{
		"size": topK,
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
		},
		"_source": []string{"record_id", "content"},
	}

	payload, _ := json.Marshal(body)
	searchReq := esapi.SearchRequest{
		Index: []string{e.indexName(name)},
		Body:  bytes.NewReader(payload),
	}
	resp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					RecordID string `json:"record_id"`
					Content  string `json:"content"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	matches := make([]SearchMatch, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		id := hit.Source.RecordID
		if id == "" {
			id = hit.ID
		}
		// cosine 评分为 (1 + cos) / 2
		matches = append(matches, SearchMatch{
			ID:       id,
			Text:     hit.Source.Content,
			Distance: 2 - 2*hit.Score,
		})
	}
	return matches, nil
}

func (e *elasticVectorIndex) Drop(ctx context.Context, name string) error {
	req := esapi.IndicesDeleteRequest{Index: []string{e.indexName(name)}}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("delete index error: %s", resp.String())
	}
	return nil
}

func (e *elasticVectorIndex) Ready() bool {
	if e.client == nil {
		return false
	}
	resp, err := e.client.Ping()
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return !resp.IsError()
}
