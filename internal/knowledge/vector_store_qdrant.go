package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type qdrantVectorIndex struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewQdrantVectorIndex 创建Qdrant向量索引，通过REST接口访问
func NewQdrantVectorIndex(opts QdrantOptions) (VectorIndex, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = "http://localhost:6333"
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		opts.Endpoint = "http://" + opts.Endpoint
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &qdrantVectorIndex{
		client: &http.Client{
			Timeout: timeout,
		},
		endpoint: strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
	}, nil
}

// Close 释放空闲连接
func (s *qdrantVectorIndex) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *qdrantVectorIndex) Create(ctx context.Context, name string, dimensions int) error {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", name), nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", name), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create collection %s failed: %s %s", name, resp.Status, string(raw))
	}
	return nil
}

func (s *qdrantVectorIndex) Add(ctx context.Context, name string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]interface{}, 0, len(records))
	for i, r := range records {
		points = append(points, map[string]interface{}{
			"id":     i,
			"vector": r.Embedding,
			"payload": map[string]interface{}{
				"record_id": r.ID,
				"content":   r.Text,
			},
		})
	}

	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", name),
		map[string]interface{}{"points": points})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant upsert failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

func (s *qdrantVectorIndex) Query(ctx context.Context, name string, vector []float32, topK int) ([]SearchMatch, error) {
	if len(vector) == 0 || topK <= 0 {
		return []SearchMatch{}, nil
	}

	body := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vectors": false,
	}
	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", name), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(raw))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{}            `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	results := make([]SearchMatch, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		id, _ := item.Payload["record_id"].(string)
		if id == "" {
			id = fmt.Sprintf("chunk_%v", item.ID)
		}
		content, _ := item.Payload["content"].(string)
		results = append(results, SearchMatch{
			ID:       id,
			Text:     content,
			Distance: 1 - item.Score,
		})
	}
	return results, nil
}

func (s *qdrantVectorIndex) Drop(ctx context.Context, name string) error {
	resp, err := s.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", name), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant delete collection failed: %s %s", resp.Status, string(raw))
	}
	return nil
}

func (s *qdrantVectorIndex) Ready() bool {
	return s.client != nil
}

func (s *qdrantVectorIndex) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
