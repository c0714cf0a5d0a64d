//go:build !fastembed

package knowledge

import "fmt"

// NewFastEmbedder 未启用 fastembed 构建标签时不可用
func NewFastEmbedder(model, cacheDir string, maxLength int) (Embedder, error) {
	return nil, fmt.Errorf("fastembed support not included; rebuild with -tags fastembed")
}
