//go:build fastembed

package config

// localModel 启用 fastembed 构建标签时使用本地 ONNX 模型
func localModel(model string, maxTokens, overlap, dimensions int) map[string]interface{} {
	return map[string]interface{}{
		"provider": "fastembed", "model": model,
		"max_tokens": maxTokens, "overlap": overlap, "dimensions": dimensions,
	}
}
