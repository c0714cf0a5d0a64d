//go:build !fastembed

package config

// localModel 默认构建不含 ONNX 运行时，本地语言模型使用哈希嵌入
func localModel(model string, maxTokens, overlap, dimensions int) map[string]interface{} {
	return map[string]interface{}{
		"provider": "hash", "model": model,
		"max_tokens": maxTokens, "overlap": overlap, "dimensions": dimensions,
	}
}
