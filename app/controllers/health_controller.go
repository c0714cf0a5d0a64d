package controllers

import (
	"net/http"

	"github.com/aihub/docqa/internal/services"
)

// HealthController 健康检查
type HealthController struct {
	BaseController
	Service *services.QAService
	Monitor *services.HealthMonitor
}

// Health 返回服务状态、依赖健康状况与模型加载状态
func (c *HealthController) Health() {
	status, code := "healthy", http.StatusOK
	var components map[string]services.HealthStatus
	if c.Monitor != nil {
		var healthy bool
		components, healthy = c.Monitor.Check(c.Ctx.Request.Context())
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	models := make(map[string]bool)
	for _, lang := range c.Service.Languages() {
		models[lang.Code] = lang.Loaded
	}
	c.JSON(code, map[string]interface{}{
		"message":    "DocQA API is running!",
		"status":     status,
		"components": components,
		"models":     models,
	})
}
