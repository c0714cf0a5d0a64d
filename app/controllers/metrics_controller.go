package controllers

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/docqa/internal/services"
)

// MetricsController 指标控制器
type MetricsController struct {
	web.Controller
	Collectors *services.Metrics
}

// Metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	c.EnableRender = false
	c.Collectors.Handler().ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}
