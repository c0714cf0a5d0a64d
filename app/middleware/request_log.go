package middleware

import (
	"time"

	"github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/logger"
)

const requestStartKey = "requestStart"

// RequestStart 记录请求开始时间
func RequestStart(ctx *context.Context) {
	ctx.Input.SetData(requestStartKey, time.Now())
}

// RequestLog 请求结束后记录访问日志
func RequestLog(ctx *context.Context) {
	fields := []zap.Field{
		zap.String("method", ctx.Input.Method()),
		zap.String("path", ctx.Input.URL()),
		zap.Int("status", ctx.Output.Status),
		zap.String("ip", ctx.Input.IP()),
	}
	if start, ok := ctx.Input.GetData(requestStartKey).(time.Time); ok {
		fields = append(fields, zap.Duration("elapsed", time.Since(start)))
	}
	if ctx.Output.Status >= 500 {
		logger.Warn("Request completed", fields...)
		return
	}
	logger.Debug("Request completed", fields...)
}
