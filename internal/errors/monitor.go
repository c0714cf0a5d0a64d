package errors

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorMonitor 错误监控器
type ErrorMonitor struct {
	errorCounter *prometheus.CounterVec

	// 内存统计
	stats      map[string]*ErrorStats
	statsMutex sync.RWMutex
}

// ErrorStats 错误统计信息
type ErrorStats struct {
	Code      string    `json:"code"`
	Type      string    `json:"type"`
	Endpoint  string    `json:"endpoint"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewErrorMonitor 创建错误监控器，reg 为空时注册到默认 Registerer
func NewErrorMonitor(reg prometheus.Registerer) *ErrorMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &ErrorMonitor{
		errorCounter: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_errors_total",
				Help: "Total number of errors by code, type and endpoint",
			},
			[]string{"code", "type", "endpoint"},
		),
		stats: make(map[string]*ErrorStats),
	}
}

// RecordError 记录错误
func (em *ErrorMonitor) RecordError(appErr *AppError, endpoint string) {
	if em == nil || appErr == nil {
		return
	}

	typ := getErrorTypeString(appErr.Type)
	em.errorCounter.WithLabelValues(string(appErr.Code), typ, endpoint).Inc()

	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	key := string(appErr.Code) + ":" + endpoint
	stats, exists := em.stats[key]
	if !exists {
		stats = &ErrorStats{
			Code:      string(appErr.Code),
			Type:      typ,
			Endpoint:  endpoint,
			FirstSeen: time.Now(),
		}
		em.stats[key] = stats
	}
	stats.Count++
	stats.LastSeen = time.Now()
}

// GetTopErrors 获取最常见的错误
func (em *ErrorMonitor) GetTopErrors(limit int) []ErrorStats {
	em.statsMutex.RLock()
	defer em.statsMutex.RUnlock()

	list := make([]ErrorStats, 0, len(em.stats))
	for _, stats := range em.stats {
		list = append(list, *stats)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Count > list[j].Count })

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

func getErrorTypeString(t ErrorType) string {
	switch t {
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "system"
	}
}
