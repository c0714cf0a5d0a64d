package services

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus 单个依赖的健康状态
type HealthStatus struct {
	Status    string        `json:"status"` // healthy, unhealthy
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthProbe 检查一个外部依赖
type HealthProbe func(ctx context.Context) error

// HealthMonitor 汇总向量库、Redis等依赖的健康状态
type HealthMonitor struct {
	mu      sync.RWMutex
	probes  map[string]HealthProbe
	timeout time.Duration
}

// NewHealthMonitor 创建健康检查器，每个探针默认超时2秒
func NewHealthMonitor(timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthMonitor{probes: make(map[string]HealthProbe), timeout: timeout}
}

// Register 注册探针，同名覆盖
func (h *HealthMonitor) Register(name string, probe HealthProbe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// Components 已注册的依赖名
func (h *HealthMonitor) Components() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check 并发执行所有探针
func (h *HealthMonitor) Check(ctx context.Context) (map[string]HealthStatus, bool) {
	h.mu.RLock()
	probes := make(map[string]HealthProbe, len(h.probes))
	for name, probe := range h.probes {
		probes[name] = probe
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		out     = make(map[string]HealthStatus, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe HealthProbe) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := probe(probeCtx)
			status := HealthStatus{Status: "healthy", Latency: time.Since(start), Timestamp: time.Now()}
			if err != nil {
				status.Status = "unhealthy"
				status.Message = err.Error()
			}

			mu.Lock()
			out[name] = status
			if err != nil {
				healthy = false
			}
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()
	return out, healthy
}
