package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标
type Metrics struct {
	gatherer prometheus.Gatherer

	stageDuration  *prometheus.HistogramVec
	ingestions     *prometheus.CounterVec
	modelLoads     *prometheus.HistogramVec
	questions      *prometheus.CounterVec
	answerDuration prometheus.Histogram
	progressDrops  prometheus.Counter
	activeSessions prometheus.Gauge
}

// NewMetrics 创建指标，reg 为空时使用默认 Registry
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		gatherer: gatherer,
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqa_ingestion_stage_duration_seconds",
			Help:    "Duration of each ingestion stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		ingestions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_ingestions_total",
			Help: "Finished ingestions by status",
		}, []string{"status"}),
		modelLoads: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqa_model_load_duration_seconds",
			Help:    "Language model bundle load duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"language", "status"}),
		questions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_questions_total",
			Help: "Answered questions by status",
		}, []string{"status", "translated"}),
		answerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_answer_duration_seconds",
			Help:    "End to end question answering duration",
			Buckets: prometheus.DefBuckets,
		}),
		progressDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "docqa_progress_events_dropped_total",
			Help: "Progress events dropped by a bounded queue",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docqa_active_sessions",
			Help: "Registered sessions",
		}),
	}
}

// Handler 返回Prometheus指标的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveStage 记录摄取阶段耗时
func (m *Metrics) ObserveStage(stage ProgressStep, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// IngestionFinished 记录摄取结果
func (m *Metrics) IngestionFinished(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ingestions.WithLabelValues(status).Inc()
}

// ModelLoaded 记录模型加载耗时，挂到 ModelRegistry.OnLoad
func (m *Metrics) ModelLoaded(language string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.modelLoads.WithLabelValues(language, status).Observe(elapsed.Seconds())
}

// QuestionAnswered 记录问答结果
func (m *Metrics) QuestionAnswered(elapsed time.Duration, translated bool, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	tr := "false"
	if translated {
		tr = "true"
	}
	m.questions.WithLabelValues(status, tr).Inc()
	m.answerDuration.Observe(elapsed.Seconds())
}

// ProgressDropped 有界队列丢弃事件
func (m *Metrics) ProgressDropped() {
	if m == nil {
		return
	}
	m.progressDrops.Inc()
}

// SetActiveSessions 当前已注册会话数
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
