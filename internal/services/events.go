package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/docqa/internal/kafka"
)

// LifecycleEventType 会话生命周期事件类型
type LifecycleEventType string

const (
	EventSessionStarted     LifecycleEventType = "session_started"
	EventIngestionCompleted LifecycleEventType = "ingestion_completed"
	EventIngestionFailed    LifecycleEventType = "ingestion_failed"
	EventSessionCleared     LifecycleEventType = "session_cleared"
)

// LifecycleEvent 生命周期事件
type LifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	SessionID string             `json:"session_id"`
	Filename  string             `json:"filename,omitempty"`
	Language  string             `json:"language,omitempty"`
	NumChunks int                `json:"num_chunks,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// EventSink 接收生命周期事件，尽力投递，失败不影响主流程
type EventSink interface {
	Publish(ctx context.Context, event LifecycleEvent)
}

// LogEventSink 将事件写入日志
type LogEventSink struct {
	logger *zap.Logger
}

// NewLogEventSink 创建日志事件接收器
func NewLogEventSink(logger *zap.Logger) *LogEventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEventSink{logger: logger}
}

func (s *LogEventSink) Publish(ctx context.Context, event LifecycleEvent) {
	s.logger.Info("Session lifecycle",
		zap.String("type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.String("filename", event.Filename),
		zap.String("language", event.Language),
		zap.Int("num_chunks", event.NumChunks),
		zap.String("error", event.Error))
}

// KafkaEventSink 将事件以JSON发送到Kafka，key 为会话ID
type KafkaEventSink struct {
	producer *kafka.Producer
	logger   *zap.Logger
}

// NewKafkaEventSink 创建Kafka事件接收器
func NewKafkaEventSink(producer *kafka.Producer, logger *zap.Logger) *KafkaEventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaEventSink{producer: producer, logger: logger}
}

func (s *KafkaEventSink) Publish(ctx context.Context, event LifecycleEvent) {
	headers := map[string]string{"type": string(event.Type)}
	if err := s.producer.Send(event.SessionID, event, headers); err != nil {
		s.logger.Warn("Lifecycle event not delivered",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

// MultiEventSink 依次分发给多个接收器
type MultiEventSink []EventSink

func (m MultiEventSink) Publish(ctx context.Context, event LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, sink := range m {
		if sink != nil {
			sink.Publish(ctx, event)
		}
	}
}
