package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProgressStep 摄取进度阶段
type ProgressStep string

const (
	StepConverting        ProgressStep = "converting"
	StepDetectingLanguage ProgressStep = "detecting_language"
	StepLoadingModel      ProgressStep = "loading_model"
	StepChunking          ProgressStep = "chunking"
	StepEmbedding         ProgressStep = "embedding"
	StepStoring           ProgressStep = "storing"
	StepComplete          ProgressStep = "complete"
	StepError             ProgressStep = "error"
	StepKeepalive         ProgressStep = "keepalive"
)

// ProgressEvent 进度事件
type ProgressEvent struct {
	Message string       `json:"message"`
	Step    ProgressStep `json:"step"`
	Time    time.Time    `json:"time"`
}

// Terminal 是否为终止事件
func (e ProgressEvent) Terminal() bool {
	return e.Step == StepComplete || e.Step == StepError
}

// OverflowPolicy 有界队列溢出策略
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop_oldest"
	DropNewest OverflowPolicy = "drop_newest"
)

// ProgressOptions 进度队列配置，Capacity 为 0 表示不限长度
type ProgressOptions struct {
	Keepalive time.Duration
	Capacity  int
	Policy    OverflowPolicy
}

// StatusMirror 保存每个会话的最新进度，供其他实例或重连后查询
type StatusMirror interface {
	Store(ctx context.Context, sessionID string, event ProgressEvent) error
}

const progressKeyPrefix = "docqa:progress:"

// RedisStatusMirror 基于Redis的进度镜像
type RedisStatusMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusMirror 创建进度镜像
func NewRedisStatusMirror(client *redis.Client, ttl time.Duration) *RedisStatusMirror {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStatusMirror{client: client, ttl: ttl}
}

func progressKey(sessionID string) string {
	return progressKeyPrefix + sessionID
}

func (m *RedisStatusMirror) Store(ctx context.Context, sessionID string, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化进度失败: %w", err)
	}
	return m.client.Set(ctx, progressKey(sessionID), data, m.ttl).Err()
}

// Last 读取会话的最新进度
func (m *RedisStatusMirror) Last(ctx context.Context, sessionID string) (ProgressEvent, bool, error) {
	var event ProgressEvent
	raw, err := m.client.Get(ctx, progressKey(sessionID)).Bytes()
	if err == redis.Nil {
		return event, false, nil
	}
	if err != nil {
		return event, false, err
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, false, err
	}
	return event, true, nil
}

type progressQueue struct {
	events []ProgressEvent
	notify chan struct{}
	closed bool
}

type mirrorWrite struct {
	sessionID string
	event     ProgressEvent
}

const mirrorBacklog = 256

// ProgressBroadcaster 按会话缓存进度事件，发布不阻塞，订阅在终止事件后结束
type ProgressBroadcaster struct {
	mu     sync.Mutex
	queues map[string]*progressQueue
	opts   ProgressOptions

	mirror     StatusMirror
	mirrorCh   chan mirrorWrite
	mirrorDone chan struct{}
	closeOnce  sync.Once

	metrics *Metrics
	logger  *zap.Logger
}

// NewProgressBroadcaster 创建进度广播器
func NewProgressBroadcaster(opts ProgressOptions, mirror StatusMirror, metrics *Metrics, logger *zap.Logger) *ProgressBroadcaster {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 120 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = DropOldest
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &ProgressBroadcaster{
		queues:  make(map[string]*progressQueue),
		opts:    opts,
		mirror:  mirror,
		metrics: metrics,
		logger:  logger,
	}
	if mirror != nil {
		b.mirrorCh = make(chan mirrorWrite, mirrorBacklog)
		b.mirrorDone = make(chan struct{})
		go b.runMirror()
	}
	return b
}

// runMirror 按发布顺序写入镜像，Publish 不等待外部存储
func (b *ProgressBroadcaster) runMirror() {
	defer close(b.mirrorDone)
	for w := range b.mirrorCh {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.mirror.Store(ctx, w.sessionID, w.event); err != nil {
			b.logger.Warn("Progress mirror failed", zap.String("session_id", w.sessionID), zap.Error(err))
		}
		cancel()
	}
}

// Close 停止镜像写入，等待已排队的写入完成
func (b *ProgressBroadcaster) Close() error {
	if b.mirror == nil {
		return nil
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.mirrorCh)
		b.mirrorCh = nil
		b.mu.Unlock()
		<-b.mirrorDone
	})
	return nil
}

func (b *ProgressBroadcaster) queue(sessionID string) *progressQueue {
	q, ok := b.queues[sessionID]
	if !ok {
		q = &progressQueue{notify: make(chan struct{}, 1)}
		b.queues[sessionID] = q
	}
	return q
}

// Publish 追加事件；有容量限制时按策略丢弃，终止事件总会入队
func (b *ProgressBroadcaster) Publish(sessionID string, event ProgressEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.Lock()
	q := b.queue(sessionID)
	dropped := b.opts.Capacity > 0 && len(q.events) >= b.opts.Capacity
	switch {
	case !dropped:
		q.events = append(q.events, event)
	case b.opts.Policy == DropNewest && !event.Terminal():
	default:
		q.events = append(q.events[1:], event)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	mirrorDropped := false
	if b.mirrorCh != nil {
		select {
		case b.mirrorCh <- mirrorWrite{sessionID: sessionID, event: event}:
		default:
			mirrorDropped = true
		}
	}
	b.mu.Unlock()

	if mirrorDropped {
		b.logger.Warn("Progress mirror backlog full, skipping write", zap.String("session_id", sessionID))
	}
	if dropped {
		b.metrics.ProgressDropped()
	}
	b.logger.Debug("Progress", zap.String("session_id", sessionID),
		zap.String("step", string(event.Step)), zap.String("message", event.Message))
}

// Pending 队列中尚未被消费的事件数
func (b *ProgressBroadcaster) Pending(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[sessionID]; ok {
		return len(q.events)
	}
	return 0
}

// Discard 丢弃会话的进度队列，正在等待的订阅随之结束
func (b *ProgressBroadcaster) Discard(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discardLocked(sessionID)
}

func (b *ProgressBroadcaster) discardLocked(sessionID string) {
	q, ok := b.queues[sessionID]
	if !ok {
		return
	}
	q.closed = true
	q.events = nil
	select {
	case q.notify <- struct{}{}:
	default:
	}
	delete(b.queues, sessionID)
}

func (b *ProgressBroadcaster) subscribe(sessionID string) *progressQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(sessionID)
}

func (b *ProgressBroadcaster) drain(q *progressQueue) ([]ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := q.events
	q.events = nil
	return events, q.closed
}

// release 订阅结束时丢弃自己的队列，不影响之后新建的同名队列
func (b *ProgressBroadcaster) release(sessionID string, q *progressQueue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queues[sessionID] == q {
		b.discardLocked(sessionID)
	}
}

// Subscribe 按发布顺序读取事件；终止事件送达或 ctx 取消后关闭通道并丢弃队列，
// 长时间无事件时补发 keepalive
func (b *ProgressBroadcaster) Subscribe(ctx context.Context, sessionID string) <-chan ProgressEvent {
	out := make(chan ProgressEvent)
	q := b.subscribe(sessionID)
	go func() {
		defer close(out)
		defer b.release(sessionID, q)

		timer := time.NewTimer(b.opts.Keepalive)
		defer timer.Stop()

		for {
			events, closed := b.drain(q)
			if closed {
				return
			}
			for _, event := range events {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
				if event.Terminal() {
					return
				}
			}
			if len(events) > 0 {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(b.opts.Keepalive)
			}

			select {
			case <-q.notify:
			case <-timer.C:
				select {
				case out <- ProgressEvent{Message: "keepalive", Step: StepKeepalive, Time: time.Now()}:
				case <-ctx.Done():
					return
				}
				timer.Reset(b.opts.Keepalive)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
