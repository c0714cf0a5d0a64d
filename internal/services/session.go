package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// ErrSessionSuperseded 摄取完成时会话已被新的上传替换
var ErrSessionSuperseded = errors.New("session was superseded by a newer upload")

// Session 已完成摄取、可问答的会话
type Session struct {
	ID            string    `json:"session_id"`
	Collection    string    `json:"-"`
	Filename      string    `json:"filename"`
	Kind          string    `json:"kind"`
	Language      string    `json:"language"`
	LanguageName  string    `json:"language_name"`
	Content       string    `json:"-"`
	ContentLength int       `json:"content_length"`
	NumChunks     int       `json:"num_chunks"`
	Credential    string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskState 摄取任务状态
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// TaskStatus 摄取任务的可查询状态
type TaskStatus struct {
	SessionID  string           `json:"session_id"`
	State      TaskState        `json:"state"`
	Filename   string           `json:"filename"`
	Error      string           `json:"error,omitempty"`
	Result     *IngestionResult `json:"result,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

type ingestionTask struct {
	status TaskStatus
	cancel context.CancelFunc
}

// IndexTeardown 销毁会话的向量集合
type IndexTeardown interface {
	Teardown(ctx context.Context, sessionID string) error
}

// SessionManager 会话表；同一时刻最多一个活跃会话，新上传会驱逐所有旧会话
type SessionManager struct {
	mu       sync.Mutex
	current  string
	sessions map[string]*Session
	tasks    map[string]*ingestionTask

	index   IndexTeardown
	events  EventSink
	metrics *Metrics
	logger  *zap.Logger

	// OnEvict 会话被新上传驱逐后回调，在锁外执行
	OnEvict func(sessionID string)
}

// NewSessionManager 创建会话管理器
func NewSessionManager(index IndexTeardown, events EventSink, metrics *Metrics, logger *zap.Logger) *SessionManager {
	if events == nil {
		events = MultiEventSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		tasks:    make(map[string]*ingestionTask),
		index:    index,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start 驱逐并销毁所有已跟踪的会话，分配新的会话ID并登记待执行的摄取任务
func (m *SessionManager) Start(ctx context.Context, kind, credential, filename string) (string, error) {
	m.mu.Lock()
	evicted := make(map[string]struct{}, len(m.sessions)+len(m.tasks))
	for id := range m.sessions {
		evicted[id] = struct{}{}
	}
	for id := range m.tasks {
		evicted[id] = struct{}{}
	}
	for id := range evicted {
		m.teardownLocked(ctx, id)
		m.logger.Info("Session evicted", zap.String("session_id", id))
	}

	id := uuid.NewString()
	m.current = id
	m.tasks[id] = &ingestionTask{status: TaskStatus{
		SessionID: id,
		State:     TaskPending,
		Filename:  filename,
		StartedAt: time.Now(),
	}}
	m.metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if m.OnEvict != nil {
		for old := range evicted {
			m.OnEvict(old)
		}
	}
	m.events.Publish(ctx, LifecycleEvent{
		Type:      EventSessionStarted,
		SessionID: id,
		Filename:  filename,
		Timestamp: time.Now(),
	})
	return id, nil
}

// teardownLocked 调用方持有 m.mu
func (m *SessionManager) teardownLocked(ctx context.Context, id string) {
	delete(m.sessions, id)
	delete(m.tasks, id)
	if m.current == id {
		m.current = ""
	}
	if m.index == nil {
		return
	}
	if err := m.index.Teardown(ctx, id); err != nil {
		m.logger.Warn("Failed to tear down session index", zap.String("session_id", id), zap.Error(err))
	}
}

// Track 记录摄取任务句柄；驱逐不会取消正在运行的任务
func (m *SessionManager) Track(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		task.cancel = cancel
		task.status.State = TaskRunning
	}
}

// Finish 记录摄取任务结果
func (m *SessionManager) Finish(id string, result *IngestionResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return
	}
	now := time.Now()
	task.status.FinishedAt = &now
	task.status.Result = result
	if err != nil {
		task.status.State = TaskFailed
		task.status.Error = err.Error()
	} else {
		task.status.State = TaskCompleted
	}
	if task.cancel != nil {
		task.cancel()
		task.cancel = nil
	}
}

// Tracked 会话是否仍在会话表中（摄取中或已登记）
func (m *SessionManager) Tracked(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, tracked := m.tasks[id]
	if !tracked {
		_, tracked = m.sessions[id]
	}
	return tracked
}

// Register 摄取成功后登记会话；已被替换的会话被拒绝并销毁其集合
func (m *SessionManager) Register(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, tracked := m.tasks[session.ID]; !tracked || session.ID != m.current {
		if m.index != nil {
			if err := m.index.Teardown(ctx, session.ID); err != nil {
				m.logger.Warn("Failed to tear down superseded index", zap.String("session_id", session.ID), zap.Error(err))
			}
		}
		m.logger.Info("Discarding superseded session", zap.String("session_id", session.ID))
		return ErrSessionSuperseded
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	m.sessions[session.ID] = session
	m.metrics.SetActiveSessions(len(m.sessions))
	return nil
}

// Get 获取已登记的会话
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.SessionNotFound(id)
	}
	return session, nil
}

// Status 查询摄取任务状态
func (m *SessionManager) Status(id string) (TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return TaskStatus{}, apperrors.SessionNotFound(id)
	}
	return task.status, nil
}

// Clear 销毁并移除会话；不存在时返回 SessionNotFound
func (m *SessionManager) Clear(ctx context.Context, id string) error {
	m.mu.Lock()
	_, registered := m.sessions[id]
	_, tracked := m.tasks[id]
	if !registered && !tracked {
		m.mu.Unlock()
		return apperrors.SessionNotFound(id)
	}
	m.teardownLocked(ctx, id)
	m.metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	m.events.Publish(ctx, LifecycleEvent{Type: EventSessionCleared, SessionID: id, Timestamp: time.Now()})
	return nil
}

// Active 已登记的会话ID
func (m *SessionManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown 销毁所有会话
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tasks)+len(m.sessions))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	for id := range m.sessions {
		if _, ok := m.tasks[id]; !ok {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.teardownLocked(ctx, id)
	}
	m.metrics.SetActiveSessions(0)
}

