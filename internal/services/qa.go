package services

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

// NoRelevantInformation 检索为空时的固定答复
const NoRelevantInformation = "No relevant information found in the document."

// UploadRequest 上传请求，Path 为已保存的临时文件
type UploadRequest struct {
	Path       string `validate:"required"`
	Filename   string `validate:"required"`
	Kind       string `validate:"required"`
	Credential string `validate:"required"`
}

// AskRequest 提问请求
type AskRequest struct {
	SessionID string `validate:"required"`
	Question  string `validate:"required,max=4000"`
}

// UploadResponse 上传立即返回的结果，摄取在后台进行
type UploadResponse struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// AnswerResult 问答结果
type AnswerResult struct {
	Answer           string   `json:"answer"`
	Sources          []string `json:"sources"`
	UserLanguage     string   `json:"user_language"`
	DocumentLanguage string   `json:"document_language"`
	TranslatedQuery  string   `json:"translated_query,omitempty"`
}

// LanguageInfo 支持的语言及模型状态
type LanguageInfo struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Loaded  bool   `json:"loaded"`
	Default bool   `json:"default"`
}

// QAService 上传、问答、清理会话的入口
type QAService struct {
	validate     *validator.Validate
	allowed      map[string]bool
	allowedList  []string
	guard        *knowledge.PageGuard
	pipeline     *IngestionPipeline
	sessions     *SessionManager
	languages    *knowledge.LanguageService
	registry     *knowledge.ModelRegistry
	retrieval    *knowledge.RetrievalEngine
	answers      *knowledge.AnswerGenerator
	progress     *ProgressBroadcaster
	metrics      *Metrics
	logger       *zap.Logger
	topK         int
	ingestionCtx context.Context
}

// QADeps 问答服务依赖
type QADeps struct {
	AllowedTypes []string
	TopK         int
	Guard        *knowledge.PageGuard
	Pipeline     *IngestionPipeline
	Sessions     *SessionManager
	Languages    *knowledge.LanguageService
	Registry     *knowledge.ModelRegistry
	Retrieval    *knowledge.RetrievalEngine
	Answers      *knowledge.AnswerGenerator
	Progress     *ProgressBroadcaster
	Metrics      *Metrics
	Logger       *zap.Logger
	// IngestionContext 后台摄取任务的父context，进程退出时取消
	IngestionContext context.Context
}

// NewQAService 创建问答服务
func NewQAService(deps QADeps) *QAService {
	if deps.TopK <= 0 {
		deps.TopK = 3
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.IngestionContext == nil {
		deps.IngestionContext = context.Background()
	}
	allowed := make(map[string]bool, len(deps.AllowedTypes))
	for _, kind := range deps.AllowedTypes {
		allowed[strings.ToLower(kind)] = true
	}
	return &QAService{
		validate:     validator.New(),
		allowed:      allowed,
		allowedList:  deps.AllowedTypes,
		guard:        deps.Guard,
		pipeline:     deps.Pipeline,
		sessions:     deps.Sessions,
		languages:    deps.Languages,
		registry:     deps.Registry,
		retrieval:    deps.Retrieval,
		answers:      deps.Answers,
		progress:     deps.Progress,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		topK:         deps.TopK,
		ingestionCtx: deps.IngestionContext,
	}
}

// AllowedTypes 允许上传的文件类型
func (s *QAService) AllowedTypes() []string {
	return s.allowedList
}

// Upload 同步检查文件类型与页数，通过后开启新会话并在后台摄取
func (s *QAService) Upload(ctx context.Context, req UploadRequest) (resp *UploadResponse, err error) {
	defer func() {
		if err != nil && req.Path != "" {
			_ = os.Remove(req.Path)
		}
	}()

	req.Kind = strings.ToLower(strings.TrimPrefix(req.Kind, "."))
	if err = s.validate.Struct(req); err != nil {
		return nil, err
	}
	if !s.allowed[req.Kind] {
		return nil, apperrors.UnsupportedInput(req.Kind, s.allowedList)
	}
	if _, err = s.guard.CheckFile(ctx, req.Path, req.Kind); err != nil {
		return nil, err
	}

	sessionID, err := s.sessions.Start(ctx, req.Kind, req.Credential, req.Filename)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(s.ingestionCtx)
	s.sessions.Track(sessionID, cancel)
	job := IngestionJob{
		SessionID:  sessionID,
		Path:       req.Path,
		Kind:       req.Kind,
		Filename:   req.Filename,
		Credential: req.Credential,
		RemoveFile: true,
	}
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Ingestion panicked", zap.String("session_id", sessionID), zap.Any("panic", r))
				s.sessions.Finish(sessionID, nil, apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "ingestion panicked"))
				s.progress.Publish(sessionID, ProgressEvent{Message: "Internal error during ingestion", Step: StepError})
			}
		}()
		_, _ = s.pipeline.Run(runCtx, job)
	}()

	return &UploadResponse{
		SessionID: sessionID,
		Filename:  req.Filename,
		Status:    "processing",
		Message:   "Document upload accepted; subscribe to progress for completion.",
	}, nil
}

// Ask 识别提问语言，必要时翻译成文档语言后检索，并用提问语言作答
func (s *QAService) Ask(ctx context.Context, req AskRequest) (result *AnswerResult, err error) {
	start := time.Now()
	translated := false
	defer func() {
		s.metrics.QuestionAnswered(time.Since(start), translated, err)
	}()

	req.Question = strings.TrimSpace(req.Question)
	if err = s.validate.Struct(req); err != nil {
		return nil, err
	}
	session, err := s.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("session_id", session.ID))
	userLang := s.languages.Detect(ctx, req.Question)
	if userLang.Fallback {
		log.Debug("Question language fell back to default", zap.String("detected", userLang.Detected), zap.Error(userLang.Err))
	}

	query := req.Question
	result = &AnswerResult{
		Sources:          []string{},
		UserLanguage:     userLang.Language,
		DocumentLanguage: session.Language,
	}
	if userLang.Language != session.Language {
		tr := s.languages.Translate(ctx, req.Question, userLang.Language, session.Language)
		if tr.Fallback {
			log.Warn("Query translation failed, searching with original text", zap.Error(tr.Err))
		} else {
			query = tr.Text
			translated = true
			result.TranslatedQuery = tr.Text
		}
	}

	bundle, err := s.registry.Get(session.Language)
	if err != nil {
		return nil, err
	}
	vector, err := bundle.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperrors.RetrievalFailed(err)
	}
	chunks, err := s.retrieval.Query(ctx, session.ID, vector, s.topK)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		result.Answer = NoRelevantInformation
		return result, nil
	}

	// 提问语言未识别或不受支持时，让模型按提问语言作答
	answerLang := userLang.Language
	if userLang.Fallback {
		answerLang = ""
	}
	answer, err := s.answers.Answer(ctx, req.Question, chunks, session.Credential, answerLang)
	if err != nil {
		return nil, err
	}
	result.Answer = answer
	result.Sources = chunks
	return result, nil
}

// Clear 清理会话
func (s *QAService) Clear(ctx context.Context, sessionID string) error {
	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		return err
	}
	s.progress.Discard(sessionID)
	return nil
}

// Status 摄取任务状态
func (s *QAService) Status(sessionID string) (TaskStatus, error) {
	return s.sessions.Status(sessionID)
}

// Progress 订阅摄取进度
func (s *QAService) Progress(ctx context.Context, sessionID string) <-chan ProgressEvent {
	return s.progress.Subscribe(ctx, sessionID)
}

// Languages 支持的语言及其模型是否已加载
func (s *QAService) Languages() []LanguageInfo {
	status := s.registry.Status()
	out := make([]LanguageInfo, 0, len(status))
	for _, code := range s.registry.Languages() {
		out = append(out, LanguageInfo{
			Code:    code,
			Name:    knowledge.DisplayName(code),
			Loaded:  status[code],
			Default: code == s.registry.Default(),
		})
	}
	return out
}

// Ready 索引后端是否可用
func (s *QAService) Ready() bool {
	return s.retrieval.Ready()
}
