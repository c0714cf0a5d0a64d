package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

// IngestionJob 一次摄取任务
type IngestionJob struct {
	SessionID  string
	Path       string
	Kind       string
	Filename   string
	Credential string
	// RemoveFile 结束后删除上传的临时文件
	RemoveFile bool
}

// IngestionResult 摄取结果
type IngestionResult struct {
	SessionID     string `json:"session_id"`
	Filename      string `json:"filename"`
	NumChunks     int    `json:"num_chunks"`
	ContentLength int    `json:"content_length"`
	Language      string `json:"document_language"`
	LanguageName  string `json:"document_language_name"`
	Status        string `json:"status"`
}

// DocumentConverter 文件到结构化文档的转换
type DocumentConverter interface {
	Convert(ctx context.Context, path, kind string) (*knowledge.Document, error)
}

// IngestionPipeline 转换、识别语言、分块、向量化并写入会话索引
type IngestionPipeline struct {
	converter    DocumentConverter
	guard        *knowledge.PageGuard
	languages    *knowledge.LanguageService
	registry     *knowledge.ModelRegistry
	retrieval    *knowledge.RetrievalEngine
	sessions     *SessionManager
	progress     *ProgressBroadcaster
	events       EventSink
	metrics      *Metrics
	logger       *zap.Logger
	detectSample int
}

// IngestionDeps 摄取流水线依赖
type IngestionDeps struct {
	Converter    DocumentConverter
	Guard        *knowledge.PageGuard
	Languages    *knowledge.LanguageService
	Registry     *knowledge.ModelRegistry
	Retrieval    *knowledge.RetrievalEngine
	Sessions     *SessionManager
	Progress     *ProgressBroadcaster
	Events       EventSink
	Metrics      *Metrics
	Logger       *zap.Logger
	DetectSample int
}

// NewIngestionPipeline 创建摄取流水线
func NewIngestionPipeline(deps IngestionDeps) *IngestionPipeline {
	if deps.Events == nil {
		deps.Events = MultiEventSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.DetectSample <= 0 {
		deps.DetectSample = 1000
	}
	return &IngestionPipeline{
		converter:    deps.Converter,
		guard:        deps.Guard,
		languages:    deps.Languages,
		registry:     deps.Registry,
		retrieval:    deps.Retrieval,
		sessions:     deps.Sessions,
		progress:     deps.Progress,
		events:       deps.Events,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		detectSample: deps.DetectSample,
	}
}

// publish 已被驱逐的会话不再产生进度事件
func (p *IngestionPipeline) publish(sessionID string, step ProgressStep, message string) {
	if !p.sessions.Tracked(sessionID) {
		return
	}
	p.progress.Publish(sessionID, ProgressEvent{Message: message, Step: step, Time: time.Now()})
}

// Run 按顺序执行摄取；任一阶段失败都会发布 error 事件且不登记会话，不重试
func (p *IngestionPipeline) Run(ctx context.Context, job IngestionJob) (*IngestionResult, error) {
	if job.RemoveFile {
		defer func() {
			if err := os.Remove(job.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.logger.Warn("Failed to remove upload", zap.String("path", job.Path), zap.Error(err))
			}
		}()
	}

	log := p.logger.With(zap.String("session_id", job.SessionID), zap.String("filename", job.Filename))
	result, err := p.run(ctx, job, log)
	p.metrics.IngestionFinished(err)
	p.sessions.Finish(job.SessionID, result, err)

	if err != nil {
		log.Error("Ingestion failed", zap.Error(err))
		p.publish(job.SessionID, StepError, err.Error())
		p.events.Publish(ctx, LifecycleEvent{
			Type:      EventIngestionFailed,
			SessionID: job.SessionID,
			Filename:  job.Filename,
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
		return nil, err
	}

	log.Info("Ingestion complete", zap.String("language", result.Language), zap.Int("num_chunks", result.NumChunks))
	p.publish(job.SessionID, StepComplete,
		fmt.Sprintf("Document ready! %d chunks indexed (%s).", result.NumChunks, result.LanguageName))
	p.events.Publish(ctx, LifecycleEvent{
		Type:      EventIngestionCompleted,
		SessionID: job.SessionID,
		Filename:  job.Filename,
		Language:  result.Language,
		NumChunks: result.NumChunks,
		Timestamp: time.Now(),
	})
	return result, nil
}

func (p *IngestionPipeline) run(ctx context.Context, job IngestionJob, log *zap.Logger) (*IngestionResult, error) {
	// converting
	stageStart := time.Now()
	p.publish(job.SessionID, StepConverting, "Converting document...")
	if _, err := p.guard.CheckFile(ctx, job.Path, job.Kind); err != nil {
		return nil, err
	}
	doc, err := p.converter.Convert(ctx, job.Path, job.Kind)
	if err != nil {
		return nil, err
	}
	if err := p.guard.CheckDocument(doc, job.Kind); err != nil {
		return nil, err
	}
	if doc.IsEmpty() {
		return nil, apperrors.ConversionFailed(errors.New("no text content extracted"))
	}
	markdown := doc.Markdown()
	p.metrics.ObserveStage(StepConverting, time.Since(stageStart))

	// detecting_language
	stageStart = time.Now()
	p.publish(job.SessionID, StepDetectingLanguage, "Detecting document language...")
	language := knowledge.Normalize(doc.Language)
	if !p.languages.Supported(language) {
		detection := p.languages.DetectSample(ctx, markdown, p.detectSample)
		if detection.Fallback {
			log.Warn("Language detection fell back to default",
				zap.String("detected", detection.Detected), zap.Error(detection.Err))
		}
		language = detection.Language
	}
	language = p.registry.Resolve(language)
	languageName := knowledge.DisplayName(language)
	p.metrics.ObserveStage(StepDetectingLanguage, time.Since(stageStart))

	// loading_model
	if !p.registry.IsLoaded(language) {
		stageStart = time.Now()
		p.publish(job.SessionID, StepLoadingModel, fmt.Sprintf("Loading %s language model...", languageName))
		if err := p.registry.EnsureLoaded(ctx, language); err != nil {
			return nil, err
		}
		p.metrics.ObserveStage(StepLoadingModel, time.Since(stageStart))
	}
	bundle, err := p.registry.Get(language)
	if err != nil {
		return nil, err
	}

	// chunking
	stageStart = time.Now()
	p.publish(job.SessionID, StepChunking, "Splitting document into chunks...")
	chunks := bundle.Chunker.Chunk(doc)
	if len(chunks) == 0 {
		return nil, apperrors.ConversionFailed(errors.New("document produced no chunks"))
	}
	p.metrics.ObserveStage(StepChunking, time.Since(stageStart))

	// embedding
	stageStart = time.Now()
	p.publish(job.SessionID, StepEmbedding, fmt.Sprintf("Generating embeddings for %d chunks...", len(chunks)))
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := bundle.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, apperrors.IndexingFailed(knowledge.CollectionName(job.SessionID), err)
	}
	p.metrics.ObserveStage(StepEmbedding, time.Since(stageStart))

	// storing
	stageStart = time.Now()
	p.publish(job.SessionID, StepStoring, "Storing vectors...")
	if err := p.retrieval.Index(ctx, job.SessionID, chunks, vectors); err != nil {
		return nil, err
	}
	p.metrics.ObserveStage(StepStoring, time.Since(stageStart))

	session := &Session{
		ID:            job.SessionID,
		Collection:    knowledge.CollectionName(job.SessionID),
		Filename:      job.Filename,
		Kind:          job.Kind,
		Language:      language,
		LanguageName:  languageName,
		Content:       markdown,
		ContentLength: doc.Len(),
		NumChunks:     len(chunks),
		Credential:    job.Credential,
	}
	if err := p.sessions.Register(ctx, session); err != nil {
		return nil, err
	}

	return &IngestionResult{
		SessionID:     job.SessionID,
		Filename:      job.Filename,
		NumChunks:     len(chunks),
		ContentLength: session.ContentLength,
		Language:      language,
		LanguageName:  languageName,
		Status:        "success",
	}, nil
}
