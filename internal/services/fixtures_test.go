package services

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aihub/docqa/internal/knowledge"
)

type fakeConverter struct {
	doc   *knowledge.Document
	err   error
	calls int32
}

func (f *fakeConverter) Convert(ctx context.Context, path, kind string) (*knowledge.Document, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.doc, f.err
}

type fakePageCounter struct {
	pages int
}

func (f fakePageCounter) CountPages(ctx context.Context, path string) (int, error) {
	return f.pages, nil
}

// countingEmbedder 统计批量向量化调用次数并记录查询文本
type countingEmbedder struct {
	*knowledge.HashEmbedder
	batches int32

	mu      sync.Mutex
	queries []string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queries = append(e.queries, text)
	e.mu.Unlock()
	return e.HashEmbedder.Embed(ctx, text)
}

func (e *countingEmbedder) lastQuery() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queries) == 0 {
		return ""
	}
	return e.queries[len(e.queries)-1]
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.batches, 1)
	return e.HashEmbedder.EmbedBatch(ctx, texts)
}

// markerDetector 含日文假名判为 ja，含法语标记词判为 fr，其余为 en
type markerDetector struct{}

func (markerDetector) Detect(text string) (string, float64, error) {
	if strings.TrimSpace(text) == "" {
		return "", 0, knowledge.ErrNoLanguage
	}
	for _, r := range text {
		if r >= 0x3040 && r <= 0x30ff {
			return "ja", 0.9, nil
		}
	}
	lower := strings.ToLower(text)
	for _, marker := range []string{"livraison", "combien", "jours", " est "} {
		if strings.Contains(lower, marker) {
			return "fr", 0.9, nil
		}
	}
	return "en", 0.9, nil
}

type translateCall struct {
	Text, Source, Target string
}

type recordingTranslator struct {
	mu      sync.Mutex
	calls   []translateCall
	outputs map[string]string
	err     error
}

func (r *recordingTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, translateCall{Text: text, Source: source, Target: target})
	if r.err != nil {
		return "", r.err
	}
	if out, ok := r.outputs[text]; ok {
		return out, nil
	}
	return text, nil
}

type recordingGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (g *recordingGenerator) Generate(ctx context.Context, credential, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *recordingGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type harness struct {
	converter  *fakeConverter
	guard      *knowledge.PageGuard
	embedder   *countingEmbedder
	index      *knowledge.MemoryVectorIndex
	registry   *knowledge.ModelRegistry
	translator *recordingTranslator
	generator  *recordingGenerator
	sink       *recordingSink
	progress   *ProgressBroadcaster
	sessions   *SessionManager
	pipeline   *IngestionPipeline
	qa         *QAService
}

func newHarness(t *testing.T, doc *knowledge.Document) *harness {
	t.Helper()
	h := &harness{
		converter:  &fakeConverter{doc: doc},
		guard:      knowledge.NewPageGuard(20, 3000),
		embedder:   &countingEmbedder{HashEmbedder: knowledge.NewHashEmbedder(256)},
		index:      knowledge.NewMemoryVectorIndex(),
		translator: &recordingTranslator{outputs: map[string]string{}},
		generator:  &recordingGenerator{answer: "  Shipping takes five business days.  "},
		sink:       &recordingSink{},
	}

	supported := []string{"en", "fr"}
	specs := map[string]knowledge.ModelSpec{
		"en": {Provider: "hash", MaxTokens: 48, Overlap: 4, Dimensions: 256},
		"fr": {Provider: "hash", MaxTokens: 48, Overlap: 4, Dimensions: 256},
	}
	loader := knowledge.BundleLoaderFunc(func(ctx context.Context, language string, spec knowledge.ModelSpec) (*knowledge.Bundle, error) {
		return &knowledge.Bundle{
			Language: language,
			Embedder: h.embedder,
			Chunker:  knowledge.NewHierarchicalChunker(nil, spec.MaxTokens, spec.Overlap),
		}, nil
	})
	h.registry = knowledge.NewModelRegistry(supported, "en", specs, loader, nil)

	languages := knowledge.NewLanguageService(supported, "en", markerDetector{}, h.translator)
	retrieval := knowledge.NewRetrievalEngine(h.index, nil)
	h.progress = NewProgressBroadcaster(ProgressOptions{}, nil, nil, nil)
	h.sessions = NewSessionManager(retrieval, h.sink, nil, nil)
	h.sessions.OnEvict = h.progress.Discard
	h.pipeline = NewIngestionPipeline(IngestionDeps{
		Converter: h.converter,
		Guard:     h.guard,
		Languages: languages,
		Registry:  h.registry,
		Retrieval: retrieval,
		Sessions:  h.sessions,
		Progress:  h.progress,
		Events:    h.sink,
	})
	h.qa = NewQAService(QADeps{
		AllowedTypes: []string{"pdf", "docx", "md", "txt", "html"},
		TopK:         3,
		Guard:        h.guard,
		Pipeline:     h.pipeline,
		Sessions:     h.sessions,
		Languages:    languages,
		Registry:     h.registry,
		Retrieval:    retrieval,
		Answers:      knowledge.NewAnswerGenerator(h.generator),
		Progress:     h.progress,
	})
	return h
}

// ingest 上传并等待摄取结束，返回会话ID与进度事件
func (h *harness) ingest(t *testing.T, filename, kind string) (string, []ProgressEvent) {
	t.Helper()
	resp, err := h.qa.Upload(context.Background(), UploadRequest{
		Path:       tempUpload(t, filename),
		Filename:   filename,
		Kind:       kind,
		Credential: "test-key",
	})
	require.NoError(t, err)
	require.Equal(t, "processing", resp.Status)
	events := collect(t, h.qa.Progress(context.Background(), resp.SessionID), 5*time.Second)
	return resp.SessionID, events
}

func tempUpload(t *testing.T, filename string) string {
	t.Helper()
	path := t.TempDir() + "/" + filename
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o600))
	return path
}

func englishDoc() *knowledge.Document {
	return &knowledge.Document{Blocks: []knowledge.Block{
		{Kind: knowledge.BlockHeading, Level: 1, Text: "Store Policies"},
		{Kind: knowledge.BlockHeading, Level: 2, Text: "Shipping"},
		{Kind: knowledge.BlockParagraph, Text: "Orders are packed within one day. Shipping takes five business days for domestic addresses."},
		{Kind: knowledge.BlockHeading, Level: 2, Text: "Returns"},
		{Kind: knowledge.BlockParagraph, Text: "Unused items can be returned within thirty days for a full refund."},
		{Kind: knowledge.BlockHeading, Level: 2, Text: "Warranty"},
		{Kind: knowledge.BlockParagraph, Text: "Electronics carry a two year warranty covering manufacturing defects."},
		{Kind: knowledge.BlockHeading, Level: 2, Text: "Support"},
		{Kind: knowledge.BlockParagraph, Text: "Support is available by email on weekdays from nine to five."},
	}}
}

func frenchDoc() *knowledge.Document {
	return &knowledge.Document{Blocks: []knowledge.Block{
		{Kind: knowledge.BlockHeading, Level: 1, Text: "Conditions de vente"},
		{Kind: knowledge.BlockParagraph, Text: "La livraison prend cinq jours ouvrés pour les adresses en France."},
		{Kind: knowledge.BlockParagraph, Text: "Le retour est gratuit pendant trente jours."},
	}}
}
