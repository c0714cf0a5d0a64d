package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

func TestQAService_UploadTooManyPages(t *testing.T) {
	h := newHarness(t, englishDoc())
	h.guard.WithCounter("pdf", fakePageCounter{pages: 25})
	path := tempUpload(t, "big.pdf")

	_, err := h.qa.Upload(context.Background(), UploadRequest{
		Path: path, Filename: "big.pdf", Kind: "pdf", Credential: "test-key",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDocumentTooLarge)
	assert.Equal(t, "Document has 25 pages. Maximum allowed: 20 pages.", err.Error())

	assert.Empty(t, h.sink.types())
	assert.Empty(t, h.sessions.Active())
	assert.Zero(t, h.converter.calls)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestQAService_UploadUnsupportedType(t *testing.T) {
	h := newHarness(t, englishDoc())

	_, err := h.qa.Upload(context.Background(), UploadRequest{
		Path: tempUpload(t, "slides.key"), Filename: "slides.key", Kind: ".KEY", Credential: "test-key",
	})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedInput)
	assert.Contains(t, err.Error(), `"key"`)
	assert.Empty(t, h.sink.types())
}

func TestQAService_UploadValidation(t *testing.T) {
	h := newHarness(t, englishDoc())
	_, err := h.qa.Upload(context.Background(), UploadRequest{Path: tempUpload(t, "a.md"), Filename: "a.md", Kind: "md"})
	assert.Error(t, err)
	assert.Empty(t, h.sessions.Active())
}

func TestQAService_AskSameLanguage(t *testing.T) {
	h := newHarness(t, englishDoc())
	id, events := h.ingest(t, "policies.md", "md")
	require.Equal(t, StepComplete, events[len(events)-1].Step)

	result, err := h.qa.Ask(context.Background(), AskRequest{SessionID: id, Question: "How long does shipping take?"})
	require.NoError(t, err)

	assert.Equal(t, "Shipping takes five business days.", result.Answer)
	assert.Equal(t, "en", result.UserLanguage)
	assert.Equal(t, "en", result.DocumentLanguage)
	assert.Empty(t, result.TranslatedQuery)
	assert.NotEmpty(t, result.Sources)
	assert.LessOrEqual(t, len(result.Sources), 3)
	assert.Empty(t, h.translator.calls)

	prompt := h.generator.lastPrompt()
	assert.Contains(t, prompt, "Answer in English.")
	assert.Contains(t, prompt, "Question: How long does shipping take?")
}

func TestQAService_AskCrossLanguage(t *testing.T) {
	h := newHarness(t, frenchDoc())
	h.translator.outputs["How long does shipping take?"] = "Combien de temps prend la livraison ?"
	id, events := h.ingest(t, "conditions.md", "md")
	require.Equal(t, StepComplete, events[len(events)-1].Step)
	assert.Contains(t, events[len(events)-1].Message, "(French)")

	result, err := h.qa.Ask(context.Background(), AskRequest{SessionID: id, Question: "How long does shipping take?"})
	require.NoError(t, err)

	assert.Equal(t, "en", result.UserLanguage)
	assert.Equal(t, "fr", result.DocumentLanguage)
	assert.Equal(t, "Combien de temps prend la livraison ?", result.TranslatedQuery)
	require.Len(t, h.translator.calls, 1)
	assert.Equal(t, translateCall{Text: "How long does shipping take?", Source: "en", Target: "fr"}, h.translator.calls[0])

	prompt := h.generator.lastPrompt()
	assert.Contains(t, prompt, "Answer in English.")
	assert.Contains(t, prompt, "Question: How long does shipping take?")
	assert.Contains(t, prompt, "livraison")
}

func TestQAService_AskUnknownSession(t *testing.T) {
	h := newHarness(t, englishDoc())
	_, err := h.qa.Ask(context.Background(), AskRequest{SessionID: "missing", Question: "Anything?"})
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestQAService_AskWhileProcessing(t *testing.T) {
	h := newHarness(t, englishDoc())
	id, err := h.sessions.Start(context.Background(), "md", "test-key", "policies.md")
	require.NoError(t, err)

	_, err = h.qa.Ask(context.Background(), AskRequest{SessionID: id, Question: "Anything?"})
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestQAService_ClearAndReupload(t *testing.T) {
	h := newHarness(t, englishDoc())
	first, _ := h.ingest(t, "policies.md", "md")
	second, _ := h.ingest(t, "policies-v2.md", "md")

	_, err := h.qa.Ask(context.Background(), AskRequest{SessionID: first, Question: "Returns?"})
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	require.NoError(t, h.qa.Clear(context.Background(), second))
	assert.ErrorIs(t, h.qa.Clear(context.Background(), second), apperrors.ErrSessionNotFound)
	assert.Empty(t, h.sessions.Active())
}

func TestQAService_Languages(t *testing.T) {
	h := newHarness(t, englishDoc())
	require.NoError(t, h.registry.EnsureLoaded(context.Background(), "en"))

	assert.Equal(t, []LanguageInfo{
		{Code: "en", Name: "English", Loaded: true, Default: true},
		{Code: "fr", Name: "French", Loaded: false, Default: false},
	}, h.qa.Languages())
	assert.True(t, h.qa.Ready())
	assert.Equal(t, []string{"pdf", "docx", "md", "txt", "html"}, h.qa.AllowedTypes())
}

func TestQAService_AskUnsupportedQuestionLanguage(t *testing.T) {
	h := newHarness(t, englishDoc())
	id, events := h.ingest(t, "policies.md", "md")
	require.Equal(t, StepComplete, events[len(events)-1].Step)

	result, err := h.qa.Ask(context.Background(), AskRequest{SessionID: id, Question: "配送にはどのくらいかかりますか？"})
	require.NoError(t, err)

	assert.Equal(t, "en", result.UserLanguage)
	assert.Empty(t, h.translator.calls)
	prompt := h.generator.lastPrompt()
	assert.Contains(t, prompt, "Answer in the same language as the question.")
	assert.NotContains(t, prompt, "Answer in English.")
}

func TestQAService_AskTranslationFailureSearchesOriginal(t *testing.T) {
	h := newHarness(t, frenchDoc())
	h.translator.err = errors.New("translation quota exceeded")
	id, events := h.ingest(t, "conditions.md", "md")
	require.Equal(t, StepComplete, events[len(events)-1].Step)

	result, err := h.qa.Ask(context.Background(), AskRequest{SessionID: id, Question: "How long does shipping take?"})
	require.NoError(t, err)

	require.Len(t, h.translator.calls, 1)
	assert.Empty(t, result.TranslatedQuery)
	assert.Equal(t, "How long does shipping take?", h.embedder.lastQuery())
	assert.Equal(t, "fr", result.DocumentLanguage)
	assert.NotEmpty(t, result.Sources)
	assert.Contains(t, h.generator.lastPrompt(), "Answer in English.")
}

func TestQAService_AskEmptyRetrieval(t *testing.T) {
	h := newHarness(t, englishDoc())
	ctx := context.Background()
	require.NoError(t, h.registry.EnsureLoaded(ctx, "en"))

	id, err := h.sessions.Start(ctx, "md", "test-key", "empty.md")
	require.NoError(t, err)
	require.NoError(t, h.index.Create(ctx, knowledge.CollectionName(id), 256))
	require.NoError(t, h.sessions.Register(ctx, &Session{ID: id, Language: "en", Credential: "test-key"}))

	result, err := h.qa.Ask(ctx, AskRequest{SessionID: id, Question: "How long does shipping take?"})
	require.NoError(t, err)

	assert.Equal(t, NoRelevantInformation, result.Answer)
	assert.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
	assert.Empty(t, h.generator.lastPrompt())
}

func TestQAService_AskGenerationFailure(t *testing.T) {
	h := newHarness(t, englishDoc())
	h.generator.err = errors.New("quota")
	id, events := h.ingest(t, "policies.md", "md")
	require.Equal(t, StepComplete, events[len(events)-1].Step)

	result, err := h.qa.Ask(context.Background(), AskRequest{SessionID: id, Question: "How long does shipping take?"})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrGenerationFailed)
	assert.Equal(t, "Error generating answer: quota", err.Error())
}

func TestQAService_UploadDiscardsEvictedProgress(t *testing.T) {
	h := newHarness(t, englishDoc())
	first, err := h.qa.Upload(context.Background(), UploadRequest{
		Path: tempUpload(t, "old.md"), Filename: "old.md", Kind: "md", Credential: "test-key",
	})
	require.NoError(t, err)
	// 无人订阅，事件留在队列中
	require.Eventually(t, func() bool { return h.progress.Pending(first.SessionID) == 7 }, 5*time.Second, 10*time.Millisecond)

	second, events := h.ingest(t, "new.md", "md")
	require.Equal(t, StepComplete, events[len(events)-1].Step)

	assert.Equal(t, 0, h.progress.Pending(first.SessionID))
	assert.Equal(t, 0, h.progress.Pending(second))
	assert.Equal(t, []string{second}, h.sessions.Active())
}
