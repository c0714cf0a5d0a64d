package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	genai "github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"

	apperrors "github.com/aihub/docqa/internal/errors"
)

const (
	// DefaultGeminiModel 默认Gemini模型
	DefaultGeminiModel = "gemini-2.0-flash-exp"
	// DefaultAnthropicModel 默认Claude模型
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
)

// TextGenerator 生成模型，credential 由调用方按会话提供
type TextGenerator interface {
	Generate(ctx context.Context, credential, prompt string) (string, error)
}

// GeminiGenerator Google Gemini
type GeminiGenerator struct {
	Model string
}

func (g *GeminiGenerator) Generate(ctx context.Context, credential, prompt string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", errors.New("gemini: missing api key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(credential))
	if err != nil {
		return "", fmt.Errorf("gemini init: %w", err)
	}
	defer client.Close()

	modelName := g.Model
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	resp, err := client.GenerativeModel(modelName).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// OpenAIGenerator OpenAI兼容的对话接口
type OpenAIGenerator struct {
	Model   string
	BaseURL string
}

func (g *OpenAIGenerator) Generate(ctx context.Context, credential, prompt string) (string, error) {
	cfg := openai.DefaultConfig(credential)
	if g.BaseURL != "" {
		cfg.BaseURL = g.BaseURL
	}
	model := g.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	resp, err := openai.NewClientWithConfig(cfg).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnthropicGenerator Anthropic Messages API
type AnthropicGenerator struct {
	Model     string
	BaseURL   string
	MaxTokens int
}

func (g *AnthropicGenerator) Generate(ctx context.Context, credential, prompt string) (string, error) {
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(credential)}
	if g.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(g.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := g.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := g.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

// NewTextGenerator 按 provider 创建生成器
func NewTextGenerator(provider, model, baseURL string) (TextGenerator, error) {
	switch provider {
	case "", "gemini":
		return &GeminiGenerator{Model: model}, nil
	case "openai":
		return &OpenAIGenerator{Model: model, BaseURL: baseURL}, nil
	case "anthropic":
		return &AnthropicGenerator{Model: model, BaseURL: baseURL}, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}
}

// BuildPrompt 拼接编号上下文与问题；target 为空时要求使用提问语言作答
func BuildPrompt(question string, chunks []string, target string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant answering questions about a document.\n")
	b.WriteString("Use the following context to answer the question. If you cannot answer based on the context, say so.\n")
	if target != "" {
		fmt.Fprintf(&b, "Answer in %s.\n", DisplayName(target))
	} else {
		b.WriteString("Answer in the same language as the question.\n")
	}
	b.WriteString("\n")

	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Context %d:\n%s", i+1, chunk)
	}

	fmt.Fprintf(&b, "\n\nQuestion: %s\n\nAnswer:", question)
	return b.String()
}

// AnswerGenerator 基于检索片段生成答案，不做重试
type AnswerGenerator struct {
	generator TextGenerator
}

// NewAnswerGenerator 创建答案生成器
func NewAnswerGenerator(generator TextGenerator) *AnswerGenerator {
	return &AnswerGenerator{generator: generator}
}

// Answer 生成答案，target 为作答语言代码
func (a *AnswerGenerator) Answer(ctx context.Context, question string, chunks []string, credential, target string) (string, error) {
	out, err := a.generator.Generate(ctx, credential, BuildPrompt(question, chunks, target))
	if err != nil {
		return "", apperrors.GenerationFailed(err)
	}
	return strings.TrimSpace(out), nil
}
