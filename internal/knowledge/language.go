package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrNoLanguage 文本中无法识别语言
var ErrNoLanguage = errors.New("no language could be identified")

// Detection 语言识别结果；Fallback 为 true 时 Language 是默认语言
type Detection struct {
	Language   string
	Detected   string
	Confidence float64
	Fallback   bool
	Err        error
}

// Translation 翻译结果；Fallback 为 true 时 Text 是未翻译的原文
type Translation struct {
	Text     string
	Fallback bool
	Err      error
}

// Detector 语言识别接口，返回 ISO 639-1 代码
type Detector interface {
	Detect(text string) (string, float64, error)
}

// Translator 机器翻译接口
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// WhatlangDetector 基于 whatlanggo 的语言识别
type WhatlangDetector struct{}

func (WhatlangDetector) Detect(text string) (string, float64, error) {
	if strings.TrimSpace(text) == "" {
		return "", 0, ErrNoLanguage
	}
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", info.Confidence, ErrNoLanguage
	}
	return code, info.Confidence, nil
}

// NoopTranslator 未配置翻译服务时使用，总是失败以触发降级
type NoopTranslator struct{}

func (NoopTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	return "", errors.New("translation provider not configured")
}

// OpenAITranslator 通过OpenAI兼容的对话接口翻译
type OpenAITranslator struct {
	client *openai.Client
	model  string
}

// NewOpenAITranslator 创建翻译器，baseURL 可指向任意OpenAI兼容服务
func NewOpenAITranslator(apiKey, baseURL, model string) (*OpenAITranslator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("translation api key is not configured")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAITranslator{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (t *OpenAITranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("Translate the user's text from %s to %s. Reply with the translation only.",
					DisplayName(source), DisplayName(target)),
			},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("translation response empty")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("translation response empty")
	}
	return out, nil
}

// LanguageService 语言识别与翻译，失败时降级而不返回错误
type LanguageService struct {
	supported   []string
	defaultLang string
	detector    Detector
	translator  Translator
}

// NewLanguageService 创建语言服务
func NewLanguageService(supported []string, defaultLang string, detector Detector, translator Translator) *LanguageService {
	if detector == nil {
		detector = WhatlangDetector{}
	}
	if translator == nil {
		translator = NoopTranslator{}
	}
	return &LanguageService{
		supported:   supported,
		defaultLang: defaultLang,
		detector:    detector,
		translator:  translator,
	}
}

// Default 默认语言
func (s *LanguageService) Default() string {
	return s.defaultLang
}

// Supported 是否为支持的语言
func (s *LanguageService) Supported(code string) bool {
	for _, c := range s.supported {
		if c == code {
			return true
		}
	}
	return false
}

// Detect 识别语言；识别失败或结果不受支持时返回默认语言
func (s *LanguageService) Detect(ctx context.Context, text string) Detection {
	code, confidence, err := s.detector.Detect(text)
	if err != nil {
		return Detection{Language: s.defaultLang, Fallback: true, Err: err}
	}
	code = Normalize(code)
	if !s.Supported(code) {
		return Detection{
			Language:   s.defaultLang,
			Detected:   code,
			Confidence: confidence,
			Fallback:   true,
			Err:        fmt.Errorf("detected language %q is not supported", code),
		}
	}
	return Detection{Language: code, Detected: code, Confidence: confidence}
}

// DetectSample 只取前 limit 个字符进行识别
func (s *LanguageService) DetectSample(ctx context.Context, text string, limit int) Detection {
	if limit > 0 && utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit])
	}
	return s.Detect(ctx, text)
}

// Translate 翻译文本；源语言与目标语言相同时原样返回，失败时返回原文
func (s *LanguageService) Translate(ctx context.Context, text, source, target string) Translation {
	if source == target || strings.TrimSpace(text) == "" {
		return Translation{Text: text}
	}
	out, err := s.translator.Translate(ctx, text, source, target)
	if err != nil {
		return Translation{Text: text, Fallback: true, Err: err}
	}
	return Translation{Text: out}
}

// Normalize 将 BCP 47 标签规整为基础语言代码，如 fr-FR -> fr
func Normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}
	base, _ := t.Base()
	return base.String()
}

// DisplayName 语言代码的英文名称
func DisplayName(code string) string {
	t, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(t); name != "" {
		return name
	}
	return code
}
