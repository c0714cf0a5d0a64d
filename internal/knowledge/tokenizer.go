package knowledge

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer 计算文本token数，分块器据此控制块大小
type Tokenizer interface {
	Count(text string) int
}

// HFTokenizer 加载HuggingFace tokenizer.json，与嵌入模型的分词保持一致
type HFTokenizer struct {
	tk *tokenizer.Tokenizer
	mu sync.Mutex
	// 编码失败时使用估算
	fallback *HeuristicTokenizer
}

// NewHFTokenizer 从 tokenizer.json 创建分词器
func NewHFTokenizer(path string) (*HFTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{tk: tk, fallback: &HeuristicTokenizer{}}, nil
}

func (t *HFTokenizer) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	t.mu.Lock()
	en, err := t.tk.EncodeSingle(text, false)
	t.mu.Unlock()
	if err != nil {
		return t.fallback.Count(text)
	}
	return len(en.Ids)
}

// HeuristicTokenizer 本地估算token数量，对中日韩文字按字计数
type HeuristicTokenizer struct{}

// textStats 文本统计信息
type textStats struct {
	cjk         int
	letters     int
	digits      int
	punctuation int
	other       int
	words       int
	total       int
}

func (t *HeuristicTokenizer) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	stats := analyzeText(text)

	const (
		cjkRatio         = 1.6
		wordRatio        = 1.3
		letterRatio      = 0.3
		digitRatio       = 0.8
		punctuationRatio = 0.5
	)
	extraLetters := stats.letters - stats.words*6
	if extraLetters < 0 {
		extraLetters = 0
	}
	estimated := int(float64(stats.cjk)*cjkRatio +
		float64(stats.words)*wordRatio +
		float64(extraLetters)*letterRatio +
		float64(stats.digits)*digitRatio +
		float64(stats.punctuation)*punctuationRatio +
		float64(stats.other))

	// 纯中文文本按字数保守估算
	if stats.letters == 0 && stats.cjk > 0 {
		if charBased := int(float64(stats.cjk) * 1.8); charBased > estimated {
			estimated = charBased
		}
	}
	if stats.cjk == 0 && stats.words > 0 {
		if wordBased := int(float64(stats.words) * 1.5); wordBased > estimated {
			estimated = wordBased
		}
	}
	if floor := stats.total / 4; estimated < floor && stats.total > 10 {
		estimated = floor
	}
	if ceiling := stats.total * 2; estimated > ceiling {
		estimated = ceiling
	}
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func analyzeText(text string) textStats {
	var stats textStats
	inWord := false
	wordLen := 0
	endWord := func() {
		if inWord && wordLen > 1 {
			stats.words++
		}
		inWord = false
		wordLen = 0
	}

	for _, r := range text {
		stats.total++
		switch {
		case isCJK(r):
			endWord()
			stats.cjk++
		case unicode.IsLetter(r):
			stats.letters++
			inWord = true
			wordLen++
		case unicode.IsDigit(r):
			stats.digits++
			if inWord {
				wordLen++
			}
		case unicode.IsSpace(r):
			endWord()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if r != '-' && r != '\'' && r != '_' {
				endWord()
			}
			stats.punctuation++
		default:
			endWord()
			stats.other++
		}
	}
	endWord()
	return stats
}
