package knowledge

import (
	"strings"
	"unicode"
)

// Chunk 表示分块后的文本结构，Text 已包含标题层级前缀
type Chunk struct {
	Index    int
	Text     string
	Headings []string
	Kind     BlockKind
	Tokens   int
}

// Chunker 按字符滑动窗口的文本分块器，用于无结构文本和超长句子
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
	}
}

// Split 将文本切分为多个chunk
func (c *Chunker) Split(text string) []Chunk {
	clean := normalizeWhitespace(text)
	if clean == "" {
		return nil
	}

	runes := []rune(clean)
	var chunks []Chunk

	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = c.chunkSize
	}

	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunkText := strings.TrimSpace(string(runes[start:end]))
		if chunkText == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  chunkText,
			Kind:  BlockParagraph,
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}

func normalizeWhitespace(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	var prevSpace bool
	for _, r := range s {
		if unicode.IsSpace(r) {
			if prevSpace {
				continue
			}
			builder.WriteRune(' ')
			prevSpace = true
			continue
		}
		builder.WriteRune(r)
		prevSpace = false
	}

	return strings.TrimSpace(builder.String())
}

// HierarchicalChunker 结构感知分块器：按标题层级分组，表格独立成块，
// 段落按 token 上限打包，超长段落按句子再按字符切分
type HierarchicalChunker struct {
	tokenizer Tokenizer
	maxTokens int
	overlap   int
}

// NewHierarchicalChunker 创建结构感知分块器
func NewHierarchicalChunker(tokenizer Tokenizer, maxTokens, overlap int) *HierarchicalChunker {
	if tokenizer == nil {
		tokenizer = &HeuristicTokenizer{}
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = maxTokens / 8
	}
	return &HierarchicalChunker{tokenizer: tokenizer, maxTokens: maxTokens, overlap: overlap}
}

// MaxTokens 单块token上限
func (c *HierarchicalChunker) MaxTokens() int {
	return c.maxTokens
}

type heading struct {
	level int
	text  string
}

type chunkBuilder struct {
	c       *HierarchicalChunker
	lineage []heading
	pending []string
	tokens  int
	chunks  []Chunk
}

// Chunk 将结构化文档切分为有序的块
func (c *HierarchicalChunker) Chunk(doc *Document) []Chunk {
	if doc.IsEmpty() {
		return nil
	}

	b := &chunkBuilder{c: c}
	for _, block := range doc.Blocks {
		text := strings.TrimSpace(block.Text)
		if text == "" {
			continue
		}
		switch block.Kind {
		case BlockHeading:
			b.flush()
			b.enter(block.Level, text)
		case BlockTable:
			b.flush()
			b.addTable(block)
		default:
			b.addText(text, block.Kind)
		}
	}
	b.flush()

	// 只有标题没有正文时，退化为整篇滑动窗口切分
	if len(b.chunks) == 0 {
		size := c.maxTokens * 3
		for _, chunk := range NewChunker(size, c.overlap*3).Split(doc.Markdown()) {
			b.emit(chunk.Text, BlockParagraph, nil)
		}
	}
	return b.chunks
}

func (b *chunkBuilder) enter(level int, text string) {
	if level < 1 {
		level = 1
	}
	for len(b.lineage) > 0 && b.lineage[len(b.lineage)-1].level >= level {
		b.lineage = b.lineage[:len(b.lineage)-1]
	}
	b.lineage = append(b.lineage, heading{level: level, text: text})
}

func (b *chunkBuilder) headings() []string {
	out := make([]string, len(b.lineage))
	for i, h := range b.lineage {
		out[i] = h.text
	}
	return out
}

// budget 扣除标题前缀后的可用token数
func (b *chunkBuilder) budget() int {
	budget := b.c.maxTokens - b.c.tokenizer.Count(b.c.prefixFor(b.headings()))
	if budget < 1 {
		budget = 1
	}
	return budget
}

// prefixFor 标题前缀最多占 maxTokens/4：先省略外层标题，最近的标题仍超长时截断
func (c *HierarchicalChunker) prefixFor(headings []string) string {
	if len(headings) == 0 {
		return ""
	}
	limit := c.maxTokens / 4
	fits := func(p string) bool { return c.tokenizer.Count(p) <= limit }

	for start := range headings {
		if p := strings.Join(headings[start:], " > ") + "\n"; fits(p) {
			return p
		}
	}

	words := strings.Fields(headings[len(headings)-1])
	for len(words) > 1 {
		words = words[:len(words)-1]
		if p := strings.Join(words, " ") + "\n"; fits(p) {
			return p
		}
	}
	if len(words) == 0 {
		return ""
	}
	runes := []rune(words[0])
	for len(runes) > 1 {
		runes = runes[:len(runes)/2]
		if p := string(runes) + "\n"; fits(p) {
			return p
		}
	}
	return ""
}

// fit 保证前缀加正文不超过 maxTokens，超出时在空白处二分正文
func (c *HierarchicalChunker) fit(prefix, body string) []string {
	text := prefix + body
	if c.tokenizer.Count(text) <= c.maxTokens {
		return []string{text}
	}
	runes := []rune(body)
	if len(runes) <= 1 {
		return []string{body}
	}
	mid := splitPoint(runes)
	var out []string
	for _, part := range []string{string(runes[:mid]), string(runes[mid:])} {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, c.fit(prefix, part)...)
		}
	}
	return out
}

// splitPoint 靠近中点的空白位置，没有空白时取中点
func splitPoint(runes []rune) int {
	mid := len(runes) / 2
	for d := 0; d < mid; d++ {
		if unicode.IsSpace(runes[mid-d]) {
			return mid - d
		}
		if mid+d < len(runes) && unicode.IsSpace(runes[mid+d]) {
			return mid + d
		}
	}
	return mid
}

func (b *chunkBuilder) addText(text string, kind BlockKind) {
	if kind == BlockList {
		text = "- " + text
	}
	budget := b.budget()
	n := b.c.tokenizer.Count(text)
	if n > budget {
		b.flush()
		for _, piece := range b.c.splitOversize(text, budget) {
			b.emit(piece, kind, b.headings())
		}
		return
	}
	if b.tokens+n > budget {
		b.flush()
	}
	b.pending = append(b.pending, text)
	b.tokens += n
}

func (b *chunkBuilder) addTable(block Block) {
	budget := b.budget()
	if b.c.tokenizer.Count(block.Text) <= budget {
		b.emit(block.Text, BlockTable, b.headings())
		return
	}
	if len(block.Rows) < 2 {
		for _, piece := range b.c.splitOversize(block.Text, budget) {
			b.emit(piece, BlockTable, b.headings())
		}
		return
	}

	// 超长表格按行分组，每组重复表头
	header := block.Rows[0]
	group := [][]string{header}
	for _, row := range block.Rows[1:] {
		candidate := append(append([][]string{}, group...), row)
		if len(group) > 1 && b.c.tokenizer.Count(renderTable(candidate)) > budget {
			b.emit(renderTable(group), BlockTable, b.headings())
			group = [][]string{header, row}
			continue
		}
		group = candidate
	}
	if len(group) > 1 {
		b.emit(renderTable(group), BlockTable, b.headings())
	}
}

func (b *chunkBuilder) flush() {
	if len(b.pending) == 0 {
		return
	}
	b.emit(strings.Join(b.pending, "\n\n"), BlockParagraph, b.headings())
	b.pending = nil
	b.tokens = 0
}

func (b *chunkBuilder) emit(text string, kind BlockKind, headings []string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, piece := range b.c.fit(b.c.prefixFor(headings), text) {
		b.chunks = append(b.chunks, Chunk{
			Index:    len(b.chunks),
			Text:     piece,
			Headings: headings,
			Kind:     kind,
			Tokens:   b.c.tokenizer.Count(piece),
		})
	}
}

// splitOversize 先按句子打包，句子仍超长时按字符硬切
func (c *HierarchicalChunker) splitOversize(text string, budget int) []string {
	var pieces []string
	var current []string
	var currentTokens int

	flush := func() {
		if len(current) == 0 {
			return
		}
		pieces = append(pieces, strings.Join(current, " "))
		// 保留末尾若干句作为重叠
		var kept []string
		keptTokens := 0
		for i := len(current) - 1; i >= 0 && c.overlap > 0; i-- {
			n := c.tokenizer.Count(current[i])
			if keptTokens+n > c.overlap {
				break
			}
			kept = append([]string{current[i]}, kept...)
			keptTokens += n
		}
		current, currentTokens = kept, keptTokens
	}

	for _, sentence := range splitSentences(text) {
		n := c.tokenizer.Count(sentence)
		if n > budget {
			flush()
			current, currentTokens = nil, 0
			pieces = append(pieces, c.hardSplit(sentence, n, budget)...)
			continue
		}
		if currentTokens+n > budget {
			flush()
			if currentTokens+n > budget {
				current, currentTokens = nil, 0
			}
		}
		current = append(current, sentence)
		currentTokens += n
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, " "))
	}
	return pieces
}

// hardSplit 按token与字符的比例换算窗口大小，复用滑动窗口切分
func (c *HierarchicalChunker) hardSplit(sentence string, tokens, budget int) []string {
	runes := len([]rune(sentence))
	ratio := float64(runes) / float64(tokens)
	size := int(float64(budget) * ratio)
	if size < 1 {
		size = 1
	}
	overlap := int(float64(c.overlap) * ratio)
	var out []string
	for _, chunk := range NewChunker(size, overlap).Split(sentence) {
		out = append(out, chunk.Text)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；':
		return true
	}
	return false
}

func isFullWidthEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？' || r == '；'
}

// splitSentences 在句末标点处切分；全角标点后直接切分，半角标点后需跟空白
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		next := i + 1
		if next < len(runes) && isSentenceEnd(runes[next]) {
			continue
		}
		if isFullWidthEnd(r) || next == len(runes) || unicode.IsSpace(runes[next]) {
			if s := strings.TrimSpace(string(runes[start:next])); s != "" {
				out = append(out, s)
			}
			start = next
		}
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}
