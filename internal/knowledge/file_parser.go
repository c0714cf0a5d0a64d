package knowledge

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/presentation"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	apperrors "github.com/aihub/docqa/internal/errors"
)

// FileParser 文件解析器接口
type FileParser interface {
	Supports(kind string) bool
	Parse(ctx context.Context, data []byte) (*Document, error)
}

// TextParser 文本与markdown解析器
type TextParser struct{}

func (p *TextParser) Supports(kind string) bool {
	return kind == "txt" || kind == "md"
}

var (
	mdHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*$`)
	mdList    = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)
)

func (p *TextParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	doc := &Document{}
	var para []string
	var table [][]string

	flush := func() {
		if len(para) > 0 {
			text := strings.TrimSpace(strings.Join(para, " "))
			if text != "" {
				doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: text})
			}
			para = nil
		}
		if len(table) > 0 {
			doc.Blocks = append(doc.Blocks, tableBlock(table))
			table = nil
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case mdHeading.MatchString(trimmed):
			flush()
			m := mdHeading.FindStringSubmatch(trimmed)
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Level: len(m[1]), Text: m[2]})
		case strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|"):
			if len(para) > 0 {
				flush()
			}
			if isTableSeparator(trimmed) {
				continue
			}
			cells := strings.Split(strings.Trim(trimmed, "|"), "|")
			for i := range cells {
				cells[i] = strings.TrimSpace(cells[i])
			}
			table = append(table, cells)
		case mdList.MatchString(line):
			flush()
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockList, Text: mdList.FindStringSubmatch(line)[1]})
		default:
			if len(table) > 0 {
				flush()
			}
			para = append(para, trimmed)
		}
	}
	flush()
	return doc, nil
}

func isTableSeparator(line string) bool {
	return strings.Trim(line, "|-: ") == ""
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) Supports(kind string) bool {
	return kind == "pdf"
}

func (p *PDFParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("获取PDF页数失败: %w", err)
	}

	doc := &Document{Pages: numPages}
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		for _, para := range splitParagraphs(text) {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: para})
		}
	}
	return doc, nil
}

// countPDFPages 只读取PDF页数，不提取文本
func countPDFPages(data []byte) (int, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("Error reading PDF: %w", err)
	}
	n, err := pdfReader.GetNumPages()
	if err != nil {
		return 0, fmt.Errorf("Error reading PDF: %w", err)
	}
	return n, nil
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, part := range strings.Split(text, "\n\n") {
		if clean := normalizeWhitespace(part); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// WordParser Word文档解析器
type WordParser struct{}

func (p *WordParser) Supports(kind string) bool {
	return kind == "docx"
}

func (p *WordParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	out := &Document{}
	inTable := make(map[interface{}]bool)
	tables := doc.Tables()
	for _, table := range tables {
		for _, row := range table.Rows() {
			for _, cell := range row.Cells() {
				for _, para := range cell.Paragraphs() {
					inTable[para.X()] = true
				}
			}
		}
	}

	for _, para := range doc.Paragraphs() {
		if inTable[para.X()] {
			continue
		}
		var b strings.Builder
		for _, run := range para.Runs() {
			b.WriteString(run.Text())
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		if level, ok := headingLevel(para.Style()); ok {
			out.Blocks = append(out.Blocks, Block{Kind: BlockHeading, Level: level, Text: text})
			continue
		}
		if strings.HasPrefix(strings.ToLower(para.Style()), "list") {
			out.Blocks = append(out.Blocks, Block{Kind: BlockList, Text: text})
			continue
		}
		out.Blocks = append(out.Blocks, Block{Kind: BlockParagraph, Text: text})
	}

	for _, table := range tables {
		var rows [][]string
		for _, row := range table.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				var parts []string
				for _, para := range cell.Paragraphs() {
					for _, run := range para.Runs() {
						parts = append(parts, run.Text())
					}
				}
				cells = append(cells, strings.TrimSpace(strings.Join(parts, "")))
			}
			rows = append(rows, cells)
		}
		if block := tableBlock(rows); len(block.Rows) > 0 {
			out.Blocks = append(out.Blocks, block)
		}
	}
	return out, nil
}

var styleLevel = regexp.MustCompile(`(?i)^(?:heading|berschrift|titre|titolo|encabezado|标题)\s*(\d)$`)

// headingLevel 根据段落样式判断标题层级
func headingLevel(style string) (int, bool) {
	style = strings.TrimSpace(style)
	if strings.EqualFold(style, "Title") {
		return 1, true
	}
	m := styleLevel.FindStringSubmatch(style)
	if m == nil {
		return 0, false
	}
	level, err := strconv.Atoi(m[1])
	if err != nil || level < 1 {
		return 0, false
	}
	return level, true
}

// PowerPointParser 演示文稿解析器，每张幻灯片一个标题
type PowerPointParser struct{}

func (p *PowerPointParser) Supports(kind string) bool {
	return kind == "pptx"
}

func (p *PowerPointParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	ppt, err := presentation.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("解析PowerPoint失败: %w", err)
	}

	out := &Document{}
	for i, slide := range ppt.Slides() {
		text := strings.TrimSpace(slide.ExtractText().Text())
		if text == "" {
			continue
		}
		out.Blocks = append(out.Blocks, Block{Kind: BlockHeading, Level: 2, Text: fmt.Sprintf("Slide %d", i+1)})
		for _, para := range splitLines(text) {
			out.Blocks = append(out.Blocks, Block{Kind: BlockParagraph, Text: para})
		}
	}
	return out, nil
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if clean := normalizeWhitespace(line); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// ExcelParser Excel文件解析器，每个工作表一个表格
type ExcelParser struct{}

func (p *ExcelParser) Supports(kind string) bool {
	return kind == "xlsx"
}

func (p *ExcelParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	ss, err := spreadsheet.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	out := &Document{}
	for _, sheet := range ss.Sheets() {
		var rows [][]string
		for _, row := range sheet.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				cells = append(cells, cell.GetString())
			}
			rows = append(rows, cells)
		}
		block := tableBlock(rows)
		if len(block.Rows) == 0 {
			continue
		}
		out.Blocks = append(out.Blocks, Block{Kind: BlockHeading, Level: 2, Text: sheet.Name()}, block)
	}
	return out, nil
}

// HTMLParser HTML解析器，先用readability提取正文，失败时回退到整个body
type HTMLParser struct{}

func (p *HTMLParser) Supports(kind string) bool {
	return kind == "html"
}

func (p *HTMLParser) Parse(ctx context.Context, data []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	out := &Document{Language: htmlLang(root)}
	base, _ := url.Parse("http://localhost/")
	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		if content, perr := html.Parse(strings.NewReader(article.Content)); perr == nil {
			if title := strings.TrimSpace(article.Title); title != "" {
				out.Blocks = append(out.Blocks, Block{Kind: BlockHeading, Level: 1, Text: title})
			}
			walkHTML(content, out)
			if len(out.Blocks) > 1 {
				dedupeTitle(out)
				return out, nil
			}
			out.Blocks = nil
		}
	}

	walkHTML(root, out)
	return out, nil
}

func htmlLang(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Html {
		for _, attr := range n.Attr {
			if strings.EqualFold(attr.Key, "lang") {
				return strings.TrimSpace(attr.Val)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if lang := htmlLang(c); lang != "" {
			return lang
		}
	}
	return ""
}

// dedupeTitle 移除与文章标题重复的首个标题
func dedupeTitle(doc *Document) {
	if len(doc.Blocks) < 2 {
		return
	}
	first, second := doc.Blocks[0], doc.Blocks[1]
	if second.Kind == BlockHeading && strings.EqualFold(first.Text, second.Text) {
		doc.Blocks = append(doc.Blocks[:1], doc.Blocks[2:]...)
	}
}

func walkHTML(n *html.Node, doc *Document) {
	if n.Type == html.TextNode {
		if text := normalizeWhitespace(n.Data); text != "" {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: text})
		}
		return
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Head, atom.Nav, atom.Footer:
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			if text := nodeText(n); text != "" {
				level := int(n.Data[1] - '0')
				doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Level: level, Text: text})
			}
			return
		case atom.P, atom.Pre, atom.Blockquote:
			if text := nodeText(n); text != "" {
				doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: text})
			}
			return
		case atom.Li:
			if text := nodeText(n); text != "" {
				doc.Blocks = append(doc.Blocks, Block{Kind: BlockList, Text: text})
			}
			return
		case atom.Table:
			if block := tableBlock(tableRows(n)); len(block.Rows) > 0 {
				doc.Blocks = append(doc.Blocks, block)
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, doc)
	}
}

func tableRows(n *html.Node) [][]string {
	var rows [][]string
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.Tr {
			var cells []string
			for c := node.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, nodeText(c))
				}
			}
			rows = append(rows, cells)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return rows
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteString(" ")
			return
		}
		if node.Type == html.ElementNode && (node.DataAtom == atom.Script || node.DataAtom == atom.Style) {
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return normalizeWhitespace(b.String())
}

// Converter 文档转换器，按文件类型分派给解析器
type Converter struct {
	parsers []FileParser
}

// NewConverter 创建文档转换器
func NewConverter() *Converter {
	return &Converter{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&PowerPointParser{},
			&ExcelParser{},
			&HTMLParser{},
			&TextParser{},
		},
	}
}

// Supports 是否支持该文件类型
func (c *Converter) Supports(kind string) bool {
	return c.parserFor(kind) != nil
}

func (c *Converter) parserFor(kind string) FileParser {
	for _, parser := range c.parsers {
		if parser.Supports(kind) {
			return parser
		}
	}
	return nil
}

// Convert 读取文件并转换为结构化文档，失败时返回 ConversionFailed
func (c *Converter) Convert(ctx context.Context, path, kind string) (*Document, error) {
	parser := c.parserFor(kind)
	if parser == nil {
		return nil, apperrors.UnsupportedInput(kind, c.SupportedKinds())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.ConversionFailed(err)
	}
	doc, err := parser.Parse(ctx, data)
	if err != nil {
		return nil, apperrors.ConversionFailed(err)
	}
	return doc, nil
}

// SupportedKinds 获取支持的文件类型
func (c *Converter) SupportedKinds() []string {
	candidates := []string{"pdf", "docx", "pptx", "xlsx", "html", "txt", "md"}
	result := make([]string, 0, len(candidates))
	for _, kind := range candidates {
		if c.Supports(kind) {
			result = append(result, kind)
		}
	}
	sort.Strings(result)
	return result
}
