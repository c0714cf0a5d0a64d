package knowledge

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// BlockKind 文档结构块类型
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockList      BlockKind = "list"
	BlockTable     BlockKind = "table"
)

// Block 结构化文档中的一个块
type Block struct {
	Kind  BlockKind
	Level int // 标题层级，仅对 heading 有效
	Text  string
	Rows  [][]string // 表格行，仅对 table 有效
}

// Document 转换后的结构化文档
type Document struct {
	Blocks   []Block
	Language string // 转换器提供的语言标签，可能为空
	Pages    int    // 分页格式的真实页数，非分页格式为 0
}

// Markdown 导出为 markdown 文本
func (d *Document) Markdown() string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	for i, block := range d.Blocks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block.Markdown())
	}
	return b.String()
}

// Len 导出文本的字符数
func (d *Document) Len() int {
	return utf8.RuneCountInString(d.Markdown())
}

// IsEmpty 文档是否没有任何非空文本
func (d *Document) IsEmpty() bool {
	if d == nil {
		return true
	}
	for _, block := range d.Blocks {
		if strings.TrimSpace(block.Text) != "" {
			return false
		}
	}
	return true
}

// Markdown 单个块的 markdown 表示
func (b Block) Markdown() string {
	switch b.Kind {
	case BlockHeading:
		level := b.Level
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		return strings.Repeat("#", level) + " " + b.Text
	case BlockList:
		return "- " + b.Text
	case BlockTable:
		if len(b.Rows) == 0 {
			return b.Text
		}
		return renderTable(b.Rows)
	default:
		return b.Text
	}
}

func renderTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	var b strings.Builder
	for i, row := range rows {
		cells := make([]string, width)
		for j := range cells {
			if j < len(row) {
				cells[j] = strings.ReplaceAll(strings.TrimSpace(row[j]), "|", "\\|")
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |")
		if i == 0 {
			sep := make([]string, width)
			for j := range sep {
				sep[j] = "---"
			}
			b.WriteString("\n| " + strings.Join(sep, " | ") + " |")
		}
		if i < len(rows)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// tableBlock 从行数据构建表格块
func tableBlock(rows [][]string) Block {
	kept := make([][]string, 0, len(rows))
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				kept = append(kept, row)
				break
			}
		}
	}
	block := Block{Kind: BlockTable, Rows: kept}
	block.Text = block.Markdown()
	return block
}

// KindFromFilename 根据扩展名得到文件类型
func KindFromFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	ext = strings.TrimPrefix(ext, ".")
	switch ext {
	case "htm":
		return "html"
	case "markdown":
		return "md"
	}
	return ext
}
