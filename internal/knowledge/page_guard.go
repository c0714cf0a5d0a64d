package knowledge

import (
	"context"
	"os"

	apperrors "github.com/aihub/docqa/internal/errors"
)

const (
	DefaultMaxPages     = 20
	DefaultCharsPerPage = 3000
)

// PageCounter 分页格式的页数统计
type PageCounter interface {
	CountPages(ctx context.Context, path string) (int, error)
}

// PDFPageCounter 使用unipdf统计PDF页数
type PDFPageCounter struct{}

func (PDFPageCounter) CountPages(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return countPDFPages(data)
}

// PageGuard 页数限制检查
type PageGuard struct {
	MaxPages     int
	CharsPerPage int
	counters     map[string]PageCounter
}

// NewPageGuard 创建页数检查器
func NewPageGuard(maxPages, charsPerPage int) *PageGuard {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if charsPerPage <= 0 {
		charsPerPage = DefaultCharsPerPage
	}
	return &PageGuard{
		MaxPages:     maxPages,
		CharsPerPage: charsPerPage,
		counters:     map[string]PageCounter{"pdf": PDFPageCounter{}},
	}
}

// WithCounter 注册分页格式的页数统计器
func (g *PageGuard) WithCounter(kind string, counter PageCounter) *PageGuard {
	g.counters[kind] = counter
	return g
}

// Paginated 是否为分页格式
func (g *PageGuard) Paginated(kind string) bool {
	_, ok := g.counters[kind]
	return ok
}

// CheckFile 转换前检查分页格式的真实页数
func (g *PageGuard) CheckFile(ctx context.Context, path, kind string) (int, error) {
	counter, ok := g.counters[kind]
	if !ok {
		return 0, nil
	}
	pages, err := counter.CountPages(ctx, path)
	if err != nil {
		return 0, apperrors.ConversionFailed(err)
	}
	if pages > g.MaxPages {
		return pages, apperrors.DocumentTooLarge(pages, g.MaxPages, false)
	}
	return pages, nil
}

// EstimatePages 非分页格式按字符数估算页数
func (g *PageGuard) EstimatePages(doc *Document) int {
	return doc.Len() / g.CharsPerPage
}

// CheckDocument 转换后检查非分页格式的估算页数
func (g *PageGuard) CheckDocument(doc *Document, kind string) error {
	if g.Paginated(kind) {
		if doc.Pages > g.MaxPages {
			return apperrors.DocumentTooLarge(doc.Pages, g.MaxPages, false)
		}
		return nil
	}
	if pages := g.EstimatePages(doc); pages > g.MaxPages {
		return apperrors.DocumentTooLarge(pages, g.MaxPages, true)
	}
	return nil
}
