package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/docqa/internal/errors"
)

type fakePageCounter struct {
	pages int
	err   error
}

func (f fakePageCounter) CountPages(ctx context.Context, path string) (int, error) {
	return f.pages, f.err
}

func TestPageGuard_CheckFile(t *testing.T) {
	guard := NewPageGuard(0, 0).WithCounter("pdf", fakePageCounter{pages: 25})
	assert.Equal(t, DefaultMaxPages, guard.MaxPages)

	pages, err := guard.CheckFile(context.Background(), "any.pdf", "pdf")
	require.Error(t, err)
	assert.Equal(t, 25, pages)
	assert.ErrorIs(t, err, apperrors.ErrDocumentTooLarge)
	assert.Contains(t, err.Error(), "Document has 25 pages")

	guard.WithCounter("pdf", fakePageCounter{pages: 20})
	pages, err = guard.CheckFile(context.Background(), "any.pdf", "pdf")
	assert.NoError(t, err)
	assert.Equal(t, 20, pages)

	guard.WithCounter("pdf", fakePageCounter{err: errors.New("broken xref")})
	_, err = guard.CheckFile(context.Background(), "any.pdf", "pdf")
	assert.ErrorIs(t, err, apperrors.ErrConversionFailed)

	// 非分页格式不在转换前检查
	_, err = guard.CheckFile(context.Background(), "any.html", "html")
	assert.NoError(t, err)
	assert.False(t, guard.Paginated("html"))
}

func TestPageGuard_CheckDocument(t *testing.T) {
	guard := NewPageGuard(20, 3000)

	small := &Document{Blocks: []Block{{Kind: BlockParagraph, Text: strings.Repeat("a", 3000*20)}}}
	assert.NoError(t, guard.CheckDocument(small, "html"))
	assert.Equal(t, 20, guard.EstimatePages(small))

	large := &Document{Blocks: []Block{{Kind: BlockParagraph, Text: strings.Repeat("a", 3000*21)}}}
	err := guard.CheckDocument(large, "docx")
	assert.ErrorIs(t, err, apperrors.ErrDocumentTooLarge)
	assert.Contains(t, err.Error(), "Estimated 21 pages")

	paged := &Document{Pages: 21, Blocks: []Block{{Kind: BlockParagraph, Text: "short"}}}
	assert.ErrorIs(t, guard.CheckDocument(paged, "pdf"), apperrors.ErrDocumentTooLarge)
}
