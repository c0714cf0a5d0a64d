package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	apperrors "github.com/aihub/docqa/internal/errors"
)

func TestTextParser_Markdown(t *testing.T) {
	input := "# Title\n\nIntro text\nmore.\n\n- item one\n- item two\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"

	doc, err := (&TextParser{}).Parse(context.Background(), []byte(input))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 5)

	assert.Equal(t, Block{Kind: BlockHeading, Level: 1, Text: "Title"}, doc.Blocks[0])
	assert.Equal(t, "Intro text more.", doc.Blocks[1].Text)
	assert.Equal(t, BlockList, doc.Blocks[2].Kind)
	assert.Equal(t, "item two", doc.Blocks[3].Text)
	assert.Equal(t, BlockTable, doc.Blocks[4].Kind)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, doc.Blocks[4].Rows)

	md := doc.Markdown()
	assert.True(t, strings.HasPrefix(md, "# Title\n\nIntro text more."))
	assert.Contains(t, md, "| a | b |\n| --- | --- |\n| 1 | 2 |")
}

func TestTextParser_PlainText(t *testing.T) {
	doc, err := (&TextParser{}).Parse(context.Background(), []byte("first line\r\nsecond line\r\n\r\nnext paragraph"))
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "first line second line", doc.Blocks[0].Text)
	assert.Equal(t, "", doc.Language)
	assert.Equal(t, 0, doc.Pages)
}

func TestHTMLParser_LanguageAndText(t *testing.T) {
	page := `<!DOCTYPE html><html lang="fr-FR"><head><title>Guide</title><script>var x = 1;</script></head>
<body><h1>Guide</h1><p>Bonjour tout le monde, ceci est un document de test.</p></body></html>`

	doc, err := (&HTMLParser{}).Parse(context.Background(), []byte(page))
	require.NoError(t, err)

	assert.Equal(t, "fr-FR", doc.Language)
	assert.Contains(t, doc.Markdown(), "Bonjour tout le monde")
	assert.NotContains(t, doc.Markdown(), "var x")
}

func TestWalkHTML_StructuredBlocks(t *testing.T) {
	root, err := html.Parse(strings.NewReader(
		`<body><h2>Prices</h2><ul><li>First</li></ul>` +
			`<table><tr><th>A</th><th>B</th></tr><tr><td>1</td><td>2</td></tr></table>` +
			`<nav>skip me</nav></body>`))
	require.NoError(t, err)

	doc := &Document{}
	walkHTML(root, doc)

	require.Len(t, doc.Blocks, 3)
	assert.Equal(t, Block{Kind: BlockHeading, Level: 2, Text: "Prices"}, doc.Blocks[0])
	assert.Equal(t, Block{Kind: BlockList, Text: "First"}, doc.Blocks[1])
	assert.Equal(t, [][]string{{"A", "B"}, {"1", "2"}}, doc.Blocks[2].Rows)
}

func TestHeadingLevel(t *testing.T) {
	level, ok := headingLevel("Heading2")
	assert.True(t, ok)
	assert.Equal(t, 2, level)

	level, ok = headingLevel("Title")
	assert.True(t, ok)
	assert.Equal(t, 1, level)

	_, ok = headingLevel("Normal")
	assert.False(t, ok)
}

func TestConverter_Convert(t *testing.T) {
	converter := NewConverter()
	dir := t.TempDir()

	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\n\nHello."), 0o600))

	doc, err := converter.Convert(context.Background(), path, "md")
	require.NoError(t, err)
	assert.Len(t, doc.Blocks, 2)

	_, err = converter.Convert(context.Background(), path, "exe")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnsupportedInput))

	_, err = converter.Convert(context.Background(), filepath.Join(dir, "missing.txt"), "txt")
	assert.ErrorIs(t, err, apperrors.ErrConversionFailed)

	// 无效PDF也应报告转换失败
	bad := filepath.Join(dir, "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("not a pdf"), 0o600))
	_, err = converter.Convert(context.Background(), bad, "pdf")
	assert.ErrorIs(t, err, apperrors.ErrConversionFailed)
}

func TestConverter_SupportedKinds(t *testing.T) {
	assert.Equal(t, []string{"docx", "html", "md", "pdf", "pptx", "txt", "xlsx"}, NewConverter().SupportedKinds())
}

func TestKindFromFilename(t *testing.T) {
	assert.Equal(t, "pdf", KindFromFilename("Report.PDF"))
	assert.Equal(t, "html", KindFromFilename("index.htm"))
	assert.Equal(t, "md", KindFromFilename("README.markdown"))
	assert.Equal(t, "", KindFromFilename("Makefile"))
}
