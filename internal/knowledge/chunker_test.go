package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTokenizer 按空白分词，便于断言块大小
type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func TestChunker_Split(t *testing.T) {
	chunker := NewChunker(10, 2)
	chunks := chunker.Split("abcdefghij  klmnopqrst\n\nuvwxyz")

	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.NotEmpty(t, strings.TrimSpace(chunk.Text))
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 10)
	}
	assert.Nil(t, chunker.Split("   \n\t "))
}

func TestHierarchicalChunker_HeadingLineagePrefix(t *testing.T) {
	doc := &Document{Blocks: []Block{
		{Kind: BlockHeading, Level: 1, Text: "Guide"},
		{Kind: BlockHeading, Level: 2, Text: "Install"},
		{Kind: BlockParagraph, Text: "Run the installer."},
		{Kind: BlockHeading, Level: 2, Text: "Usage"},
		{Kind: BlockParagraph, Text: "Start the service."},
	}}

	chunks := NewHierarchicalChunker(wordTokenizer{}, 64, 0).Chunk(doc)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Guide > Install\nRun the installer.", chunks[0].Text)
	assert.Equal(t, []string{"Guide", "Install"}, chunks[0].Headings)
	assert.Equal(t, "Guide > Usage\nStart the service.", chunks[1].Text)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestHierarchicalChunker_LongHeadingsStayWithinLimit(t *testing.T) {
	outer := strings.TrimSpace(strings.Repeat("alpha ", 30))
	inner := strings.TrimSpace(strings.Repeat("beta ", 30))
	doc := &Document{Blocks: []Block{
		{Kind: BlockHeading, Level: 1, Text: outer},
		{Kind: BlockHeading, Level: 2, Text: inner},
		{Kind: BlockParagraph, Text: "Shipping takes five business days."},
	}}

	chunks := NewHierarchicalChunker(wordTokenizer{}, 20, 0).Chunk(doc)

	require.Len(t, chunks, 1)
	assert.Equal(t, "beta beta beta beta beta\nShipping takes five business days.", chunks[0].Text)
	assert.Equal(t, []string{outer, inner}, chunks[0].Headings)
	assert.LessOrEqual(t, chunks[0].Tokens, 20)
}

func TestHierarchicalChunker_HeuristicTokenLimit(t *testing.T) {
	heading := strings.TrimSpace(strings.Repeat("Extremely verbose section heading words ", 12))
	body := strings.TrimSpace(strings.Repeat("Shipping takes five business days for domestic addresses. ", 20))
	doc := &Document{Blocks: []Block{
		{Kind: BlockHeading, Level: 1, Text: heading},
		{Kind: BlockHeading, Level: 2, Text: heading},
		{Kind: BlockParagraph, Text: "Shipping takes five business days."},
		{Kind: BlockParagraph, Text: body},
	}}

	tok := &HeuristicTokenizer{}
	require.Greater(t, tok.Count(heading), 48)

	chunks := NewHierarchicalChunker(nil, 48, 4).Chunk(doc)
	require.NotEmpty(t, chunks)
	var joined strings.Builder
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.Tokens, 48, chunk.Text)
		assert.LessOrEqual(t, tok.Count(chunk.Text), 48, chunk.Text)
		joined.WriteString(chunk.Text)
	}
	assert.Contains(t, joined.String(), "Shipping takes five business days.")
}

func TestHierarchicalChunker_TableIsOwnChunk(t *testing.T) {
	doc := &Document{Blocks: []Block{
		{Kind: BlockParagraph, Text: "Quarterly figures follow."},
		tableBlock([][]string{{"Quarter", "Revenue"}, {"Q1", "10"}, {"Q2", "12"}}),
		{Kind: BlockParagraph, Text: "Growth was steady."},
	}}

	chunks := NewHierarchicalChunker(wordTokenizer{}, 64, 0).Chunk(doc)

	require.Len(t, chunks, 3)
	assert.Equal(t, BlockParagraph, chunks[0].Kind)
	assert.Equal(t, BlockTable, chunks[1].Kind)
	assert.Contains(t, chunks[1].Text, "| Q1 | 10 |")
	assert.Equal(t, BlockParagraph, chunks[2].Kind)
}

func TestHierarchicalChunker_OversizeTableRepeatsHeader(t *testing.T) {
	rows := [][]string{{"name", "value"}}
	for i := 0; i < 12; i++ {
		rows = append(rows, []string{"row", "v"})
	}
	doc := &Document{Blocks: []Block{tableBlock(rows)}}

	chunks := NewHierarchicalChunker(wordTokenizer{}, 40, 0).Chunk(doc)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.True(t, strings.HasPrefix(chunk.Text, "| name | value |"))
	}
}

func TestHierarchicalChunker_SplitsOversizeParagraph(t *testing.T) {
	sentences := []string{
		"One two three four.",
		"Five six seven eight.",
		"Nine ten eleven twelve.",
		"Thirteen fourteen fifteen sixteen.",
		"Seventeen eighteen nineteen twenty.",
	}
	doc := &Document{Blocks: []Block{{Kind: BlockParagraph, Text: strings.Join(sentences, " ")}}}

	chunks := NewHierarchicalChunker(wordTokenizer{}, 10, 0).Chunk(doc)

	require.Len(t, chunks, 3)
	assert.Equal(t, "One two three four. Five six seven eight.", chunks[0].Text)
	assert.Equal(t, "Seventeen eighteen nineteen twenty.", chunks[2].Text)
}

func TestHierarchicalChunker_NonEmptyDocumentYieldsChunks(t *testing.T) {
	docs := []*Document{
		{Blocks: []Block{{Kind: BlockParagraph, Text: "x"}}},
		{Blocks: []Block{{Kind: BlockHeading, Level: 1, Text: "Only a title"}}},
		{Blocks: []Block{{Kind: BlockList, Text: "item"}, {Kind: BlockParagraph, Text: "   "}}},
		{Blocks: []Block{{Kind: BlockParagraph, Text: strings.Repeat("长文本没有标点", 200)}}},
	}

	chunker := NewHierarchicalChunker(&HeuristicTokenizer{}, 64, 8)
	for _, doc := range docs {
		chunks := chunker.Chunk(doc)
		require.NotEmpty(t, chunks, doc.Markdown())
		for _, chunk := range chunks {
			assert.NotEmpty(t, strings.TrimSpace(chunk.Text))
		}
	}

	assert.Empty(t, chunker.Chunk(&Document{}))
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Hello world. How are you?? 你好。再见")
	assert.Equal(t, []string{"Hello world.", "How are you??", "你好。", "再见"}, got)

	assert.Equal(t, []string{"v1.2 is out"}, splitSentences("v1.2 is out"))
}
