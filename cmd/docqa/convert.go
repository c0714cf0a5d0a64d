package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aihub/docqa/internal/knowledge"
)

// convertCMD 将本地文件转换为markdown，可选输出分块结果
func convertCMD() *cobra.Command {
	var (
		output    string
		chunks    bool
		maxTokens int
		overlap   int
	)
	var convert = &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a document to markdown and optionally show its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if _, err := os.Stat(input); err != nil {
				return fmt.Errorf("input file: %w", err)
			}

			doc, err := knowledge.NewConverter().Convert(cmd.Context(), input, knowledge.KindFromFilename(input))
			if err != nil {
				return err
			}

			if chunks {
				chunker := knowledge.NewHierarchicalChunker(&knowledge.HeuristicTokenizer{}, maxTokens, overlap)
				return printChunks(cmd.OutOrStdout(), chunker.Chunk(doc))
			}

			if output == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), doc.Markdown())
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(input, filepath.Ext(input)) + ".md"
			}
			if err := os.WriteFile(output, []byte(doc.Markdown()), 0o644); err != nil {
				return fmt.Errorf("write markdown: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "converted %s -> %s (%d blocks)\n", input, output, len(doc.Blocks))
			return nil
		},
	}
	convert.Flags().StringVarP(&output, "output", "o", "", "markdown output path, '-' for stdout (default <input>.md)")
	convert.Flags().BoolVar(&chunks, "chunks", false, "print chunks instead of writing markdown")
	convert.Flags().IntVar(&maxTokens, "max-tokens", 512, "chunk token budget")
	convert.Flags().IntVar(&overlap, "overlap", 0, "chunk overlap in tokens")

	return convert
}

func printChunks(out io.Writer, chunks []knowledge.Chunk) error {
	for _, c := range chunks {
		if _, err := fmt.Fprintf(out, "--- chunk %d (%s, %d tokens) [%s]\n%s\n\n",
			c.Index, c.Kind, c.Tokens, strings.Join(c.Headings, " > "), c.Text); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%d chunks\n", len(chunks))
	return nil
}
