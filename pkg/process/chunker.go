package process

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// SplitTokens splits markdown into chunks of at most maxTokens tokens,
// preferring heading boundaries and recursing into paragraphs and lines for
// oversized sections. Chunks keep document order.
func SplitTokens(markdown string, maxTokens int) ([]string, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	lenFunc := func(s string) int {
		return CountTokens(s)
	}

	recursiveSplitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(maxTokens),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithLenFunc(lenFunc),
	)

	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(maxTokens),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSecondSplitter(recursiveSplitter),
		textsplitter.WithLenFunc(lenFunc),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks, nil
}
