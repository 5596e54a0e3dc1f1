package process

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/piratf/kampus-crawler/pkg/utils"
)

var (
	defaultCodec tokenizer.Codec
	codecMu      sync.RWMutex
	initialized  bool
)

// InitTokenizer initializes the tokenizer with the specified encoding.
// Common encodings: "cl100k_base", "o200k_base", "p50k_base".
// The oracle's own tokenizer may differ; cl100k_base is a close enough bound.
// If encoding is empty, defaults to "cl100k_base".
func InitTokenizer(encoding string) error {
	codecMu.Lock()
	defer codecMu.Unlock()

	if encoding == "" {
		encoding = "cl100k_base"
	}

	var enc tokenizer.Encoding
	switch encoding {
	case "cl100k_base":
		enc = tokenizer.Cl100kBase
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "p50k_edit":
		enc = tokenizer.P50kEdit
	case "r50k_base":
		enc = tokenizer.R50kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	default:
		enc = tokenizer.Cl100kBase
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return err
	}
	defaultCodec = codec
	initialized = true
	return nil
}

// CountTokens returns the token count for text. Before InitTokenizer it
// returns an estimate of one token per four bytes.
func CountTokens(text string) int {
	codecMu.RLock()
	defer codecMu.RUnlock()

	if !initialized || defaultCodec == nil {
		return estimateTokens(text)
	}

	ids, _, err := defaultCodec.Encode(text)
	if err != nil {
		return estimateTokens(text)
	}
	return len(ids)
}

func estimateTokens(text string) int {
	return len(text) / 4
}

// IsInitialized returns whether the tokenizer has been initialized.
func IsInitialized() bool {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return initialized
}

// BoundTokens returns text cut to at most maxTokens tokens. The cut prefers a
// Markdown section or paragraph boundary and falls back to a hard token cut.
// maxTokens <= 0 disables the bound.
func BoundTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || CountTokens(text) <= maxTokens {
		return text
	}
	if !IsInitialized() {
		return utils.Truncate(text, maxTokens*4)
	}

	if parts, err := SplitTokens(text, maxTokens); err == nil && len(parts) > 0 {
		if first := parts[0]; first != "" && CountTokens(first) <= maxTokens {
			return first
		}
	}
	return cutTokens(text, maxTokens)
}

func cutTokens(text string, maxTokens int) string {
	codecMu.RLock()
	defer codecMu.RUnlock()

	ids, _, err := defaultCodec.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return utils.Truncate(text, maxTokens*4)
	}
	out, err := defaultCodec.Decode(ids[:maxTokens])
	if err != nil {
		return utils.Truncate(text, maxTokens*4)
	}
	return out
}
