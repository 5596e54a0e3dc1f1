// Package oracle is the client for the semantic oracle: an OpenAI-compatible
// chat endpoint that validates and extracts content.
package oracle

import "context"

// Oracle answers a prompt, optionally with an attached asset.
type Oracle interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateWithBytes(ctx context.Context, prompt string, data []byte, mime string) (string, error)
}
