// Package embed defines the embedder contract consumed by the CLI and
// provides two concrete backends (ONNX-local and OpenAI-hosted) plus the
// whitespace/byte-length chunker that is the embedder's responsibility.
package embed

import "context"

// Embedder turns text into fixed-dimension vectors. The core treats it as
// a black box: it neither retries nor classifies the errors it returns.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dim returns the fixed dimension of vectors this embedder produces.
	Dim() int
}
