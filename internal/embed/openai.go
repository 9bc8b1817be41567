package embed

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// openAIMaxBatch is the API's own per-request input cap.
const openAIMaxBatch = 2048

// OpenAIAPIKeyEnv is the environment variable the hosted backend reads its
// API key from. The core never consumes it; only this backend does.
const OpenAIAPIKeyEnv = "ARROW_OPENAI_API_KEY"

// openAIModelDims holds the native output dimension for models this
// backend knows about, used to pick a sane default when WithDim isn't
// given. Models the map doesn't cover (e.g. a third-party provider behind
// WithBaseURL) fall back to 1536 — callers passing an unrecognized model
// should set WithDim explicitly.
var openAIModelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. It also
// works against any OpenAI-compatible provider by overriding BaseURL.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model      string
	dim        int
	baseURL    string
	httpClient *http.Client
}

// WithModel overrides the embedding model.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithDim overrides the requested embedding dimension. Without it, the
// dimension is inferred from the model (see openAIModelDims).
func WithDim(dim int) OpenAIOption {
	return func(c *openAIConfig) { c.dim = dim }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint other
// than api.openai.com.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the HTTP client used to reach the endpoint,
// mainly for tests that point at an httptest.Server.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = hc }
}

// NewOpenAI creates a hosted embedder. apiKey comes from the caller
// (typically read from OpenAIAPIKeyEnv by the CLI).
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedder: empty api key (set %s)", OpenAIAPIKeyEnv)
	}

	cfg := openAIConfig{model: DefaultOpenAIModel, httpClient: http.DefaultClient}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.dim == 0 {
		cfg.dim = openAIModelDims[cfg.model]
		if cfg.dim == 0 {
			cfg.dim = 1536
		}
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAIEmbedder{client: &client, model: cfg.model, dim: cfg.dim}, nil
}

// NewOpenAIFromEnv reads the API key from OpenAIAPIKeyEnv.
func NewOpenAIFromEnv(opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	return NewOpenAI(os.Getenv(OpenAIAPIKeyEnv), opts...)
}

// Dim returns the configured embedding dimension.
func (o *OpenAIEmbedder) Dim() int { return o.dim }

// Embed embeds texts, splitting into API-sized batches transparently and
// checking ctx between batches so a large add can be cancelled without
// waiting for every outstanding request to finish.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + openAIMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := o.callAPI(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("openai embed batch [%d:%d] on %s: %w", start, end, o.model, err)
		}
		copy(result[start:], vecs)
		start = end
	}
	return result, nil
}

// callAPI makes one request and places each returned embedding at its
// reported input index, rejecting the batch if the API didn't return
// exactly one embedding per input.
func (o *OpenAIEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(o.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	filled := 0
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(texts) {
			return nil, fmt.Errorf("index %d out of range for %d inputs", item.Index, len(texts))
		}
		if vecs[item.Index] != nil {
			return nil, fmt.Errorf("duplicate embedding for index %d", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		for j, f := range item.Embedding {
			vec[j] = float32(f)
		}
		vecs[item.Index] = vec
		filled++
	}
	if filled != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", filled, len(texts))
	}
	return vecs, nil
}
