package embed

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// onnxMaxSeqLen caps the effective token length per input. BGE-small
	// supports up to 512 tokens; capping at 256 halves the attention
	// matrix cost and comfortably covers a 512-byte chunk.
	onnxMaxSeqLen = 256
	// onnxEmbeddingDim is the output dimension of BGE-small-en-v1.5.
	onnxEmbeddingDim = 384
	// onnxBatchSize keeps memory and inference latency bounded on modest CPUs.
	onnxBatchSize = 4
)

// ONNXEmbedder wraps an ONNX Runtime session and a HuggingFace tokenizer
// running a BGE-small-style model locally. It implements Embedder.
type ONNXEmbedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
}

// NewONNX loads the model and tokenizer from modelDir, which must contain
// model.onnx and tokenizer.json. ortLibPath points at onnxruntime's shared
// library; pass "" to use the system default. numThreads <= 0 picks
// min(NumCPU, 4).
func NewONNX(modelDir, ortLibPath string, numThreads int) (*ONNXEmbedder, error) {
	modelPath := filepath.Join(modelDir, "model.onnx")
	tokenPath := filepath.Join(modelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", modelPath, err)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, fmt.Errorf("tokenizer not found at %s: %w", tokenPath, err)
	}

	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &ONNXEmbedder{session: session, tokenizer: tk}, nil
}

// Close releases the ONNX session and tokenizer.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
	return nil
}

// Dim returns the fixed output dimension of this model.
func (e *ONNXEmbedder) Dim() int { return onnxEmbeddingDim }

// Embed embeds texts in batches of onnxBatchSize, checking ctx between
// batches so a long add can be cancelled cooperatively.
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += onnxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := i + onnxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch [%d:%d]: %w", i, end, err)
		}
		results = append(results, batch...)
	}
	return results, nil
}

type encoded struct {
	ids  []int64
	mask []int64
}

func (e *ONNXEmbedder) embedBatch(texts []string) ([][]float32, error) {
	batchSize := len(texts)

	all := make([]encoded, batchSize)
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > onnxMaxSeqLen {
			ids = ids[:onnxMaxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = encoded{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("all texts tokenized to zero length")
	}

	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, enc := range all {
		copy(flatIDs[i*maxLen:], enc.ids)
		copy(flatMask[i*maxLen:], enc.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()

	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	inputs := []ort.Value{inputIDs, attnMask, typeIDs}
	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want *Tensor[float32])")
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])

	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		vec := make([]float32, onnxEmbeddingDim)
		// BGE-small uses the [CLS] token (position 0) as the sentence embedding.
		base := i * seqLen * onnxEmbeddingDim
		for d := 0; d < onnxEmbeddingDim; d++ {
			vec[d] = hidden[base+d]
		}
		l2Normalize(vec)
		embeddings[i] = vec
	}
	return embeddings, nil
}

func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 1e-10 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}
