package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/core/textnorm"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

const (
	ProviderHash   = "hash"
	ProviderGemini = "gemini"

	DefaultDimensions = 256

	geminiBatchSize = 100
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "by": true, "for": true, "in": true,
	"is": true, "of": true, "on": true, "the": true, "to": true, "was": true, "were": true,
	"what": true, "which": true, "who": true, "with": true,
}

// HashEmbedder embeds text by feature hashing word tokens and character
// trigrams into a fixed number of signed buckets. It is deterministic and
// needs no network, so it backs tests and offline runs.
type HashEmbedder struct {
	Dims int
}

var _ embedding.Embedder = HashEmbedder{}

func (h HashEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h HashEmbedder) dims() int {
	if h.Dims <= 0 {
		return DefaultDimensions
	}
	return h.Dims
}

func (h HashEmbedder) vector(text string) []float64 {
	v := make([]float64, h.dims())
	for _, tok := range textnorm.Tokens(text) {
		if stopwords[tok] {
			continue
		}
		h.add(v, "w:"+tok, 1)
		padded := []rune("#" + tok + "#")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "g:"+string(padded[i:i+3]), 0.5)
		}
	}
	normalizeInPlace(v)
	return v
}

func (h HashEmbedder) add(v []float64, feature string, weight float64) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := sum % uint64(len(v))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func normalizeInPlace(v []float64) {
	n := norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// Gemini task types.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client   *genai.Client
	model    string
	dims     int32
	taskType string
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(client *genai.Client, modelName string, dims int, taskType string) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, model: modelName, dims: int32(dims), taskType: taskType}
}

func (g *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchSize {
		end := min(start+geminiBatchSize, len(texts))
		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.Text(t)...)
		}
		cfg := &genai.EmbedContentConfig{TaskType: g.taskType}
		if g.dims > 0 {
			cfg.OutputDimensionality = genai.Ptr(g.dims)
		}
		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("gemini embed %s: %w", g.model, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini embed %s: got %d embeddings for %d texts", g.model, len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			vec := make([]float64, len(e.Values))
			for i, x := range e.Values {
				vec[i] = float64(x)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

// Embedders pairs the document and query sides of one provider.
type Embedders struct {
	Documents embedding.Embedder
	Queries   embedding.Embedder
	// Namespace identifies provider, model and dimensions in cache keys.
	Namespace string
}

// NewEmbedders builds the embedders selected by cfg. client may be nil for
// the hash provider.
func NewEmbedders(cfg model.EmbeddingConfig, client *genai.Client) (Embedders, error) {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderHash, "":
		h := HashEmbedder{Dims: dims}
		return Embedders{Documents: h, Queries: h, Namespace: fmt.Sprintf("hash:%d", dims)}, nil
	case ProviderGemini:
		if client == nil {
			return Embedders{}, fmt.Errorf("gemini embeddings need a genai client")
		}
		logx.Debug().Str("model", cfg.Model).Int("dimensions", dims).Msg("Using Gemini embeddings")
		return Embedders{
			Documents: NewGeminiEmbedder(client, cfg.Model, dims, TaskRetrievalDocument),
			Queries:   NewGeminiEmbedder(client, cfg.Model, dims, TaskRetrievalQuery),
			Namespace: fmt.Sprintf("gemini:%s:%d", cfg.Model, dims),
		}, nil
	default:
		return Embedders{}, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
