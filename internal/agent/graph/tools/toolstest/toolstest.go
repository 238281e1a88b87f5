// Package toolstest wires a tool registry over the fixed test corpus.
package toolstest

import (
	"context"
	"testing"
	"time"

	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/core/retry"
	"github.com/hybridqa-core/server/internal/corpus/corpustest"
	"github.com/hybridqa-core/server/internal/extract"
	"github.com/hybridqa-core/server/internal/index"
)

// Policy keeps retries fast in tests.
var Policy = retry.Policy{Attempts: 2, Timeout: 5 * time.Second, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

// Registry returns a registry over corpustest.Herat with hash embeddings.
func Registry(t testing.TB) *tools.Registry {
	t.Helper()
	repo := corpustest.Herat()
	emb, err := index.NewEmbedders(model.EmbeddingConfig{Provider: index.ProviderHash, Dimensions: 256}, nil)
	if err != nil {
		t.Fatal(err)
	}
	lazy := index.NewLazy(func(ctx context.Context) (*index.Index, error) {
		return index.Build(ctx, repo, index.BuildOptions{Embedders: emb})
	})
	reg, err := tools.NewRegistry(context.Background(), tools.Deps{
		Repo:      repo,
		Index:     lazy,
		Extractor: extract.NewAgent(repo, model.ExtractConfig{FuzzyThreshold: extract.DefaultThreshold}),
		TopK:      3,
		Policy:    Policy,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}
