package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/corpus/corpustest"
)

func hashEmbedders() Embedders {
	h := HashEmbedder{Dims: 256}
	return Embedders{Documents: h, Queries: h, Namespace: "hash:256"}
}

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Build(context.Background(), corpustest.Herat(), BuildOptions{Embedders: hashEmbedders()})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestSearchRanksTitleMatchFirst(t *testing.T) {
	hits, err := buildTestIndex(t).Search(context.Background(), KindTables, "1998 FIFA World Cup squads", 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{corpustest.WorldCupTable}, ids(hits)); diff != "" {
		t.Fatalf("hits mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	idx := buildTestIndex(t)
	q := "Who were the builders of the mosque in Herat with fire temples?"
	first, err := idx.Search(context.Background(), KindTables, q, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := idx.Search(context.Background(), KindTables, q, 3)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("retrieval not idempotent (-first +again):\n%s", diff)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Score < first[i].Score {
			t.Fatalf("hits not in descending order: %+v", first)
		}
	}
}

func TestSearchPassages(t *testing.T) {
	docs, err := buildTestIndex(t).RetrieveWikiPassages(context.Background(), "Ghurid ruler Ghiyath", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs", len(docs))
	}
	if docs[0].ID != corpustest.HeratMosquePassage {
		t.Fatalf("top passage = %s", docs[0].ID)
	}
	if docs[0].Score() <= docs[1].Score() {
		t.Fatalf("scores not descending: %v %v", docs[0].Score(), docs[1].Score())
	}
	if diff := cmp.Diff([]string{corpustest.MosquesTable}, docs[0].MetaData["table_ids"]); diff != "" {
		t.Fatalf("table links mismatch (-want +got):\n%s", diff)
	}
}

func TestRetrieveTablesCarriesColumns(t *testing.T) {
	docs, err := buildTestIndex(t).RetrieveTables(context.Background(), "fire temples Iran", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("k larger than corpus should return every table, got %d", len(docs))
	}
	for _, d := range docs {
		if _, ok := d.MetaData["columns"].([]string); !ok {
			t.Fatalf("doc %s missing columns", d.ID)
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	hits, err := buildTestIndex(t).Search(context.Background(), KindTables, "   ", 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("got %v, %v", hits, err)
	}
}

type constantEmbedder struct{ calls atomic.Int32 }

func (c *constantEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	c.calls.Add(1)
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0, 0}
	}
	return out, nil
}

func TestSearchTiesBrokenByID(t *testing.T) {
	e := &constantEmbedder{}
	idx, err := Build(context.Background(), corpustest.Herat(), BuildOptions{
		Embedders: Embedders{Documents: e, Queries: e, Namespace: "const"},
	})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(context.Background(), KindTables, "anything", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{corpustest.WorldCupTable, corpustest.FireTemplesTable, corpustest.MosquesTable}
	if diff := cmp.Diff(want, ids(hits)); diff != "" {
		t.Fatalf("tie order mismatch (-want +got):\n%s", diff)
	}
}

type countingEmbedder struct {
	inner embedding.Embedder
	texts atomic.Int32
}

func (c *countingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	c.texts.Add(int32(len(texts)))
	return c.inner.EmbedStrings(ctx, texts, opts...)
}

func TestBuildReusesRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := NewRedisVectorCache(rdb)
	repo := corpustest.Herat()

	first := &countingEmbedder{inner: HashEmbedder{Dims: 64}}
	if _, err := Build(context.Background(), repo, BuildOptions{
		Embedders: Embedders{Documents: first, Queries: first, Namespace: "hash:64"},
		Cache:     cache,
	}); err != nil {
		t.Fatal(err)
	}
	if got := first.texts.Load(); got != 6 {
		t.Fatalf("first build embedded %d texts, want 6", got)
	}

	second := &countingEmbedder{inner: HashEmbedder{Dims: 64}}
	idx, err := Build(context.Background(), repo, BuildOptions{
		Embedders: Embedders{Documents: second, Queries: second, Namespace: "hash:64"},
		Cache:     cache,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := second.texts.Load(); got != 0 {
		t.Fatalf("second build embedded %d texts, want 0", got)
	}
	hits, err := idx.Search(context.Background(), KindPassages, "Ghurid", 1)
	if err != nil || len(hits) != 1 || hits[0].ID != corpustest.HeratMosquePassage {
		t.Fatalf("search over cached vectors = %v, %v", hits, err)
	}
}

func TestLazyBuildsOnce(t *testing.T) {
	var builds atomic.Int32
	lazy := NewLazy(func(ctx context.Context) (*Index, error) {
		builds.Add(1)
		return Build(ctx, corpustest.Herat(), BuildOptions{Embedders: hashEmbedders()})
	})
	for i := 0; i < 3; i++ {
		if _, err := lazy.Get(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := builds.Load(); got != 1 {
		t.Fatalf("builds = %d, want 1", got)
	}
}

func TestNewEmbedders(t *testing.T) {
	if _, err := NewEmbedders(model.EmbeddingConfig{Provider: "gemini"}, nil); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := NewEmbedders(model.EmbeddingConfig{Provider: "word2vec"}, nil); err == nil {
		t.Fatal("expected unknown provider error")
	}
	e, err := NewEmbedders(model.EmbeddingConfig{Provider: "hash"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Namespace != "hash:256" {
		t.Fatalf("namespace = %q", e.Namespace)
	}
}

func TestLazyBuildOutlivesCallerDeadline(t *testing.T) {
	release := make(chan struct{})
	lazy := NewLazy(func(ctx context.Context) (*Index, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Build(ctx, corpustest.Herat(), BuildOptions{Embedders: hashEmbedders()})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := lazy.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	close(release)
	idx, err := lazy.Get(context.Background())
	if err != nil {
		t.Fatalf("build should survive the first caller's deadline: %v", err)
	}
	if again, _ := lazy.Get(context.Background()); again != idx {
		t.Fatal("later reads should return the same index")
	}
}

func TestLazyRetriesFailedBuild(t *testing.T) {
	var builds atomic.Int32
	lazy := NewLazy(func(ctx context.Context) (*Index, error) {
		if builds.Add(1) == 1 {
			return nil, errors.New("embedder unavailable")
		}
		return Build(ctx, corpustest.Herat(), BuildOptions{Embedders: hashEmbedders()})
	})
	if _, err := lazy.Get(context.Background()); err == nil {
		t.Fatal("expected the first build to fail")
	}
	if _, err := lazy.Get(context.Background()); err != nil {
		t.Fatalf("second build: %v", err)
	}
	if got := builds.Load(); got != 2 {
		t.Fatalf("builds = %d, want 2", got)
	}
}

func TestLazyConcurrentReads(t *testing.T) {
	var builds atomic.Int32
	lazy := NewLazy(func(ctx context.Context) (*Index, error) {
		builds.Add(1)
		return Build(ctx, corpustest.Herat(), BuildOptions{Embedders: hashEmbedders()})
	})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lazy.Get(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := builds.Load(); got != 1 {
		t.Fatalf("builds = %d, want 1", got)
	}
}
