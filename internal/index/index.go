// Package index is the Retrieval Index: read-only cosine-similarity search
// over precomputed embeddings of tables and passages.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/corpus"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// Kind separates the table and passage spaces.
type Kind string

const (
	KindTables   Kind = "tables"
	KindPassages Kind = "passages"
)

const (
	// Table text keeps the title, header and leading cells.
	maxTableTextRunes = 4096
	defaultBatchSize  = 64
)

type entry struct {
	id   string
	vec  []float64
	norm float64
}

// Hit is one ranked candidate.
type Hit struct {
	ID    string
	Score float64
}

// Index is immutable once built and safe for concurrent reads.
type Index struct {
	generation string
	repo       *corpus.Repository
	queries    embedding.Embedder
	tables     []entry
	passages   []entry
}

// BuildOptions configures Build.
type BuildOptions struct {
	Embedders Embedders
	// Cache is optional.
	Cache     VectorCache
	BatchSize int
}

// Build embeds every table and passage of repo, reusing cached vectors.
func Build(ctx context.Context, repo *corpus.Repository, opts BuildOptions) (*Index, error) {
	if repo == nil {
		return nil, fmt.Errorf("corpus repository is nil")
	}
	if opts.Embedders.Documents == nil || opts.Embedders.Queries == nil {
		return nil, fmt.Errorf("embedders are not configured")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	namespace := repo.Generation() + ":" + opts.Embedders.Namespace

	tableIDs := repo.TableIDs()
	tableTexts := make([]string, len(tableIDs))
	for i, id := range tableIDs {
		t, _ := repo.Table(id)
		tableTexts[i] = tableText(t)
	}
	passageIDs := repo.PassageIDs()
	passageTexts := make([]string, len(passageIDs))
	for i, id := range passageIDs {
		p, _ := repo.Passage(id)
		passageTexts[i] = p.Text
	}

	tables, err := embedAll(ctx, opts, namespace, KindTables, tableIDs, tableTexts)
	if err != nil {
		return nil, err
	}
	passages, err := embedAll(ctx, opts, namespace, KindPassages, passageIDs, passageTexts)
	if err != nil {
		return nil, err
	}

	logx.Info().
		Str("generation", repo.Generation()).
		Str("namespace", opts.Embedders.Namespace).
		Int("tables", len(tables)).
		Int("passages", len(passages)).
		Msg("Retrieval index built")

	return &Index{
		generation: repo.Generation(),
		repo:       repo,
		queries:    opts.Embedders.Queries,
		tables:     tables,
		passages:   passages,
	}, nil
}

func tableText(t *corpus.Table) string {
	var b strings.Builder
	b.WriteString(t.Text())
	for _, row := range t.Rows {
		if b.Len() >= maxTableTextRunes {
			break
		}
		b.WriteString(" | ")
		b.WriteString(strings.Join(row, " "))
	}
	s := []rune(b.String())
	if len(s) > maxTableTextRunes {
		s = s[:maxTableTextRunes]
	}
	return string(s)
}

func embedAll(ctx context.Context, opts BuildOptions, namespace string, kind Kind, ids, texts []string) ([]entry, error) {
	cached := map[string][]float64{}
	if opts.Cache != nil {
		got, err := opts.Cache.Load(ctx, namespace, kind)
		if err != nil {
			logx.Warn().Err(err).Str("kind", string(kind)).Msg("Vector cache load failed; embedding from scratch")
		} else {
			cached = got
		}
	}

	vecs := make([][]float64, len(ids))
	var missing []int
	for i, id := range ids {
		if v, ok := cached[id]; ok {
			vecs[i] = v
			continue
		}
		missing = append(missing, i)
	}

	fresh := map[string][]float64{}
	for start := 0; start < len(missing); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(missing))
		batch := make([]string, 0, end-start)
		for _, i := range missing[start:end] {
			batch = append(batch, texts[i])
		}
		out, err := opts.Embedders.Documents.EmbedStrings(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", kind, err)
		}
		if len(out) != len(batch) {
			return nil, fmt.Errorf("embed %s: got %d vectors for %d texts", kind, len(out), len(batch))
		}
		for j, i := range missing[start:end] {
			vecs[i] = out[j]
			fresh[ids[i]] = out[j]
		}
	}

	if opts.Cache != nil && len(fresh) > 0 {
		if err := opts.Cache.Store(ctx, namespace, kind, fresh); err != nil {
			logx.Warn().Err(err).Str("kind", string(kind)).Msg("Vector cache store failed")
		}
	}
	logx.Debug().
		Str("kind", string(kind)).
		Int("cached", len(ids)-len(missing)).
		Int("embedded", len(missing)).
		Msg("Embedded corpus")

	entries := make([]entry, len(ids))
	for i, id := range ids {
		entries[i] = entry{id: id, vec: vecs[i], norm: norm(vecs[i])}
	}
	return entries, nil
}

// Generation returns the corpus generation the index was built from.
func (x *Index) Generation() string {
	return x.generation
}

// Search ranks one space by descending cosine similarity; equal scores are
// ordered by ascending id. An empty query returns no hits.
func (x *Index) Search(ctx context.Context, kind Kind, query string, k int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	var space []entry
	switch kind {
	case KindTables:
		space = x.tables
	case KindPassages:
		space = x.passages
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}

	qv, err := x.queries.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
	}
	q := qv[0]
	qn := norm(q)
	if qn == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(space))
	for _, e := range space {
		hits = append(hits, Hit{ID: e.id, Score: cosine(q, qn, e)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(q []float64, qn float64, e entry) float64 {
	if e.norm == 0 || len(e.vec) != len(q) {
		return 0
	}
	var dot float64
	for i := range q {
		dot += q[i] * e.vec[i]
	}
	return dot / (qn * e.norm)
}

// RetrieveTables returns the top-k tables as documents carrying title,
// columns and score.
func (x *Index) RetrieveTables(ctx context.Context, query string, k int) ([]*schema.Document, error) {
	hits, err := x.Search(ctx, KindTables, query, k)
	if err != nil {
		return nil, err
	}
	docs := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		t, err := x.repo.Table(h.ID)
		if err != nil {
			return nil, err
		}
		doc := &schema.Document{
			ID:      h.ID,
			Content: t.Title,
			MetaData: map[string]any{
				"kind":    string(KindTables),
				"columns": append([]string(nil), t.Header...),
			},
		}
		docs = append(docs, doc.WithScore(h.Score))
	}
	return docs, nil
}

// RetrieveWikiPassages returns the top-k passages as documents carrying text,
// linked tables and score.
func (x *Index) RetrieveWikiPassages(ctx context.Context, query string, k int) ([]*schema.Document, error) {
	hits, err := x.Search(ctx, KindPassages, query, k)
	if err != nil {
		return nil, err
	}
	docs := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		p, err := x.repo.Passage(h.ID)
		if err != nil {
			return nil, err
		}
		doc := &schema.Document{
			ID:      h.ID,
			Content: p.Text,
			MetaData: map[string]any{
				"kind":      string(KindPassages),
				"table_ids": append([]string(nil), p.TableIDs...),
			},
		}
		docs = append(docs, doc.WithScore(h.Score))
	}
	return docs, nil
}

// Lazy builds the index on first use and keeps it for the process lifetime.
// Reads after the build take no lock. The build runs detached from the
// caller's context, so a short per-call deadline cannot abort it; a waiting
// caller still returns when its own context ends. A failed build is not
// cached, so the next caller retries it.
type Lazy struct {
	build func(ctx context.Context) (*Index, error)
	idx   atomic.Pointer[Index]

	mu      sync.Mutex
	pending *lazyBuild
}

type lazyBuild struct {
	done chan struct{}
	err  error
}

func NewLazy(build func(ctx context.Context) (*Index, error)) *Lazy {
	return &Lazy{build: build}
}

// Get returns the index, building it if needed.
func (l *Lazy) Get(ctx context.Context) (*Index, error) {
	if idx := l.idx.Load(); idx != nil {
		return idx, nil
	}

	l.mu.Lock()
	if idx := l.idx.Load(); idx != nil {
		l.mu.Unlock()
		return idx, nil
	}
	b := l.pending
	if b == nil {
		b = &lazyBuild{done: make(chan struct{})}
		l.pending = b
		go l.run(context.WithoutCancel(ctx), b)
	}
	l.mu.Unlock()

	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if b.err != nil {
		return nil, b.err
	}
	return l.idx.Load(), nil
}

func (l *Lazy) run(ctx context.Context, b *lazyBuild) {
	idx, err := l.build(ctx)
	l.mu.Lock()
	if err == nil {
		l.idx.Store(idx)
	} else {
		logx.Warn().Err(err).Msg("Retrieval index build failed")
	}
	b.err = err
	l.pending = nil
	l.mu.Unlock()
	close(b.done)
}
