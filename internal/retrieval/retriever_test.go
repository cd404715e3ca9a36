package retrieval

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/tutorcore/internal/cache"
)

// mockEmbedder implements Embedder for testing.
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFn(ctx, text)
}

func okEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(_ context.Context, _ string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	}}
}

func failingEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(_ context.Context, _ string) ([]float32, error) {
		return nil, errors.New("provider unavailable")
	}}
}

// mockContentStore implements ContentStore for testing. Calls may arrive
// concurrently, so the recorded arguments are mutex-guarded.
type mockContentStore struct {
	vectorFn    func(ctx context.Context, vec []float32, limit int) ([]Result, error)
	lexicalFn   func(ctx context.Context, expr string, limit int) ([]Result, error)
	substringFn func(ctx context.Context, term string, limit int) ([]Result, error)

	mu     sync.Mutex
	calls  []string
	limits map[string]int
	exprs  []string
}

func (m *mockContentStore) record(name string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.limits == nil {
		m.limits = make(map[string]int)
	}
	m.limits[name] = limit
}

func (m *mockContentStore) called(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (m *mockContentStore) VectorSearch(ctx context.Context, vec []float32, limit int) ([]Result, error) {
	m.record("vector", limit)
	if m.vectorFn == nil {
		return nil, nil
	}
	return m.vectorFn(ctx, vec, limit)
}

func (m *mockContentStore) LexicalSearch(ctx context.Context, expr string, limit int) ([]Result, error) {
	m.record("lexical", limit)
	m.mu.Lock()
	m.exprs = append(m.exprs, expr)
	m.mu.Unlock()
	if m.lexicalFn == nil {
		return nil, nil
	}
	return m.lexicalFn(ctx, expr, limit)
}

func (m *mockContentStore) SubstringSearch(ctx context.Context, term string, limit int) ([]Result, error) {
	m.record("substring", limit)
	if m.substringFn == nil {
		return nil, nil
	}
	return m.substringFn(ctx, term, limit)
}

func res(id string, p Provenance) Result {
	return Result{Fragment: Fragment{ID: id, Text: "text " + id}, Provenance: p}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func assertUniqueIDs(t *testing.T, results []Result) {
	t.Helper()
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.ID] {
			t.Errorf("duplicate result id %q in %v", r.ID, ids(results))
		}
		seen[r.ID] = true
	}
}

func TestSearch_FusesAndDeduplicates(t *testing.T) {
	store := &mockContentStore{
		vectorFn: func(_ context.Context, _ []float32, _ int) ([]Result, error) {
			return []Result{res("a", ProvenanceVector), res("b", ProvenanceVector)}, nil
		},
		lexicalFn: func(_ context.Context, _ string, _ int) ([]Result, error) {
			return []Result{res("b", ProvenanceKeyword), res("c", ProvenanceKeyword)}, nil
		},
	}
	r := NewRetriever(okEmbedder(), store, "")

	got := r.Search(context.Background(), "cardiac output physiology", 4)

	assertUniqueIDs(t, got)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i].ID, want[i])
		}
	}
	// Vector provenance wins the tie on "b".
	if got[1].Provenance != ProvenanceVector {
		t.Errorf("b provenance = %q, want vector", got[1].Provenance)
	}
}

func TestSearch_BranchLimits(t *testing.T) {
	tests := []struct {
		limit       int
		wantLexical int
	}{
		{limit: 5, wantLexical: 3},
		{limit: 4, wantLexical: 2},
		{limit: 1, wantLexical: 1},
		{limit: 40, wantLexical: 20},
	}
	for _, tt := range tests {
		store := &mockContentStore{}
		r := NewRetriever(okEmbedder(), store, "")
		r.Search(context.Background(), "renal tubule physiology", tt.limit)

		if store.limits["vector"] != tt.limit {
			t.Errorf("limit %d: vector limit = %d, want %d", tt.limit, store.limits["vector"], tt.limit)
		}
		if store.limits["lexical"] != tt.wantLexical {
			t.Errorf("limit %d: lexical limit = %d, want %d", tt.limit, store.limits["lexical"], tt.wantLexical)
		}
	}
}

func TestSearch_EmbedderFailsStillReturnsLexical(t *testing.T) {
	store := &mockContentStore{
		vectorFn: func(_ context.Context, _ []float32, _ int) ([]Result, error) {
			t.Error("vector search should be skipped without an embedding")
			return nil, nil
		},
		lexicalFn: func(_ context.Context, _ string, _ int) ([]Result, error) {
			return []Result{res("k1", ProvenanceKeyword)}, nil
		},
	}
	r := NewRetriever(failingEmbedder(), store, "")

	got := r.Search(context.Background(), "glomerular filtration", 10)
	if len(got) != 1 || got[0].ID != "k1" {
		t.Errorf("got %v, want [k1]", ids(got))
	}
}

func TestSearch_AllBranchesFailReturnsEmpty(t *testing.T) {
	boom := errors.New("store down")
	store := &mockContentStore{
		vectorFn:    func(_ context.Context, _ []float32, _ int) ([]Result, error) { return nil, boom },
		lexicalFn:   func(_ context.Context, _ string, _ int) ([]Result, error) { return nil, boom },
		substringFn: func(_ context.Context, _ string, _ int) ([]Result, error) { return nil, boom },
	}
	r := NewRetriever(okEmbedder(), store, "")

	got := r.Search(context.Background(), "anything at all", 10)
	if len(got) != 0 {
		t.Errorf("got %v, want empty", ids(got))
	}
}

func TestSearch_LexicalFailureFallsBackToSubstring(t *testing.T) {
	var gotTerm string
	store := &mockContentStore{
		lexicalFn: func(_ context.Context, _ string, _ int) ([]Result, error) {
			return nil, errors.New("fts5: syntax error")
		},
		substringFn: func(_ context.Context, term string, _ int) ([]Result, error) {
			gotTerm = term
			return []Result{res("s1", ProvenanceFallback)}, nil
		},
	}
	r := NewRetriever(failingEmbedder(), store, "")

	got := r.Search(context.Background(), "  Loop of Henle ", 6)
	if len(got) != 1 || got[0].Provenance != ProvenanceFallback {
		t.Fatalf("got %+v, want one fallback result", got)
	}
	if gotTerm != "loop of henle" {
		t.Errorf("substring term = %q, want %q", gotTerm, "loop of henle")
	}
	if store.limits["substring"] != 3 {
		t.Errorf("substring limit = %d, want 3", store.limits["substring"])
	}
}

func TestSearch_VectorFailureKeepsLexical(t *testing.T) {
	store := &mockContentStore{
		vectorFn: func(_ context.Context, _ []float32, _ int) ([]Result, error) {
			return nil, errors.New("decoding embedding")
		},
		lexicalFn: func(_ context.Context, _ string, _ int) ([]Result, error) {
			return []Result{res("k1", ProvenanceKeyword)}, nil
		},
	}
	r := NewRetriever(okEmbedder(), store, "")

	got := r.Search(context.Background(), "pharmacokinetics", 10)
	if len(got) != 1 || got[0].ID != "k1" {
		t.Errorf("got %v, want [k1]", ids(got))
	}
}

func TestSearch_ShortQueryUsesFallbackTerm(t *testing.T) {
	store := &mockContentStore{}
	r := NewRetriever(okEmbedder(), store, "Anatomy")

	r.Search(context.Background(), "why?", 4)
	if len(store.exprs) != 1 || store.exprs[0] != `"anatomy"` {
		t.Errorf("lexical exprs = %v, want [\"anatomy\"]", store.exprs)
	}
}

func TestSearch_BlankQuery(t *testing.T) {
	embedCalled := false
	emb := &mockEmbedder{embedFn: func(_ context.Context, _ string) ([]float32, error) {
		embedCalled = true
		return nil, nil
	}}
	store := &mockContentStore{}
	r := NewRetriever(emb, store, "")

	if got := r.Search(context.Background(), "   ", 10); len(got) != 0 {
		t.Errorf("got %v, want empty", ids(got))
	}
	if embedCalled || len(store.calls) != 0 {
		t.Error("blank query should not reach the embedder or store")
	}
}

func TestSearch_EmbedsTrimmedQuery(t *testing.T) {
	var embedded string
	emb := &mockEmbedder{embedFn: func(_ context.Context, text string) ([]float32, error) {
		embedded = text
		return []float32{1, 0}, nil
	}}
	r := NewRetriever(emb, &mockContentStore{}, "")

	r.Search(context.Background(), "  \tloop of henle\n ", 4)
	if embedded != "loop of henle" {
		t.Errorf("embedded %q, want the trimmed query", embedded)
	}
}

func TestSearch_SummaryLogOmitsQuery(t *testing.T) {
	var buf bytes.Buffer
	r := NewRetriever(okEmbedder(), &mockContentStore{}, "")
	r.logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r.Search(context.Background(), "patient reports chest pain", 4)
	var summary string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "hybrid search complete") {
			summary = line
		}
	}
	if !strings.Contains(summary, "level=DEBUG") {
		t.Errorf("summary not logged at debug: %q", buf.String())
	}
	if strings.Contains(summary, "chest") {
		t.Errorf("query text in summary: %q", summary)
	}
}

func TestSearch_ResultSizeNotForcedToLimit(t *testing.T) {
	store := &mockContentStore{
		vectorFn: func(_ context.Context, _ []float32, _ int) ([]Result, error) {
			return []Result{res("a", ProvenanceVector), res("b", ProvenanceVector)}, nil
		},
		lexicalFn: func(_ context.Context, _ string, _ int) ([]Result, error) {
			return []Result{res("a", ProvenanceKeyword), res("b", ProvenanceKeyword)}, nil
		},
	}
	r := NewRetriever(okEmbedder(), store, "")

	if got := r.Search(context.Background(), "heart sounds", 4); len(got) != 2 {
		t.Errorf("got %d results, want 2 (branch caps, no backfill to limit)", len(got))
	}
}

func TestDedupe_ManyOverlaps(t *testing.T) {
	var a, b []Result
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i%7))
		a = append(a, res(id, ProvenanceVector))
		b = append(b, res(id, ProvenanceKeyword))
	}
	got := dedupe(a, b)
	assertUniqueIDs(t, got)
	if len(got) != 7 {
		t.Errorf("got %d unique, want 7", len(got))
	}
	for _, r := range got {
		if r.Provenance != ProvenanceVector {
			t.Errorf("%s provenance = %q, want vector", r.ID, r.Provenance)
		}
	}
}

// countingSearcher counts calls and returns a fixed result.
type countingSearcher struct {
	mu      sync.Mutex
	calls   int
	results []Result
}

func (s *countingSearcher) Search(_ context.Context, _ string, _ int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.results
}

func TestCached_HitSkipsRetrieval(t *testing.T) {
	next := &countingSearcher{results: []Result{res("a", ProvenanceVector)}}
	c := NewCached(next, cache.NewMemory[[]Result](10), time.Minute)
	ctx := context.Background()

	first := c.Search(ctx, "Krebs cycle", 15)
	second := c.Search(ctx, "  krebs   CYCLE ", 15)

	if next.calls != 1 {
		t.Errorf("retrieval called %d times, want 1", next.calls)
	}
	if len(first) != 1 || len(second) != 1 || second[0].ID != "a" {
		t.Errorf("unexpected results: %v / %v", ids(first), ids(second))
	}
}

func TestCached_DepthIsPartOfKey(t *testing.T) {
	next := &countingSearcher{results: []Result{res("a", ProvenanceVector)}}
	c := NewCached(next, cache.NewMemory[[]Result](10), time.Minute)
	ctx := context.Background()

	c.Search(ctx, "krebs cycle", 5)
	c.Search(ctx, "krebs cycle", 25)
	if next.calls != 2 {
		t.Errorf("retrieval called %d times, want 2", next.calls)
	}
}

func TestCached_EmptyResultNotStored(t *testing.T) {
	next := &countingSearcher{}
	mem := cache.NewMemory[[]Result](10)
	c := NewCached(next, mem, time.Minute)
	ctx := context.Background()

	c.Search(ctx, "nothing matches", 15)
	c.Search(ctx, "nothing matches", 15)

	if next.calls != 2 {
		t.Errorf("retrieval called %d times, want 2", next.calls)
	}
	if mem.Len() != 0 {
		t.Errorf("cache holds %d entries, want 0", mem.Len())
	}
}

func TestCached_ExpiredEntryRefetched(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mem := cache.NewMemory[[]Result](10).WithClock(func() time.Time { return now })
	next := &countingSearcher{results: []Result{res("a", ProvenanceVector)}}
	c := NewCached(next, mem, 5*time.Minute)
	ctx := context.Background()

	c.Search(ctx, "krebs cycle", 15)
	now = now.Add(6 * time.Minute)
	c.Search(ctx, "krebs cycle", 15)

	if next.calls != 2 {
		t.Errorf("retrieval called %d times, want 2", next.calls)
	}
}

func TestSearch_AgainstSQLiteStore(t *testing.T) {
	s := openTestStore(t)
	insertFragments(t, s,
		Fragment{ID: "v1", Subject: "Cardio", Text: "Systole is the phase of ventricular contraction in the cardiac cycle when pressure rises.", Embedding: []float32{1, 0, 0}},
		Fragment{ID: "v2", Subject: "Cardio", Text: "Diastole is ventricular relaxation.", Embedding: []float32{0.9, 0.1, 0}},
		Fragment{ID: "k1", Subject: "Cardio", Text: "Ventricular contraction: ventricular contraction ejects blood."},
		Fragment{ID: "n1", Subject: "Neuro", Text: "Synapses release neurotransmitters.", Embedding: []float32{0, 0, 1}},
	)
	emb := &mockEmbedder{embedFn: func(_ context.Context, _ string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	}}
	r := NewRetriever(emb, s, "")

	got := r.Search(context.Background(), "ventricular contraction", 2)
	assertUniqueIDs(t, got)

	byID := make(map[string]Result)
	for _, res := range got {
		byID[res.ID] = res
	}
	if byID["v1"].Provenance != ProvenanceVector {
		t.Errorf("v1 provenance = %q, want vector", byID["v1"].Provenance)
	}
	if _, ok := byID["k1"]; !ok {
		t.Errorf("expected keyword match k1 in %v", ids(got))
	}
	if _, ok := byID["n1"]; ok {
		t.Errorf("unexpected n1 in %v", ids(got))
	}
}
