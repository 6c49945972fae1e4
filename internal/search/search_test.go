package search_test

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZaynJarvis/newtab/internal/enrichment"
	"github.com/ZaynJarvis/newtab/internal/indexer"
	"github.com/ZaynJarvis/newtab/internal/querycache"
	"github.com/ZaynJarvis/newtab/internal/search"
	"github.com/ZaynJarvis/newtab/internal/storage"
	"github.com/ZaynJarvis/newtab/internal/vectorstore"
)

const dim = 16

type fixture struct {
	store    *storage.PageDB
	vectors  *vectorstore.VectorStore
	cache    *querycache.Cache
	enricher *enrichment.Mock
	pipeline *indexer.Pipeline
	search   *search.Pipeline
}

func defaultOptions() search.Options {
	return search.Options{
		MaxResults:     10,
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		FreqWeight:     0.1,
		DropRatio:      0.4,
		MinAbsolute:    0.2,
		KLexical:       20,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewPageDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	vectors := vectorstore.New(dim, 100, 0.4, 0.2)
	cache := querycache.New(100, 7*24*time.Hour, filepath.Join(t.TempDir(), "cache.json"), 20)
	enricher := enrichment.NewMock(dim)
	pipeline := indexer.New(store, vectors, enricher, nil, 3*24*time.Hour, 5*time.Second, 0)
	t.Cleanup(pipeline.Close)

	return &fixture{
		store:    store,
		vectors:  vectors,
		cache:    cache,
		enricher: enricher,
		pipeline: pipeline,
		search:   search.New(store, vectors, cache, enricher, defaultOptions()),
	}
}

func (f *fixture) ingest(t *testing.T, url, title, content string) int64 {
	t.Helper()
	result, err := f.pipeline.IndexPage(indexer.PageInput{URL: url, Title: title, Content: content})
	if err != nil {
		t.Fatal(err)
	}
	return result.ID
}

func pad(s string) string {
	return s + " " + strings.Repeat("additional explanatory sentences to pass the ingest length check. ", 3)
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t)

	for _, q := range []string{"", "   ", "\t\n"} {
		results, err := f.search.Search(context.Background(), q)
		if err != nil {
			t.Fatalf("Search(%q) error: %v", q, err)
		}
		if len(results) != 0 {
			t.Errorf("Search(%q) returned %d results, want 0", q, len(results))
		}
	}
}

func TestSearchExactTitle(t *testing.T) {
	f := newFixture(t)

	id := f.ingest(t, "https://a.test/fastapi", "Python FastAPI Tutorial",
		pad("A hands-on guide to building web APIs with FastAPI and Python."))
	f.ingest(t, "https://a.test/garden", "Gardening Basics",
		pad("Soil preparation and seasonal planting for home gardens."))
	f.pipeline.WaitForEnrichment()

	results, err := f.search.Search(context.Background(), "fastapi tutorial")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	top := results[0]
	if top.Page.ID != id {
		t.Errorf("top result = %d, want %d", top.Page.ID, id)
	}
	if top.KeywordScore < 0.9 {
		t.Errorf("KeywordScore = %v, want >= 0.9 for rank-1 lexical hit", top.KeywordScore)
	}
	if top.SemanticScore <= 0 {
		t.Errorf("SemanticScore = %v, want > 0", top.SemanticScore)
	}
}

func TestSearchScoreFormula(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "https://a.test/one", "Observability Primer",
		pad("Metrics traces and logs for production systems."))
	f.pipeline.WaitForEnrichment()

	results, err := f.search.Search(context.Background(), "observability")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}

	opts := defaultOptions()
	for _, r := range results {
		expected := opts.SemanticWeight*r.SemanticScore +
			opts.KeywordWeight*r.KeywordScore +
			opts.FreqWeight*r.Page.ARCScore
		if math.Abs(r.FinalScore-expected) > 1e-9 {
			t.Errorf("FinalScore = %v, want %v", r.FinalScore, expected)
		}
	}
}

func TestSearchProviderOutageFallback(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "https://a.test/p1", "Compilers Weekly", pad("Parsing and codegen digressions."))
	alphaID := f.ingest(t, "https://a.test/p2", "Alpha Release Notes", pad("Alpha builds ship every monday morning."))
	f.ingest(t, "https://a.test/p3", "Kitchen Repairs", pad("Fixing a leaking tap without tools."))
	f.pipeline.WaitForEnrichment()

	// Provider goes down; the cache is cold for this query.
	f.enricher.Fail = true

	results, err := f.search.Search(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results from the lexical-surrogate fallback")
	}

	top := results[0]
	if top.Page.ID != alphaID {
		t.Errorf("top result = %d, want %d", top.Page.ID, alphaID)
	}
	// The surrogate vector is the alpha page's own embedding, so its
	// self-similarity is 1.
	if math.Abs(top.SemanticScore-1.0) > 1e-5 {
		t.Errorf("SemanticScore = %v, want 1.0 via surrogate", top.SemanticScore)
	}
	if top.KeywordScore < 0.9 {
		t.Errorf("KeywordScore = %v, want ~1.0", top.KeywordScore)
	}
}

func TestSearchOutageNoLexicalHit(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "https://a.test/p1", "Compilers Weekly", pad("Parsing and codegen digressions."))
	f.pipeline.WaitForEnrichment()
	f.enricher.Fail = true

	results, err := f.search.Search(context.Background(), "zzzunknownzzz")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestSearchSecondCallHitsCache(t *testing.T) {
	f := newFixture(t)

	f.ingest(t, "https://a.test/beta", "Beta Program FAQ", pad("Joining the beta program and reporting bugs."))
	f.pipeline.WaitForEnrichment()

	callsBefore := f.enricher.EmbeddingCalls
	first, err := f.search.Search(context.Background(), "beta")
	if err != nil {
		t.Fatal(err)
	}
	if f.enricher.EmbeddingCalls != callsBefore+1 {
		t.Fatalf("first search should call the provider once, got %d extra calls",
			f.enricher.EmbeddingCalls-callsBefore)
	}

	second, err := f.search.Search(context.Background(), "beta")
	if err != nil {
		t.Fatal(err)
	}
	if f.enricher.EmbeddingCalls != callsBefore+1 {
		t.Errorf("second search must be served from the cache; provider calls = %d",
			f.enricher.EmbeddingCalls-callsBefore)
	}

	if len(first) != len(second) {
		t.Fatalf("result sets differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Page.ID != second[i].Page.ID {
			t.Errorf("result %d differs: %d vs %d", i, first[i].Page.ID, second[i].Page.ID)
		}
	}
}

func TestSearchCachedQuerySurvivesOutage(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "https://a.test/gamma", "Gamma Exposure Charts", pad("Options dealers and their hedging flows."))
	f.pipeline.WaitForEnrichment()

	if _, err := f.search.Search(context.Background(), "gamma"); err != nil {
		t.Fatal(err)
	}

	f.enricher.Fail = true
	results, err := f.search.Search(context.Background(), "gamma")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("cached embedding should keep semantic search alive through an outage")
	}
	if results[0].SemanticScore <= 0 {
		t.Errorf("SemanticScore = %v, want > 0 from cached vector", results[0].SemanticScore)
	}
}

func TestSearchCapsResults(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 15; i++ {
		f.ingest(t,
			"https://a.test/cap/"+string(rune('a'+i)),
			"Orchestra Rehearsal "+string(rune('A'+i)),
			pad("Orchestra rehearsal notes and seating charts for the season."))
	}
	f.pipeline.WaitForEnrichment()

	results, err := f.search.Search(context.Background(), "orchestra")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) > 10 {
		t.Errorf("got %d results, cap is 10", len(results))
	}
}

func TestSearchFrequencyBoostBreaksTies(t *testing.T) {
	f := newFixture(t)

	// Two nearly identical pages; one is visited often.
	coldID := f.ingest(t, "https://a.test/cold", "Sourdough Starter Guide",
		pad("Feeding schedules and hydration ratios for sourdough."))
	warmID := f.ingest(t, "https://a.test/warm", "Sourdough Starter Guide",
		pad("Feeding schedules and hydration ratios for sourdough."))
	f.pipeline.WaitForEnrichment()

	now := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := f.store.BumpVisit(warmID, now); err != nil {
			t.Fatal(err)
		}
	}

	results, err := f.search.Search(context.Background(), "sourdough")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) < 2 {
		t.Fatalf("expected both pages, got %d", len(results))
	}
	if results[0].Page.ID != warmID {
		t.Errorf("frequency boost should rank the visited page first; got %d, want %d (cold=%d)",
			results[0].Page.ID, warmID, coldID)
	}
}
