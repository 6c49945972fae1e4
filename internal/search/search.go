package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ZaynJarvis/newtab/internal/enrichment"
	"github.com/ZaynJarvis/newtab/internal/metrics"
	"github.com/ZaynJarvis/newtab/internal/querycache"
	"github.com/ZaynJarvis/newtab/internal/storage"
	"github.com/ZaynJarvis/newtab/internal/tokenizer"
	"github.com/ZaynJarvis/newtab/internal/vectorstore"
)

// Options are the retrieval fusion knobs.
type Options struct {
	MaxResults     int
	SemanticWeight float64
	KeywordWeight  float64
	FreqWeight     float64
	DropRatio      float64
	MinAbsolute    float64
	KLexical       int
}

// Result is one fused search hit with its score components, kept so the
// client can show ranking diagnostics.
type Result struct {
	Page          *storage.Page
	SemanticScore float64
	KeywordScore  float64
	FinalScore    float64
}

// Pipeline fuses lexical and semantic retrieval with a frequency boost:
//
//	final = semanticWeight*cos + keywordWeight*rankScore + freqWeight*arc
//
// The two branches run in parallel; either may come back empty without
// failing the search.
type Pipeline struct {
	store    *storage.PageDB
	vectors  *vectorstore.VectorStore
	cache    *querycache.Cache
	enricher enrichment.Client
	opts     Options
}

func New(store *storage.PageDB, vectors *vectorstore.VectorStore, cache *querycache.Cache,
	enricher enrichment.Client, opts Options) *Pipeline {
	return &Pipeline{
		store:    store,
		vectors:  vectors,
		cache:    cache,
		enricher: enricher,
		opts:     opts,
	}
}

// Search runs the full retrieval pipeline for a query. An empty query
// returns an empty result set.
func (p *Pipeline) Search(ctx context.Context, query string) ([]Result, error) {
	normalized := tokenizer.NormalizeQuery(query)
	if normalized == "" {
		return nil, nil
	}

	start := time.Now()
	metrics.SearchesTotal.Inc()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		wg           sync.WaitGroup
		lexicalPages []*storage.Page
		semanticHits []vectorstore.Hit
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		pages, _, err := p.store.FullTextSearch(normalized, p.opts.KLexical)
		if err != nil {
			slog.Error("keyword search failed", "error", err, "event", "keyword_search_failed")
			return
		}
		lexicalPages = pages
	}()
	go func() {
		defer wg.Done()
		semanticHits = p.semanticBranch(ctx, normalized)
	}()
	wg.Wait()

	return p.fuse(lexicalPages, semanticHits), nil
}

// semanticBranch resolves a query vector and searches the vector index.
// Resolution is three-step: cache, provider (then cache), and finally the
// stored embedding of the best lexical hit as a surrogate. No vector means
// an empty branch, never an error.
func (p *Pipeline) semanticBranch(ctx context.Context, query string) []vectorstore.Hit {
	vector, ok := p.cache.Get(query)
	if ok {
		metrics.CacheHitsTotal.Inc()
	} else {
		metrics.CacheMissesTotal.Inc()
		generated, err := p.enricher.GenerateEmbedding(ctx, query)
		if err == nil {
			p.cache.Put(query, generated)
			vector = generated
		} else {
			slog.Warn("query embedding unavailable, trying lexical surrogate",
				"error", err, "event", "semantic_fallback")
			vector = p.surrogateVector(query)
		}
	}
	if len(vector) == 0 {
		return nil
	}

	hits, err := p.vectors.FilteredSearch(vector, p.opts.KLexical)
	if err != nil {
		slog.Error("vector search failed", "error", err, "event", "vector_search_failed")
		return nil
	}
	return hits
}

// surrogateVector is the outage fallback: the stored embedding of the top
// lexical hit stands in for the query vector.
func (p *Pipeline) surrogateVector(query string) []float32 {
	pages, _, err := p.store.FullTextSearch(query, 1)
	if err != nil || len(pages) == 0 {
		return nil
	}
	return pages[0].Embedding
}

// fuse unions the branch results by page id, applies the frequency boost,
// sorts, truncates at the similarity drop, and caps the list.
func (p *Pipeline) fuse(lexicalPages []*storage.Page, semanticHits []vectorstore.Hit) []Result {
	byID := make(map[int64]*Result)

	for i, page := range lexicalPages {
		score := 1.0 - 0.1*float64(i)
		if score < 0.1 {
			score = 0.1
		}
		byID[page.ID] = &Result{Page: page, KeywordScore: score}
	}

	for _, hit := range semanticHits {
		if r, ok := byID[hit.ID]; ok {
			r.SemanticScore = hit.Score
			continue
		}
		page, err := p.store.GetByID(hit.ID)
		if err != nil {
			// The page may have been evicted mid-search; skip it.
			continue
		}
		byID[hit.ID] = &Result{Page: page, SemanticScore: hit.Score}
	}

	results := make([]Result, 0, len(byID))
	for _, r := range byID {
		r.FinalScore = p.opts.SemanticWeight*r.SemanticScore +
			p.opts.KeywordWeight*r.KeywordScore +
			p.opts.FreqWeight*r.Page.ARCScore
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.SemanticScore != b.SemanticScore {
			return a.SemanticScore > b.SemanticScore
		}
		if a.KeywordScore != b.KeywordScore {
			return a.KeywordScore > b.KeywordScore
		}
		return a.Page.ID > b.Page.ID
	})

	results = p.truncateAtDrop(results)

	if len(results) > p.opts.MaxResults {
		results = results[:p.opts.MaxResults]
	}
	return results
}

// truncateAtDrop cuts the list at the first pair exhibiting a relative
// score drop of at least DropRatio, or where the score sinks under the
// MinAbsolute floor. Keeps a relevant head instead of padding the list
// with weakly related tail items.
func (p *Pipeline) truncateAtDrop(results []Result) []Result {
	for i := 1; i < len(results); i++ {
		prev, next := results[i-1].FinalScore, results[i].FinalScore
		if prev <= 0 {
			continue
		}
		relativeDrop := (prev - next) / prev
		if relativeDrop >= p.opts.DropRatio || (next < prev && next < p.opts.MinAbsolute) {
			return results[:i]
		}
	}
	return results
}
