package indexer

import (
	"context"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/ZaynJarvis/newtab/internal/arc"
	"github.com/ZaynJarvis/newtab/internal/enrichment"
	"github.com/ZaynJarvis/newtab/internal/metrics"
	"github.com/ZaynJarvis/newtab/internal/storage"
	"github.com/ZaynJarvis/newtab/internal/vectorstore"
)

// Status is the outcome of an index request.
type Status string

const (
	StatusIndexed        Status = "indexed"
	StatusAlreadyIndexed Status = "already_indexed"
	StatusReindexed      Status = "reindexed"
	StatusRejected       Status = "rejected"
)

const (
	minContentChars    = 100
	maxContentChars    = 10000
	embedContentPrefix = 1000
)

// Result reports an index request's outcome.
type Result struct {
	ID      int64  `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ProbeResult answers whether a URL is indexed and still fresh.
type ProbeResult struct {
	Indexed      bool       `json:"indexed"`
	PageID       *int64     `json:"page_id,omitempty"`
	NeedsReindex bool       `json:"needs_reindex"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
}

// PageInput is the raw ingest payload from the extension.
type PageInput struct {
	URL        string
	Title      string
	Content    string
	FaviconURL string
}

// Pipeline orchestrates ingestion: validation, dedup, staleness-based
// refresh, immediate shell persistence, and background enrichment. The
// pipeline owns its background goroutines; Close waits for them.
type Pipeline struct {
	store    *storage.PageDB
	vectors  *vectorstore.VectorStore
	enricher enrichment.Client
	evictor  *arc.Evictor

	staleness  time.Duration
	timeout    time.Duration
	randomProb float64

	// randFloat is swappable so tests can force or silence the
	// probabilistic eviction trigger.
	randFloat func() float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store *storage.PageDB, vectors *vectorstore.VectorStore, enricher enrichment.Client,
	evictor *arc.Evictor, staleness, enrichTimeout time.Duration, randomProb float64) *Pipeline {

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:      store,
		vectors:    vectors,
		enricher:   enricher,
		evictor:    evictor,
		staleness:  staleness,
		timeout:    enrichTimeout,
		randomProb: randomProb,
		randFloat:  rand.Float64,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close stops background work and waits for in-flight enrichment to finish
// or cancel.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// IndexPage ingests one page. The page row is written (and lexically
// searchable) before the function returns; enrichment runs in the
// background and never fails the request.
func (p *Pipeline) IndexPage(in PageInput) (*Result, error) {
	if reason := validate(in); reason != "" {
		return &Result{Status: StatusRejected, Message: reason}, nil
	}

	now := time.Now()
	in.Content = truncate(in.Content, maxContentChars)

	existing, err := p.store.GetByURL(in.URL)
	if err != nil && err != storage.ErrNotFound {
		return nil, err
	}

	// Placeholder rows created by visit tracking have no content and are
	// always treated as stale.
	if existing != nil && existing.Content != "" && now.Sub(existing.LastUpdatedAt) <= p.staleness {
		// Fresh enough; count the visit and leave the indexed content alone.
		if _, err := p.store.BumpVisit(existing.ID, now); err != nil {
			return nil, err
		}
		metrics.PagesIndexedTotal.WithLabelValues(string(StatusAlreadyIndexed)).Inc()
		return &Result{
			ID:      existing.ID,
			Status:  StatusAlreadyIndexed,
			Message: "Page already indexed recently. Visit count updated.",
		}, nil
	}

	page := &storage.Page{
		URL:        in.URL,
		Title:      in.Title,
		Content:    in.Content,
		FaviconURL: in.FaviconURL,
	}
	id, wasNew, err := p.store.UpsertByURL(page, now)
	if err != nil {
		return nil, err
	}

	p.scheduleEnrichment(id, in.Title, in.Content, now)

	status := StatusIndexed
	if !wasNew {
		status = StatusReindexed
	}
	metrics.PagesIndexedTotal.WithLabelValues(string(status)).Inc()
	return &Result{
		ID:      id,
		Status:  status,
		Message: "Page indexed successfully. Enrichment in progress.",
	}, nil
}

// Probe answers from the store only; it never touches the provider.
func (p *Pipeline) Probe(rawURL string) (*ProbeResult, error) {
	page, err := p.store.GetByURL(rawURL)
	if err == storage.ErrNotFound {
		return &ProbeResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	last := page.LastUpdatedAt
	return &ProbeResult{
		Indexed:      true,
		PageID:       &page.ID,
		NeedsReindex: time.Since(last) > p.staleness,
		LastUpdated:  &last,
	}, nil
}

// TrackVisit finds or creates the page row for a URL and bumps its visit
// counters. One call in a hundred also kicks an eviction pass, keeping the
// store pruned without a dedicated scheduler.
func (p *Pipeline) TrackVisit(rawURL string, at time.Time) (int64, *storage.VisitCounters, error) {
	id, err := p.store.FindOrCreateForTracking(rawURL, at)
	if err != nil {
		return 0, nil, err
	}
	counters, err := p.store.BumpVisit(id, at)
	if err != nil {
		return 0, nil, err
	}

	if p.evictor != nil && p.randFloat() < p.randomProb {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if _, err := p.evictor.Run(time.Now()); err != nil {
				slog.Error("random-triggered eviction failed", "error", err, "event", "eviction_failed")
			}
		}()
	}

	return id, counters, nil
}

// scheduleEnrichment runs the two provider calls in the background and
// writes results back, guarded against racing a newer refresh of the row.
// Enrichment results for a row refreshed after scheduledAt are discarded.
func (p *Pipeline) scheduleEnrichment(id int64, title, content string, scheduledAt time.Time) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		defer cancel()

		enriched, err := p.enricher.GenerateKeywordsAndDescription(ctx, title, content)
		if err != nil {
			// Only cancellation lands here; provider failure degrades to
			// placeholders inside the client.
			metrics.EnrichmentTotal.WithLabelValues("keywords", "cancelled").Inc()
			slog.Warn("enrichment cancelled", "page_id", id, "error", err, "event", "enrichment_cancelled")
			return
		}
		applied, err := p.store.UpdateKeywords(id, enriched.Description, enriched.KeywordsCSV(), scheduledAt)
		if err != nil {
			slog.Error("failed to persist enrichment text", "page_id", id, "error", err, "event", "enrichment_persist_failed")
			return
		}
		if !applied {
			slog.Info("discarding stale enrichment text", "page_id", id, "event", "enrichment_stale")
			return
		}
		metrics.EnrichmentTotal.WithLabelValues("keywords", "ok").Inc()

		embedText := title + "\n" + truncate(content, embedContentPrefix)
		embedCtx, embedCancel := context.WithTimeout(p.ctx, p.timeout)
		defer embedCancel()

		vector, err := p.enricher.GenerateEmbedding(embedCtx, embedText)
		if err != nil {
			metrics.EnrichmentTotal.WithLabelValues("embedding", "failed").Inc()
			slog.Warn("embedding generation failed, page stays lexical-only",
				"page_id", id, "error", err, "event", "enrichment_embedding_failed")
			return
		}

		applied, err = p.store.UpdateEmbedding(id, vector, scheduledAt)
		if err != nil {
			slog.Error("failed to persist embedding", "page_id", id, "error", err, "event", "enrichment_persist_failed")
			return
		}
		if !applied {
			slog.Info("discarding stale embedding", "page_id", id, "event", "enrichment_stale")
			return
		}
		if err := p.vectors.Replace(id, vector); err != nil {
			slog.Error("vector index rejected embedding", "page_id", id, "error", err, "event", "vector_add_failed")
			return
		}
		metrics.EnrichmentTotal.WithLabelValues("embedding", "ok").Inc()
		metrics.VectorCount.Set(float64(p.vectors.Size()))
	}()
}

// WaitForEnrichment blocks until all scheduled background work has
// finished. Intended for tests and graceful shutdown.
func (p *Pipeline) WaitForEnrichment() {
	p.wg.Wait()
}

func validate(in PageInput) string {
	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "url must be a valid http(s) URL"
	}
	if len(in.Content) < minContentChars {
		return "content too short to index"
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
