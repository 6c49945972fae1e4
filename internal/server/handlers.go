package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ZaynJarvis/newtab/internal/arc"
	"github.com/ZaynJarvis/newtab/internal/indexer"
	"github.com/ZaynJarvis/newtab/internal/storage"
)

type indexRequest struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	FaviconURL string `json:"favicon_url"`
}

type trackVisitRequest struct {
	URL string `json:"url"`
}

type trackVisitResponse struct {
	PageID     int64   `json:"page_id"`
	VisitCount int64   `json:"visit_count"`
	ARCScore   float64 `json:"arc_score"`
}

// pageResponse is the wire form of a page. The embedding is omitted; it is
// large and the client has no use for it.
type pageResponse struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Keywords      string     `json:"keywords"`
	Content       string     `json:"content,omitempty"`
	FaviconURL    string     `json:"favicon_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	VisitCount    int64      `json:"visit_count"`
	FirstVisited  *time.Time `json:"first_visited,omitempty"`
	LastVisited   *time.Time `json:"last_visited,omitempty"`
	IndexedAt     *time.Time `json:"indexed_at,omitempty"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
	AccessFreq    float64    `json:"access_frequency"`
	RecencyScore  float64    `json:"recency_score"`
	ARCScore      float64    `json:"arc_score"`
	HasEmbedding  bool       `json:"has_embedding"`
}

type searchResultMetadata struct {
	VectorScore  float64 `json:"vector_score"`
	KeywordScore float64 `json:"keyword_score"`
	AccessCount  int64   `json:"access_count"`
	FinalScore   float64 `json:"final_score"`
}

type searchResult struct {
	ID             int64                `json:"id"`
	URL            string               `json:"url"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	Keywords       string               `json:"keywords"`
	FaviconURL     string               `json:"favicon_url,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	RelevanceScore float64              `json:"relevance_score"`
	Metadata       searchResultMetadata `json:"metadata"`
}

type searchResponse struct {
	Results    []searchResult `json:"results"`
	Query      string         `json:"query"`
	TotalFound int            `json:"total_found"`
}

type listPagesResponse struct {
	Pages  []pageResponse `json:"pages"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func toPageResponse(p *storage.Page, includeContent bool) pageResponse {
	resp := pageResponse{
		ID:           p.ID,
		URL:          p.URL,
		Title:        p.Title,
		Description:  p.Description,
		Keywords:     p.Keywords,
		FaviconURL:   p.FaviconURL,
		CreatedAt:    p.CreatedAt,
		VisitCount:   p.VisitCount,
		AccessFreq:   p.AccessFreq,
		RecencyScore: p.RecencyScore,
		ARCScore:     p.ARCScore,
		HasEmbedding: len(p.Embedding) > 0,
	}
	if includeContent {
		resp.Content = p.Content
	}
	if !p.FirstVisited.IsZero() {
		t := p.FirstVisited
		resp.FirstVisited = &t
	}
	if !p.LastVisited.IsZero() {
		t := p.LastVisited
		resp.LastVisited = &t
	}
	if !p.IndexedAt.IsZero() {
		t := p.IndexedAt
		resp.IndexedAt = &t
	}
	if !p.LastUpdatedAt.IsZero() {
		t := p.LastUpdatedAt
		resp.LastUpdatedAt = &t
	}
	return resp
}

func (s *Server) handleIndexPage(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	result, err := s.pipeline.IndexPage(indexer.PageInput{
		URL:        req.URL,
		Title:      req.Title,
		Content:    req.Content,
		FaviconURL: req.FaviconURL,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "indexing failed: "+err.Error())
		return
	}
	if result.Status == indexer.StatusRejected {
		writeError(w, http.StatusBadRequest, result.Message)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	probe, err := s.pipeline.Probe(url)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "probe failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, probe)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query cannot be empty")
		return
	}

	results, err := s.search.Search(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed: "+err.Error())
		return
	}

	resp := searchResponse{
		Results:    make([]searchResult, 0, len(results)),
		Query:      query,
		TotalFound: len(results),
	}
	for _, res := range results {
		p := res.Page
		resp.Results = append(resp.Results, searchResult{
			ID:             p.ID,
			URL:            p.URL,
			Title:          p.Title,
			Description:    p.Description,
			Keywords:       p.Keywords,
			FaviconURL:     p.FaviconURL,
			CreatedAt:      p.CreatedAt,
			RelevanceScore: res.FinalScore,
			Metadata: searchResultMetadata{
				VectorScore:  res.SemanticScore,
				KeywordScore: res.KeywordScore,
				AccessCount:  p.VisitCount,
				FinalScore:   res.FinalScore,
			},
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrackVisit(w http.ResponseWriter, r *http.Request) {
	var req trackVisitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	id, counters, err := s.pipeline.TrackVisit(req.URL, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "visit tracking failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trackVisitResponse{
		PageID:     id,
		VisitCount: counters.VisitCount,
		ARCScore:   counters.ARCScore,
	})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	page, err := s.store.GetByID(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, true))
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	if offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be non-negative")
		return
	}

	pages, err := s.store.List(offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.store.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := listPagesResponse{
		Pages:  make([]pageResponse, 0, len(pages)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, toPageResponse(p, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := s.store.Delete(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.vectors.Remove(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page_id": id,
		"message": "Page deleted successfully",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"db":     map[string]interface{}{"total_pages": total},
		"vector": s.vectors.GetStats(),
		"cache":  s.cache.Stats(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheTop(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": s.cache.Top(limit),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Query cache cleared"})
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.cache.CleanupExpired()
	writeJSON(w, http.StatusOK, map[string]int{"removed_count": removed})
}

func (s *Server) handleEvictionPreview(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", 10)
	candidates, err := s.evictor.Preview(count, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if candidates == nil {
		candidates = []arc.PageStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

func (s *Server) handleEvictionRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.evictor.Run(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvictionStats(w http.ResponseWriter, r *http.Request) {
	dist, err := s.store.EvictionDistributions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	overLimit := dist.TotalPages - int64(s.evictionCapacity)
	if overLimit < 0 {
		overLimit = 0
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_pages":        dist.TotalPages,
		"max_pages":          s.evictionCapacity,
		"pages_over_limit":   overLimit,
		"eviction_needed":    dist.TotalPages > int64(s.evictionCapacity),
		"visit_distribution": dist.Visit,
		"age_distribution":   dist.Age,
		"arc_distribution":   dist.ARC,
	})
}

func (s *Server) handleTopVisited(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	pages, err := s.store.TopVisited(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]pageResponse, 0, len(pages))
	for _, p := range pages {
		resp = append(resp, toPageResponse(p, false))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pages": resp})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	providerErr := s.enricher.HealthCheck(ctx)
	elapsed := time.Since(start)

	status := "healthy"
	provider := "accessible"
	if providerErr != nil {
		status = "degraded"
		provider = "unreachable"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"provider":         provider,
		"response_time_ms": elapsed.Milliseconds(),
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid page id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
