package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZaynJarvis/newtab/internal/arc"
	"github.com/ZaynJarvis/newtab/internal/enrichment"
	"github.com/ZaynJarvis/newtab/internal/indexer"
	"github.com/ZaynJarvis/newtab/internal/querycache"
	"github.com/ZaynJarvis/newtab/internal/search"
	"github.com/ZaynJarvis/newtab/internal/storage"
	"github.com/ZaynJarvis/newtab/internal/vectorstore"
)

// Server is the HTTP control surface. It validates inputs, maps error
// kinds to status codes, and delegates everything else to the pipelines.
type Server struct {
	pipeline *indexer.Pipeline
	search   *search.Pipeline
	store    *storage.PageDB
	vectors  *vectorstore.VectorStore
	cache    *querycache.Cache
	evictor  *arc.Evictor
	enricher enrichment.Client

	evictionCapacity int

	httpServer *http.Server
}

// Deps collects the wired components the server fronts.
type Deps struct {
	Pipeline *indexer.Pipeline
	Search   *search.Pipeline
	Store    *storage.PageDB
	Vectors  *vectorstore.VectorStore
	Cache    *querycache.Cache
	Evictor  *arc.Evictor
	Enricher enrichment.Client

	EvictionCapacity int
}

func New(addr string, deps Deps) *Server {
	s := &Server{
		pipeline:         deps.Pipeline,
		search:           deps.Search,
		store:            deps.Store,
		vectors:          deps.Vectors,
		cache:            deps.Cache,
		evictor:          deps.Evictor,
		enricher:         deps.Enricher,
		evictionCapacity: deps.EvictionCapacity,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Logging)
	r.Use(Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/index", s.handleIndexPage)
		r.Get("/probe", s.handleProbe)
		r.Get("/search", s.handleSearch)
		r.Post("/track-visit", s.handleTrackVisit)

		r.Get("/pages", s.handleListPages)
		r.Get("/pages/{id}", s.handleGetPage)
		r.Delete("/pages/{id}", s.handleDeletePage)

		r.Get("/stats", s.handleStats)
		r.Get("/health", s.handleHealth)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Get("/top", s.handleCacheTop)
			r.Post("/clear", s.handleCacheClear)
			r.Post("/cleanup", s.handleCacheCleanup)
		})

		r.Route("/eviction", func(r chi.Router) {
			r.Get("/preview", s.handleEvictionPreview)
			r.Post("/run", s.handleEvictionRun)
			r.Get("/stats", s.handleEvictionStats)
		})

		r.Get("/analytics/top-visited", s.handleTopVisited)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
