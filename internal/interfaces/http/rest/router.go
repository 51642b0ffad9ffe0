// Package rest wires the HTTP surface: health, readiness and metrics
// endpoints plus a thin v1 API over the same services the event transport
// drives.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/interfaces/http/rest/handlers"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/observability"
)

// Router assembles the HTTP handler tree.
type Router struct {
	cfg      config.Server
	indexer  handlers.Indexer
	searcher handlers.Searcher
	catalog  ports.MetadataStore
	graphs   ports.GraphStore
	pingers  map[string]handlers.Pinger
	logger   *zap.Logger
	metrics  *observability.Collector
}

// NewRouter creates a router over the given services and backends. pingers
// feeds the readiness endpoint, keyed by dependency name.
func NewRouter(
	cfg config.Server,
	indexer handlers.Indexer,
	searcher handlers.Searcher,
	catalog ports.MetadataStore,
	graphs ports.GraphStore,
	pingers map[string]handlers.Pinger,
	logger *zap.Logger,
	metrics *observability.Collector,
) *Router {
	return &Router{
		cfg:      cfg,
		indexer:  indexer,
		searcher: searcher,
		catalog:  catalog,
		graphs:   graphs,
		pingers:  pingers,
		logger:   logger.Named("http"),
		metrics:  metrics,
	}
}

// Setup builds the middleware chain and the route table. Recoverer sits
// innermost so a panic is still metered and logged as a 500.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(requestMetrics(rt.metrics))
	router.Use(requestLogger(rt.logger))
	router.Use(chimiddleware.Recoverer)

	if len(rt.cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: rt.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	health := handlers.NewHealthHandler(rt.pingers, rt.logger)
	router.Get("/healthz", health.Healthz)
	router.Get("/readyz", health.Readyz)
	router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/index", handlers.NewIndexHandler(rt.indexer, rt.logger).Index)
		r.Post("/search", handlers.NewSearchHandler(rt.searcher, rt.logger).Search)

		r.Route("/projects/{projectName}", func(r chi.Router) {
			projects := handlers.NewProjectHandler(rt.catalog, rt.graphs, rt.logger)
			r.Get("/documents", projects.ListDocuments)
			r.Get("/documents/*", projects.GetDocument)
			r.Delete("/", projects.DropProject)
		})
	})

	return router
}
