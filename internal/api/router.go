package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/api/handlers"
	mw "github.com/cibfe/cibfe/internal/api/middleware"
	"github.com/cibfe/cibfe/internal/config"
	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/service"
)

// Deps carries the backend stores and injected capabilities the router
// composes into services. The composition root (cmd/server) decides which
// backend and providers to pass.
type Deps struct {
	Config        config.SystemConfig
	Logger        *zap.Logger
	Memories      domain.MemoryStore
	Beliefs       domain.BeliefStore
	Relationships domain.RelationshipStore
	Categorizer   domain.Categorizer
	Embedder      domain.EmbeddingProvider
	Extractor     domain.BeliefExtractionProvider
	Clock         domain.Clock
	IDGen         domain.IdGenerator
}

// App holds the router and the composed services.
type App struct {
	Router   *chi.Mux
	Ingest   *service.IngestionService
	Analyzer *service.BeliefAnalyzer
	Graph    *service.GraphService

	startTime time.Time
}

func NewApp(d Deps) *App {
	graphSvc := service.NewGraphService(d.Relationships, d.Beliefs, d.Clock, d.IDGen, d.Logger)

	var analyzer *service.BeliefAnalyzer
	if d.Extractor != nil {
		analyzer = service.NewBeliefAnalyzer(d.Extractor, d.Beliefs, graphSvc, d.Config, d.Clock, d.IDGen, d.Logger)
	}
	ingestSvc := service.NewIngestionService(d.Config, d.Categorizer, d.Embedder, d.Memories, analyzer, d.Clock, d.Logger)

	ingestHandler := handlers.NewIngestHandler(ingestSvc)
	memoryHandler := handlers.NewMemoryHandler(d.Memories, d.Embedder)
	beliefHandler := handlers.NewBeliefHandler(d.Beliefs)
	graphHandler := handlers.NewGraphHandler(graphSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Ingest:    ingestSvc,
		Analyzer:  analyzer,
		Graph:     graphSvc,
		startTime: time.Now(),
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logging(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", app.healthHandler())

	r.Route("/v1", func(r chi.Router) {
		// Ingestion
		r.Post("/ingest", ingestHandler.Ingest)
		r.Post("/ingest/dry-run", ingestHandler.DryRun)

		// Memories
		r.Route("/memories", func(r chi.Router) {
			r.Post("/search", memoryHandler.Search)
			r.Post("/delete", memoryHandler.DeleteMany)
			r.Get("/stats", memoryHandler.Stats)
			r.Get("/older-than", memoryHandler.OlderThan)
			r.Get("/category/{category}", memoryHandler.InCategory)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memoryHandler.Get)
				r.Delete("/", memoryHandler.Delete)
			})
		})

		// Beliefs
		r.Route("/beliefs/{beliefID}", func(r chi.Router) {
			r.Get("/", beliefHandler.Get)
			r.Post("/deactivate", beliefHandler.Deactivate)
			r.Post("/reactivate", beliefHandler.Reactivate)
			r.Get("/outgoing", graphHandler.Outgoing)
			r.Get("/incoming", graphHandler.Incoming)
			r.Get("/related", graphHandler.Related)
			r.Get("/deprecation-chain", graphHandler.DeprecationChain)
		})

		// Relationships
		r.Route("/relationships", func(r chi.Router) {
			r.Post("/", graphHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", graphHandler.Get)
				r.Patch("/", graphHandler.Update)
				r.Delete("/", graphHandler.Delete)
				r.Post("/deactivate", graphHandler.Deactivate)
				r.Post("/reactivate", graphHandler.Reactivate)
			})
		})

		// Per-agent reads
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/memories", memoryHandler.ForAgent)
			r.Get("/beliefs", beliefHandler.ForAgent)
			r.Get("/beliefs/search", beliefHandler.Search)
			r.Get("/conflicts", beliefHandler.Conflicts)
			r.Get("/graph", graphHandler.Snapshot)
			r.Get("/graph/export", graphHandler.Export)
			r.Get("/graph/validate", graphHandler.Validate)
			r.Get("/graph/clusters", graphHandler.Clusters)
			r.Get("/graph/shortest-path", graphHandler.ShortestPath)
		})
	})

	return app
}

func (a *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
