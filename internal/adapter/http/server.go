package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/couchcryptid/emissions-equity-map/internal/choropleth"
	"github.com/couchcryptid/emissions-equity-map/internal/config"
	"github.com/couchcryptid/emissions-equity-map/internal/dataset"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"github.com/couchcryptid/emissions-equity-map/internal/pipeline"
	"github.com/couchcryptid/emissions-equity-map/internal/readiness"
	"github.com/couchcryptid/emissions-equity-map/internal/render"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TileCache is a cache of tiles fetched from a remote tile server.
type TileCache interface {
	Purge()
}

// Deps are the components the API serves from.
type Deps struct {
	Loader    *pipeline.Loader
	Store     *dataset.Store
	Memory    *choropleth.MemoryTarget
	Tiles     *tiles.Source
	Readiness *readiness.Coordinator
	Legend    *render.LegendRenderer
	Palette   domain.Palette
	Metrics   *observability.Metrics
	// RemoteTiles reports whether tiles come from a remote tile server.
	RemoteTiles bool
	// TileCache is purged along with the response cache. It may be nil.
	TileCache TileCache
}

// Server exposes the map API alongside health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	threshold  int
	sessions   *lru.Cache[string, *session]
	responses  *bigcache.BigCache
	logger     *slog.Logger
}

// NewServer creates the HTTP server and its routes.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	sessions, err := lru.New[string, *session](cfg.SessionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	cacheCfg := bigcache.DefaultConfig(10 * time.Minute)
	cacheCfg.Shards = 64
	cacheCfg.MaxEntrySize = 64 * 1024
	cacheCfg.HardMaxCacheSize = cfg.ResponseCacheMB
	cacheCfg.Verbose = false
	responses, err := bigcache.New(context.Background(), cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("create tile response cache: %w", err)
	}

	s := &Server{
		deps:      deps,
		threshold: cfg.LODZoomThreshold,
		sessions:  sessions,
		responses: responses,
		logger:    logger,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      s.routes(cfg.CORSOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{headerSession, headerStateVersion},
		MaxAge:         300,
	}))

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(s.deps.Loader))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5, "application/json", "application/geo+json"))

		r.Get("/years", s.handleYears)
		r.Post("/years/{year}/load", s.handleLoadYear)
		r.Get("/status", s.handleStatus)

		r.Get("/view", s.handleView)
		r.Get("/filter", s.handleGetFilter)
		r.Put("/filter", s.handleSetFilter)
		r.Route("/clusters/{id}", func(r chi.Router) {
			r.Get("/expansion-zoom", s.handleExpansionZoom)
			r.Get("/children", s.handleChildren)
			r.Get("/leaves", s.handleLeaves)
		})

		r.Get("/regions", s.handleRegions)
		r.Get("/tiles/{z}/{x}/{y}", s.handleTile)
		r.Delete("/tiles/cache", s.handlePurgeTiles)
		r.Get("/color", s.handleColor)
		r.Get("/legend/{scale}.png", s.handleLegend)
		r.Get("/layers", s.handleLayers)
	})
	return r
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline
// and releases the response cache.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if cerr := s.responses.Close(); err == nil {
		err = cerr
	}
	return err
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
