package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/emissions-equity-map/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/emissions-equity-map/internal/adapter/kafka"
	"github.com/couchcryptid/emissions-equity-map/internal/adapter/tileserver"
	"github.com/couchcryptid/emissions-equity-map/internal/catalog"
	"github.com/couchcryptid/emissions-equity-map/internal/choropleth"
	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/config"
	"github.com/couchcryptid/emissions-equity-map/internal/dataset"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"github.com/couchcryptid/emissions-equity-map/internal/pipeline"
	"github.com/couchcryptid/emissions-equity-map/internal/readiness"
	"github.com/couchcryptid/emissions-equity-map/internal/render"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	logger.Info("catalog loaded", "path", cfg.CatalogPath, "years", cat.Years(), "default_year", cat.DefaultYear)

	store := dataset.NewStore()
	palette := domain.DefaultPalette

	// Tiled backend: boundaries from a remote tile server when configured,
	// otherwise cut from the loaded boundary generation.
	var fetcher tiles.Fetcher = tiles.NewLocalFetcher(store)
	var tileCache httpadapter.TileCache
	if cfg.RemoteTiles() {
		cached, err := tileserver.NewCachedFetcher(tileserver.NewClient(cfg, logger, metrics), cfg.TileCacheSize, metrics)
		if err != nil {
			logger.Error("failed to create tile cache", "error", err)
			os.Exit(1)
		}
		fetcher = cached
		tileCache = cached
		logger.Info("remote tile server enabled", "template", cfg.TileURLTemplate, "cache_size", cfg.TileCacheSize)
	} else {
		logger.Info("serving tiles from local boundaries")
	}

	var publisher *kafkaadapter.StatePublisher
	var sink tiles.StateSink
	if cfg.StatePublishing() {
		publisher = kafkaadapter.NewStatePublisher(cfg, logger, metrics)
		sink = publisher
		logger.Info("feature-state publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaStateTopic)
	}

	source := tiles.NewSource(fetcher, palette, sink, logger)
	coordinator := readiness.New(source, readiness.Options{
		MaxRetries:   cfg.ReadinessMaxRetries,
		Interval:     cfg.ReadinessInterval,
		ProbeTimeout: cfg.ReadinessProbeTimeout,
		Observer:     metrics,
	}, logger)
	engine := choropleth.NewEngine(coordinator, logger, metrics)
	memory := choropleth.NewMemoryTarget(store, palette)

	loader := pipeline.New(cat, pipeline.DirSource{Dir: cat.Dir()}, store, engine, pipeline.Options{
		Cluster: cluster.Options{
			Radius:    cfg.ClusterRadius,
			Extent:    cfg.ClusterExtent,
			MinZoom:   cfg.ClusterMinZoom,
			MaxZoom:   cfg.ClusterMaxZoom,
			MinPoints: cfg.ClusterMinPoints,
			NodeSize:  cluster.DefaultOptions().NodeSize,
		},
		KeyProperty: cfg.TileKeyProperty,
		Targets:     []choropleth.Target{memory, source},
	}, logger, metrics)

	srv, err := httpadapter.NewServer(cfg, httpadapter.Deps{
		Loader:      loader,
		Store:       store,
		Memory:      memory,
		Tiles:       source,
		Readiness:   coordinator,
		Legend:      render.NewLegendRenderer(palette),
		Palette:     palette,
		Metrics:     metrics,
		RemoteTiles: cfg.RemoteTiles(),
		TileCache:   tileCache,
	}, logger)
	if err != nil {
		logger.Error("failed to create http server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Bootstrap the default year. The server stays up on failure so another
	// year can be loaded through the API.
	go func() {
		sum, err := loader.LoadYear(ctx, cfg.DefaultYear)
		if err != nil {
			logger.Error("initial load failed", "year", cfg.DefaultYear, "error", err)
			return
		}
		logger.Info("initial load complete", "year", sum.Year,
			"facilities", sum.Facilities.Accepted, "ranks", sum.Ranks.Accepted, "regions", sum.Regions)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	coordinator.Close()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
