// Package tileserver fetches boundary tiles from a remote GeoJSON tile server.
package tileserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/config"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	"github.com/twpayne/go-geom/encoding/geojson"
	"golang.org/x/time/rate"
)

// Client implements tiles.Fetcher against a {z}/{x}/{y} URL template.
type Client struct {
	template    string
	probeURL    string
	keyProperty string
	httpClient  *http.Client
	limiter     *rate.Limiter
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewClient creates a tile server client from the tile settings in cfg.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	burst := int(cfg.TileFetchRPS)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		template:    cfg.TileURLTemplate,
		probeURL:    cfg.TileProbeURL,
		keyProperty: cfg.TileKeyProperty,
		httpClient: &http.Client{
			Timeout: cfg.TileFetchTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.TileFetchRPS), burst),
		metrics: metrics,
		logger:  logger,
	}
}

// TileURL expands the template for id.
func (c *Client) TileURL(id tiles.TileID) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(id.Z),
		"{x}", strconv.Itoa(id.X),
		"{y}", strconv.Itoa(id.Y),
	).Replace(c.template)
}

// FetchTile downloads one tile and returns its keyed polygons. A tile the
// server does not have (404 or 204) is empty, not an error.
func (c *Client) FetchTile(ctx context.Context, id tiles.TileID) ([]domain.Region, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit tile %s: %w", id, err)
	}

	start := time.Now()
	defer func() { c.metrics.TileFetchDuration.Observe(time.Since(start).Seconds()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TileURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile %s request: %w", id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tile server error: tile %s: status %d: %s", id, resp.StatusCode, body)
	}

	var fc geojson.FeatureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", id, err)
	}
	regions := boundary.RegionsFromFeatures(fc.Features, c.keyProperty)
	c.logger.Debug("tile fetched", "tile", id.String(), "features", len(fc.Features), "regions", len(regions))
	return regions, nil
}

// Available probes the configured probe URL, or tile 0/0/0 when none is set.
// Any 2xx or 3xx response counts as available.
func (c *Client) Available(ctx context.Context) error {
	u := c.probeURL
	if u == "" {
		u = c.TileURL(tiles.TileID{})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe tile server: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("probe tile server: status %d", resp.StatusCode)
	}
	return nil
}
