package tileserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/config"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	contentTypeGeoJSON = "application/geo+json"
	headerContentType  = "Content-Type"
)

const tileBody = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"GEOID":"010010201001","NAME":"BG 1"},"geometry":{"type":"Polygon","coordinates":[[[-86.5,32.4],[-86.4,32.4],[-86.4,32.5],[-86.5,32.5],[-86.5,32.4]]]}},
{"type":"Feature","properties":{"GEOID":"010010201002"},"geometry":{"type":"Point","coordinates":[-86.4,32.4]}}
]}`

func testClient(template string) *Client {
	return &Client{
		template:    template,
		keyProperty: "GEOID",
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		limiter:     rate.NewLimiter(rate.Inf, 1),
		metrics:     observability.NewMetricsForTesting(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestNewClient(t *testing.T) {
	cfg := &config.Config{
		TileURLTemplate:  "https://tiles.example.com/{z}/{x}/{y}",
		TileKeyProperty:  "GEOID10",
		TileFetchTimeout: 3 * time.Second,
		TileFetchRPS:     0.5,
	}
	c := NewClient(cfg, slog.Default(), observability.NewMetricsForTesting())
	assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
	assert.Equal(t, "GEOID10", c.keyProperty)
	assert.Equal(t, 1, c.limiter.Burst())
	assert.Equal(t, rate.Limit(0.5), c.limiter.Limit())
}

func TestClient_TileURL(t *testing.T) {
	c := testClient("https://tiles.example.com/bg/{z}/{x}/{y}.geojson?key=abc")
	assert.Equal(t, "https://tiles.example.com/bg/7/33/52.geojson?key=abc", c.TileURL(tiles.TileID{Z: 7, X: 33, Y: 52}))
}

func TestClient_FetchTile_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bg/5/8/12.geojson", r.URL.Path)
		w.Header().Set(headerContentType, contentTypeGeoJSON)
		_, _ = io.WriteString(w, tileBody)
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/bg/{z}/{x}/{y}.geojson")
	regions, err := c.FetchTile(context.Background(), tiles.TileID{Z: 5, X: 8, Y: 12})
	require.NoError(t, err)

	require.Len(t, regions, 1, "point features are not boundaries")
	assert.Equal(t, "010010201001", regions[0].Key)
	assert.Equal(t, "BG 1", regions[0].Properties["NAME"])
}

func TestClient_FetchTile_Missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	regions, err := testClient(srv.URL+"/{z}/{x}/{y}").FetchTile(context.Background(), tiles.TileID{Z: 1})
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestClient_FetchTile_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL+"/{z}/{x}/{y}").FetchTile(context.Background(), tiles.TileID{Z: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "overloaded")
}

func TestClient_FetchTile_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "{not json")
	}))
	defer srv.Close()

	_, err := testClient(srv.URL+"/{z}/{x}/{y}").FetchTile(context.Background(), tiles.TileID{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode tile")
}

func TestClient_FetchTile_InvalidTile(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	_, err := testClient(srv.URL+"/{z}/{x}/{y}").FetchTile(context.Background(), tiles.TileID{Z: 2, X: 4})
	assert.True(t, errors.Is(err, tiles.ErrInvalidTile))
	assert.Zero(t, calls.Load())
}

func TestClient_FetchTile_RateLimitHonorsContext(t *testing.T) {
	c := testClient("http://127.0.0.1:1/{z}/{x}/{y}")
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, c.limiter.Allow(), "drain the only token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.FetchTile(ctx, tiles.TileID{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestClient_Available(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/0/0", r.URL.Path, "probes tile 0/0/0 without a probe URL")
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/{z}/{x}/{y}")
	err := c.Available(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")

	status.Store(http.StatusOK)
	assert.NoError(t, c.Available(context.Background()))
}

func TestClient_AvailableProbeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := testClient(srv.URL + "/{z}/{x}/{y}")
	c.probeURL = srv.URL + "/health"
	assert.NoError(t, c.Available(context.Background()))
}

// --- cache ---

type countingFetcher struct {
	calls   atomic.Int32
	regions []domain.Region
	err     error
}

func (f *countingFetcher) FetchTile(context.Context, tiles.TileID) ([]domain.Region, error) {
	f.calls.Add(1)
	return f.regions, f.err
}

func (f *countingFetcher) Available(context.Context) error { return f.err }

func TestCachedFetcher_CachesNonEmptyTiles(t *testing.T) {
	inner := &countingFetcher{regions: []domain.Region{{Key: "a"}}}
	metrics := observability.NewMetricsForTesting()
	c, err := NewCachedFetcher(inner, 2, metrics)
	require.NoError(t, err)

	ctx := context.Background()
	id := tiles.TileID{Z: 3, X: 1, Y: 2}
	for range 3 {
		regions, err := c.FetchTile(ctx, id)
		require.NoError(t, err)
		assert.Len(t, regions, 1)
	}
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TileCache.WithLabelValues("fetch", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TileCache.WithLabelValues("fetch", "miss")))

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestCachedFetcher_EmptyTilesNotCached(t *testing.T) {
	inner := &countingFetcher{}
	c, err := NewCachedFetcher(inner, 2, observability.NewMetricsForTesting())
	require.NoError(t, err)

	for range 2 {
		_, err := c.FetchTile(context.Background(), tiles.TileID{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Zero(t, c.Len())
}

func TestCachedFetcher_ErrorsNotCached(t *testing.T) {
	inner := &countingFetcher{err: errors.New("boom")}
	c, err := NewCachedFetcher(inner, 2, observability.NewMetricsForTesting())
	require.NoError(t, err)

	_, err = c.FetchTile(context.Background(), tiles.TileID{})
	require.Error(t, err)
	assert.Zero(t, c.Len())
	assert.Error(t, c.Available(context.Background()))
}

func TestNewCachedFetcher_InvalidSize(t *testing.T) {
	_, err := NewCachedFetcher(&countingFetcher{}, 0, observability.NewMetricsForTesting())
	assert.Error(t, err)
}
