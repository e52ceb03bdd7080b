package lod_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/lod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

// strictSurface fails the test whenever both layers would be populated.
type strictSurface struct {
	t        *testing.T
	points   []domain.FacilityPoint
	clusters []cluster.Feature
	calls    []string
}

func (s *strictSurface) ShowPoints(points []domain.FacilityPoint) {
	s.calls = append(s.calls, "show-points")
	assert.Empty(s.t, s.clusters, "raw layer populated while cluster layer is populated")
	s.points = points
}

func (s *strictSurface) ClearPoints() {
	s.calls = append(s.calls, "clear-points")
	s.points = nil
}

func (s *strictSurface) ShowClusters(features []cluster.Feature) {
	s.calls = append(s.calls, "show-clusters")
	assert.Empty(s.t, s.points, "cluster layer populated while raw layer is populated")
	s.clusters = features
}

func (s *strictSurface) ClearClusters() {
	s.calls = append(s.calls, "clear-clusters")
	s.clusters = nil
}

type indexSource struct {
	points []domain.FacilityPoint
	index  *cluster.Index
	zooms  []int
}

func newIndexSource(points []domain.FacilityPoint) *indexSource {
	return &indexSource{points: points, index: cluster.New(points, cluster.DefaultOptions())}
}

func (s *indexSource) Points() []domain.FacilityPoint { return s.points }

func (s *indexSource) Clusters(bbox domain.BBox, zoom int) []cluster.Feature {
	s.zooms = append(s.zooms, zoom)
	return s.index.Clusters(bbox, zoom)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePoints() []domain.FacilityPoint {
	return []domain.FacilityPoint{
		{ID: "a", Lat: 30.0, Lng: -90.0},
		{ID: "b", Lat: 30.0, Lng: -90.05},
		{ID: "c", Lat: 30.05, Lng: -90.0},
		{ID: "d", Lat: 41.0, Lng: -74.0},
	}
}

// --- tests ---

func TestController_ThresholdBoundary(t *testing.T) {
	surface := &strictSurface{t: t}
	src := newIndexSource(samplePoints())
	c := lod.NewController(10, surface, discardLogger())
	bounds := domain.BBox{West: -100, South: 20, East: -60, North: 50}

	mode := c.Update(src, domain.Viewport{Bounds: bounds, Zoom: 9})
	assert.Equal(t, lod.ModeClustered, mode)
	assert.Empty(t, surface.points)
	require.NotEmpty(t, surface.clusters)

	mode = c.Update(src, domain.Viewport{Bounds: bounds, Zoom: 10})
	assert.Equal(t, lod.ModeRaw, mode)
	assert.Empty(t, surface.clusters)
	assert.Len(t, surface.points, 4)
	assert.Equal(t, lod.ModeRaw, c.Mode())
}

func TestController_ClearsBeforePopulating(t *testing.T) {
	surface := &strictSurface{t: t}
	src := newIndexSource(samplePoints())
	c := lod.NewController(10, surface, discardLogger())

	c.Update(src, domain.Viewport{Bounds: domain.World, Zoom: 12})
	c.Update(src, domain.Viewport{Bounds: domain.World, Zoom: 4})

	assert.Equal(t, []string{"clear-clusters", "show-points", "clear-points", "show-clusters"}, surface.calls)
}

func TestController_PanRequeriesIndex(t *testing.T) {
	surface := &strictSurface{t: t}
	src := newIndexSource(samplePoints())
	c := lod.NewController(10, surface, discardLogger())

	c.Update(src, domain.Viewport{Bounds: domain.BBox{West: -100, South: 20, East: -80, North: 40}, Zoom: 5.7})
	require.Len(t, surface.clusters, 1)
	assert.Equal(t, 3, surface.clusters[0].Count)

	c.Update(src, domain.Viewport{Bounds: domain.BBox{West: -80, South: 35, East: -70, North: 45}, Zoom: 5.2})
	require.Len(t, surface.clusters, 1)
	assert.Equal(t, "d", surface.clusters[0].Point.ID)

	assert.Equal(t, []int{5, 5}, src.zooms, "fractional zoom is floored for index queries")
}

func TestController_NilSourceClearsBothLayers(t *testing.T) {
	surface := &strictSurface{t: t}
	c := lod.NewController(10, surface, discardLogger())

	c.Update(newIndexSource(samplePoints()), domain.Viewport{Bounds: domain.World, Zoom: 11})
	require.NotEmpty(t, surface.points)

	mode := c.Update(nil, domain.Viewport{Bounds: domain.World, Zoom: 11})
	assert.Equal(t, lod.ModeNone, mode)
	assert.Empty(t, surface.points)
	assert.Empty(t, surface.clusters)
}

func TestController_DefaultThreshold(t *testing.T) {
	c := lod.NewController(0, &lod.Frame{}, discardLogger())
	assert.Equal(t, lod.DefaultThreshold, c.Threshold())
	assert.Equal(t, lod.ModeClustered, c.ModeFor(lod.DefaultThreshold-1))
	assert.Equal(t, lod.ModeRaw, c.ModeFor(lod.DefaultThreshold))
}

func TestFrame_RecordsLayers(t *testing.T) {
	frame := &lod.Frame{}
	c := lod.NewController(10, frame, discardLogger())
	src := newIndexSource(samplePoints())

	c.Update(src, domain.Viewport{Bounds: domain.World, Zoom: 3})
	points, clusters := frame.Layers()
	assert.Nil(t, points)
	assert.NotEmpty(t, clusters)

	c.Update(src, domain.Viewport{Bounds: domain.World, Zoom: 15})
	points, clusters = frame.Layers()
	assert.Len(t, points, 4)
	assert.Nil(t, clusters)
}

func TestFrame_SurfaceMethods(t *testing.T) {
	var surface lod.Surface = &lod.Frame{}
	frame := surface.(*lod.Frame)

	surface.ShowPoints(samplePoints())
	surface.ShowClusters([]cluster.Feature{{}})
	points, clusters := frame.Layers()
	assert.Len(t, points, len(samplePoints()))
	assert.Len(t, clusters, 1)

	surface.ClearPoints()
	points, clusters = frame.Layers()
	assert.Nil(t, points)
	assert.Len(t, clusters, 1, "clearing one layer leaves the other")

	surface.ClearClusters()
	_, clusters = frame.Layers()
	assert.Nil(t, clusters)
}
