// Package lod switches a map between raw facility points and clustered
// aggregates depending on zoom.
package lod

import (
	"log/slog"
	"math"
	"sync"

	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

// DefaultThreshold is the zoom at and above which raw points are shown.
const DefaultThreshold = 10

// Mode is the level of detail currently rendered.
type Mode int

const (
	ModeNone Mode = iota
	ModeClustered
	ModeRaw
)

func (m Mode) String() string {
	switch m {
	case ModeClustered:
		return "clustered"
	case ModeRaw:
		return "raw"
	default:
		return "none"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Surface is the render target with one raw point layer and one aggregate layer.
type Surface interface {
	ShowPoints(points []domain.FacilityPoint)
	ClearPoints()
	ShowClusters(features []cluster.Feature)
	ClearClusters()
}

// PointSource is the currently loaded, filtered facility generation.
type PointSource interface {
	Points() []domain.FacilityPoint
	Clusters(bbox domain.BBox, zoom int) []cluster.Feature
}

// Controller decides per viewport change which layer is populated.
type Controller struct {
	threshold int
	surface   Surface
	logger    *slog.Logger

	mu   sync.Mutex
	mode Mode
}

// NewController creates a controller drawing onto surface. A non-positive
// threshold uses DefaultThreshold.
func NewController(threshold int, surface Surface, logger *slog.Logger) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{threshold: threshold, surface: surface, logger: logger}
}

// Threshold returns the zoom at which the controller switches to raw points.
func (c *Controller) Threshold() int { return c.threshold }

// Mode returns the mode chosen by the last update.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ModeFor returns the mode used at zoom.
func (c *Controller) ModeFor(zoom float64) Mode {
	if zoom >= float64(c.threshold) {
		return ModeRaw
	}
	return ModeClustered
}

// Update handles a zoom or pan. The layer being vacated is cleared before the
// other is populated so the two are never populated together. A nil source
// clears both layers.
func (c *Controller) Update(src PointSource, vp domain.Viewport) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if src == nil {
		c.surface.ClearPoints()
		c.surface.ClearClusters()
		c.mode = ModeNone
		return c.mode
	}

	next := c.ModeFor(vp.Zoom)
	if next != c.mode {
		c.logger.Debug("level of detail changed", "from", c.mode, "to", next, "zoom", vp.Zoom)
	}

	switch next {
	case ModeRaw:
		c.surface.ClearClusters()
		c.surface.ShowPoints(src.Points())
	default:
		c.surface.ClearPoints()
		c.surface.ShowClusters(src.Clusters(vp.Bounds, int(math.Floor(vp.Zoom))))
	}
	c.mode = next
	return next
}
