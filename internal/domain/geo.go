package domain

import (
	"math"

	"github.com/twpayne/go-geom"
)

// BBox is a geographic bounding box in degrees. West may exceed East when the
// box crosses the antimeridian.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// World covers every valid coordinate.
var World = BBox{West: -180, South: -90, East: 180, North: 90}

// Valid reports whether the box has finite edges and South is not above North.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.West, b.South, b.East, b.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.South <= b.North
}

// Intersects reports whether two non-wrapping boxes overlap.
func (b BBox) Intersects(o BBox) bool {
	return b.West <= o.East && o.West <= b.East && b.South <= o.North && o.South <= b.North
}

// BoundsOf returns the bounding box of a geometry, or false for empty geometries.
func BoundsOf(g geom.T) (BBox, bool) {
	if g == nil || len(g.FlatCoords()) == 0 {
		return BBox{}, false
	}
	b := g.Bounds()
	return BBox{West: b.Min(0), South: b.Min(1), East: b.Max(0), North: b.Max(1)}, true
}

// Viewport is what a map client currently shows.
type Viewport struct {
	Bounds BBox    `json:"bounds"`
	Zoom   float64 `json:"zoom"`
}

// Region is one boundary polygon keyed by its geographic identifier.
type Region struct {
	Key        string
	Geometry   geom.T
	Properties map[string]any
}
