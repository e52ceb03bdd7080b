package tiles

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

// MaxZoom is the deepest tile zoom accepted.
const MaxZoom = 24

// ErrInvalidTile is returned for coordinates outside the tile pyramid.
var ErrInvalidTile = errors.New("invalid tile coordinates")

// TileID addresses one XYZ web-mercator tile.
type TileID struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Validate checks that the tile exists at its zoom.
func (t TileID) Validate() error {
	if t.Z < 0 || t.Z > MaxZoom {
		return fmt.Errorf("%w: zoom %d", ErrInvalidTile, t.Z)
	}
	n := 1 << t.Z
	if t.X < 0 || t.X >= n || t.Y < 0 || t.Y >= n {
		return fmt.Errorf("%w: %s", ErrInvalidTile, t)
	}
	return nil
}

// Bounds returns the geographic extent of the tile.
func (t TileID) Bounds() domain.BBox {
	n := math.Exp2(float64(t.Z))
	return domain.BBox{
		West:  float64(t.X)/n*360 - 180,
		East:  float64(t.X+1)/n*360 - 180,
		North: tileLat(float64(t.Y), n),
		South: tileLat(float64(t.Y+1), n),
	}
}

func tileLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180 / math.Pi
}
