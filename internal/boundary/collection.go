// Package boundary loads and indexes the polygon boundaries that ranks are
// joined onto.
package boundary

import (
	"errors"
	"sort"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

// DefaultKeyProperty is the feature property holding the region key.
const DefaultKeyProperty = "GEOID"

// ErrNoRegions is returned when a boundary dataset contains no keyed polygons.
var ErrNoRegions = errors.New("no keyed regions")

// Collection is an immutable set of regions with precomputed bounds.
type Collection struct {
	regions []domain.Region
	bounds  []domain.BBox
	byKey   map[string]int
	extent  domain.BBox
}

// NewCollection indexes regions by key. Regions with an empty key or an empty
// geometry are skipped; a repeated key keeps the last region.
func NewCollection(regions []domain.Region) *Collection {
	c := &Collection{byKey: make(map[string]int, len(regions))}
	first := true
	for _, r := range regions {
		if r.Key == "" {
			continue
		}
		b, ok := domain.BoundsOf(r.Geometry)
		if !ok {
			continue
		}
		if i, dup := c.byKey[r.Key]; dup {
			c.regions[i] = r
			c.bounds[i] = b
			continue
		}
		c.byKey[r.Key] = len(c.regions)
		c.regions = append(c.regions, r)
		c.bounds = append(c.bounds, b)
		if first {
			c.extent = b
			first = false
			continue
		}
		c.extent = union(c.extent, b)
	}
	return c
}

func union(a, b domain.BBox) domain.BBox {
	return domain.BBox{
		West:  min(a.West, b.West),
		South: min(a.South, b.South),
		East:  max(a.East, b.East),
		North: max(a.North, b.North),
	}
}

// Len returns the number of regions.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.regions)
}

// Regions returns every region in load order. The slice must not be modified.
func (c *Collection) Regions() []domain.Region {
	if c == nil {
		return nil
	}
	return c.regions
}

// Region returns the region with the given key.
func (c *Collection) Region(key string) (domain.Region, bool) {
	if c == nil {
		return domain.Region{}, false
	}
	i, ok := c.byKey[key]
	if !ok {
		return domain.Region{}, false
	}
	return c.regions[i], true
}

// Keys returns every region key in sorted order.
func (c *Collection) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Extent returns the union of all region bounds.
func (c *Collection) Extent() (domain.BBox, bool) {
	if c.Len() == 0 {
		return domain.BBox{}, false
	}
	return c.extent, true
}

// Within returns regions whose bounds intersect bbox. A box whose West edge
// exceeds its East edge is treated as crossing the antimeridian.
func (c *Collection) Within(bbox domain.BBox) []domain.Region {
	if c.Len() == 0 || !bbox.Valid() {
		return nil
	}
	boxes := []domain.BBox{bbox}
	if bbox.West > bbox.East {
		boxes = []domain.BBox{
			{West: bbox.West, South: bbox.South, East: 180, North: bbox.North},
			{West: -180, South: bbox.South, East: bbox.East, North: bbox.North},
		}
	}

	var out []domain.Region
	for i, b := range c.bounds {
		for _, q := range boxes {
			if b.Intersects(q) {
				out = append(out, c.regions[i])
				break
			}
		}
	}
	return out
}
