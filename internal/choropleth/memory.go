package choropleth

import (
	"math"
	"sync/atomic"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Properties added to each styled feature.
const (
	PropScore  = "score"
	PropBucket = "bucket"
	PropFill   = "fill"
)

// RegionSource supplies the boundary collection currently loaded.
type RegionSource interface {
	Regions() *boundary.Collection
}

// MemoryTarget is the in-memory backend. It holds the bound rank lookup and
// resolves a color per region whenever features are styled.
type MemoryTarget struct {
	regions RegionSource
	palette domain.Palette
	lookup  atomic.Pointer[lookupHolder]
}

type lookupHolder struct{ domain.RankLookup }

// NewMemoryTarget creates a pull target over regions.
func NewMemoryTarget(regions RegionSource, palette domain.Palette) *MemoryTarget {
	return &MemoryTarget{regions: regions, palette: palette}
}

// Discipline implements Target.
func (m *MemoryTarget) Discipline() Discipline { return Pull }

// Bind implements PullTarget.
func (m *MemoryTarget) Bind(lookup domain.RankLookup) {
	m.lookup.Store(&lookupHolder{lookup})
}

// Score returns the joined score for key, or NaN when nothing is joined.
func (m *MemoryTarget) Score(key string, scale domain.Scale) float64 {
	h := m.lookup.Load()
	if h == nil || h.RankLookup == nil {
		return math.NaN()
	}
	rec, ok := h.Lookup(key)
	if !ok {
		return math.NaN()
	}
	return rec.Score(scale)
}

// ColorFor returns the fill color for the region key.
func (m *MemoryTarget) ColorFor(key string, scale domain.Scale) string {
	return m.palette.Color(m.Score(key, scale), scale)
}

// Styled returns every loaded region with score, bucket, and fill properties.
// Regions without a joined rank get the no-data fill and a null score.
func (m *MemoryTarget) Styled(scale domain.Scale) *geojson.FeatureCollection {
	return boundary.EncodeFeatures(m.regions.Regions().Regions(), func(r domain.Region) map[string]any {
		return StyleProperties(m.palette, m.Score(r.Key, scale), scale)
	})
}

// StyleProperties are the properties both backends attach to a rendered feature.
func StyleProperties(p domain.Palette, score float64, scale domain.Scale) map[string]any {
	b := domain.Bin(score, scale)
	props := map[string]any{
		PropBucket: int(b),
		PropFill:   p.Hex(b),
		PropScore:  nil,
	}
	if b != domain.NoData {
		props[PropScore] = score
	}
	return props
}
