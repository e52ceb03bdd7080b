package boundary

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// DecodeGeoJSON reads a FeatureCollection and keys each polygon feature by
// keyProperty, falling back to the feature id. Non-polygonal features are
// skipped.
func DecodeGeoJSON(r io.Reader, keyProperty string) (*Collection, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	regions := RegionsFromFeatures(fc.Features, keyProperty)
	c := NewCollection(regions)
	if c.Len() == 0 {
		return nil, fmt.Errorf("geojson with %d features: %w", len(fc.Features), ErrNoRegions)
	}
	return c, nil
}

// RegionsFromFeatures converts decoded features into regions.
func RegionsFromFeatures(features []*geojson.Feature, keyProperty string) []domain.Region {
	if keyProperty == "" {
		keyProperty = DefaultKeyProperty
	}
	regions := make([]domain.Region, 0, len(features))
	for _, f := range features {
		if f == nil || !polygonal(f.Geometry) {
			continue
		}
		key := KeyOf(f.Properties, keyProperty)
		if key == "" {
			key = strings.TrimSpace(f.ID)
		}
		regions = append(regions, domain.Region{Key: key, Geometry: f.Geometry, Properties: f.Properties})
	}
	return regions
}

func polygonal(g geom.T) bool {
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return true
	default:
		return false
	}
}

// KeyOf extracts a region key from feature properties. Numeric keys are
// formatted without exponent so long GEOIDs survive a JSON number round trip.
func KeyOf(props map[string]any, keyProperty string) string {
	v, ok := props[keyProperty]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// EncodeFeatures renders regions as a FeatureCollection. extra, when non-nil,
// supplies additional properties per region; it may return nil.
func EncodeFeatures(regions []domain.Region, extra func(domain.Region) map[string]any) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(regions))}
	for _, r := range regions {
		props := make(map[string]any, len(r.Properties)+4)
		for k, v := range r.Properties {
			props[k] = v
		}
		if extra != nil {
			for k, v := range extra(r) {
				props[k] = v
			}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         r.Key,
			Geometry:   r.Geometry,
			Properties: props,
		})
	}
	return fc
}
