package boundary

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
)

// ReadShapefile loads polygon records from a shapefile (with its .dbf
// sidecar) keyed by the keyProperty attribute, matched case-insensitively.
func ReadShapefile(path, keyProperty string, logger *slog.Logger) (*Collection, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer func() { _ = reader.Close() }()

	if keyProperty == "" {
		keyProperty = DefaultKeyProperty
	}
	fields := reader.Fields()
	names := make([]string, len(fields))
	keyIdx := -1
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(names[i], keyProperty) {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("shapefile %s: key attribute %q: %w", path, keyProperty, domain.ErrMissingColumn)
	}

	var regions []domain.Region
	skipped := 0
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		g := polygonToMultiPolygon(poly)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]any, len(names))
		for i, name := range names {
			props[name] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		regions = append(regions, domain.Region{
			Key:        props[names[keyIdx]].(string),
			Geometry:   g,
			Properties: props,
		})
	}

	if skipped > 0 && logger != nil {
		logger.Debug("skipped shapefile records", "path", path, "skipped", skipped)
	}

	c := NewCollection(regions)
	if c.Len() == 0 {
		return nil, fmt.Errorf("shapefile %s: %w", path, ErrNoRegions)
	}
	return c, nil
}

// polygonToMultiPolygon turns each shapefile part into one polygon ring.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
