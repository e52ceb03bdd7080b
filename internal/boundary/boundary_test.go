package boundary_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"GEOID": "220710001001", "NAME": "BG 1"},
     "geometry": {"type": "Polygon", "coordinates": [[[-90.1,29.9],[-90.0,29.9],[-90.0,30.0],[-90.1,30.0],[-90.1,29.9]]]}},
    {"type": "Feature", "properties": {"GEOID": 220710001002},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-90.0,29.9],[-89.9,29.9],[-89.9,30.0],[-90.0,30.0],[-90.0,29.9]]]]}},
    {"type": "Feature", "id": "from-id", "properties": {},
     "geometry": {"type": "Polygon", "coordinates": [[[179.5,10],[179.9,10],[179.9,11],[179.5,11],[179.5,10]]]}},
    {"type": "Feature", "properties": {"GEOID": "point"},
     "geometry": {"type": "Point", "coordinates": [-90.0, 30.0]}}
  ]
}`

func square(key string, west, south, size float64) domain.Region {
	ring := []float64{west, south, west + size, south, west + size, south + size, west, south + size, west, south}
	return domain.Region{Key: key, Geometry: geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})}
}

func TestDecodeGeoJSON(t *testing.T) {
	c, err := boundary.DecodeGeoJSON(strings.NewReader(sampleGeoJSON), "GEOID")
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len(), "the point feature is skipped")
	assert.Equal(t, []string{"220710001001", "220710001002", "from-id"}, c.Keys())

	r, ok := c.Region("220710001002")
	require.True(t, ok, "numeric keys are formatted without exponent")
	assert.IsType(t, &geom.MultiPolygon{}, r.Geometry)

	r, ok = c.Region("220710001001")
	require.True(t, ok)
	assert.Equal(t, "BG 1", r.Properties["NAME"])
}

func TestDecodeGeoJSON_Errors(t *testing.T) {
	_, err := boundary.DecodeGeoJSON(strings.NewReader("{not json"), "GEOID")
	assert.Error(t, err)

	empty := `{"type":"FeatureCollection","features":[]}`
	_, err = boundary.DecodeGeoJSON(strings.NewReader(empty), "GEOID")
	assert.True(t, errors.Is(err, boundary.ErrNoRegions))
}

func TestCollection_Within(t *testing.T) {
	c := boundary.NewCollection([]domain.Region{
		square("a", -90, 30, 1),
		square("b", -80, 30, 1),
		square("east", 179, 10, 0.5),
		square("west", -179.5, 10, 0.5),
	})

	got := c.Within(domain.BBox{West: -91, South: 29, East: -85, North: 32})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Key)

	got = c.Within(domain.BBox{West: 170, South: 0, East: -170, North: 20})
	keys := make([]string, 0, len(got))
	for _, r := range got {
		keys = append(keys, r.Key)
	}
	assert.ElementsMatch(t, []string{"east", "west"}, keys)

	assert.Nil(t, c.Within(domain.BBox{West: 0, South: 10, East: 1, North: 0}))

	extent, ok := c.Extent()
	require.True(t, ok)
	assert.Equal(t, domain.BBox{West: -179.5, South: 10, East: 179.5, North: 31}, extent)
}

func TestNewCollection_SkipsUnkeyedAndKeepsLastDuplicate(t *testing.T) {
	c := boundary.NewCollection([]domain.Region{
		square("", 0, 0, 1),
		square("dup", 0, 0, 1),
		square("dup", 5, 5, 1),
		{Key: "nogeom"},
	})

	assert.Equal(t, 1, c.Len())
	r, ok := c.Region("dup")
	require.True(t, ok)
	b, _ := domain.BoundsOf(r.Geometry)
	assert.Equal(t, 5.0, b.West)

	var nilColl *boundary.Collection
	assert.Zero(t, nilColl.Len())
	_, ok = nilColl.Region("dup")
	assert.False(t, ok)
}

func TestEncodeFeatures(t *testing.T) {
	regions := []domain.Region{square("a", 0, 0, 1)}
	regions[0].Properties = map[string]any{"NAME": "A"}

	fc := boundary.EncodeFeatures(regions, func(r domain.Region) map[string]any {
		return map[string]any{"fill": "#ffffb2"}
	})
	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var decoded struct {
		Features []struct {
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Features, 1)
	assert.Equal(t, "a", decoded.Features[0].ID)
	assert.Equal(t, "A", decoded.Features[0].Properties["NAME"])
	assert.Equal(t, "#ffffb2", decoded.Features[0].Properties["fill"])
	assert.NotContains(t, regions[0].Properties, "fill", "source properties are not modified")
}

func writeShapefile(t *testing.T, path string) {
	t.Helper()
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("GEOID", 12), shp.StringField("NAME", 16)}))

	squares := []struct {
		geoid, name string
		x, y        float64
	}{
		{"220710001001", "first", -90, 30},
		{"220710001002", "second", -89, 30},
	}
	for i, s := range squares {
		pts := []shp.Point{{X: s.x, Y: s.y}, {X: s.x, Y: s.y + 1}, {X: s.x + 1, Y: s.y + 1}, {X: s.x + 1, Y: s.y}, {X: s.x, Y: s.y}}
		poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{pts}))
		w.Write(&poly)
		require.NoError(t, w.WriteAttribute(i, 0, s.geoid))
		require.NoError(t, w.WriteAttribute(i, 1, s.name))
	}
	w.Close()
}

func TestReadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bg.shp")
	writeShapefile(t, path)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := boundary.ReadShapefile(path, "geoid", logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"220710001001", "220710001002"}, c.Keys())

	r, ok := c.Region("220710001002")
	require.True(t, ok)
	assert.Equal(t, "second", r.Properties["NAME"])
	b, ok := domain.BoundsOf(r.Geometry)
	require.True(t, ok)
	assert.Equal(t, domain.BBox{West: -89, South: 30, East: -88, North: 31}, b)

	_, err = boundary.ReadShapefile(path, "TRACTCE", logger)
	assert.True(t, errors.Is(err, domain.ErrMissingColumn))
}
