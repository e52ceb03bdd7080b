package cluster_test

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func facility(id string, lat, lng float64) domain.FacilityPoint {
	return domain.FacilityPoint{ID: id, Lat: lat, Lng: lng, Emissions: 1, Risk: domain.RiskLow}
}

// tightTriple is three facilities a few pixels apart at zoom 5.
func tightTriple() []domain.FacilityPoint {
	return []domain.FacilityPoint{
		facility("a", 30.0, -90.0),
		facility("b", 30.0, -90.05),
		facility("c", 30.05, -90.0),
	}
}

func testOptions() cluster.Options {
	opts := cluster.DefaultOptions()
	opts.MinPoints = 2
	return opts
}

func totalCount(features []cluster.Feature) int {
	n := 0
	for _, f := range features {
		n += f.Count
	}
	return n
}

func TestClusters_TightPointsMergeBelowThreshold(t *testing.T) {
	ix := cluster.New(tightTriple(), testOptions())
	bbox := domain.BBox{West: -91, South: 29, East: -89, North: 31}

	features := ix.Clusters(bbox, 5)
	require.Len(t, features, 1)
	assert.True(t, features[0].Cluster)
	assert.Equal(t, 3, features[0].Count)
	assert.InDelta(t, 30.0167, features[0].Lat, 0.01)
	assert.InDelta(t, -90.0167, features[0].Lng, 0.01)
	assert.Equal(t, 3.0, features[0].Emissions)
	assert.Equal(t, 3, features[0].Risks[domain.RiskLow])

	features = ix.Clusters(bbox, 14)
	require.Len(t, features, 3)
	ids := make([]string, 0, len(features))
	for _, f := range features {
		assert.False(t, f.Cluster)
		assert.Equal(t, 1, f.Count)
		require.NotNil(t, f.Point)
		ids = append(ids, f.Point.ID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestClusters_SeparatedPointsNeverMerge(t *testing.T) {
	var points []domain.FacilityPoint
	for lat := -40.0; lat <= 40; lat += 5 {
		for lng := -120.0; lng <= -60; lng += 5 {
			points = append(points, facility(fmt.Sprintf("%v,%v", lat, lng), lat, lng))
		}
	}
	ix := cluster.New(points, testOptions())

	for _, zoom := range []int{5, 8, 12, 15} {
		features := ix.Clusters(domain.World, zoom)
		assert.Len(t, features, len(points), "zoom %d", zoom)
		for _, f := range features {
			assert.False(t, f.Cluster, "zoom %d", zoom)
		}
	}
}

func TestClusters_MinPointsKeepsSmallGroupsApart(t *testing.T) {
	opts := testOptions()
	opts.MinPoints = 4
	ix := cluster.New(tightTriple(), opts)

	features := ix.Clusters(domain.World, 3)
	assert.Len(t, features, 3)
	for _, f := range features {
		assert.False(t, f.Cluster)
	}
}

func TestClusters_CountIsConservedAtEveryZoom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	points := make([]domain.FacilityPoint, 2000)
	for i := range points {
		points[i] = facility(fmt.Sprint(i), 25+rng.Float64()*24, -124+rng.Float64()*57)
	}
	ix := cluster.New(points, testOptions())

	for zoom := 0; zoom <= 16; zoom++ {
		assert.Equal(t, len(points), totalCount(ix.Clusters(domain.World, zoom)), "zoom %d", zoom)
	}
}

func TestClusters_BBoxFiltersAndCrossesAntimeridian(t *testing.T) {
	points := []domain.FacilityPoint{
		facility("east", 10, 179.5),
		facility("west", 10, -179.5),
		facility("far", 10, 0),
	}
	ix := cluster.New(points, testOptions())

	features := ix.Clusters(domain.BBox{West: 170, South: 0, East: -170, North: 20}, 15)
	got := make([]string, 0, len(features))
	for _, f := range features {
		got = append(got, f.Point.ID)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"east", "west"}, got)

	assert.Empty(t, ix.Clusters(domain.BBox{West: 10, South: 0, East: 20, North: 20}, 15))
	assert.Nil(t, ix.Clusters(domain.BBox{West: 0, South: 10, East: 1, North: 0}, 15))
}

func TestExpansionZoom(t *testing.T) {
	ix := cluster.New(tightTriple(), testOptions())
	bbox := domain.BBox{West: -91, South: 29, East: -89, North: 31}

	features := ix.Clusters(bbox, 2)
	require.Len(t, features, 1)
	c := features[0]
	require.True(t, c.Cluster)

	z, err := ix.ExpansionZoom(c.ClusterID)
	require.NoError(t, err)
	assert.Equal(t, z, c.ExpansionZoom)
	assert.Greater(t, z, 2)

	assert.Len(t, ix.Clusters(bbox, z-1), 1)
	assert.Greater(t, len(ix.Clusters(bbox, z)), 1)
}

func TestChildren(t *testing.T) {
	ix := cluster.New(tightTriple(), testOptions())
	features := ix.Clusters(domain.World, 0)
	require.Len(t, features, 1)

	children, err := ix.Children(features[0].ClusterID)
	require.NoError(t, err)
	assert.Equal(t, 3, totalCount(children))
}

func TestLeaves(t *testing.T) {
	ix := cluster.New(tightTriple(), testOptions())
	features := ix.Clusters(domain.World, 0)
	require.Len(t, features, 1)
	id := features[0].ClusterID

	all, err := ix.Leaves(id, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	page, err := ix.Leaves(id, 2, 1)
	require.NoError(t, err)
	if diff := cmp.Diff(all[1:3], page); diff != "" {
		t.Errorf("leaves page mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownClusterID(t *testing.T) {
	ix := cluster.New(tightTriple(), testOptions())

	for _, id := range []int{-1, 0, 2, 1 << 20} {
		_, err := ix.ExpansionZoom(id)
		assert.True(t, errors.Is(err, cluster.ErrClusterNotFound), "id %d", id)
		_, err = ix.Children(id)
		assert.True(t, errors.Is(err, cluster.ErrClusterNotFound), "id %d", id)
	}
}

func TestNew_EmptyAndInvalidOptions(t *testing.T) {
	ix := cluster.New(nil, cluster.Options{})
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, cluster.DefaultOptions(), ix.Options())
	assert.Empty(t, ix.Clusters(domain.World, 4))
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, cluster.DefaultOptions().Validate())

	bad := cluster.DefaultOptions()
	bad.MaxZoom = 40
	assert.Error(t, bad.Validate())

	bad = cluster.DefaultOptions()
	bad.MinPoints = 1
	assert.Error(t, bad.Validate())
}
