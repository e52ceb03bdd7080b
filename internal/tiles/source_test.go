package tiles_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/tiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// --- mocks ---

type staticRegions struct{ c *boundary.Collection }

func (s staticRegions) Regions() *boundary.Collection { return s.c }

type recordingSink struct {
	mu       sync.Mutex
	versions []uint64
	counts   []int
	err      error
}

func (s *recordingSink) PublishStates(_ context.Context, version uint64, states []domain.RankRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = append(s.versions, version)
	s.counts = append(s.counts, len(states))
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func square(key string, west, south float64) domain.Region {
	ring := []float64{west, south, west + 0.5, south, west + 0.5, south + 0.5, west, south + 0.5, west, south}
	return domain.Region{Key: key, Geometry: geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})}
}

func regions() staticRegions {
	return staticRegions{boundary.NewCollection([]domain.Region{
		square("west", -120, 40),
		square("east", -75, 40),
	})}
}

// --- tests ---

func TestTileID_Bounds(t *testing.T) {
	b := tiles.TileID{Z: 0, X: 0, Y: 0}.Bounds()
	assert.Equal(t, -180.0, b.West)
	assert.Equal(t, 180.0, b.East)
	assert.InDelta(t, 85.0511, b.North, 1e-4)
	assert.InDelta(t, -85.0511, b.South, 1e-4)

	b = tiles.TileID{Z: 1, X: 1, Y: 0}.Bounds()
	assert.Equal(t, domain.BBox{West: 0, South: 0, East: 180, North: b.North}, b)
}

func TestTileID_Validate(t *testing.T) {
	assert.NoError(t, tiles.TileID{Z: 3, X: 7, Y: 7}.Validate())
	for _, id := range []tiles.TileID{{Z: -1}, {Z: 3, X: 8}, {Z: 3, Y: -1}, {Z: tiles.MaxZoom + 1}} {
		assert.True(t, errors.Is(id.Validate(), tiles.ErrInvalidTile), "%s", id)
	}
	assert.Equal(t, "3/2/1", tiles.TileID{Z: 3, X: 2, Y: 1}.String())
}

func TestLocalFetcher(t *testing.T) {
	empty := tiles.NewLocalFetcher(staticRegions{})
	assert.True(t, errors.Is(empty.Available(context.Background()), tiles.ErrNoBoundaries))

	f := tiles.NewLocalFetcher(regions())
	require.NoError(t, f.Available(context.Background()))

	// z1 x0 y0 is the north-western quadrant holding both squares.
	got, err := f.FetchTile(context.Background(), tiles.TileID{Z: 1, X: 0, Y: 0})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// z3 x1 y3 spans -135..-90 and 0..41 degrees, holding only the western square.
	got, err = f.FetchTile(context.Background(), tiles.TileID{Z: 3, X: 1, Y: 3})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "west", got[0].Key)
}

func TestSource_StagedStatesApplyOnlyAfterCommit(t *testing.T) {
	src := tiles.NewSource(tiles.NewLocalFetcher(regions()), domain.DefaultPalette, nil, discardLogger())

	src.ClearStates()
	src.SetState("west", domain.RankRecord{Key: "west", NationalRank: 70})
	_, ok := src.State("west")
	assert.False(t, ok, "staged state is not visible before commit")
	assert.Zero(t, src.StateVersion())

	require.NoError(t, src.Commit(context.Background()))
	rec, ok := src.State("west")
	require.True(t, ok)
	assert.Equal(t, 70, rec.NationalRank)
	assert.Equal(t, uint64(1), src.StateVersion())
	assert.Equal(t, 1, src.StateCount())

	src.ClearStates()
	require.NoError(t, src.Commit(context.Background()))
	assert.Zero(t, src.StateCount(), "a new join replaces the previous states")
	assert.Equal(t, uint64(2), src.StateVersion())
}

func TestSource_TileStyledWithStatesCommittedEarlier(t *testing.T) {
	src := tiles.NewSource(tiles.NewLocalFetcher(regions()), domain.DefaultPalette, nil, discardLogger())
	src.ClearStates()
	src.SetState("west", domain.RankRecord{Key: "west", NationalRank: 70, StateRank: 7})
	require.NoError(t, src.Commit(context.Background()))

	fc, err := src.Tile(context.Background(), tiles.TileID{Z: 1, X: 0, Y: 0}, domain.ScaleNational)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	props := map[string]map[string]any{}
	for _, f := range fc.Features {
		props[f.ID] = f.Properties
	}
	assert.Equal(t, "#f03b20", props["west"]["fill"])
	assert.Equal(t, 70, props["west"][tiles.PropNationalRank])
	assert.Equal(t, 7, props["west"][tiles.PropStateRank])
	assert.Equal(t, "#cccccc", props["east"]["fill"])
	assert.NotContains(t, props["east"], tiles.PropNationalRank)

	_, err = src.Tile(context.Background(), tiles.TileID{Z: 1, X: 5}, domain.ScaleNational)
	assert.True(t, errors.Is(err, tiles.ErrInvalidTile))
}

func TestSource_CommitPublishesToSink(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	src := tiles.NewSource(tiles.NewLocalFetcher(regions()), domain.DefaultPalette, sink, discardLogger())

	src.ClearStates()
	src.SetState("a", domain.RankRecord{Key: "a", NationalRank: 1})
	src.SetState("b", domain.RankRecord{Key: "b", NationalRank: 2})
	require.NoError(t, src.Commit(context.Background()), "sink failures do not fail the join")

	assert.Equal(t, []uint64{1}, sink.versions)
	assert.Equal(t, []int{2}, sink.counts)
	assert.Equal(t, 2, src.StateCount())
}
