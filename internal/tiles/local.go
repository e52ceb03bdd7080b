package tiles

import (
	"context"
	"errors"

	"github.com/couchcryptid/emissions-equity-map/internal/choropleth"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

// ErrNoBoundaries is reported by LocalFetcher until a boundary set is loaded.
var ErrNoBoundaries = errors.New("no boundaries loaded")

// LocalFetcher serves tiles from the loaded boundary collection by slicing it
// on tile bounds. Geometries are not clipped.
type LocalFetcher struct {
	regions choropleth.RegionSource
}

// NewLocalFetcher creates a fetcher over regions.
func NewLocalFetcher(regions choropleth.RegionSource) *LocalFetcher {
	return &LocalFetcher{regions: regions}
}

// FetchTile implements Fetcher.
func (f *LocalFetcher) FetchTile(ctx context.Context, id TileID) ([]domain.Region, error) {
	if err := f.Available(ctx); err != nil {
		return nil, err
	}
	return f.regions.Regions().Within(id.Bounds()), nil
}

// Available implements Fetcher.
func (f *LocalFetcher) Available(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.regions.Regions().Len() == 0 {
		return ErrNoBoundaries
	}
	return nil
}
