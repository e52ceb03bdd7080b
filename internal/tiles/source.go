// Package tiles is the lazily loaded tiled backend. Boundary features arrive
// tile by tile from a Fetcher; joined ranks are pushed in as per-key feature
// states that outlive individual tiles, so a tile fetched after a join is
// styled with the states already committed.
package tiles

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/choropleth"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Feature-state properties added to each tile feature alongside the style.
const (
	PropNationalRank = "national_rank"
	PropStateRank    = "state_rank"
)

// Fetcher streams the boundary features of one tile.
type Fetcher interface {
	FetchTile(ctx context.Context, id TileID) ([]domain.Region, error)
	Available(ctx context.Context) error
}

// StateSink receives every committed set of feature states.
type StateSink interface {
	PublishStates(ctx context.Context, version uint64, states []domain.RankRecord) error
}

// Source is the push target for the tiled backend.
type Source struct {
	fetcher Fetcher
	palette domain.Palette
	sink    StateSink
	logger  *slog.Logger

	mu      sync.RWMutex
	pending map[string]domain.RankRecord
	states  map[string]domain.RankRecord
	version atomic.Uint64
}

// NewSource creates a tiled backend over fetcher. sink may be nil.
func NewSource(fetcher Fetcher, palette domain.Palette, sink StateSink, logger *slog.Logger) *Source {
	return &Source{
		fetcher: fetcher,
		palette: palette,
		sink:    sink,
		logger:  logger,
		states:  map[string]domain.RankRecord{},
	}
}

// Discipline implements choropleth.Target.
func (s *Source) Discipline() choropleth.Discipline { return choropleth.Push }

// Available reports whether the underlying tile source can be queried.
func (s *Source) Available(ctx context.Context) error {
	return s.fetcher.Available(ctx)
}

// ClearStates starts a new set of states. The committed set stays in force
// until Commit.
func (s *Source) ClearStates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]domain.RankRecord)
}

// SetState stages the state for one region key.
func (s *Source) SetState(key string, rec domain.RankRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[string]domain.RankRecord)
	}
	s.pending[key] = rec
}

// Commit makes the staged states current and forwards them to the sink. A
// sink failure is logged; the states stay committed.
func (s *Source) Commit(ctx context.Context) error {
	s.mu.Lock()
	staged := s.pending
	if staged == nil {
		staged = map[string]domain.RankRecord{}
	}
	s.states = staged
	s.pending = nil
	version := s.version.Add(1)
	s.mu.Unlock()

	s.logger.Info("feature states committed", "version", version, "states", len(staged))

	if s.sink == nil {
		return nil
	}
	records := make([]domain.RankRecord, 0, len(staged))
	for _, r := range staged {
		records = append(records, r)
	}
	if err := s.sink.PublishStates(ctx, version, records); err != nil {
		s.logger.Warn("publish feature states failed", "version", version, "error", err)
	}
	return nil
}

// StateVersion increases with every commit. Cached tile renderings are keyed by it.
func (s *Source) StateVersion() uint64 {
	return s.version.Load()
}

// State returns the committed state for key.
func (s *Source) State(key string) (domain.RankRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.states[key]
	return rec, ok
}

// StateCount returns the number of committed states.
func (s *Source) StateCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *Source) score(key string, scale domain.Scale) float64 {
	rec, ok := s.State(key)
	if !ok {
		return math.NaN()
	}
	return rec.Score(scale)
}

// ColorFor returns the fill color for the region key.
func (s *Source) ColorFor(key string, scale domain.Scale) string {
	return s.palette.Color(s.score(key, scale), scale)
}

// Tile fetches one tile and styles its features with the committed states.
func (s *Source) Tile(ctx context.Context, id TileID, scale domain.Scale) (*geojson.FeatureCollection, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	regions, err := s.fetcher.FetchTile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch tile %s: %w", id, err)
	}
	return boundary.EncodeFeatures(regions, func(r domain.Region) map[string]any {
		props := choropleth.StyleProperties(s.palette, s.score(r.Key, scale), scale)
		if rec, ok := s.State(r.Key); ok {
			props[PropNationalRank] = rec.NationalRank
			if rec.StateRank > 0 {
				props[PropStateRank] = rec.StateRank
			}
		}
		return props
	}), nil
}
