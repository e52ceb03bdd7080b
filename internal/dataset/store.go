package dataset

import (
	"sync"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

// Facilities is one facility generation: every accepted point of a year, the
// risk filter in force, and the cluster index built over the filtered points.
type Facilities struct {
	Year     int
	Seq      uint64
	LoadedAt time.Time
	Report   domain.Report

	all     []domain.FacilityPoint
	filter  domain.RiskFilter
	visible []domain.FacilityPoint
	index   *cluster.Index
}

// NewFacilities applies filter to points and builds the cluster index.
func NewFacilities(year int, points []domain.FacilityPoint, filter domain.RiskFilter, opts cluster.Options, report domain.Report) *Facilities {
	visible := filter.Apply(points)
	return &Facilities{
		Year:     year,
		LoadedAt: domain.Now(),
		Report:   report,
		all:      points,
		filter:   filter,
		visible:  visible,
		index:    cluster.New(visible, opts),
	}
}

// WithFilter returns a new generation over the same points with a rebuilt index.
func (f *Facilities) WithFilter(filter domain.RiskFilter) *Facilities {
	next := NewFacilities(f.Year, f.all, filter, f.index.Options(), f.Report)
	next.Seq = f.Seq
	return next
}

// Points returns the facilities that pass the current filter.
func (f *Facilities) Points() []domain.FacilityPoint { return f.visible }

// Clusters queries the index for the viewport.
func (f *Facilities) Clusters(bbox domain.BBox, zoom int) []cluster.Feature {
	return f.index.Clusters(bbox, zoom)
}

// All returns every accepted facility regardless of filter.
func (f *Facilities) All() []domain.FacilityPoint { return f.all }

// Filter returns the filter the index was built with.
func (f *Facilities) Filter() domain.RiskFilter { return f.filter }

// Index returns the cluster index.
func (f *Facilities) Index() *cluster.Index { return f.index }

// Ranks is one rank generation.
type Ranks struct {
	Year     int
	Seq      uint64
	LoadedAt time.Time
	Report   domain.Report
	Set      *domain.RankSet
}

// Boundaries is one boundary generation.
type Boundaries struct {
	Year       int
	Seq        uint64
	LoadedAt   time.Time
	Source     string
	Collection *boundary.Collection
}

// Store owns the current generation of each data kind and the risk filter
// applied to facility generations.
type Store struct {
	Facilities Slot[Facilities]
	Ranks      Slot[Ranks]
	Boundaries Slot[Boundaries]

	mu     sync.RWMutex
	filter domain.RiskFilter
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// RiskFilter returns the filter new facility generations are built with.
func (s *Store) RiskFilter() domain.RiskFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetRiskFilter changes the filter and rebuilds the current facility
// generation with it. It returns the generation now in force, which is nil
// when nothing has been loaded yet.
func (s *Store) SetRiskFilter(filter domain.RiskFilter) *Facilities {
	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()
	return s.refilter()
}

// refilter rebuilds the current generation until it matches the store filter.
// A load that commits meanwhile wins and is itself checked on the next pass.
func (s *Store) refilter() *Facilities {
	for {
		cur := s.Facilities.Current()
		if cur == nil {
			return nil
		}
		want := s.RiskFilter()
		if cur.filter.String() == want.String() {
			return cur
		}
		s.Facilities.Replace(cur, cur.WithFilter(want))
	}
}

// CommitFacilities publishes a facility generation built for seq. A filter
// change that raced with the build is applied before returning.
func (s *Store) CommitFacilities(seq uint64, f *Facilities) bool {
	f.Seq = seq
	if !s.Facilities.Commit(seq, f) {
		return false
	}
	s.refilter()
	return true
}

// CommitRanks publishes a rank generation built for seq.
func (s *Store) CommitRanks(seq uint64, r *Ranks) bool {
	r.Seq = seq
	return s.Ranks.Commit(seq, r)
}

// CommitBoundaries publishes a boundary generation built for seq.
func (s *Store) CommitBoundaries(seq uint64, b *Boundaries) bool {
	b.Seq = seq
	return s.Boundaries.Commit(seq, b)
}

// Regions returns the current boundary collection, or nil.
func (s *Store) Regions() *boundary.Collection {
	if b := s.Boundaries.Current(); b != nil {
		return b.Collection
	}
	return nil
}

// RankLookup returns the current rank set, or nil.
func (s *Store) RankLookup() *domain.RankSet {
	if r := s.Ranks.Current(); r != nil {
		return r.Set
	}
	return nil
}
