package dataset_test

import (
	"sync"
	"testing"

	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/dataset"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/lod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ lod.PointSource = (*dataset.Facilities)(nil)

func points() []domain.FacilityPoint {
	return []domain.FacilityPoint{
		{ID: "a", Lat: 30, Lng: -90, Risk: domain.RiskHigh},
		{ID: "b", Lat: 30, Lng: -90.05, Risk: domain.RiskLow},
		{ID: "c", Lat: 41, Lng: -74, Risk: domain.RiskHigh},
	}
}

func TestSlot_NewestStartedLoadWins(t *testing.T) {
	var s dataset.Slot[string]
	assert.Nil(t, s.Current())

	older := s.Begin()
	newer := s.Begin()

	v2 := "newer"
	require.True(t, s.Commit(newer, &v2))

	v1 := "older"
	assert.False(t, s.Commit(older, &v1), "stale commit must be rejected")
	assert.Equal(t, "newer", *s.Current())
	assert.Equal(t, newer, s.Committed())
}

func TestSlot_OlderLoadMayCommitFirst(t *testing.T) {
	var s dataset.Slot[string]
	older := s.Begin()
	newer := s.Begin()

	v1, v2 := "older", "newer"
	require.True(t, s.Commit(older, &v1))
	assert.Equal(t, "older", *s.Current())
	require.True(t, s.Commit(newer, &v2))
	assert.Equal(t, "newer", *s.Current())
}

func TestSlot_ReplaceRequiresCurrent(t *testing.T) {
	var s dataset.Slot[string]
	a, b, c := "a", "b", "c"
	s.Commit(s.Begin(), &a)

	assert.False(t, s.Replace(&b, &c))
	assert.True(t, s.Replace(&a, &b))
	assert.Equal(t, "b", *s.Current())
}

func TestSlot_ConcurrentCommitsKeepHighestSeq(t *testing.T) {
	var s dataset.Slot[uint64]
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		seq := s.Begin()
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := seq
			s.Commit(seq, &v)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(50), *s.Current())
}

func TestStore_SetRiskFilterRebuildsIndex(t *testing.T) {
	st := dataset.NewStore()
	assert.Nil(t, st.SetRiskFilter(domain.NewRiskFilter(domain.RiskHigh)))

	st.SetRiskFilter(domain.RiskFilter{})
	seq := st.Facilities.Begin()
	gen := dataset.NewFacilities(2020, points(), st.RiskFilter(), cluster.DefaultOptions(), domain.Report{})
	require.True(t, st.CommitFacilities(seq, gen))
	assert.Len(t, st.Facilities.Current().Points(), 3)

	filtered := st.SetRiskFilter(domain.NewRiskFilter(domain.RiskHigh))
	require.NotNil(t, filtered)
	assert.NotSame(t, gen, filtered)
	assert.Len(t, filtered.Points(), 2)
	assert.Len(t, filtered.All(), 3)
	assert.Equal(t, 2, filtered.Index().Len())
	assert.Equal(t, seq, filtered.Seq)
	assert.Same(t, filtered, st.Facilities.Current())
}

func TestStore_LoadAppliesFilterChangedDuringBuild(t *testing.T) {
	st := dataset.NewStore()
	seq := st.Facilities.Begin()
	gen := dataset.NewFacilities(2021, points(), st.RiskFilter(), cluster.DefaultOptions(), domain.Report{})

	st.SetRiskFilter(domain.NewRiskFilter(domain.RiskLow))
	require.True(t, st.CommitFacilities(seq, gen))

	cur := st.Facilities.Current()
	require.Len(t, cur.Points(), 1)
	assert.Equal(t, "b", cur.Points()[0].ID)
	assert.Equal(t, "Low", cur.Filter().String())
}

func TestStore_Lookups(t *testing.T) {
	st := dataset.NewStore()
	assert.Nil(t, st.Regions())
	assert.Nil(t, st.RankLookup())

	set := domain.NewRankSet([]domain.RankRecord{{Key: "1", NationalRank: 5}})
	require.True(t, st.CommitRanks(st.Ranks.Begin(), &dataset.Ranks{Year: 2020, Set: set}))
	assert.Same(t, set, st.RankLookup())
}
