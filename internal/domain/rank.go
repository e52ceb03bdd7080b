package domain

import (
	"math"
	"sort"
)

// Rank bounds for the two Area Deprivation Index scales.
const (
	MinNationalRank = 1
	MaxNationalRank = 100
	MinStateRank    = 1
	MaxStateRank    = 10
)

// RankRecord holds the deprivation ranks for one geographic region.
// StateRank is 0 when the source row did not carry a usable value.
type RankRecord struct {
	Key          string `json:"geoid"`
	NationalRank int    `json:"national_rank"`
	StateRank    int    `json:"state_rank,omitempty"`
}

// Score returns the rank used by the given scale, or NaN when absent.
func (r RankRecord) Score(s Scale) float64 {
	switch s {
	case ScaleState:
		if r.StateRank == 0 {
			return math.NaN()
		}
		return float64(r.StateRank)
	default:
		if r.NationalRank == 0 {
			return math.NaN()
		}
		return float64(r.NationalRank)
	}
}

// RankLookup resolves a region key to its rank record.
type RankLookup interface {
	Lookup(key string) (RankRecord, bool)
}

// RankSet is an immutable key-indexed collection of rank records from one load.
type RankSet struct {
	records    map[string]RankRecord
	duplicates int
}

// NewRankSet indexes records by key. When keys repeat, the last record wins.
func NewRankSet(records []RankRecord) *RankSet {
	rs := &RankSet{records: make(map[string]RankRecord, len(records))}
	for _, r := range records {
		if _, ok := rs.records[r.Key]; ok {
			rs.duplicates++
		}
		rs.records[r.Key] = r
	}
	return rs
}

// Lookup implements RankLookup. A nil set finds nothing.
func (rs *RankSet) Lookup(key string) (RankRecord, bool) {
	if rs == nil {
		return RankRecord{}, false
	}
	r, ok := rs.records[key]
	return r, ok
}

// Len returns the number of distinct keys.
func (rs *RankSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.records)
}

// Duplicates returns how many rows were overwritten by a later row with the same key.
func (rs *RankSet) Duplicates() int {
	if rs == nil {
		return 0
	}
	return rs.duplicates
}

// Records returns all records ordered by key.
func (rs *RankSet) Records() []RankRecord {
	if rs == nil {
		return nil
	}
	out := make([]RankRecord, 0, len(rs.records))
	for _, r := range rs.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
