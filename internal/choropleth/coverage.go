package choropleth

import "github.com/couchcryptid/emissions-equity-map/internal/domain"

// Coverage summarizes how well a rank set matches a set of region keys.
type Coverage struct {
	Regions   int `json:"regions"`
	Matched   int `json:"matched"`
	NoData    int `json:"no_data"`
	Unmatched int `json:"unmatched_ranks"`
}

// Ratio is the share of regions that received a rank.
func (c Coverage) Ratio() float64 {
	if c.Regions == 0 {
		return 0
	}
	return float64(c.Matched) / float64(c.Regions)
}

// Measure computes coverage of ranks over region keys. Keys without a rank
// render as no data; ranks without a region are inert.
func Measure(keys []string, ranks *domain.RankSet) Coverage {
	c := Coverage{Regions: len(keys)}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
		if _, ok := ranks.Lookup(k); ok {
			c.Matched++
		}
	}
	c.NoData = c.Regions - c.Matched
	for _, r := range ranks.Records() {
		if !seen[r.Key] {
			c.Unmatched++
		}
	}
	return c
}
