package domain

import "strings"

// Risk is the health-risk category reported for a facility.
type Risk int

const (
	RiskUnknown Risk = iota
	RiskLow
	RiskMedium
	RiskHigh
)

// Risks lists every category, lowest first.
var Risks = []Risk{RiskUnknown, RiskLow, RiskMedium, RiskHigh}

func (r Risk) String() string {
	switch r {
	case RiskHigh:
		return "High"
	case RiskMedium:
		return "Medium"
	case RiskLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the category by name.
func (r Risk) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a category name; unrecognized names become RiskUnknown.
func (r *Risk) UnmarshalText(b []byte) error {
	*r = ParseRisk(string(b))
	return nil
}

// ParseRisk maps free-form category labels onto a Risk.
func ParseRisk(s string) Risk {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "h", "high risk":
		return RiskHigh
	case "medium", "med", "m", "moderate", "medium risk":
		return RiskMedium
	case "low", "l", "low risk":
		return RiskLow
	default:
		return RiskUnknown
	}
}

// RiskCounts tallies members of an aggregate by category, indexed by Risk.
type RiskCounts [4]int

// Add returns the element-wise sum of c and o.
func (c RiskCounts) Add(o RiskCounts) RiskCounts {
	for i := range c {
		c[i] += o[i]
	}
	return c
}

// Dominant returns the highest category with at least one member.
func (c RiskCounts) Dominant() Risk {
	for i := len(c) - 1; i > 0; i-- {
		if c[i] > 0 {
			return Risk(i)
		}
	}
	return RiskUnknown
}

// FacilityPoint is one emitting facility after normalization.
type FacilityPoint struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Lat        float64           `json:"lat"`
	Lng        float64           `json:"lng"`
	Emissions  float64           `json:"emissions"`
	Pollutant  string            `json:"pollutant,omitempty"`
	Risk       Risk              `json:"risk"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// RiskFilter selects facilities by category. The zero value admits everything.
type RiskFilter struct {
	allowed map[Risk]bool
}

// NewRiskFilter admits only the given categories. No categories admits everything.
func NewRiskFilter(risks ...Risk) RiskFilter {
	if len(risks) == 0 {
		return RiskFilter{}
	}
	f := RiskFilter{allowed: make(map[Risk]bool, len(risks))}
	for _, r := range risks {
		f.allowed[r] = true
	}
	return f
}

// ParseRiskFilter builds a filter from a comma-separated list of category names.
func ParseRiskFilter(s string) RiskFilter {
	var risks []Risk
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		risks = append(risks, ParseRisk(part))
	}
	return NewRiskFilter(risks...)
}

// Allows reports whether r passes the filter.
func (f RiskFilter) Allows(r Risk) bool {
	return len(f.allowed) == 0 || f.allowed[r]
}

// Categories returns the admitted categories, or nil when everything passes.
func (f RiskFilter) Categories() []Risk {
	if len(f.allowed) == 0 {
		return nil
	}
	out := make([]Risk, 0, len(f.allowed))
	for _, r := range Risks {
		if f.allowed[r] {
			out = append(out, r)
		}
	}
	return out
}

// String lists the admitted categories, or "all".
func (f RiskFilter) String() string {
	cats := f.Categories()
	if cats == nil {
		return "all"
	}
	names := make([]string, len(cats))
	for i, r := range cats {
		names[i] = r.String()
	}
	return strings.Join(names, ",")
}

// Apply returns the points admitted by the filter. The input is not modified.
func (f RiskFilter) Apply(points []FacilityPoint) []FacilityPoint {
	if len(f.allowed) == 0 {
		return points
	}
	out := make([]FacilityPoint, 0, len(points))
	for _, p := range points {
		if f.allowed[p.Risk] {
			out = append(out, p)
		}
	}
	return out
}
