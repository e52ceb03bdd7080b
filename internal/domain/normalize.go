package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingColumn is returned when a dataset header has no column for a required field.
var ErrMissingColumn = errors.New("required column missing")

// Logical field names.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldLat       = "lat"
	FieldLng       = "lng"
	FieldEmissions = "emissions"
	FieldPollutant = "pollutant"
	FieldRisk      = "risk"

	FieldKey          = "key"
	FieldNationalRank = "national_rank"
	FieldStateRank    = "state_rank"
)

// Field describes one logical column and the header names it may appear under,
// in order of preference.
type Field struct {
	Name     string
	Aliases  []string
	Required bool
}

// FieldTable is the ordered alias table for one kind of dataset.
type FieldTable []Field

// FacilityFields is the alias table for facility emission exports.
var FacilityFields = FieldTable{
	{Name: FieldID, Aliases: []string{"facility_id", "Facility ID", "FRS ID", "frs_id", "registry_id", "id"}},
	{Name: FieldName, Aliases: []string{"facility_name", "Facility Name", "site_name", "name"}},
	{Name: FieldLat, Aliases: []string{"latitude", "Latitude", "LATITUDE", "lat", "Lat", "LAT", "y"}, Required: true},
	{Name: FieldLng, Aliases: []string{"longitude", "Longitude", "LONGITUDE", "lon", "lng", "long", "Lon", "LON", "x"}, Required: true},
	{Name: FieldEmissions, Aliases: []string{"emissions", "Emissions", "total_emissions", "Total Emissions", "emissions_tons", "Emissions (tons)", "amount"}},
	{Name: FieldPollutant, Aliases: []string{"pollutant", "Pollutant", "pollutant_code", "Pollutant Code", "pollutant_name"}},
	{Name: FieldRisk, Aliases: []string{"risk_category", "Risk Category", "risk_level", "RISK_LEVEL", "risk", "Risk"}},
}

// RankFields is the alias table for Area Deprivation Index rank exports.
var RankFields = FieldTable{
	{Name: FieldKey, Aliases: []string{"GEOID", "geoid", "GEOID20", "GEOID10", "FIPS", "fips", "geo_id", "GeoID"}, Required: true},
	{Name: FieldNationalRank, Aliases: []string{"ADI_NATRANK", "adi_natrank", "national_rank", "National Rank", "natrank", "NATRANK"}, Required: true},
	{Name: FieldStateRank, Aliases: []string{"ADI_STATERNK", "adi_staternk", "state_rank", "State Rank", "staternk", "STATERANK"}},
}

// Table is a parsed tabular dataset.
type Table struct {
	Header []string
	Rows   [][]string
}

// ColumnMap is an alias table resolved against one header.
type ColumnMap struct {
	header  []string
	index   map[string]int
	claimed []bool
}

// Resolve matches every field against header. Exact header matches are tried
// for each alias in order before falling back to a loose comparison that
// ignores case, spaces, underscores and hyphens.
func (t FieldTable) Resolve(header []string) (ColumnMap, error) {
	m := ColumnMap{
		header:  header,
		index:   make(map[string]int, len(t)),
		claimed: make([]bool, len(header)),
	}
	for _, f := range t {
		idx := m.find(f.Aliases)
		if idx < 0 {
			if f.Required {
				return ColumnMap{}, fmt.Errorf("%w: %s (tried %s)", ErrMissingColumn, f.Name, strings.Join(f.Aliases, ", "))
			}
			continue
		}
		m.index[f.Name] = idx
		m.claimed[idx] = true
	}
	return m, nil
}

func (m ColumnMap) find(aliases []string) int {
	for _, alias := range aliases {
		for i, h := range m.header {
			if !m.claimed[i] && strings.TrimSpace(h) == alias {
				return i
			}
		}
	}
	for _, alias := range aliases {
		want := looseKey(alias)
		for i, h := range m.header {
			if !m.claimed[i] && looseKey(h) == want {
				return i
			}
		}
	}
	return -1
}

func looseKey(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '_', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Column returns the header name a field resolved to.
func (m ColumnMap) Column(field string) (string, bool) {
	i, ok := m.index[field]
	if !ok {
		return "", false
	}
	return m.header[i], true
}

// Columns returns field to header name for every resolved field.
func (m ColumnMap) Columns() map[string]string {
	out := make(map[string]string, len(m.index))
	for f, i := range m.index {
		out[f] = m.header[i]
	}
	return out
}

// Value returns the trimmed cell of row for field, or "" when unresolved.
func (m ColumnMap) Value(row []string, field string) string {
	return m.value(row, field)
}

func (m ColumnMap) value(row []string, field string) string {
	i, ok := m.index[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// extras returns the unclaimed columns of row keyed by header name.
func (m ColumnMap) extras(row []string) map[string]string {
	var out map[string]string
	for i, h := range m.header {
		if m.claimed[i] || i >= len(row) || h == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[h] = row[i]
	}
	return out
}

// Report summarizes one normalization pass.
type Report struct {
	Total      int               `json:"total"`
	Accepted   int               `json:"accepted"`
	Rejected   int               `json:"rejected"`
	Duplicates int               `json:"duplicates,omitempty"`
	Columns    map[string]string `json:"columns"`
	At         time.Time         `json:"at"`
}

// NormalizeFacilities converts facility rows into points. Rows without usable
// coordinates are dropped. An error is returned only when the header lacks a
// required column.
func NormalizeFacilities(t Table) ([]FacilityPoint, Report, error) {
	cols, err := FacilityFields.Resolve(t.Header)
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{Total: len(t.Rows), Columns: cols.Columns(), At: clock.Now()}
	points := make([]FacilityPoint, 0, len(t.Rows))
	for _, row := range t.Rows {
		p, ok := facilityFromRow(cols, row)
		if !ok {
			report.Rejected++
			continue
		}
		points = append(points, p)
	}
	report.Accepted = len(points)
	return points, report, nil
}

func facilityFromRow(cols ColumnMap, row []string) (FacilityPoint, bool) {
	lat, ok := parseCoordinate(cols.value(row, FieldLat), 90)
	if !ok {
		return FacilityPoint{}, false
	}
	lng, ok := parseCoordinate(cols.value(row, FieldLng), 180)
	if !ok {
		return FacilityPoint{}, false
	}

	p := FacilityPoint{
		ID:         cols.value(row, FieldID),
		Name:       cols.value(row, FieldName),
		Lat:        lat,
		Lng:        lng,
		Emissions:  parseNonNegative(cols.value(row, FieldEmissions)),
		Pollutant:  cols.value(row, FieldPollutant),
		Risk:       ParseRisk(cols.value(row, FieldRisk)),
		Attributes: cols.extras(row),
	}
	if p.ID == "" {
		p.ID = generateID(p.Name, lat, lng)
	}
	return p, true
}

// NormalizeRanks converts rank rows into a RankSet. Rows without a key or a
// national rank inside 1–100 are dropped; an unusable state rank is kept as 0.
func NormalizeRanks(t Table) (*RankSet, Report, error) {
	cols, err := RankFields.Resolve(t.Header)
	if err != nil {
		return nil, Report{}, err
	}

	report := Report{Total: len(t.Rows), Columns: cols.Columns(), At: clock.Now()}
	records := make([]RankRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		r, ok := rankFromRow(cols, row)
		if !ok {
			report.Rejected++
			continue
		}
		records = append(records, r)
	}
	set := NewRankSet(records)
	report.Accepted = len(records)
	report.Duplicates = set.Duplicates()
	return set, report, nil
}

func rankFromRow(cols ColumnMap, row []string) (RankRecord, bool) {
	key := cols.value(row, FieldKey)
	if key == "" {
		return RankRecord{}, false
	}
	national, ok := parseRank(cols.value(row, FieldNationalRank), MinNationalRank, MaxNationalRank)
	if !ok {
		return RankRecord{}, false
	}
	state, _ := parseRank(cols.value(row, FieldStateRank), MinStateRank, MaxStateRank)
	return RankRecord{Key: key, NationalRank: national, StateRank: state}, true
}

// parseCoordinate parses a degree value bounded by ±limit.
func parseCoordinate(s string, limit float64) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		return 0, false
	}
	return v, true
}

// parseNonNegative parses a magnitude, returning 0 for anything unusable.
func parseNonNegative(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// parseRank parses an integer rank within [lo, hi]. Values like "57.0" are
// accepted since spreadsheet exports often widen integer columns.
func parseRank(s string, lo, hi int) (int, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v != math.Trunc(v) {
		return 0, false
	}
	n := int(v)
	if n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// generateID derives a stable identifier for facilities exported without one.
func generateID(name string, lat, lng float64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%.6f|%.6f", name, lat, lng)))
	return hex.EncodeToString(h[:8])
}
