// Package domain models the facility emission points, area deprivation ranks,
// and boundary regions rendered by the map, together with the pure transforms
// that feed the clustering and choropleth layers.
//
// # Facility Data
//
// Facility rows come from per-year CSV exports of point-source emissions. The
// exports were produced by different tools over the years, so column naming
// is inconsistent:
//
//	"Latitude" / "LATITUDE" / "lat"
//	"Total Emissions" / "total_emissions" / "emissions"
//	"Risk Category" / "risk_category" / "RISK_LEVEL"
//
// Each logical field has an ordered alias list (see [FacilityFields]). The list
// is resolved once against the header of a dataset and the resulting column
// mapping is reused for every row.
//
// Required fields:
//
//	Latitude and longitude must parse as finite numbers inside WGS84 range.
//	Rows failing this are dropped without error and counted in the [Report].
//
// Optional fields:
//
//	Emissions are non-negative. Thousands separators are accepted
//	("1,204.5"). Missing, negative or non-numeric values become 0.
//	Risk is one of High, Medium, Low. Anything else is Unknown.
//	Columns not claimed by an alias are kept verbatim in Attributes for popups.
//
// # Rank Data
//
// Rank rows carry Area Deprivation Index values per census block group:
//
//	GEOID         12-digit block group code (state 2, county 3, tract 6, group 1)
//	ADI_NATRANK   national percentile, 1–100 (required)
//	ADI_STATERNK  state decile, 1–10 (optional)
//
// Suppressed geographies publish codes such as "GQ" or "PH" instead of a
// number. A non-numeric national rank drops the row; a non-numeric state rank
// is kept as missing. Duplicate GEOIDs within one file resolve to the last row.
//
// # Color Bins
//
// Both rank scales map onto the same five-color ramp plus a no-data color.
// Breakpoints are inclusive on the lower bucket:
//
//	National: ≤20 | ≤40 | ≤60 | ≤80 | >80
//	State:    ≤2  | ≤4  | ≤6  | ≤8  | >8
//
// Missing, NaN or non-numeric scores resolve to the no-data color. See [Bin].
package domain
