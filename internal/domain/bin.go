package domain

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Scale selects which rank a choropleth is colored by.
type Scale int

const (
	// ScaleNational is the 1–100 national percentile.
	ScaleNational Scale = iota
	// ScaleState is the 1–10 within-state decile.
	ScaleState
)

func (s Scale) String() string {
	if s == ScaleState {
		return "state"
	}
	return "national"
}

// ParseScale accepts "national"/"percentile" and "state"/"decile".
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "national", "percentile", "natrank":
		return ScaleNational, nil
	case "state", "decile", "staternk":
		return ScaleState, nil
	default:
		return ScaleNational, fmt.Errorf("unknown scale %q", s)
	}
}

// Breaks returns the four upper-inclusive bucket boundaries of the scale.
func (s Scale) Breaks() [4]float64 {
	if s == ScaleState {
		return [4]float64{2, 4, 6, 8}
	}
	return [4]float64{20, 40, 60, 80}
}

// Range returns the lowest and highest rank on the scale.
func (s Scale) Range() (lo, hi int) {
	if s == ScaleState {
		return MinStateRank, MaxStateRank
	}
	return MinNationalRank, MaxNationalRank
}

// Bucket is a color class. Buckets 0–4 are ordered from least to most deprived.
type Bucket int

// NoData marks a missing or unusable score.
const NoData Bucket = -1

// BucketCount is the number of data buckets.
const BucketCount = 5

// Bin places a score on the scale. A score equal to a break falls in the lower
// bucket. NaN and infinities are NoData.
func Bin(score float64, s Scale) Bucket {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return NoData
	}
	for i, b := range s.Breaks() {
		if score <= b {
			return Bucket(i)
		}
	}
	return BucketCount - 1
}

// BinValue bins a loosely typed score such as a feature property.
func BinValue(v any, s Scale) Bucket {
	switch n := v.(type) {
	case nil:
		return NoData
	case float64:
		return Bin(n, s)
	case float32:
		return Bin(float64(n), s)
	case int:
		return Bin(float64(n), s)
	case int64:
		return Bin(float64(n), s)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return NoData
		}
		return Bin(f, s)
	default:
		return NoData
	}
}

// Palette assigns a color to each bucket.
type Palette struct {
	Colors [BucketCount]color.RGBA
	NoData color.RGBA
}

// DefaultPalette is a sequential yellow to red ramp with a neutral grey for no data.
var DefaultPalette = Palette{
	Colors: [BucketCount]color.RGBA{
		{R: 0xff, G: 0xff, B: 0xb2, A: 0xff},
		{R: 0xfe, G: 0xcc, B: 0x5c, A: 0xff},
		{R: 0xfd, G: 0x8d, B: 0x3c, A: 0xff},
		{R: 0xf0, G: 0x3b, B: 0x20, A: 0xff},
		{R: 0xbd, G: 0x00, B: 0x26, A: 0xff},
	},
	NoData: color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff},
}

// At returns the color of a bucket. Out-of-range buckets get the no-data color.
func (p Palette) At(b Bucket) color.RGBA {
	if b < 0 || int(b) >= BucketCount {
		return p.NoData
	}
	return p.Colors[b]
}

// Hex returns the color of a bucket as "#rrggbb".
func (p Palette) Hex(b Bucket) string {
	return HexColor(p.At(b))
}

// Color bins a score and returns its hex color.
func (p Palette) Color(score float64, s Scale) string {
	return p.Hex(Bin(score, s))
}

// HexColor formats c as "#rrggbb".
func HexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// LegendEntry describes one bucket for legend rendering.
type LegendEntry struct {
	Bucket Bucket `json:"bucket"`
	Label  string `json:"label"`
	Color  string `json:"color"`
}

// Legend lists the buckets of a scale followed by the no-data entry.
func (p Palette) Legend(s Scale) []LegendEntry {
	lo, hi := s.Range()
	breaks := s.Breaks()
	entries := make([]LegendEntry, 0, BucketCount+1)
	from := lo
	for i := 0; i < BucketCount; i++ {
		to := hi
		if i < len(breaks) {
			to = int(breaks[i])
		}
		entries = append(entries, LegendEntry{
			Bucket: Bucket(i),
			Label:  fmt.Sprintf("%d–%d", from, to),
			Color:  p.Hex(Bucket(i)),
		})
		from = to + 1
	}
	return append(entries, LegendEntry{Bucket: NoData, Label: "No data", Color: HexColor(p.NoData)})
}
