// Package render draws raster map furniture with fogleman/gg.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/fogleman/gg"
)

// Legend layout in pixels.
const (
	LegendWidth  = 180
	legendPad    = 8
	legendTitle  = 20
	legendRow    = 20
	legendSwatch = 16
)

// LegendRenderer renders and caches one PNG legend per scale.
type LegendRenderer struct {
	palette domain.Palette

	mu    sync.Mutex
	cache map[domain.Scale][]byte
}

// NewLegendRenderer creates a renderer for palette.
func NewLegendRenderer(p domain.Palette) *LegendRenderer {
	return &LegendRenderer{palette: p, cache: make(map[domain.Scale][]byte)}
}

// LegendHeight returns the image height for a legend with all buckets and the
// no-data entry.
func LegendHeight() int {
	return 2*legendPad + legendTitle + (domain.BucketCount+1)*legendRow
}

// SwatchCenter returns the pixel at the middle of the swatch on row i.
func SwatchCenter(i int) (x, y int) {
	top := legendPad + legendTitle + i*legendRow + (legendRow-legendSwatch)/2
	return legendPad + legendSwatch/2, top + legendSwatch/2
}

// Render returns the PNG legend for scale.
func (r *LegendRenderer) Render(scale domain.Scale) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache[scale]; ok {
		return b, nil
	}

	dc := gg.NewContext(LegendWidth, LegendHeight())
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(title(scale), legendPad, legendPad+legendTitle/2, 0, 0.5)

	for i, e := range r.palette.Legend(scale) {
		x := float64(legendPad)
		y := float64(legendPad + legendTitle + i*legendRow + (legendRow-legendSwatch)/2)

		dc.DrawRectangle(x, y, legendSwatch, legendSwatch)
		dc.SetColor(r.palette.At(e.Bucket))
		dc.Fill()

		dc.SetRGB255(0x66, 0x66, 0x66)
		dc.SetLineWidth(1)
		dc.DrawRectangle(x+0.5, y+0.5, legendSwatch-1, legendSwatch-1)
		dc.Stroke()

		dc.SetColor(color.Black)
		// The built-in face is ASCII only.
		label := strings.ReplaceAll(e.Label, "–", "-")
		dc.DrawStringAnchored(label, x+legendSwatch+8, y+legendSwatch/2, 0, 0.5)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, dc.Image()); err != nil {
		return nil, err
	}
	r.cache[scale] = buf.Bytes()
	return buf.Bytes(), nil
}

func title(s domain.Scale) string {
	if s == domain.ScaleState {
		return "ADI state decile"
	}
	return "ADI national percentile"
}
