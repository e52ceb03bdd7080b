// Command genmock writes a deterministic synthetic dataset catalog: facility
// emissions, block group ADI ranks, and a grid of block group boundaries for
// each year. The output is loadable by the map server and is used for local
// development and demos. Rows are run through the domain normalizer so the
// printed counts match what the server will accept.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -years 2020,2021 -facilities 500 -zstd
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/catalog"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zstd"
	"github.com/twpayne/go-geom"
	"gopkg.in/yaml.v3"
)

// Synthetic block groups tile a box over Cook County, IL.
const (
	gridWest  = -88.0
	gridSouth = 41.6
	cellSize  = 0.05
	stateFIPS = "17"
	county    = "031"
)

var pollutants = []string{"NOX", "SO2", "PM25"}

type options struct {
	out        string
	years      []int
	facilities int
	grid       int
	seed       uint64
	zstd       bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for the catalog and dataset files")
	years := flag.String("years", "2020", "comma-separated dataset years")
	facilities := flag.Int("facilities", 300, "facilities per year and pollutant")
	grid := flag.Int("grid", 12, "block group grid width and height")
	seed := flag.Uint64("seed", 42, "random seed")
	compress := flag.Bool("zstd", false, "zstd-compress the CSV files")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return errors.New("missing required flag: -out")
	}
	opts := options{out: *out, facilities: *facilities, grid: *grid, seed: *seed, zstd: *compress}
	for _, s := range strings.Split(*years, ",") {
		y, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || y <= 0 {
			return fmt.Errorf("invalid year %q", s)
		}
		opts.years = append(opts.years, y)
	}
	if opts.facilities <= 0 || opts.grid <= 0 {
		return errors.New("-facilities and -grid must be positive")
	}

	// Fixed clock so report timestamps are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return err
	}

	keys := blockGroupKeys(opts.grid)
	if err := writeBoundaries(filepath.Join(opts.out, "block_groups.geojson"), keys, opts.grid); err != nil {
		return fmt.Errorf("writing boundaries: %w", err)
	}
	log.Printf("wrote %d block groups", len(keys))

	cat := catalog.Catalog{Pollutant: pollutants[0], DefaultYear: opts.years[len(opts.years)-1]}
	for i, year := range opts.years {
		rng := rand.New(rand.NewPCG(opts.seed, uint64(year)))

		facName := fmt.Sprintf("facilities_%d.csv", year)
		rankName := fmt.Sprintf("ranks_%d.csv", year)
		if opts.zstd {
			facName += ".zst"
			rankName += ".zst"
		}

		facRows := facilityRows(rng, opts.facilities, opts.grid)
		if err := writeCSV(filepath.Join(opts.out, facName), facRows); err != nil {
			return fmt.Errorf("writing facilities %d: %w", year, err)
		}
		// Leave a few block groups unranked so the no-data color shows up.
		rankRows := rankRows(rng, keys, i)
		if err := writeCSV(filepath.Join(opts.out, rankName), rankRows); err != nil {
			return fmt.Errorf("writing ranks %d: %w", year, err)
		}

		cat.Entries = append(cat.Entries, catalog.Entry{
			Year:       year,
			Facilities: facName,
			Ranks:      rankName,
			Boundaries: "block_groups.geojson",
		})
		if err := printStats(year, facRows, rankRows); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(&cat)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(opts.out, "catalog.yaml"), data, 0o600); err != nil {
		return err
	}
	log.Printf("wrote catalog: %s", filepath.Join(opts.out, "catalog.yaml"))
	return nil
}

func blockGroupKeys(grid int) []string {
	keys := make([]string, 0, grid*grid)
	for row := 0; row < grid; row++ {
		for col := 0; col < grid; col++ {
			tract := fmt.Sprintf("%04d%02d", row+1, col+1)
			keys = append(keys, stateFIPS+county+tract+"1")
		}
	}
	return keys
}

func cellBounds(i, grid int) (west, south float64) {
	row, col := i/grid, i%grid
	return gridWest + float64(col)*cellSize, gridSouth + float64(row)*cellSize
}

func writeBoundaries(path string, keys []string, grid int) error {
	regions := make([]domain.Region, len(keys))
	for i, key := range keys {
		w, s := cellBounds(i, grid)
		e, n := w+cellSize, s+cellSize
		poly := geom.NewPolygonFlat(geom.XY, []float64{w, s, e, s, e, n, w, n, w, s}, []int{10})
		regions[i] = domain.Region{
			Key:        key,
			Geometry:   poly,
			Properties: map[string]any{boundary.DefaultKeyProperty: key, "NAMELSAD": "Block Group " + key[len(key)-1:]},
		}
	}
	data, err := json.Marshal(boundary.EncodeFeatures(regions, nil))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func facilityRows(rng *rand.Rand, n, grid int) [][]string {
	rows := [][]string{{"Facility ID", "Facility Name", "Latitude", "Longitude", "Total Emissions", "Pollutant", "Risk Category"}}
	risks := []string{"High", "Medium", "Low"}
	span := cellSize * float64(grid)
	id := 0
	for _, pollutant := range pollutants {
		for i := 0; i < n; i++ {
			id++
			// Bias toward the southwest corner so clusters form at low zoom.
			lat := gridSouth + span*rng.Float64()*rng.Float64()
			lng := gridWest + span*rng.Float64()*rng.Float64()
			emissions := rng.ExpFloat64() * 40
			risk := risks[rng.IntN(len(risks))]
			if emissions > 120 {
				risk = "High"
			}
			rows = append(rows, []string{
				fmt.Sprintf("FRS%07d", id),
				fmt.Sprintf("Facility %d", id),
				strconv.FormatFloat(lat, 'f', 5, 64),
				strconv.FormatFloat(lng, 'f', 5, 64),
				strconv.FormatFloat(emissions, 'f', 2, 64),
				pollutant,
				risk,
			})
		}
	}
	return rows
}

func rankRows(rng *rand.Rand, keys []string, offset int) [][]string {
	rows := [][]string{{"GEOID", "ADI_NATRANK", "ADI_STATERNK"}}
	for i, key := range keys {
		if (i+offset)%17 == 0 {
			continue
		}
		nat := 1 + rng.IntN(100)
		state := strconv.Itoa(1 + (nat-1)/10)
		if (i+offset)%23 == 0 {
			rows = append(rows, []string{key, "GQ", ""})
			continue
		}
		rows = append(rows, []string{key, strconv.Itoa(nat), state})
	}
	return rows
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body strings.Builder
	for _, row := range rows {
		body.WriteString(strings.Join(row, ","))
		body.WriteByte('\n')
	}

	if !strings.HasSuffix(path, ".zst") {
		_, err = f.WriteString(body.String())
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := enc.Write([]byte(body.String())); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func printStats(year int, facRows, rankRows [][]string) error {
	facTable, _ := pipeline.FilterPollutant(domain.Table{Header: facRows[0], Rows: facRows[1:]}, pollutants[0])
	points, facReport, err := domain.NormalizeFacilities(facTable)
	if err != nil {
		return fmt.Errorf("normalize facilities %d: %w", year, err)
	}
	set, rankReport, err := domain.NormalizeRanks(domain.Table{Header: rankRows[0], Rows: rankRows[1:]})
	if err != nil {
		return fmt.Errorf("normalize ranks %d: %w", year, err)
	}

	var risks domain.RiskCounts
	for _, p := range points {
		risks[p.Risk]++
	}
	fmt.Printf("\n=== %d ===\n", year)
	fmt.Printf("Facilities (%s): %d accepted, %d rejected\n", pollutants[0], facReport.Accepted, facReport.Rejected)
	fmt.Printf("By risk: high=%d medium=%d low=%d\n", risks[domain.RiskHigh], risks[domain.RiskMedium], risks[domain.RiskLow])
	fmt.Printf("Ranks: %d accepted, %d rejected (%d unique)\n", rankReport.Accepted, rankReport.Rejected, set.Len())
	return nil
}
