// Command validate checks a dataset catalog before it is deployed. For each
// year it loads the facility, rank, and boundary files through the same
// pipeline the server uses, then reports rejected rows, duplicate rank keys,
// cluster index consistency, and how many boundaries receive a rank.
//
// Usage:
//
//	go run ./cmd/validate -catalog data/catalog.yaml -min-coverage 0.9
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/catalog"
	"github.com/couchcryptid/emissions-equity-map/internal/choropleth"
	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/dataset"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"github.com/couchcryptid/emissions-equity-map/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type limits struct {
	minCoverage float64
	maxRejected float64
}

func main() {
	catalogPath := flag.String("catalog", "data/catalog.yaml", "path to the dataset catalog")
	year := flag.Int("year", 0, "validate a single year (default: every catalogued year)")
	minCoverage := flag.Float64("min-coverage", 0.8, "minimum share of boundaries that must receive a rank")
	maxRejected := flag.Float64("max-rejected", 0.2, "maximum share of rows the normalizer may reject")
	flag.Parse()

	os.Exit(run(*catalogPath, *year, limits{minCoverage: *minCoverage, maxRejected: *maxRejected}))
}

func run(catalogPath string, only int, lim limits) int {
	// Fixed clock so repeated runs print identical reports.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	fmt.Println("=== Emissions Map Dataset Validation ===")
	fmt.Println()

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	years := cat.Years()
	if only != 0 {
		if _, err := cat.Year(only); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			return 1
		}
		years = []int{only}
	}

	metrics := observability.NewMetrics()
	var phases []*phase
	for _, y := range years {
		phases = append(phases, validateYear(cat, y, lim, metrics)...)
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateYear(cat *catalog.Catalog, year int, lim limits, metrics *observability.Metrics) []*phase {
	load := &phase{name: fmt.Sprintf("%d: load", year)}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := dataset.NewStore()
	loader := pipeline.New(cat, pipeline.DirSource{Dir: cat.Dir()}, store,
		choropleth.NewEngine(nil, logger, nil), pipeline.Options{Cluster: cluster.DefaultOptions()},
		logger, metrics)

	sum, err := loader.LoadYear(context.Background(), year)
	if err != nil {
		load.errorf("%v", err)
		return []*phase{load}
	}
	fmt.Printf("%d: %d facilities, %d ranks, %d regions\n", year, sum.Facilities.Accepted, sum.Ranks.Accepted, sum.Regions)

	return []*phase{
		load,
		validateReports(year, sum, lim),
		validateClusters(year, store.Facilities.Current()),
		validateCoverage(year, store, lim),
	}
}

func validateReports(year int, sum pipeline.Summary, lim limits) *phase {
	p := &phase{name: fmt.Sprintf("%d: normalization", year)}
	for kind, r := range map[string]domain.Report{"facilities": sum.Facilities, "ranks": sum.Ranks} {
		if r.Total == 0 {
			p.errorf("%s: no rows", kind)
			continue
		}
		if share := float64(r.Rejected) / float64(r.Total); share > lim.maxRejected {
			p.errorf("%s: %d of %d rows rejected (%.1f%% > %.1f%%)", kind, r.Rejected, r.Total, share*100, lim.maxRejected*100)
		}
		for field, col := range r.Columns {
			fmt.Printf("  %d %s: %s <- %q\n", year, kind, field, col)
		}
	}
	if sum.Ranks.Duplicates > 0 {
		// Duplicates are tolerated by the loader; surface them without failing.
		fmt.Printf("  %d ranks: %d duplicate keys (last row wins)\n", year, sum.Ranks.Duplicates)
	}
	return p
}

// validateClusters checks that the world view at every zoom accounts for every visible facility.
func validateClusters(year int, f *dataset.Facilities) *phase {
	p := &phase{name: fmt.Sprintf("%d: cluster index", year)}
	want := len(f.Points())
	opts := f.Index().Options()
	for z := opts.MinZoom; z <= opts.MaxZoom+1; z++ {
		got := 0
		for _, c := range f.Clusters(domain.World, z) {
			if c.Cluster {
				got += c.Count
			} else {
				got++
			}
		}
		if got != want {
			p.errorf("zoom %d: features account for %d facilities, want %d", z, got, want)
		}
	}
	return p
}

func validateCoverage(year int, store *dataset.Store, lim limits) *phase {
	p := &phase{name: fmt.Sprintf("%d: choropleth coverage", year)}
	regions := store.Regions()
	if regions == nil {
		fmt.Printf("  %d: no boundaries catalogued, coverage skipped\n", year)
		return p
	}
	cov := choropleth.Measure(regions.Keys(), store.RankLookup())
	fmt.Printf("  %d: %d/%d regions ranked (%.1f%%), %d ranks without a boundary\n",
		year, cov.Matched, cov.Regions, cov.Ratio()*100, cov.Unmatched)
	if cov.Ratio() < lim.minCoverage {
		p.errorf("only %.1f%% of regions ranked, want at least %.1f%%", cov.Ratio()*100, lim.minCoverage*100)
	}
	return p
}
