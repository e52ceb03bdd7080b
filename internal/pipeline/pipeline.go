package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/emissions-equity-map/internal/boundary"
	"github.com/couchcryptid/emissions-equity-map/internal/catalog"
	"github.com/couchcryptid/emissions-equity-map/internal/choropleth"
	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/dataset"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/observability"
	"golang.org/x/sync/errgroup"
)

// ErrSuperseded is returned when a newer load of the same kind committed first.
var ErrSuperseded = errors.New("superseded by a newer load")

// Dataset kinds, used as metric labels.
const (
	KindFacilities = "facilities"
	KindRanks      = "ranks"
	KindBoundaries = "boundaries"
)

// Options configures a Loader.
type Options struct {
	Cluster     cluster.Options
	KeyProperty string
	// Targets receive every committed rank generation through the join engine.
	Targets []choropleth.Target
}

// Loader reads catalogued datasets, normalizes them, and commits new
// generations to the store.
type Loader struct {
	catalog *catalog.Catalog
	source  Source
	store   *dataset.Store
	engine  *choropleth.Engine
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	// joinMu orders rank joins with rank commits. Only the generation that
	// is current when the lock is taken is joined.
	joinMu sync.Mutex
}

// New creates a Loader.
func New(cat *catalog.Catalog, src Source, store *dataset.Store, engine *choropleth.Engine, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	if opts.KeyProperty == "" {
		opts.KeyProperty = boundary.DefaultKeyProperty
	}
	return &Loader{
		catalog: cat,
		source:  src,
		store:   store,
		engine:  engine,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Catalog returns the dataset catalog.
func (l *Loader) Catalog() *catalog.Catalog { return l.catalog }

// Summary reports the outcome of a year load.
type Summary struct {
	Year       int           `json:"year"`
	Facilities domain.Report `json:"facilities"`
	Ranks      domain.Report `json:"ranks"`
	Regions    int           `json:"regions"`
	Joins      []JoinOutcome `json:"joins"`
}

// JoinOutcome is the result of joining a rank generation onto one target.
type JoinOutcome struct {
	Discipline string `json:"discipline"`
	Records    int    `json:"records"`
	Deferred   bool   `json:"deferred,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CheckReadiness returns nil once a facility generation has been committed.
func (l *Loader) CheckReadiness(_ context.Context) error {
	if l.store.Facilities.Current() == nil {
		return errors.New("no facility data loaded yet")
	}
	return nil
}

// LoadYear loads the facility, rank, and boundary datasets of year
// concurrently. Year 0 selects the catalog default. When any dataset fails,
// loads that have not committed yet are abandoned and the error is returned.
func (l *Loader) LoadYear(ctx context.Context, year int) (Summary, error) {
	if year == 0 {
		year = l.catalog.DefaultYear
	}
	entry, err := l.catalog.Year(year)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Year: year}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := l.LoadFacilities(gctx, entry)
		if err == nil {
			sum.Facilities = f.Report
		}
		return err
	})
	g.Go(func() error {
		r, joins, err := l.LoadRanks(gctx, entry)
		if err == nil {
			sum.Ranks = r.Report
			sum.Joins = joins
		}
		return err
	})
	g.Go(func() error {
		b, err := l.LoadBoundaries(gctx, entry)
		if err == nil && b != nil {
			sum.Regions = b.Collection.Len()
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return sum, fmt.Errorf("load year %d: %w", year, err)
	}

	l.logger.Info("year loaded",
		"year", year,
		"facilities", sum.Facilities.Accepted,
		"ranks", sum.Ranks.Accepted,
		"regions", sum.Regions,
	)
	return sum, nil
}

// LoadFacilities reads, filters, and normalizes the facility dataset of
// entry and commits a new facility generation with a fresh cluster index.
func (l *Loader) LoadFacilities(ctx context.Context, entry catalog.Entry) (*dataset.Facilities, error) {
	start := time.Now()
	seq := l.store.Facilities.Begin()

	f, err := l.buildFacilities(entry)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, l.failed(KindFacilities, entry, err)
	}
	if !l.store.CommitFacilities(seq, f) {
		return nil, l.superseded(KindFacilities, entry, seq)
	}

	cur := l.store.Facilities.Current()
	l.committed(KindFacilities, seq, f.Report, start)
	l.metrics.LoadedYear.Set(float64(entry.Year))
	l.metrics.VisiblePoints.Set(float64(len(cur.Points())))
	l.logger.Info("facilities loaded",
		"year", entry.Year,
		"accepted", f.Report.Accepted,
		"rejected", f.Report.Rejected,
		"visible", len(cur.Points()),
		"filter", cur.Filter().String(),
	)
	return cur, nil
}

func (l *Loader) buildFacilities(entry catalog.Entry) (*dataset.Facilities, error) {
	table, err := l.readTable(entry.Facilities)
	if err != nil {
		return nil, err
	}
	if entry.Pollutant != "" {
		var ok bool
		if table, ok = FilterPollutant(table, entry.Pollutant); !ok {
			l.logger.Warn("facility dataset has no pollutant column, not filtering",
				"file", entry.Facilities, "pollutant", entry.Pollutant)
		}
	}
	points, report, err := domain.NormalizeFacilities(table)
	if err != nil {
		return nil, err
	}
	if report.Accepted == 0 {
		return nil, fmt.Errorf("%s: %d rows: %w", entry.Facilities, report.Total, ErrNoRows)
	}
	return dataset.NewFacilities(entry.Year, points, l.store.RiskFilter(), l.opts.Cluster, report), nil
}

// LoadRanks reads and normalizes the rank dataset of entry, commits a new
// rank generation, and joins it onto every target. Join failures are
// reported in the outcomes and do not fail the load. A generation that a
// newer load replaced before its join started is never joined and
// ErrSuperseded is returned.
func (l *Loader) LoadRanks(ctx context.Context, entry catalog.Entry) (*dataset.Ranks, []JoinOutcome, error) {
	start := time.Now()
	seq := l.store.Ranks.Begin()

	r, err := l.buildRanks(entry)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, nil, l.failed(KindRanks, entry, err)
	}
	if !l.store.CommitRanks(seq, r) {
		return nil, nil, l.superseded(KindRanks, entry, seq)
	}
	l.committed(KindRanks, seq, r.Report, start)
	if r.Report.Duplicates > 0 {
		l.logger.Warn("duplicate rank keys, last row kept",
			"year", entry.Year, "duplicates", r.Report.Duplicates)
	}
	l.logger.Info("ranks loaded",
		"year", entry.Year,
		"accepted", r.Report.Accepted,
		"rejected", r.Report.Rejected,
		"keys", r.Set.Len(),
	)

	l.joinMu.Lock()
	defer l.joinMu.Unlock()
	if l.store.Ranks.Committed() != seq {
		return nil, nil, l.superseded(KindRanks, entry, seq)
	}
	return r, l.join(ctx, r.Set), nil
}

func (l *Loader) buildRanks(entry catalog.Entry) (*dataset.Ranks, error) {
	table, err := l.readTable(entry.Ranks)
	if err != nil {
		return nil, err
	}
	set, report, err := domain.NormalizeRanks(table)
	if err != nil {
		return nil, err
	}
	if report.Accepted == 0 {
		return nil, fmt.Errorf("%s: %d rows: %w", entry.Ranks, report.Total, ErrNoRows)
	}
	return &dataset.Ranks{Year: entry.Year, LoadedAt: domain.Now(), Report: report, Set: set}, nil
}

func (l *Loader) join(ctx context.Context, set *domain.RankSet) []JoinOutcome {
	out := make([]JoinOutcome, 0, len(l.opts.Targets))
	for _, target := range l.opts.Targets {
		res, err := l.engine.Join(ctx, set, target)
		o := JoinOutcome{Discipline: target.Discipline().String(), Records: res.Records, Deferred: res.Deferred}
		if err != nil {
			o.Error = err.Error()
			l.logger.Warn("rank join failed", "discipline", o.Discipline, "error", err)
		}
		out = append(out, o)
	}
	return out
}

// LoadBoundaries reads the boundary dataset of entry and commits a new
// boundary generation. Entries without a boundary file return nil.
func (l *Loader) LoadBoundaries(ctx context.Context, entry catalog.Entry) (*dataset.Boundaries, error) {
	if entry.Boundaries == "" {
		return nil, nil
	}
	start := time.Now()
	seq := l.store.Boundaries.Begin()

	c, err := l.readBoundaries(entry.Boundaries)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, l.failed(KindBoundaries, entry, err)
	}
	b := &dataset.Boundaries{Year: entry.Year, LoadedAt: domain.Now(), Source: entry.Boundaries, Collection: c}
	if !l.store.CommitBoundaries(seq, b) {
		return nil, l.superseded(KindBoundaries, entry, seq)
	}
	l.committed(KindBoundaries, seq, domain.Report{Total: c.Len(), Accepted: c.Len()}, start)
	l.logger.Info("boundaries loaded", "year", entry.Year, "regions", c.Len(), "file", entry.Boundaries)
	return b, nil
}

func (l *Loader) readBoundaries(name string) (*boundary.Collection, error) {
	switch ext := filepath.Ext(baseName(name)); ext {
	case ".shp":
		path, err := l.source.Path(name)
		if err != nil {
			return nil, err
		}
		return boundary.ReadShapefile(path, l.opts.KeyProperty, l.logger)
	case ".geojson", ".json":
		rc, err := l.source.Open(name)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		return boundary.DecodeGeoJSON(rc, l.opts.KeyProperty)
	default:
		return nil, fmt.Errorf("unsupported boundary format %q", ext)
	}
}

// SetRiskFilter changes the risk filter and rebuilds the current facility
// generation with it.
func (l *Loader) SetRiskFilter(filter domain.RiskFilter) *dataset.Facilities {
	f := l.store.SetRiskFilter(filter)
	if f != nil {
		l.metrics.VisiblePoints.Set(float64(len(f.Points())))
		l.logger.Info("risk filter applied", "filter", filter.String(), "visible", len(f.Points()))
	}
	return f
}

func (l *Loader) readTable(name string) (domain.Table, error) {
	rc, err := l.source.Open(name)
	if err != nil {
		return domain.Table{}, err
	}
	defer func() { _ = rc.Close() }()
	t, err := ReadTable(rc)
	if err != nil {
		return domain.Table{}, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func (l *Loader) committed(kind string, seq uint64, report domain.Report, start time.Time) {
	l.metrics.RowsAccepted.WithLabelValues(kind).Add(float64(report.Accepted))
	l.metrics.RowsRejected.WithLabelValues(kind).Add(float64(report.Rejected))
	l.metrics.LoadDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	l.metrics.Generation.WithLabelValues(kind).Set(float64(seq))
}

func (l *Loader) failed(kind string, entry catalog.Entry, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	l.metrics.LoadFailures.WithLabelValues(kind).Inc()
	l.logger.Error("dataset load failed, keeping previous generation",
		"kind", kind, "year", entry.Year, "error", err)
	return fmt.Errorf("load %s: %w", kind, err)
}

func (l *Loader) superseded(kind string, entry catalog.Entry, seq uint64) error {
	l.logger.Info("discarding superseded load", "kind", kind, "year", entry.Year, "seq", seq)
	return fmt.Errorf("load %s for %d: %w", kind, entry.Year, ErrSuperseded)
}
