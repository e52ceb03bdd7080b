// Package choropleth joins rank records onto boundary regions. One engine
// serves both render backends through the Target abstraction: an in-memory
// backend pulls ranks when it styles a feature, while a tiled backend is
// pushed one state per key and keeps those states for tiles loaded later.
package choropleth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
	"github.com/couchcryptid/emissions-equity-map/internal/readiness"
)

// ErrUnsupportedTarget is returned for targets that implement neither discipline.
var ErrUnsupportedTarget = errors.New("unsupported join target")

// Discipline is how a target receives joined ranks.
type Discipline int

const (
	Pull Discipline = iota
	Push
)

func (d Discipline) String() string {
	if d == Push {
		return "push"
	}
	return "pull"
}

// Target is a render backend that ranks are joined onto.
type Target interface {
	Discipline() Discipline
}

// PullTarget resolves ranks itself at style-evaluation time.
type PullTarget interface {
	Target
	Bind(lookup domain.RankLookup)
}

// PushTarget receives one state per region key. States replace any previous
// join only once Commit is called. The engine never interleaves two
// clear/set/commit sequences on the same engine.
type PushTarget interface {
	Target
	ClearStates()
	SetState(key string, rec domain.RankRecord)
	Commit(ctx context.Context) error
}

// Gate defers work until a push target's source is ready.
type Gate interface {
	Submit(ctx context.Context, job readiness.Job) error
}

// Observer receives join outcomes, e.g. for metrics.
type Observer interface {
	JoinApplied(d Discipline, states int)
	JoinDeferred()
}

// Result describes one join request.
type Result struct {
	Discipline Discipline `json:"discipline"`
	Records    int        `json:"records"`
	Deferred   bool       `json:"deferred"`
}

// Engine performs joins.
type Engine struct {
	gate     Gate
	logger   *slog.Logger
	observer Observer

	// pushMu is held for a whole clear/set/commit sequence.
	pushMu sync.Mutex
}

// NewEngine creates an engine. Push joins are submitted through gate; a nil
// gate runs them immediately.
func NewEngine(gate Gate, logger *slog.Logger, observer Observer) *Engine {
	return &Engine{gate: gate, logger: logger, observer: observer}
}

// Join applies ranks to target. For a push target whose source is not yet
// ready the join is queued and Result.Deferred is set; its eventual error is
// logged rather than returned.
func (e *Engine) Join(ctx context.Context, ranks *domain.RankSet, target Target) (Result, error) {
	res := Result{Discipline: target.Discipline(), Records: ranks.Len()}

	switch res.Discipline {
	case Pull:
		if t, ok := target.(PullTarget); ok {
			t.Bind(ranks)
			e.applied(Pull, ranks.Len())
			return res, nil
		}
	case Push:
		if t, ok := target.(PushTarget); ok {
			return e.push(ctx, ranks, t, res)
		}
	}
	return res, fmt.Errorf("%w: %T", ErrUnsupportedTarget, target)
}

func (e *Engine) push(ctx context.Context, ranks *domain.RankSet, t PushTarget, res Result) (Result, error) {
	records := ranks.Records()
	var ran atomic.Bool
	job := func(ctx context.Context) error {
		ran.Store(true)
		e.pushMu.Lock()
		defer e.pushMu.Unlock()
		t.ClearStates()
		for _, rec := range records {
			t.SetState(rec.Key, rec)
		}
		if err := t.Commit(ctx); err != nil {
			return fmt.Errorf("commit feature states: %w", err)
		}
		e.applied(Push, len(records))
		return nil
	}

	if e.gate == nil {
		return res, job(ctx)
	}
	if err := e.gate.Submit(ctx, job); err != nil {
		return res, err
	}
	if !ran.Load() {
		res.Deferred = true
		e.logger.Info("join deferred until tile source is ready", "records", len(records))
		if e.observer != nil {
			e.observer.JoinDeferred()
		}
	}
	return res, nil
}

func (e *Engine) applied(d Discipline, n int) {
	e.logger.Debug("join applied", "discipline", d, "records", n)
	if e.observer != nil {
		e.observer.JoinApplied(d, n)
	}
}
