// Package readiness gates work on a lazily initialized source behind a
// bounded polling handshake.
//
// A Coordinator starts UNINITIALIZED. The first submitted job starts a single
// polling sequence: the source is probed immediately and, while unavailable,
// re-probed after a fixed interval up to a retry budget. Jobs submitted before
// the source is READY are queued and run in submission order once it is. When
// the budget is exhausted the coordinator is FAILED for good.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrTimeout is the failure recorded when the retry budget runs out.
	ErrTimeout = errors.New("source did not become ready")
	// ErrUnavailable is returned for jobs submitted after the coordinator failed.
	ErrUnavailable = errors.New("source unavailable")
	// ErrClosed is returned by Wait and Submit after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Default retry budget: 10 retries one second apart.
const (
	DefaultMaxRetries = 10
	DefaultInterval   = time.Second
)

// State is the handshake state.
type State int

const (
	Uninitialized State = iota
	Polling
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Probe reports whether the source can be queried.
type Probe interface {
	Available(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Available(ctx context.Context) error { return f(ctx) }

// Job is deferred work that needs the source.
type Job func(ctx context.Context) error

// Observer receives handshake events, e.g. for metrics.
type Observer interface {
	ProbeFailed(attempt int)
	StateChanged(s State)
	JobDeferred()
	JobFailed()
}

// Options configures a Coordinator.
type Options struct {
	MaxRetries   int
	Interval     time.Duration
	ProbeTimeout time.Duration
	Clock        clockwork.Clock
	Observer     Observer
}

// Coordinator runs the readiness handshake and the deferred job queue.
type Coordinator struct {
	probe    Probe
	logger   *slog.Logger
	clock    clockwork.Clock
	retries  int
	interval time.Duration
	timeout  time.Duration
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	started  bool
	attempts int
	err      error
	queue    []Job
	done     chan struct{}
}

// New creates a coordinator for probe. Zero option values use the defaults.
func New(probe Probe, opts Options, logger *slog.Logger) *Coordinator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		probe:    probe,
		logger:   logger,
		clock:    opts.Clock,
		retries:  opts.MaxRetries,
		interval: opts.Interval,
		timeout:  opts.ProbeTimeout,
		observer: opts.Observer,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Submit runs job now if the source is ready, queues it and starts polling if
// not, and returns ErrUnavailable if the handshake already failed. The return
// value of a queued job is not reported to the caller.
func (c *Coordinator) Submit(ctx context.Context, job Job) error {
	c.mu.Lock()
	switch c.state {
	case Ready:
		c.mu.Unlock()
		return job(ctx)
	case Failed:
		err := c.err
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, job)
	c.notify(func(o Observer) { o.JobDeferred() })
	c.startLocked()
	c.mu.Unlock()
	return nil
}

// Start begins polling without submitting a job. Calling it more than once,
// or while a sequence is running, has no effect.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
}

func (c *Coordinator) startLocked() {
	if c.started || c.ctx.Err() != nil {
		return
	}
	c.started = true
	c.setStateLocked(Polling)
	go c.poll()
}

func (c *Coordinator) poll() {
	for attempt := 0; ; attempt++ {
		err := c.check()
		if err == nil {
			c.becomeReady()
			return
		}

		c.mu.Lock()
		c.attempts = attempt + 1
		c.mu.Unlock()
		c.notify(func(o Observer) { o.ProbeFailed(attempt) })

		if attempt >= c.retries {
			c.fail(fmt.Errorf("%w after %d retries: %w", ErrTimeout, c.retries, err))
			return
		}
		c.logger.Debug("source not ready, retrying", "attempt", attempt+1, "retry_in", c.interval, "error", err)

		select {
		case <-c.ctx.Done():
			c.fail(ErrClosed)
			return
		case <-c.clock.After(c.interval):
		}
	}
}

func (c *Coordinator) check() error {
	ctx := c.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.probe.Available(ctx)
}

// becomeReady drains the queue in order and then flips the state. Jobs
// submitted while draining are appended to the same queue, so submission
// order holds across the transition.
func (c *Coordinator) becomeReady() {
	c.logger.Info("source ready", "deferred_jobs", c.Pending())
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.setStateLocked(Ready)
			c.mu.Unlock()
			break
		}
		job := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := job(c.ctx); err != nil {
			c.logger.Error("deferred job failed", "error", err)
			c.notify(func(o Observer) { o.JobFailed() })
		}
	}
	close(c.done)
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.setStateLocked(Failed)
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	c.logger.Error("source readiness failed", "error", err, "dropped_jobs", dropped)
	close(c.done)
}

func (c *Coordinator) setStateLocked(s State) {
	c.state = s
	c.notify(func(o Observer) { o.StateChanged(s) })
}

func (c *Coordinator) notify(fn func(Observer)) {
	if c.observer != nil {
		fn(c.observer)
	}
}

// Done is closed once the coordinator reaches Ready or Failed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Wait blocks until the handshake finishes or ctx ends and returns the failure, if any.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	}
}

// State returns the current handshake state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many probes have failed so far.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Err returns the failure once the coordinator is Failed, otherwise nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the number of queued jobs.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// CheckReadiness reports nil once the source is Ready.
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Ready:
		return nil
	case Failed:
		return c.err
	default:
		return fmt.Errorf("tile source %s", c.state)
	}
}

// Close stops a running polling sequence. Queued jobs are dropped.
func (c *Coordinator) Close() {
	c.cancel()
}
