// Package poller keeps the diagnosis list in sync while any record is still
// being worked on by the backend.
//
// A Poller is either idle or polling. While polling it holds exactly one
// armed timer; each tick arms the next timer and then refreshes the list, so
// refresh calls may overlap when the backend is slower than the interval.
// Results from a stopped run, or older than an already applied tick, are
// discarded. The first refresh without an active record returns the poller
// to idle.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kamilpajak/opsdiag/internal/metrics"
	"github.com/kamilpajak/opsdiag/pkg/logger"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

// DefaultInterval is the refresh interval used when none is configured.
const DefaultInterval = 3 * time.Second

// RefreshFunc fetches the current record list.
type RefreshFunc func(ctx context.Context) ([]models.DiagnosisRecord, error)

// ApplyFunc receives every accepted refresh result.
type ApplyFunc func(records []models.DiagnosisRecord)

// TransientFetchError is a failed background refresh. It is logged and
// counted, never surfaced to the user; the next tick retries.
type TransientFetchError struct {
	Tick uint64
	Err  error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("background refresh %d failed: %v", e.Tick, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// Clock schedules the poll timer.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled tick.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Poller is the status poller. Start and Stop are its only mutators.
type Poller struct {
	refresh  RefreshFunc
	apply    ApplyFunc
	onError  func(*TransientFetchError)
	onIdle   func()
	interval time.Duration
	clock    Clock
	logger   logger.Logger

	mu         sync.Mutex
	ctx        context.Context
	timer      Timer
	generation uint64
	issued     uint64
	applied    uint64

	applyMu sync.Mutex
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the refresh interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger configures structured logging.
func WithLogger(l logger.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithErrorHandler is called for every failed refresh.
func WithErrorHandler(f func(*TransientFetchError)) Option {
	return func(p *Poller) { p.onError = f }
}

// WithIdleHandler is called after a refresh returned the poller to idle.
func WithIdleHandler(f func()) Option {
	return func(p *Poller) { p.onIdle = f }
}

// New creates an idle poller.
func New(refresh RefreshFunc, apply ApplyFunc, opts ...Option) *Poller {
	p := &Poller{
		refresh:  refresh,
		apply:    apply,
		interval: DefaultInterval,
		clock:    realClock{},
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start enters polling. Starting while already polling cancels the prior
// timer first, so at most one timer is ever armed. ctx is passed to refresh
// calls; cancelling it does not stop the poller.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.generation++
	p.ctx = ctx
	p.arm(p.generation)
	metrics.PollerActive.Set(1)
	p.logger.Debug("poller started", "interval", p.interval.String(), "generation", p.generation)
}

// Stop returns to idle and cancels the armed timer. A refresh already in
// flight completes but its result is discarded. Stopping an idle poller is
// a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer == nil {
		return
	}
	p.stopLocked()
	p.logger.Debug("poller stopped")
}

// Polling reports whether a timer is armed.
func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// Interval returns the refresh interval.
func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) stopLocked() {
	p.timer.Stop()
	p.timer = nil
	p.generation++
	metrics.PollerActive.Set(0)
}

func (p *Poller) arm(gen uint64) {
	p.timer = p.clock.AfterFunc(p.interval, func() { p.tick(gen) })
}

func (p *Poller) tick(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || p.timer == nil {
		p.mu.Unlock()
		return
	}
	p.issued++
	seq := p.issued
	p.arm(gen)
	ctx := p.ctx
	p.mu.Unlock()

	records, err := p.refresh(ctx)
	p.handle(gen, seq, records, err)
}

func (p *Poller) handle(gen, seq uint64, records []models.DiagnosisRecord, err error) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	p.mu.Lock()
	if gen != p.generation || p.timer == nil || seq <= p.applied {
		p.mu.Unlock()
		metrics.PollTicksTotal.WithLabelValues("discarded").Inc()
		p.logger.Debug("discarding stale refresh result", "tick", seq)
		return
	}
	if err != nil {
		p.mu.Unlock()
		fetchErr := &TransientFetchError{Tick: seq, Err: err}
		metrics.PollTicksTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("background refresh failed", "tick", seq, "error", err)
		if p.onError != nil {
			p.onError(fetchErr)
		}
		return
	}

	p.applied = seq
	active := models.AnyActive(records)
	if !active {
		p.stopLocked()
	}
	p.mu.Unlock()

	if active {
		metrics.PollTicksTotal.WithLabelValues("active").Inc()
	} else {
		metrics.PollTicksTotal.WithLabelValues("idle").Inc()
		p.logger.Debug("no active diagnosis left, poller idle", "tick", seq)
	}

	if p.apply != nil {
		p.apply(records)
	}
	if !active && p.onIdle != nil {
		p.onIdle()
	}
}
