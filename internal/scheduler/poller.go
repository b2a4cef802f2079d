// Package scheduler drives the fetch-and-write cycle on a timer.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/trimet-twin/pipeline/internal/metrics"
	"github.com/trimet-twin/pipeline/internal/snapshot"
)

// ErrAlreadyRunning is returned by Start when the poller is running
var ErrAlreadyRunning = errors.New("poller already running")

// Fetcher returns one raw feed payload
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// SnapshotWriter persists one payload under an identifier
type SnapshotWriter interface {
	Write(raw []byte, id string) error
}

// State is the poller lifecycle state
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Stats is a snapshot of the poller's counters
type Stats struct {
	Ticks    int64 // cycles started
	Dropped  int64 // ticks skipped because a cycle was still running
	Failures int64 // cycles that produced no snapshot
	Written  int64 // snapshots written
	Cycle    metrics.Summary
}

// Poller fires one fetch-and-write cycle per interval. The first tick fires
// on Start; each following tick is scheduled one interval after the previous
// tick started. Cycles never overlap: a tick that fires while the previous
// cycle is still running is dropped, not queued.
type Poller struct {
	fetcher Fetcher
	writer  SnapshotWriter
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	interval   time.Duration
	cancel     context.CancelFunc
	loopDone   chan struct{}
	reschedule chan struct{}

	busy     atomic.Bool
	inflight sync.WaitGroup

	ticks, dropped, failures, written atomic.Int64
	cycle                             metrics.DurationStats
}

// NewPoller creates an idle poller
func NewPoller(fetcher Fetcher, writer SnapshotWriter, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:    fetcher,
		writer:     writer,
		logger:     logger,
		now:        time.Now,
		interval:   interval,
		reschedule: make(chan struct{}, 1),
	}
}

// Start moves the poller to Running and fires the first tick immediately
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopDone = make(chan struct{})

	go p.loop(loopCtx, p.loopDone)

	p.logger.Info("Poller: started", "interval", p.interval)
	return nil
}

// Stop moves the poller to Idle. Pending ticks are cancelled; a cycle
// already in progress runs to completion before Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.loopDone
	p.cancel, p.loopDone = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.inflight.Wait()

	p.logger.Info("Poller: stopped")
}

// SetInterval changes the period used for scheduling future ticks.
// A cycle in flight is not affected.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		p.logger.Warn("Poller: ignoring non-positive interval", "interval", d)
		return
	}

	p.mu.Lock()
	changed := p.interval != d
	p.interval = d
	p.mu.Unlock()

	if !changed {
		return
	}
	p.logger.Info("Poller: interval changed", "interval", d)

	select {
	case p.reschedule <- struct{}{}:
	default:
	}
}

// Interval returns the current scheduling period
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// State reports whether the poller is running
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return Running
	}
	return Idle
}

// Stats returns the poller's counters
func (p *Poller) Stats() Stats {
	return Stats{
		Ticks:    p.ticks.Load(),
		Dropped:  p.dropped.Load(),
		Failures: p.failures.Load(),
		Written:  p.written.Load(),
		Cycle:    p.cycle.Summary(),
	}
}

// RunOnce runs a single cycle synchronously, outside the timer. It fails
// with ErrAlreadyRunning if a cycle is in progress.
func (p *Poller) RunOnce(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.busy.Store(false)
	return p.cycleOnce(ctx)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	var lastStart time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case <-p.reschedule:
			if lastStart.IsZero() {
				// first tick has not fired yet
				continue
			}
			resetTimer(timer, time.Until(lastStart.Add(p.Interval())))

		case <-timer.C:
			lastStart = time.Now()
			p.fire(ctx)
			resetTimer(timer, time.Until(lastStart.Add(p.Interval())))
		}
	}
}

// fire starts a cycle unless one is still running
func (p *Poller) fire(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		p.dropped.Add(1)
		p.logger.Warn("Poller: previous cycle still running, tick dropped")
		return
	}

	// The cycle must not be torn by Stop, so it does not inherit cancellation
	cycleCtx := context.WithoutCancel(ctx)

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.busy.Store(false)
		_ = p.cycleOnce(cycleCtx)
	}()
}

// cycleOnce fetches the feed and writes one snapshot. Errors are logged
// here and returned for callers that want them.
func (p *Poller) cycleOnce(ctx context.Context) error {
	p.ticks.Add(1)
	cycleID := uuid.NewString()
	start := time.Now()
	defer func() { p.cycle.Observe(time.Since(start)) }()

	body, err := p.fetcher.Fetch(ctx)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("Poller: fetch failed, cycle skipped", "cycle", cycleID, "error", err)
		return err
	}

	id := snapshot.NewID(p.now())
	if err := p.writer.Write(body, id); err != nil {
		p.failures.Add(1)
		p.logger.Error("Poller: snapshot write failed", "cycle", cycleID, "snapshot", id, "error", err)
		return err
	}

	p.written.Add(1)
	p.logger.Info("Poller: snapshot written",
		"cycle", cycleID,
		"snapshot", id,
		"bytes", len(body),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
