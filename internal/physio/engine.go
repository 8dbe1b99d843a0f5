package physio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Freshair129/agentic-agent/internal/metrics"
)

// ErrEngineClosed is returned by calls made after Close.
var ErrEngineClosed = errors.New("physio: engine closed")

// Clock abstracts wall time so tests can drive decay deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// ApplyResult carries the state immediately before and after a stimulus.
type ApplyResult struct {
	Delta  Delta
	Before Snapshot
	After  Snapshot
}

// Engine owns a Simulator on a single goroutine. Ticks and stimuli are
// serialized through one command channel; readers see the most recent
// published snapshot without blocking the writer.
type Engine struct {
	sim       *Simulator
	clock     Clock
	tickEvery time.Duration
	logger    *slog.Logger

	cmds   chan func()
	stop   chan struct{}
	done   chan struct{}
	latest atomic.Pointer[Snapshot]

	subsMu  sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool

	startOnce sync.Once
	closeOnce sync.Once
}

// NewEngine wraps sim. A tickEvery of zero disables the background ticker;
// decay then only advances on Apply and Advance.
func NewEngine(sim *Simulator, clock Clock, tickEvery time.Duration, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		sim:       sim,
		clock:     clock,
		tickEvery: tickEvery,
		logger:    logger,
		cmds:      make(chan func()),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		subs:      make(map[int]chan Snapshot),
	}
	snap := sim.Snapshot()
	e.latest.Store(&snap)
	return e
}

// Start launches the owner goroutine.
func (e *Engine) Start() {
	e.startOnce.Do(func() { go e.loop() })
}

// Close stops the owner goroutine and closes subscriber channels.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.startOnce.Do(func() { close(e.done) })
		<-e.done
		e.subsMu.Lock()
		e.closed = true
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subsMu.Unlock()
	})
}

func (e *Engine) loop() {
	defer close(e.done)
	var tick <-chan time.Time
	if e.tickEvery > 0 {
		t := time.NewTicker(e.tickEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-e.stop:
			return
		case <-tick:
			e.advance()
		case fn := <-e.cmds:
			fn()
		}
	}
}

// do runs fn on the owner goroutine. Once accepted, fn always runs to
// completion even if ctx is cancelled while waiting for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return ErrEngineClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance decays to the clock's now and publishes. With no time passed the
// accumulation window stays open. Owner goroutine only.
func (e *Engine) advance() Snapshot {
	elapsed := e.clock.Now().Sub(e.sim.LastTick())
	if elapsed <= 0 {
		return e.sim.Snapshot()
	}
	snap := e.sim.Tick(elapsed)
	metrics.SimulatorTicks.Inc()
	e.publish(snap)
	return snap
}

// Apply brings decay up to date and then applies ev.
func (e *Engine) Apply(ctx context.Context, ev StimulusEvent) (ApplyResult, error) {
	var (
		res ApplyResult
		err error
	)
	if derr := e.do(ctx, func() {
		res.Before = e.advance()
		res.Delta, err = e.sim.Apply(ev)
		if err != nil {
			metrics.StimuliApplied.WithLabelValues("rejected").Inc()
			return
		}
		metrics.StimuliApplied.WithLabelValues("applied").Inc()
		res.After = e.sim.Snapshot()
		e.publish(res.After)
	}); derr != nil {
		return ApplyResult{}, derr
	}
	if err != nil {
		e.logger.Debug("stimulus rejected", "id", ev.ID, "err", err)
		return ApplyResult{}, err
	}
	return res, nil
}

// Advance forces a decay tick to the clock's now.
func (e *Engine) Advance(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := e.do(ctx, func() { snap = e.advance() }); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Latest returns the most recently published snapshot.
func (e *Engine) Latest() Snapshot {
	return *e.latest.Load()
}

// Subscribe returns a channel receiving published snapshots and a cancel
// func. Slow subscribers only ever see the newest snapshot. After Close the
// channel comes back already closed.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	e.subsMu.Lock()
	if e.closed {
		e.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()
	return ch, func() {
		e.subsMu.Lock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
		e.subsMu.Unlock()
	}
}

func (e *Engine) publish(snap Snapshot) {
	e.latest.Store(&snap)
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
