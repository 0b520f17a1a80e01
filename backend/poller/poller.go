// Package poller runs one fetch loop per resource with a fixed delay between
// attempts and an explicit cancellation token gating every state commit.
package poller

import (
	"context"
	"sync"
	"time"

	"ids-dashboard/backend/system"

	"go.uber.org/zap"
)

// Fetcher loads the current value of a resource.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Source says how a snapshot's data was last written.
type Source string

const (
	SourceNone      Source = ""
	SourcePoll      Source = "poll"
	SourceOverwrite Source = "overwrite"
)

// Snapshot is a point-in-time copy of a poller's state.
type Snapshot[T any] struct {
	Data      T
	HasData   bool
	Err       error
	Busy      bool
	Running   bool
	UpdatedAt time.Time
	Source    Source
	Attempts  int
	Failures  int
}

// Options configures a Poller.
type Options[T any] struct {
	Name     string
	Interval time.Duration
	Clock    Clock
	// OnCommit is called outside the lock with every committed value.
	OnCommit func(T)
}

// token identifies one loop. A commit carrying a token whose generation is
// no longer current is discarded.
type token struct {
	gen uint64
	ctx context.Context
}

// Poller owns one resource slot. The slot has two writers: the loop's commit
// and Overwrite. Both go through mu, and the last one wins.
type Poller[T any] struct {
	fetch Fetcher[T]
	name  string
	every time.Duration
	clock Clock
	hook  func(T)

	mu     sync.Mutex
	snap   Snapshot[T]
	gen    uint64
	seq    uint64 // bumped under mu on every data commit
	parent context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	// hookMu orders OnCommit calls; a commit older than the last one
	// delivered is dropped.
	hookMu    sync.Mutex
	delivered uint64
}

func New[T any](fetch Fetcher[T], opts Options[T]) *Poller[T] {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Poller[T]{
		fetch: fetch,
		name:  opts.Name,
		every: opts.Interval,
		clock: opts.Clock,
		hook:  opts.OnCommit,
	}
}

func (p *Poller[T]) Name() string { return p.name }

// Start begins polling immediately. It is a no-op while already running.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.Running {
		return
	}
	p.parent = ctx
	p.launchLocked()
}

// Stop tears down the current loop without waiting for an in-flight fetch.
// Whatever that fetch returns is discarded.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.snap.Running {
		return
	}
	p.gen++
	p.cancel()
	p.snap.Running = false
	p.snap.Busy = false
}

// Restart replaces the current loop with a fresh one that fetches
// immediately. Used when the fetch's inputs change.
func (p *Poller[T]) Restart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.snap.Running {
		return
	}
	p.cancel()
	p.snap.Busy = false
	p.launchLocked()
}

// Wait blocks until every loop started so far has exited.
func (p *Poller[T]) Wait() { p.loops.Wait() }

func (p *Poller[T]) launchLocked() {
	p.gen++
	ctx, cancel := context.WithCancel(p.parent)
	p.cancel = cancel
	p.snap.Running = true
	tok := token{gen: p.gen, ctx: ctx}
	p.loops.Add(1)
	go p.loop(tok)
}

func (p *Poller[T]) loop(tok token) {
	defer p.loops.Done()
	for {
		if !p.commit(tok, func(s *Snapshot[T]) { s.Busy = true }) {
			return
		}

		v, err := p.fetch(tok.ctx)
		if !p.commitResult(tok, v, err) {
			return
		}

		select {
		case <-p.clock.After(p.every):
		case <-tok.ctx.Done():
			p.exit(tok)
			return
		}
	}
}

// commit applies fn if tok is still current.
func (p *Poller[T]) commit(tok token, fn func(*Snapshot[T])) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.gen != p.gen {
		return false
	}
	if tok.ctx.Err() != nil {
		p.exitLocked()
		return false
	}
	fn(&p.snap)
	return true
}

func (p *Poller[T]) commitResult(tok token, v T, err error) bool {
	p.mu.Lock()
	if tok.gen != p.gen {
		p.mu.Unlock()
		return false
	}
	if tok.ctx.Err() != nil {
		p.exitLocked()
		p.mu.Unlock()
		return false
	}

	p.snap.Busy = false
	p.snap.Attempts++
	if err != nil {
		// Keep the last good data; only the error changes.
		p.snap.Err = err
		p.snap.Failures++
		p.mu.Unlock()
		system.Logger().Warn("poll failed", zap.String("resource", p.name), zap.Error(err))
		return true
	}
	p.snap.Data = v
	p.snap.HasData = true
	p.snap.Err = nil
	p.snap.UpdatedAt = p.clock.Now()
	p.snap.Source = SourcePoll
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	p.deliver(v, seq)
	return true
}

// exit marks the poller stopped when its parent context ends.
func (p *Poller[T]) exit(tok token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.gen == p.gen {
		p.exitLocked()
	}
}

func (p *Poller[T]) exitLocked() {
	p.gen++
	p.snap.Running = false
	p.snap.Busy = false
}

// Overwrite replaces the slot's data out of band and clears its error.
// The loop's cadence is not affected.
func (p *Poller[T]) Overwrite(v T) {
	p.mu.Lock()
	p.snap.Data = v
	p.snap.HasData = true
	p.snap.Err = nil
	p.snap.UpdatedAt = p.clock.Now()
	p.snap.Source = SourceOverwrite
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	p.deliver(v, seq)
}

// deliver runs the hook for the commit numbered seq unless a newer commit
// has already been delivered. The hook runs outside mu.
func (p *Poller[T]) deliver(v T, seq uint64) {
	if p.hook == nil {
		return
	}
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	if seq <= p.delivered {
		return
	}
	p.delivered = seq
	p.hook(v)
}

// Snapshot returns a copy of the current state.
func (p *Poller[T]) Snapshot() Snapshot[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
