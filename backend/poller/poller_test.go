package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// scripted returns fetch results in order, repeating the last one.
type scripted struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (int, error)
	calls int
}

func (s *scripted) fetch(ctx context.Context) (int, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[i]
	s.mu.Unlock()
	return step(ctx)
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func value(v int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return v, nil }
}

func failure(err error) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return 0, err }
}

func TestFirstFetchIsImmediateAndDelayIsFixed(t *testing.T) {
	clock := NewManualClock(epoch)
	src := &scripted{steps: []func(context.Context) (int, error){value(1), value(2)}}
	p := New(src.fetch, Options[int]{Name: "alerts", Interval: 5 * time.Second, Clock: clock})

	p.Start(context.Background())
	defer p.Stop()

	clock.BlockUntil(1)
	snap := p.Snapshot()
	if !snap.HasData || snap.Data != 1 || snap.Source != SourcePoll {
		t.Fatalf("after first fetch: %+v", snap)
	}
	if !snap.UpdatedAt.Equal(epoch) {
		t.Errorf("updated at %v, want %v", snap.UpdatedAt, epoch)
	}

	clock.Advance(4 * time.Second)
	if src.count() != 1 {
		t.Fatalf("fetched %d times before the interval elapsed", src.count())
	}

	clock.Advance(time.Second)
	clock.BlockUntil(1)
	if got := p.Snapshot().Data; got != 2 {
		t.Errorf("data = %d, want 2", got)
	}
	if src.count() != 2 {
		t.Errorf("calls = %d, want 2", src.count())
	}
}

func TestFailureRetainsLastData(t *testing.T) {
	clock := NewManualClock(epoch)
	boom := errors.New("backend unavailable")
	src := &scripted{steps: []func(context.Context) (int, error){value(7), failure(boom), value(9)}}
	p := New(src.fetch, Options[int]{Name: "blocks", Interval: time.Second, Clock: clock})
	p.Start(context.Background())
	defer p.Stop()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)

	snap := p.Snapshot()
	if snap.Data != 7 || !snap.HasData {
		t.Errorf("data lost on failure: %+v", snap)
	}
	if !errors.Is(snap.Err, boom) {
		t.Errorf("err = %v, want %v", snap.Err, boom)
	}
	if snap.Failures != 1 || snap.Attempts != 2 {
		t.Errorf("attempts/failures = %d/%d", snap.Attempts, snap.Failures)
	}
	if !snap.UpdatedAt.Equal(epoch) {
		t.Errorf("failure moved UpdatedAt to %v", snap.UpdatedAt)
	}

	clock.Advance(time.Second)
	clock.BlockUntil(1)
	snap = p.Snapshot()
	if snap.Err != nil || snap.Data != 9 {
		t.Errorf("success should clear error: %+v", snap)
	}
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		close(entered)
		<-release
		return 42, nil
	}
	var hooked atomic.Int32
	p := New(fetch, Options[int]{Name: "history", Interval: time.Second, Clock: NewManualClock(epoch),
		OnCommit: func(int) { hooked.Add(1) }})

	p.Start(context.Background())
	<-entered
	if !p.Snapshot().Busy {
		t.Error("expected busy while fetch is in flight")
	}

	p.Stop()
	close(release)
	p.Wait()

	snap := p.Snapshot()
	if snap.HasData || snap.Busy || snap.Running {
		t.Errorf("stale fetch committed after stop: %+v", snap)
	}
	if hooked.Load() != 0 {
		t.Error("OnCommit fired for a discarded result")
	}
}

func TestRestartSupersedesOldLoop(t *testing.T) {
	clock := NewManualClock(epoch)
	entered := make(chan struct{})
	release := make(chan struct{})
	src := &scripted{steps: []func(context.Context) (int, error){
		func(context.Context) (int, error) {
			close(entered)
			<-release
			return 1, nil
		},
		value(2),
	}}
	p := New(src.fetch, Options[int]{Name: "alerts", Interval: time.Minute, Clock: clock})
	p.Start(context.Background())

	<-entered
	p.Restart()
	clock.BlockUntil(1)
	if got := p.Snapshot().Data; got != 2 {
		t.Fatalf("data = %d, want 2 from the new loop", got)
	}

	close(release)
	p.Stop()
	p.Wait()
	if got := p.Snapshot().Data; got != 2 {
		t.Errorf("old loop overwrote slot with %d", got)
	}
}

func TestOverwriteBypassesCadence(t *testing.T) {
	clock := NewManualClock(epoch)
	var seen []int
	var mu sync.Mutex
	p := New(func(context.Context) (int, error) { return 0, errors.New("down") },
		Options[int]{Name: "whitelist", Interval: time.Hour, Clock: clock, OnCommit: func(v int) {
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		}})
	p.Start(context.Background())
	defer p.Stop()
	clock.BlockUntil(1)

	clock.Advance(time.Minute)
	p.Overwrite(5)

	snap := p.Snapshot()
	if snap.Data != 5 || snap.Err != nil || snap.Source != SourceOverwrite {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.UpdatedAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("updated at %v", snap.UpdatedAt)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != 5 {
		t.Errorf("hook saw %v", seen)
	}
}

func TestLateHookDoesNotRevertNewerCommit(t *testing.T) {
	var seen []int
	p := New(func(context.Context) (int, error) { return 0, nil },
		Options[int]{Name: "config", Clock: NewManualClock(epoch), OnCommit: func(v int) { seen = append(seen, v) }})

	// A poll commit takes its sequence number under mu, then loses the race
	// to an Overwrite before its hook runs.
	p.mu.Lock()
	p.seq++
	stale := p.seq
	p.mu.Unlock()

	p.Overwrite(2)
	p.deliver(1, stale)
	p.Overwrite(3)

	if len(seen) != 2 || seen[0] != 2 || seen[1] != 3 {
		t.Errorf("hook saw %v, want [2 3]", seen)
	}
}

func TestPollersAreIndependent(t *testing.T) {
	clock := NewManualClock(epoch)
	good := New(func(context.Context) (string, error) { return "ok", nil },
		Options[string]{Name: "config", Interval: time.Second, Clock: clock})
	bad := New(func(context.Context) (string, error) { return "", errors.New("500") },
		Options[string]{Name: "status", Interval: time.Second, Clock: clock})

	ctx := context.Background()
	good.Start(ctx)
	bad.Start(ctx)
	defer good.Stop()
	defer bad.Stop()
	clock.BlockUntil(2)

	if s := good.Snapshot(); s.Err != nil || s.Data != "ok" {
		t.Errorf("good = %+v", s)
	}
	if s := bad.Snapshot(); s.Err == nil || s.HasData {
		t.Errorf("bad = %+v", s)
	}
}

func TestParentCancelStopsLoop(t *testing.T) {
	clock := NewManualClock(epoch)
	p := New(func(context.Context) (int, error) { return 1, nil },
		Options[int]{Name: "status", Interval: time.Second, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	clock.BlockUntil(1)

	cancel()
	p.Wait()
	if p.Snapshot().Running {
		t.Error("poller still running after parent cancel")
	}

	// It can be started again.
	p.Start(context.Background())
	defer p.Stop()
	clock.BlockUntil(2)
}

func TestStartTwiceIsNoop(t *testing.T) {
	clock := NewManualClock(epoch)
	var calls atomic.Int32
	p := New(func(context.Context) (int, error) { calls.Add(1); return 1, nil },
		Options[int]{Name: "config", Interval: time.Second, Clock: clock})
	p.Start(context.Background())
	p.Start(context.Background())
	defer p.Stop()
	clock.BlockUntil(1)
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}
