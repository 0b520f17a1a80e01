package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ids-dashboard/backend/models"
	"ids-dashboard/backend/poller"
	"ids-dashboard/backend/system"
)

// StatusSource is where the watcher reads backend health from.
type StatusSource interface {
	Status() poller.Snapshot[models.SystemStatus]
}

// SystemAlerter sends a free-form system notification.
type SystemAlerter interface {
	SendSystemAlert(ctx context.Context, title, message string, color int) error
}

type healthCheck struct {
	name    string
	healthy func(s poller.Snapshot[models.SystemStatus]) bool
	down    string
	up      string
}

var healthChecks = []healthCheck{
	{
		name:    "backend",
		healthy: func(s poller.Snapshot[models.SystemStatus]) bool { return s.Err == nil },
		down:    "Detection backend is unreachable",
		up:      "Detection backend is reachable again",
	},
	{
		name:    "capture",
		healthy: func(s poller.Snapshot[models.SystemStatus]) bool { return s.Data.LiveCaptureActive },
		down:    "Live capture stopped: no flows in the last 10s",
		up:      "Live capture resumed",
	},
	{
		name:    "model",
		healthy: func(s poller.Snapshot[models.SystemStatus]) bool { return s.Data.ModelLoaded },
		down:    "Detection model is not loaded",
		up:      "Detection model loaded",
	},
	{
		name:    "database",
		healthy: func(s poller.Snapshot[models.SystemStatus]) bool { return s.Data.DBConnected },
		down:    "Backend database disconnected",
		up:      "Backend database reconnected",
	},
}

type statusMessage struct {
	title, text string
	color       int
}

// StatusWatcher alerts on backend health transitions. Down alerts for the
// same check are rate limited by cooldown; recoveries always send.
type StatusWatcher struct {
	source   StatusSource
	alerter  SystemAlerter
	interval time.Duration
	cooldown time.Duration
	now      func() time.Time
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	state     map[string]bool
	lastAlert map[string]time.Time
}

func NewStatusWatcher(source StatusSource, alerter SystemAlerter, interval, cooldown time.Duration) *StatusWatcher {
	return &StatusWatcher{
		source:    source,
		alerter:   alerter,
		interval:  interval,
		cooldown:  cooldown,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		state:     make(map[string]bool),
		lastAlert: make(map[string]time.Time),
	}
}

func (w *StatusWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		system.Info("Status watcher started (cooldown %v)", w.cooldown)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.Check(ctx)
			case <-ctx.Done():
				return
			case <-w.stopChan:
				system.Info("Status watcher stopped")
				return
			}
		}
	}()
}

func (w *StatusWatcher) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

// Check compares the current status with the last one seen and sends an
// alert for every check that changed.
func (w *StatusWatcher) Check(ctx context.Context) {
	snap := w.source.Status()
	if !snap.HasData && snap.Err == nil {
		return
	}

	w.mu.Lock()
	var msgs []statusMessage
	now := w.now()
	for _, hc := range healthChecks {
		// Health flags are meaningless while the backend itself is unreachable.
		if hc.name != "backend" && (snap.Err != nil || !snap.HasData) {
			continue
		}
		healthy := hc.healthy(snap)
		prev, seen := w.state[hc.name]
		w.state[hc.name] = healthy
		if !seen {
			if healthy {
				continue
			}
			prev = true
		}
		switch {
		case prev && !healthy:
			if now.Sub(w.lastAlert[hc.name]) < w.cooldown {
				continue
			}
			w.lastAlert[hc.name] = now
			msgs = append(msgs, statusMessage{"🚨 " + hc.down, w.detail(snap), ColorRed})
		case !prev && healthy:
			msgs = append(msgs, statusMessage{"✅ " + hc.up, w.detail(snap), ColorGreen})
		}
	}
	w.mu.Unlock()

	for _, m := range msgs {
		system.Warn("%s", m.title)
		if w.alerter == nil {
			continue
		}
		if err := w.alerter.SendSystemAlert(ctx, m.title, m.text, m.color); err != nil {
			system.Warn("Failed to send status alert: %v", err)
		}
	}
}

func (w *StatusWatcher) detail(s poller.Snapshot[models.SystemStatus]) string {
	if s.Err != nil {
		return fmt.Sprintf("Last error: `%v`", s.Err)
	}
	st := s.Data
	return fmt.Sprintf("Capture: **%t** (%d flows/10s, %d flows/min)\nModel loaded: **%t**\nDB connected: **%t**",
		st.LiveCaptureActive, st.FlowsLast10s, st.FlowsLastMinute, st.ModelLoaded, st.DBConnected)
}
