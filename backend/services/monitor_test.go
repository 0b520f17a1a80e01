package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/models"
	"ids-dashboard/backend/poller"
)

type staticStatus struct {
	mu   sync.Mutex
	snap poller.Snapshot[models.SystemStatus]
}

func (s *staticStatus) Status() poller.Snapshot[models.SystemStatus] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *staticStatus) set(st models.SystemStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = poller.Snapshot[models.SystemStatus]{Data: st, HasData: true, Err: err}
}

type recordingAlerter struct {
	titles []string
}

func (r *recordingAlerter) SendSystemAlert(_ context.Context, title, _ string, _ int) error {
	r.titles = append(r.titles, title)
	return nil
}

var healthy = models.SystemStatus{Status: "ok", LiveCaptureActive: true, ModelLoaded: true, DBConnected: true}

func TestStatusWatcherTransitions(t *testing.T) {
	src := &staticStatus{}
	al := &recordingAlerter{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewStatusWatcher(src, al, time.Minute, 10*time.Minute)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	w.Check(ctx) // nothing loaded yet
	src.set(healthy, nil)
	w.Check(ctx)
	if len(al.titles) != 0 {
		t.Fatalf("healthy start alerted: %v", al.titles)
	}

	down := healthy
	down.LiveCaptureActive = false
	src.set(down, nil)
	w.Check(ctx)
	if len(al.titles) != 1 || !strings.Contains(al.titles[0], "Live capture stopped") {
		t.Fatalf("titles = %v", al.titles)
	}

	// Flapping inside the cooldown only reports the recovery.
	src.set(healthy, nil)
	w.Check(ctx)
	src.set(down, nil)
	now = now.Add(time.Minute)
	w.Check(ctx)
	if len(al.titles) != 2 || !strings.Contains(al.titles[1], "Live capture resumed") {
		t.Fatalf("titles = %v", al.titles)
	}

	// Backend errors suppress the flag checks.
	src.set(down, errors.New("connection refused"))
	w.Check(ctx)
	if len(al.titles) != 3 || !strings.Contains(al.titles[2], "unreachable") {
		t.Fatalf("titles = %v", al.titles)
	}
}

type staticReport struct {
	alerts  []models.Alert
	history []models.BlockRecord
}

func (s staticReport) Alerts() []models.Alert             { return s.alerts }
func (s staticReport) ActiveBlocks() []models.BlockRecord { return nil }
func (s staticReport) BlockHistory() []models.BlockRecord { return s.history }
func (s staticReport) Whitelist() []models.WhitelistEntry { return nil }

func TestDailyReportBody(t *testing.T) {
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	alerts := attackAlerts(3)
	alerts[0].DetectedAt = now.Add(-time.Hour)
	alerts[0].AttackType = models.AttackDDoS
	alerts[0].RawFeatures = map[string]any{"total_bytes": 5.0 * 1024 * 1024}
	alerts[1].Attack = false
	alerts[2].DetectedAt = now.Add(-30 * time.Hour)
	history := []models.BlockRecord{
		{IP: "203.0.113.10", BlockedAt: now.Add(-2 * time.Hour)},
		{IP: "203.0.113.10", BlockedAt: now.Add(-3 * time.Hour)},
		{IP: "198.51.100.1", BlockedAt: now.Add(-48 * time.Hour)},
	}
	al := &recordingAlerter{}
	r := NewDailyReporter(staticReport{alerts: alerts, history: history}, al)
	r.now = func() time.Time { return now }

	title, body := r.Build(now)
	if title != "📊 Daily Security Report (2024-05-01)" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Attacks in last 24h: `1`", "Top attack type: `DDoS`", "Blocks in last 24h: `2`", "Most blocked IP: `203.0.113.10` (2, Rare)", "5.00 MB"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}

	if err := r.SendReport(context.Background()); err != nil || len(al.titles) != 1 {
		t.Errorf("SendReport: %v, %v", err, al.titles)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{512: "512 B", 2048: "2.00 KB", 3 * 1024 * 1024: "3.00 MB", 5 << 30: "5.00 GB"}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

type readyHistory struct {
	history []models.BlockRecord
	ready   chan struct{}
}

func (h readyHistory) BlockHistory() []models.BlockRecord { return h.history }
func (h readyHistory) HistoryReady() <-chan struct{}      { return h.ready }

func TestGeoRollupWaitsForHistory(t *testing.T) {
	src := readyHistory{
		history: []models.BlockRecord{{IP: "8.8.8.8"}, {IP: "10.0.0.1"}},
		ready:   make(chan struct{}),
	}
	loc := &countingLocator{countries: map[string]string{"8.8.8.8": "United States"}}
	clock := poller.NewManualClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	g := NewGeoRollupService(src, loc, nil, 5, time.Minute, clock)
	g.Start(context.Background())
	defer g.Stop()

	if g.Snapshot().HasData {
		t.Fatal("rollup computed before history loaded")
	}
	close(src.ready)
	clock.BlockUntil(1)

	res := g.Snapshot().Data
	want := []analytics.CountryCount{{Country: "United States", Count: 1, Percent: 100}}
	if len(res.Countries) != 1 || res.Countries[0] != want[0] || res.Skipped != 1 {
		t.Errorf("rollup = %+v", res)
	}
}
