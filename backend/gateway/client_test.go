package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ids-dashboard/backend/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestFetchAlertsDecodesAndDropsMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alerts/recent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		io.WriteString(w, `[
			{"_id":"a1","detected_at":"2024-05-01T10:00:00.123456","src_ip":"203.0.113.5","score":0.93,"attack":true,"attack_type":"DDoS","threshold":0.7,"features":{"total_bytes":1200,"total_packets":30}},
			{"id":"a2","detected_at":"2024-05-01T10:01:00Z","src_ip":"198.51.100.7","score":0.1,"attack":false,"attack_type":null,"threshold":0.7},
			{"_id":"bad-score","detected_at":"2024-05-01T10:02:00","src_ip":"198.51.100.8","score":1.7,"attack":true,"threshold":0.7},
			{"_id":"bad-time","detected_at":"yesterday","src_ip":"198.51.100.9","score":0.5,"attack":true,"threshold":0.7},
			{"_id":"no-ip","detected_at":"2024-05-01T10:02:00","score":0.5,"attack":true,"threshold":0.7}
		]`)
	})

	alerts, err := c.FetchAlerts(context.Background(), 50)
	if err != nil {
		t.Fatalf("FetchAlerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2: %+v", len(alerts), alerts)
	}
	a := alerts[0]
	if a.ID != "a1" || a.AttackType != models.AttackDDoS || !a.Attack {
		t.Errorf("alert 0 = %+v", a)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)
	if !a.DetectedAt.Equal(want) {
		t.Errorf("detected_at = %v, want %v", a.DetectedAt, want)
	}
	if a.RawFeatures["total_bytes"].(float64) != 1200 {
		t.Errorf("features not carried: %+v", a.RawFeatures)
	}
	if alerts[1].AttackType != "" {
		t.Errorf("null attack_type should decode empty, got %q", alerts[1].AttackType)
	}
}

func TestListThatIsNotAnArrayFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":[]}`)
	})
	_, err := c.FetchActiveBlocks(context.Background(), 10)
	var ge *Error
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ge.HTTPStatus != 0 {
		t.Errorf("decode failure should carry status 0, got %d", ge.HTTPStatus)
	}
}

func TestBlockRecordsNormalizeActor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"_id":"b1","ip":"203.0.113.5","blocked_at":"2024-05-01T10:00:00","unblock_at":"2024-05-01T10:10:00","duration_sec":600,"reason":"DDoS","actor":"model"},
			{"_id":"b2","ip":"203.0.113.6","blocked_at":"2024-05-01T10:00:00","reason":"manual","actor":"admin","note":"noisy"},
			{"_id":"b3","ip":"203.0.113.7","blocked_at":"2024-05-01T10:00:00","unblock_at":"2024-05-01T09:00:00","actor":"model"}
		]`)
	})
	blocks, err := c.FetchBlockHistory(context.Background(), 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (inverted interval dropped)", len(blocks))
	}
	if blocks[0].Actor != models.ActorSystem || blocks[1].Actor != models.ActorAdmin {
		t.Errorf("actors = %s, %s", blocks[0].Actor, blocks[1].Actor)
	}
	if blocks[0].UnblockAt == nil || *blocks[0].DurationSec != 600 {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[1].UnblockAt != nil || blocks[1].Note != "noisy" {
		t.Errorf("block 1 = %+v", blocks[1])
	}
}

func TestAdminTokenAndRequestHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Token") != "s3cret" {
			t.Errorf("admin token = %q", r.Header.Get("X-Admin-Token"))
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		io.WriteString(w, `{"threshold":0.7,"block_duration_sec":600,"blocking_enabled":false,"updated_at":null}`)
	}, WithAdminToken("s3cret"))

	cfg, err := c.FetchConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Threshold != 0.7 || cfg.BlockDurationSec != 600 || cfg.BlockingEnabled {
		t.Errorf("config = %+v", cfg)
	}
}

func TestConfigWithoutToggleDefaultsEnabled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"_id":"detection_policy","threshold":0.5,"block_duration_sec":60}`)
	})
	cfg, err := c.FetchConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.BlockingEnabled {
		t.Error("blocking_enabled should default to true")
	}
}

func TestSaveConfigSendsPartialAndReturnsDoc(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/admin/config" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if len(body) != 1 || body["threshold"] != 0.85 {
			t.Errorf("body = %v, want only threshold", body)
		}
		io.WriteString(w, `{"ok":true,"config":{"threshold":0.85,"block_duration_sec":600,"blocking_enabled":true,"updated_at":"2024-05-01T10:00:00"}}`)
	})
	th := 0.85
	doc, err := c.SaveConfig(context.Background(), models.ConfigUpdate{Threshold: &th})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Threshold != 0.85 || doc.UpdatedAt == nil {
		t.Errorf("doc = %+v", doc)
	}
}

func TestNonSuccessCarriesStatusAndDetail(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"fastapi detail", http.StatusBadRequest, `{"detail":"duration_sec must be positive"}`, "duration_sec must be positive"},
		{"validation list", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","ip"],"msg":"field required"}]}`, "field required"},
		{"plain text", http.StatusServiceUnavailable, "  upstream down \n", "upstream down"},
		{"empty body", http.StatusUnauthorized, "", "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			err := c.BlockIP(context.Background(), models.BlockRequest{IP: "203.0.113.5"})
			var ge *Error
			if !errors.As(err, &ge) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if ge.HTTPStatus != tt.status {
				t.Errorf("status = %d, want %d", ge.HTTPStatus, tt.status)
			}
			if ge.Message != tt.want {
				t.Errorf("message = %q, want %q", ge.Message, tt.want)
			}
		})
	}
}

func TestTransportFailureHasZeroStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.FetchStatus(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if StatusOf(err) != 0 {
		t.Errorf("status = %d, want 0", StatusOf(err))
	}
}

func TestMutationPaths(t *testing.T) {
	var got []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path)
		io.WriteString(w, `{"ok":true}`)
	})
	ctx := context.Background()
	if err := c.UnblockIP(ctx, "203.0.113.5"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddWhitelist(ctx, "10.0.0.1", "office"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveWhitelist(ctx, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"DELETE /admin/block/203.0.113.5",
		"POST /whitelist/add",
		"DELETE /whitelist/10.0.0.1",
	}
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotAcknowledgedIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":false}`)
	})
	if err := c.AddWhitelist(context.Background(), "10.0.0.1", ""); err == nil {
		t.Fatal("expected error for ok=false")
	}
}

func TestPreviewAndStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detect":
			io.WriteString(w, `{"alert":true,"alert_id":"x1","attack_type":"Port Scan","score":0.91,"threshold":0.7,"block_duration_sec":600}`)
		case "/status":
			io.WriteString(w, `{"status":"ok","timestamp":"2024-05-01T10:00:00.5","live_capture_active":true,"flows_last_10s":4,"flows_last_minute":40,"model_loaded":true,"db_connected":true}`)
		case "/production_data/stats":
			io.WriteString(w, `{"total":10,"labeled":4,"unlabeled":6,"predicted_attacks":3,"predicted_benign":7,"true_attacks":2,"true_benign":2,"recent_samples":[]}`)
		}
	})
	ctx := context.Background()

	p, err := c.PreviewDetection(ctx, models.FeatureVector{SrcIP: "203.0.113.5", TotalPackets: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Alert || p.AttackType != models.AttackPortScan || p.AlertID != "x1" {
		t.Errorf("preview = %+v", p)
	}

	st, err := c.FetchStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Healthy() || st.FlowsLastMinute != 40 {
		t.Errorf("status = %+v", st)
	}

	ts, err := c.FetchTrainingStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Total != 10 || ts.Unlabeled != 6 {
		t.Errorf("training stats = %+v", ts)
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-05-01T10:00:00", "2024-05-01T10:00:00.000001", "2024-05-01T10:00:00Z", "2024-05-01T12:00:00+02:00"} {
		got, err := ParseTime(s)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", s, err)
			continue
		}
		if !got.Truncate(time.Second).Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("ParseTime(%q) = %v", s, got)
		}
	}
	if _, err := ParseTime("05/01/2024"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}
