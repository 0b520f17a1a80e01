package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.GeoCacheEntry{}, &models.Operator{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type countingLocator struct {
	countries map[string]string
	calls     int
}

func (c *countingLocator) Country(_ context.Context, ip string) (string, error) {
	c.calls++
	if name, ok := c.countries[ip]; ok {
		return name, nil
	}
	return "", ErrNotFound
}

func TestCachedLocatorPersistsLookups(t *testing.T) {
	db := openTestDB(t)
	inner := &countingLocator{countries: map[string]string{"8.8.8.8": "United States"}}
	cache := NewCachedLocator(db, inner, "test", time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.Country(ctx, "8.8.8.8")
		if err != nil || got != "United States" {
			t.Fatalf("Country = %q, %v", got, err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}

	// A fresh cache over the same database does not hit the provider.
	restarted := NewCachedLocator(db, inner, "test", time.Hour)
	if got, _ := restarted.Country(ctx, "8.8.8.8"); got != "United States" {
		t.Errorf("after restart = %q", got)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls after restart = %d, want 1", inner.calls)
	}

	if _, err := cache.Country(ctx, "1.2.3.4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, ok := cache.Lookup("1.2.3.4"); ok {
		t.Error("failed lookup was cached")
	}
}

func TestCachedLocatorExpiresEntries(t *testing.T) {
	db := openTestDB(t)
	inner := &countingLocator{countries: map[string]string{"1.1.1.1": "Australia"}}
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cache := NewCachedLocator(db, inner, "test", time.Hour)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Country(ctx, "1.1.1.1")
	now = now.Add(2 * time.Hour)
	cache.Country(ctx, "1.1.1.1")
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2 after expiry", inner.calls)
	}

	now = now.Add(2 * time.Hour)
	n, err := cache.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
}

type countingThrottle struct{ waits int }

func (c *countingThrottle) Wait(ctx context.Context) error {
	c.waits++
	return ctx.Err()
}

func TestCachedLocatorThrottlesProviderCallsOnly(t *testing.T) {
	countries := map[string]string{}
	var history []models.BlockRecord
	for i := 1; i <= 20; i++ {
		ip := "8.8.8." + strconv.Itoa(i)
		countries[ip] = "United States"
		history = append(history, models.BlockRecord{ID: ip, IP: ip, BlockedAt: time.Now(), Actor: models.ActorSystem})
	}
	inner := &countingLocator{countries: countries}
	th := &countingThrottle{}
	cache := NewCachedLocator(openTestDB(t), inner, "test", time.Hour).WithThrottle(th)
	ctx := context.Background()

	cold, err := analytics.CountryRollup(ctx, history, cache, nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if cold.PublicIPs != 20 || inner.calls != 20 {
		t.Fatalf("cold rollup resolved %d IPs with %d provider calls, want 20/20", cold.PublicIPs, inner.calls)
	}
	if th.waits != 19 {
		t.Errorf("cold throttle waits = %d, want 19", th.waits)
	}

	th.waits = 0
	if _, err := analytics.CountryRollup(ctx, history, cache, nil, 5); err != nil {
		t.Fatal(err)
	}
	if th.waits != 0 || inner.calls != 20 {
		t.Errorf("warm rollup: waits = %d, provider calls = %d, want 0 and 20", th.waits, inner.calls)
	}

	cache.Country(ctx, "9.9.9.9")
	if th.waits != 1 {
		t.Errorf("new IP after warm run: waits = %d, want 1", th.waits)
	}
}

func TestHTTPLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := strings.TrimPrefix(r.URL.Path, "/json/")
		if !strings.Contains(r.URL.RawQuery, "fields=") {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		switch ip {
		case "8.8.8.8":
			io.WriteString(w, `{"status":"success","country":"United States","countryCode":"US"}`)
		case "0.0.0.1":
			io.WriteString(w, `{"status":"fail","message":"reserved range"}`)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	loc := NewHTTPLocator(srv.URL + "/json")
	ctx := context.Background()

	if got, err := loc.Country(ctx, "8.8.8.8"); err != nil || got != "United States" {
		t.Errorf("Country = %q, %v", got, err)
	}
	if _, err := loc.Country(ctx, "0.0.0.1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("fail status err = %v", err)
	}
	if _, err := loc.Country(ctx, "9.9.9.9"); err == nil {
		t.Error("expected error on 429")
	}

	db := openTestDB(t)
	cache := NewCachedLocator(db, loc, "http", 0)
	cache.Country(ctx, "8.8.8.8")
	entry, ok := cache.Lookup("8.8.8.8")
	if !ok || entry.CountryCode != "US" || entry.Source != "http" {
		t.Errorf("cached entry = %+v, %v", entry, ok)
	}
}

func TestFixedDelayWaitsAndCancels(t *testing.T) {
	fired := make(chan time.Time, 1)
	var asked time.Duration
	fd := NewFixedDelay(1500 * time.Millisecond)
	fd.after = func(d time.Duration) <-chan time.Time {
		asked = d
		return fired
	}

	fired <- time.Now()
	if err := fd.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if asked != 1500*time.Millisecond {
		t.Errorf("delay = %v", asked)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fd.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTokenBucketBurst(t *testing.T) {
	tb := NewTokenBucket(1000, 3)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("burst should not wait")
	}

	slow := NewTokenBucket(0.001, 1)
	slow.Wait(ctx)
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := slow.Wait(short); err == nil {
		t.Error("expected wait to fail before the next token")
	}
}
