package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/models"
	"ids-dashboard/backend/system"

	"github.com/oschwald/geoip2-golang"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by a locator that has no country for an IP.
var ErrNotFound = errors.New("country not found")

// MaxMindLocator reads a local GeoLite2/GeoIP2 country database.
type MaxMindLocator struct {
	db *geoip2.Reader
}

func NewMaxMindLocator(path string) (*MaxMindLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindLocator{db: db}, nil
}

func (m *MaxMindLocator) Country(_ context.Context, ipStr string) (string, error) {
	name, _, err := m.lookup(ipStr)
	return name, err
}

func (m *MaxMindLocator) lookup(ipStr string) (string, string, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", "", fmt.Errorf("invalid ip %q", ipStr)
	}
	rec, err := m.db.Country(ip)
	if err != nil {
		return "", "", err
	}
	name := rec.Country.Names["en"]
	if name == "" {
		return "", "", ErrNotFound
	}
	return name, rec.Country.IsoCode, nil
}

func (m *MaxMindLocator) Close() error { return m.db.Close() }

// HTTPLocator asks an ip-api.com style JSON endpoint, one request per IP.
type HTTPLocator struct {
	endpoint string
	client   *http.Client
}

func NewHTTPLocator(endpoint string) *HTTPLocator {
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &HTTPLocator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

func (h *HTTPLocator) Country(ctx context.Context, ip string) (string, error) {
	name, _, err := h.lookup(ctx, ip)
	return name, err
}

func (h *HTTPLocator) lookup(ctx context.Context, ip string) (string, string, error) {
	url := h.endpoint + ip + "?fields=status,message,country,countryCode"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("geolocation returned status %d", resp.StatusCode)
	}
	var data ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", "", fmt.Errorf("decode geolocation response: %w", err)
	}
	if data.Status != "success" || data.Country == "" {
		if data.Message != "" {
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, data.Message)
		}
		return "", "", ErrNotFound
	}
	return data.Country, data.CountryCode, nil
}

// codedLocator is implemented by locators that also know the ISO code.
type codedLocator interface {
	lookupCode(ctx context.Context, ip string) (name, code string, err error)
}

func (m *MaxMindLocator) lookupCode(_ context.Context, ip string) (string, string, error) {
	return m.lookup(ip)
}

func (h *HTTPLocator) lookupCode(ctx context.Context, ip string) (string, string, error) {
	return h.lookup(ctx, ip)
}

// CachedLocator keeps resolved countries in memory and in sqlite so a
// restart does not re-query the provider. Failed lookups are not cached.
// When a throttle is set, provider calls are made one at a time and every
// call after the first waits on it; cache hits never wait.
type CachedLocator struct {
	db     *gorm.DB
	inner  analytics.Locator
	source string
	ttl    time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	memory map[string]models.GeoCacheEntry

	callMu   sync.Mutex
	throttle analytics.Throttle
	called   bool
}

func NewCachedLocator(db *gorm.DB, inner analytics.Locator, source string, ttl time.Duration) *CachedLocator {
	return &CachedLocator{
		db:     db,
		inner:  inner,
		source: source,
		ttl:    ttl,
		now:    time.Now,
		memory: make(map[string]models.GeoCacheEntry),
	}
}

// WithThrottle sets the limiter applied between provider calls.
func (c *CachedLocator) WithThrottle(t analytics.Throttle) *CachedLocator {
	c.callMu.Lock()
	c.throttle = t
	c.callMu.Unlock()
	return c
}

func (c *CachedLocator) fresh(e models.GeoCacheEntry) bool {
	return c.ttl <= 0 || c.now().Sub(e.ResolvedAt) < c.ttl
}

func (c *CachedLocator) Country(ctx context.Context, ip string) (string, error) {
	c.mu.RLock()
	e, ok := c.memory[ip]
	c.mu.RUnlock()
	if ok && c.fresh(e) {
		return e.Country, nil
	}

	if c.db != nil {
		var stored models.GeoCacheEntry
		if err := c.db.WithContext(ctx).First(&stored, "ip = ?", ip).Error; err == nil && c.fresh(stored) {
			c.remember(stored)
			return stored.Country, nil
		}
	}

	entry, err := c.resolve(ctx, ip)
	if err != nil {
		return "", err
	}
	c.remember(entry)

	if c.db != nil {
		if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error; err != nil {
			system.Warn("Failed to cache country for %s: %v", ip, err)
		}
	}
	return entry.Country, nil
}

func (c *CachedLocator) resolve(ctx context.Context, ip string) (models.GeoCacheEntry, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.called && c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return models.GeoCacheEntry{}, err
		}
	}
	c.called = true

	entry := models.GeoCacheEntry{IP: ip, Source: c.source}
	var err error
	if cl, ok := c.inner.(codedLocator); ok {
		entry.Country, entry.CountryCode, err = cl.lookupCode(ctx, ip)
	} else {
		entry.Country, err = c.inner.Country(ctx, ip)
	}
	if err != nil {
		return models.GeoCacheEntry{}, err
	}
	entry.ResolvedAt = c.now()
	return entry, nil
}

func (c *CachedLocator) remember(e models.GeoCacheEntry) {
	c.mu.Lock()
	c.memory[e.IP] = e
	c.mu.Unlock()
}

// Lookup returns the cached entry for ip without calling the provider.
func (c *CachedLocator) Lookup(ip string) (models.GeoCacheEntry, bool) {
	c.mu.RLock()
	e, ok := c.memory[ip]
	c.mu.RUnlock()
	if ok {
		return e, true
	}
	if c.db == nil {
		return models.GeoCacheEntry{}, false
	}
	if err := c.db.First(&e, "ip = ?", ip).Error; err != nil {
		return models.GeoCacheEntry{}, false
	}
	return e, true
}

// Purge removes entries older than the TTL and returns how many were deleted.
func (c *CachedLocator) Purge(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl)

	c.mu.Lock()
	for ip, e := range c.memory {
		if e.ResolvedAt.Before(cutoff) {
			delete(c.memory, ip)
		}
	}
	c.mu.Unlock()

	if c.db == nil {
		return 0, nil
	}
	res := c.db.WithContext(ctx).Where("resolved_at < ?", cutoff).Delete(&models.GeoCacheEntry{})
	return res.RowsAffected, res.Error
}
