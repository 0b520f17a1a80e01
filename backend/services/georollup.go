package services

import (
	"context"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/models"
	"ids-dashboard/backend/poller"
)

// HistorySource exposes block history and signals when it first loads.
type HistorySource interface {
	BlockHistory() []models.BlockRecord
	HistoryReady() <-chan struct{}
}

// GeoRollupService recomputes the country rollup on its own cadence. Lookups
// are slow and throttled, so it is not recomputed per request.
type GeoRollupService struct {
	source   HistorySource
	locator  analytics.Locator
	throttle analytics.Throttle
	topN     int
	poll     *poller.Poller[analytics.CountryRollupResult]
}

func NewGeoRollupService(source HistorySource, loc analytics.Locator, throttle analytics.Throttle, topN int, interval time.Duration, clock poller.Clock) *GeoRollupService {
	g := &GeoRollupService{source: source, locator: loc, throttle: throttle, topN: topN}
	g.poll = poller.New(g.compute, poller.Options[analytics.CountryRollupResult]{
		Name: "country_rollup", Interval: interval, Clock: clock,
	})
	return g
}

func (g *GeoRollupService) compute(ctx context.Context) (analytics.CountryRollupResult, error) {
	select {
	case <-g.source.HistoryReady():
	case <-ctx.Done():
		return analytics.CountryRollupResult{}, ctx.Err()
	}
	return analytics.CountryRollup(ctx, g.source.BlockHistory(), g.locator, g.throttle, g.topN)
}

func (g *GeoRollupService) Start(ctx context.Context) { g.poll.Start(ctx) }

func (g *GeoRollupService) Stop() {
	g.poll.Stop()
	g.poll.Wait()
}

// Refresh discards any rollup in progress and starts a new one.
func (g *GeoRollupService) Refresh() { g.poll.Restart() }

func (g *GeoRollupService) Snapshot() poller.Snapshot[analytics.CountryRollupResult] {
	return g.poll.Snapshot()
}
