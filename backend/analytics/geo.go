package analytics

import (
	"context"
	"net/netip"
	"sort"

	"ids-dashboard/backend/models"
)

// UnknownCountry buckets IPs the locator could not resolve.
const UnknownCountry = "Unknown"

// Locator resolves one IP to a country name.
type Locator interface {
	Country(ctx context.Context, ip string) (string, error)
}

// Throttle is waited on between consecutive lookups.
type Throttle interface {
	Wait(ctx context.Context) error
}

type CountryCount struct {
	Country string  `json:"country"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type CountryRollupResult struct {
	Countries []CountryCount `json:"countries"`
	// PublicIPs is the number of distinct IPs looked up.
	PublicIPs int `json:"public_ips"`
	Unknown   int `json:"unknown"`
	// Skipped counts distinct private, loopback and other local IPs.
	Skipped int `json:"skipped"`
}

// isPublic rejects private, loopback, link-local, unspecified and multicast ranges.
func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !(addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() || addr.IsUnspecified())
}

// CountryRollup resolves each distinct public IP in history sequentially,
// waiting on throttle between lookups, and returns the topN countries by
// distinct IP count. Lookup failures count as UnknownCountry. Only ctx
// cancellation aborts the rollup.
func CountryRollup(ctx context.Context, history []models.BlockRecord, loc Locator, throttle Throttle, topN int) (CountryRollupResult, error) {
	seen := map[string]bool{}
	var ips []string
	skipped := 0
	for _, b := range history {
		if seen[b.IP] {
			continue
		}
		seen[b.IP] = true
		if addr, err := netip.ParseAddr(b.IP); err == nil && !isPublic(addr) {
			skipped++
			continue
		}
		ips = append(ips, b.IP)
	}

	counts := map[string]int{}
	order := []string{}
	for i, ip := range ips {
		if i > 0 && throttle != nil {
			if err := throttle.Wait(ctx); err != nil {
				return CountryRollupResult{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return CountryRollupResult{}, err
		}

		country := UnknownCountry
		if _, err := netip.ParseAddr(ip); err == nil && loc != nil {
			if c, err := loc.Country(ctx, ip); err == nil && c != "" {
				country = c
			} else if ctx.Err() != nil {
				return CountryRollupResult{}, ctx.Err()
			}
		}
		if _, ok := counts[country]; !ok {
			order = append(order, country)
		}
		counts[country]++
	}

	res := CountryRollupResult{PublicIPs: len(ips), Unknown: counts[UnknownCountry], Skipped: skipped}
	res.Countries = make([]CountryCount, 0, len(order))
	for _, c := range order {
		res.Countries = append(res.Countries, CountryCount{Country: c, Count: counts[c], Percent: percent(counts[c], len(ips))})
	}
	sort.Slice(res.Countries, func(i, j int) bool {
		a, b := res.Countries[i], res.Countries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Country < b.Country
	})
	if topN > 0 && len(res.Countries) > topN {
		res.Countries = res.Countries[:topN]
	}
	return res, nil
}
