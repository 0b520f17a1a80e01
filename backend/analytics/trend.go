// Package analytics derives dashboard views from raw backend records.
// Everything here is a pure function of its arguments except CountryRollup,
// whose lookups go through injected interfaces. Inputs are never mutated.
package analytics

import (
	"fmt"
	"time"

	"ids-dashboard/backend/models"
)

// Window is a trend time range.
type Window string

const (
	Window1h  Window = "1h"
	Window6h  Window = "6h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
)

var windowSpans = map[Window]struct{ span, bucket time.Duration }{
	Window1h:  {time.Hour, 5 * time.Minute},
	Window6h:  {6 * time.Hour, 30 * time.Minute},
	Window24h: {24 * time.Hour, time.Hour},
	Window7d:  {7 * 24 * time.Hour, 6 * time.Hour},
}

// ParseWindow accepts the trend window names. Empty means 24h.
func ParseWindow(s string) (Window, error) {
	if s == "" {
		return Window24h, nil
	}
	w := Window(s)
	if _, ok := windowSpans[w]; !ok {
		return "", fmt.Errorf("unknown window %q (want 1h, 6h, 24h or 7d)", s)
	}
	return w, nil
}

// Bounds returns the half-open span [start, end) a window covers at now,
// and its bucket size. start is now minus the window span rounded down to a
// bucket boundary and the last bucket contains now, so the series always
// holds one bucket more than span/bucket and nothing younger than the span
// is left out.
func (w Window) Bounds(now time.Time) (start, end time.Time, bucket time.Duration, ok bool) {
	ws, ok := windowSpans[w]
	if !ok {
		return time.Time{}, time.Time{}, 0, false
	}
	start = now.Add(-ws.span).Truncate(ws.bucket)
	end = now.Truncate(ws.bucket).Add(ws.bucket)
	return start, end, ws.bucket, true
}

// TrendBucket counts alerts whose timestamp falls in [Start, Start+bucket).
type TrendBucket struct {
	Start   time.Time `json:"start"`
	Attacks int       `json:"attacks"`
	Benign  int       `json:"benign"`
}

type TrendSeries struct {
	Window  Window        `json:"window"`
	Bucket  string        `json:"bucket"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Buckets []TrendBucket `json:"buckets"`
}

// Total returns the number of alerts counted across all buckets.
func (s TrendSeries) Total() int {
	n := 0
	for _, b := range s.Buckets {
		n += b.Attacks + b.Benign
	}
	return n
}

// Trend buckets alerts over w ending at now. Every bucket is present, empty
// ones with zero counts, ascending by start. An unknown window yields no buckets.
func Trend(alerts []models.Alert, w Window, now time.Time) TrendSeries {
	start, end, bucket, ok := w.Bounds(now)
	series := TrendSeries{Window: w, Buckets: []TrendBucket{}}
	if !ok {
		return series
	}
	series.Bucket = bucket.String()
	series.Start = start.UTC()
	series.End = end.UTC()

	n := int(end.Sub(start) / bucket)
	series.Buckets = make([]TrendBucket, n)
	for i := range series.Buckets {
		series.Buckets[i].Start = start.Add(time.Duration(i) * bucket).UTC()
	}

	for _, a := range alerts {
		if a.DetectedAt.Before(start) || !a.DetectedAt.Before(end) {
			continue
		}
		i := int(a.DetectedAt.Sub(start) / bucket)
		if a.Attack {
			series.Buckets[i].Attacks++
		} else {
			series.Buckets[i].Benign++
		}
	}
	return series
}
