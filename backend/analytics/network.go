package analytics

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"ids-dashboard/backend/models"
)

type SourceStats struct {
	IP           string    `json:"ip"`
	Alerts       int       `json:"alerts"`
	Attacks      int       `json:"attacks"`
	TotalBytes   float64   `json:"total_bytes"`
	TotalPackets float64   `json:"total_packets"`
	AvgScore     float64   `json:"avg_score"`
	LastSeen     time.Time `json:"last_seen"`
}

// numeric reads a feature value. Missing or non-numeric values are 0.
func numeric(features map[string]any, key string) float64 {
	switch v := features[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// NetworkRollup groups alerts by source IP, summing bytes and packets from
// each alert's feature snapshot. Rows are descending by total bytes, then by IP.
func NetworkRollup(alerts []models.Alert) []SourceStats {
	index := map[string]int{}
	rows := []SourceStats{}
	scoreSums := []float64{}
	for _, a := range alerts {
		i, ok := index[a.SrcIP]
		if !ok {
			i = len(rows)
			index[a.SrcIP] = i
			rows = append(rows, SourceStats{IP: a.SrcIP})
			scoreSums = append(scoreSums, 0)
		}
		r := &rows[i]
		r.Alerts++
		if a.Attack {
			r.Attacks++
		}
		r.TotalBytes += numeric(a.RawFeatures, "total_bytes")
		r.TotalPackets += numeric(a.RawFeatures, "total_packets")
		scoreSums[i] += a.Score
		if a.DetectedAt.After(r.LastSeen) {
			r.LastSeen = a.DetectedAt
		}
	}
	for i := range rows {
		rows[i].AvgScore = scoreSums[i] / float64(rows[i].Alerts)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalBytes != rows[j].TotalBytes {
			return rows[i].TotalBytes > rows[j].TotalBytes
		}
		return rows[i].IP < rows[j].IP
	})
	return rows
}
