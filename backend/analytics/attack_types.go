package analytics

import (
	"math"
	"sort"
	"time"

	"ids-dashboard/backend/models"
)

type AttackTypeCount struct {
	Type    models.AttackType `json:"type"`
	Count   int               `json:"count"`
	Percent float64           `json:"percent"`
}

type AttackTypeBreakdown struct {
	TotalAttacks int               `json:"total_attacks"`
	Types        []AttackTypeCount `json:"types"`
}

// AttackTypes tallies attack alerts detected within rangeDur of now by type.
// A zero rangeDur means all time. Result is descending by count; equal
// counts keep the order in which the type first appears in alerts.
func AttackTypes(alerts []models.Alert, rangeDur time.Duration, now time.Time) AttackTypeBreakdown {
	var cutoff time.Time
	if rangeDur > 0 {
		cutoff = now.Add(-rangeDur)
	}

	index := map[models.AttackType]int{}
	types := []AttackTypeCount{}
	total := 0
	for _, a := range alerts {
		if !a.Attack {
			continue
		}
		if rangeDur > 0 && a.DetectedAt.Before(cutoff) {
			continue
		}
		label := a.AttackType.Label()
		i, ok := index[label]
		if !ok {
			i = len(types)
			index[label] = i
			types = append(types, AttackTypeCount{Type: label})
		}
		types[i].Count++
		total++
	}

	for i := range types {
		types[i].Percent = percent(types[i].Count, total)
	}
	sort.SliceStable(types, func(i, j int) bool { return types[i].Count > types[j].Count })
	return AttackTypeBreakdown{TotalAttacks: total, Types: types}
}

// percent rounds to two decimals.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(total)) / 100
}
