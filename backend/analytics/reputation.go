package analytics

import (
	"sort"
	"time"

	"ids-dashboard/backend/models"
)

type Tier string

const (
	TierFrequent Tier = "Frequent"
	TierModerate Tier = "Moderate"
	TierRare     Tier = "Rare"
)

// TierFor classifies a block count. Boundaries are inclusive at 3 and 10.
func TierFor(blocks int) Tier {
	switch {
	case blocks >= 10:
		return TierFrequent
	case blocks >= 3:
		return TierModerate
	default:
		return TierRare
	}
}

func (t Tier) Recommendation() string {
	switch t {
	case TierFrequent:
		return "Persistent threat: consider permanent block"
	case TierModerate:
		return "Recurring threat: monitor closely"
	default:
		return "Isolated incident: standard block sufficient"
	}
}

type IPReputation struct {
	IP             string    `json:"ip"`
	Blocks         int       `json:"blocks"`
	Tier           Tier      `json:"tier"`
	Recommendation string    `json:"recommendation"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	AdminBlocks    int       `json:"admin_blocks"`
	SystemBlocks   int       `json:"system_blocks"`
	LastReason     string    `json:"last_reason,omitempty"`
}

// Reputation groups historical blocks by IP. Rows are descending by block
// count, then by most recent block, then by IP.
func Reputation(history []models.BlockRecord) []IPReputation {
	index := map[string]int{}
	rows := []IPReputation{}
	for _, b := range history {
		i, ok := index[b.IP]
		if !ok {
			i = len(rows)
			index[b.IP] = i
			rows = append(rows, IPReputation{IP: b.IP, FirstSeen: b.BlockedAt, LastSeen: b.BlockedAt, LastReason: b.Reason})
		}
		r := &rows[i]
		r.Blocks++
		if b.Actor == models.ActorAdmin {
			r.AdminBlocks++
		} else {
			r.SystemBlocks++
		}
		if b.BlockedAt.Before(r.FirstSeen) {
			r.FirstSeen = b.BlockedAt
		}
		if !b.BlockedAt.Before(r.LastSeen) {
			r.LastSeen = b.BlockedAt
			if b.Reason != "" {
				r.LastReason = b.Reason
			}
		}
	}

	for i := range rows {
		rows[i].Tier = TierFor(rows[i].Blocks)
		rows[i].Recommendation = rows[i].Tier.Recommendation()
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Blocks != b.Blocks {
			return a.Blocks > b.Blocks
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.IP < b.IP
	})
	return rows
}
