package analytics

import "ids-dashboard/backend/models"

// Overview holds the dashboard header counters.
type Overview struct {
	TotalAlerts      int     `json:"total_alerts"`
	Attacks          int     `json:"attacks"`
	Benign           int     `json:"benign"`
	AttackRate       float64 `json:"attack_rate"`
	MeanScore        float64 `json:"mean_score"`
	ActiveBlocks     int     `json:"active_blocks"`
	HistoricalBlocks int     `json:"historical_blocks"`
	UniqueBlockedIPs int     `json:"unique_blocked_ips"`
	WhitelistSize    int     `json:"whitelist_size"`
}

func Summarize(alerts []models.Alert, active, history []models.BlockRecord, whitelist []models.WhitelistEntry) Overview {
	o := Overview{
		TotalAlerts:      len(alerts),
		ActiveBlocks:     len(active),
		HistoricalBlocks: len(history),
		WhitelistSize:    len(whitelist),
	}
	var scores float64
	for _, a := range alerts {
		if a.Attack {
			o.Attacks++
		}
		scores += a.Score
	}
	o.Benign = o.TotalAlerts - o.Attacks
	if o.TotalAlerts > 0 {
		o.AttackRate = percent(o.Attacks, o.TotalAlerts)
		o.MeanScore = scores / float64(o.TotalAlerts)
	}

	ips := map[string]struct{}{}
	for _, b := range history {
		ips[b.IP] = struct{}{}
	}
	for _, b := range active {
		ips[b.IP] = struct{}{}
	}
	o.UniqueBlockedIPs = len(ips)
	return o
}
