package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/models"
	"ids-dashboard/backend/system"
)

// ReportSource is the coordinator state the daily report is built from.
type ReportSource interface {
	Alerts() []models.Alert
	ActiveBlocks() []models.BlockRecord
	BlockHistory() []models.BlockRecord
	Whitelist() []models.WhitelistEntry
}

// DailyReporter posts a summary of the last day's activity at midnight.
type DailyReporter struct {
	source  ReportSource
	alerter SystemAlerter
	now     func() time.Time
}

func NewDailyReporter(source ReportSource, alerter SystemAlerter) *DailyReporter {
	return &DailyReporter{source: source, alerter: alerter, now: time.Now}
}

// Start schedules the report at local midnight until ctx ends.
func (r *DailyReporter) Start(ctx context.Context) {
	go func() {
		for {
			now := r.now()
			next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
			system.Info("Next daily report scheduled in %v", next.Sub(now).Round(time.Second))

			select {
			case <-time.After(next.Sub(now)):
			case <-ctx.Done():
				return
			}
			if err := r.SendReport(ctx); err != nil {
				system.Warn("Failed to send daily report: %v", err)
			}
		}
	}()
}

// Build renders the report title and body for the 24h ending at now.
func (r *DailyReporter) Build(now time.Time) (string, string) {
	alerts := r.source.Alerts()
	history := r.source.BlockHistory()
	overview := analytics.Summarize(alerts, r.source.ActiveBlocks(), history, r.source.Whitelist())
	types := analytics.AttackTypes(alerts, 24*time.Hour, now)

	var dayBlocks []models.BlockRecord
	cutoff := now.Add(-24 * time.Hour)
	for _, b := range history {
		if !b.BlockedAt.Before(cutoff) {
			dayBlocks = append(dayBlocks, b)
		}
	}

	var sb strings.Builder
	sb.WriteString("**Detection Summary**\n")
	fmt.Fprintf(&sb, "• Alerts in view: `%d` (attacks `%d`, %.1f%%)\n", overview.TotalAlerts, overview.Attacks, overview.AttackRate)
	fmt.Fprintf(&sb, "• Attacks in last 24h: `%d`\n", types.TotalAttacks)
	if len(types.Types) > 0 {
		top := types.Types[0]
		fmt.Fprintf(&sb, "• Top attack type: `%s` (%d)\n", top.Type, top.Count)
	}

	sb.WriteString("\n**Blocking Summary**\n")
	fmt.Fprintf(&sb, "• Blocks in last 24h: `%d`\n", len(dayBlocks))
	fmt.Fprintf(&sb, "• Currently blocked: `%d`\n", overview.ActiveBlocks)
	if rep := analytics.Reputation(dayBlocks); len(rep) > 0 {
		fmt.Fprintf(&sb, "• Most blocked IP: `%s` (%d, %s)\n", rep[0].IP, rep[0].Blocks, rep[0].Tier)
	}

	if src := analytics.NetworkRollup(alerts); len(src) > 0 && src[0].TotalBytes > 0 {
		sb.WriteString("\n**Traffic**\n")
		fmt.Fprintf(&sb, "• Top talker: `%s` (%s)\n", src[0].IP, formatBytes(int64(src[0].TotalBytes)))
	}

	title := fmt.Sprintf("📊 Daily Security Report (%s)", cutoff.Format("2006-01-02"))
	return title, sb.String()
}

// SendReport builds and sends the report now.
func (r *DailyReporter) SendReport(ctx context.Context) error {
	if r.alerter == nil {
		return nil
	}
	system.Info("Generating daily security report...")
	title, body := r.Build(r.now())
	return r.alerter.SendSystemAlert(ctx, title, body, ColorBlue)
}

func formatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	} else if bytes < 1024*1024 {
		return fmt.Sprintf("%.2f KB", float64(bytes)/1024.0)
	} else if bytes < 1024*1024*1024 {
		return fmt.Sprintf("%.2f MB", float64(bytes)/(1024.0*1024.0))
	} else {
		return fmt.Sprintf("%.2f GB", float64(bytes)/(1024.0*1024.0*1024.0))
	}
}
