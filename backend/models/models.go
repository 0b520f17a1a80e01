package models

import (
	"net/netip"
	"time"
)

// Alert is a single detection event emitted by the backend classifier.
// Alerts are immutable once produced.
type Alert struct {
	ID           string         `json:"id"`
	DetectedAt   time.Time      `json:"detected_at"`
	SrcIP        string         `json:"src_ip"`
	Score        float64        `json:"score"`
	Attack       bool           `json:"attack"`
	AttackType   AttackType     `json:"attack_type,omitempty"`
	Threshold    float64        `json:"threshold"`
	RawFeatures  map[string]any `json:"raw_features,omitempty"`
	Note         string         `json:"note,omitempty"`
	ModelVersion string         `json:"model_version,omitempty"`
}

// Actor identifies who issued a block.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorAdmin  Actor = "admin"
)

// ParseActor maps the backend spelling onto an Actor. The detector records
// its own blocks as "model".
func ParseActor(s string) Actor {
	switch s {
	case "admin", "manual":
		return ActorAdmin
	default:
		return ActorSystem
	}
}

// BlockRecord is one IP block. The same type backs the active view and the
// historical view.
type BlockRecord struct {
	ID          string     `json:"id"`
	IP          string     `json:"ip"`
	BlockedAt   time.Time  `json:"blocked_at"`
	UnblockAt   *time.Time `json:"unblock_at,omitempty"`
	DurationSec *int       `json:"duration_sec,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Actor       Actor      `json:"actor"`
	Note        string     `json:"note,omitempty"`
}

// Expired reports whether the block's scheduled unblock time has passed.
func (b BlockRecord) Expired(now time.Time) bool {
	return b.UnblockAt != nil && !b.UnblockAt.After(now)
}

// BlockRequest is the body of a manual block.
type BlockRequest struct {
	IP          string `json:"ip"`
	DurationSec *int   `json:"duration_sec,omitempty"`
	Note        string `json:"note,omitempty"`
}

// WhitelistEntry is keyed by IP; the client holds at most one entry per IP.
type WhitelistEntry struct {
	ID        string     `json:"id,omitempty"`
	IP        string     `json:"ip"`
	Note      string     `json:"note,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// SystemStatus is an ephemeral snapshot of backend health.
type SystemStatus struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	LiveCaptureActive bool      `json:"live_capture_active"`
	FlowsLast10s      int       `json:"flows_last_10s"`
	FlowsLastMinute   int       `json:"flows_last_minute"`
	ModelLoaded       bool      `json:"model_loaded"`
	DBConnected       bool      `json:"db_connected"`
}

// Healthy is true when the backend reports capture, model and database all up.
func (s SystemStatus) Healthy() bool {
	return s.LiveCaptureActive && s.ModelLoaded && s.DBConnected
}

// FeatureVector is the flow summary submitted to the detector.
type FeatureVector struct {
	SrcIP          string         `json:"src_ip"`
	TotalPackets   int            `json:"total_packets"`
	TotalBytes     int            `json:"total_bytes"`
	Duration       float64        `json:"duration"`
	PktsPerSec     float64        `json:"pkts_per_sec"`
	BytesPerSec    float64        `json:"bytes_per_sec"`
	SynCount       int            `json:"syn_count"`
	UniqueDstPorts int            `json:"unique_dst_ports"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// DetectPreview is the result of a dry-run classification. It is never stored.
type DetectPreview struct {
	Alert            bool       `json:"alert"`
	Score            float64    `json:"score"`
	Threshold        float64    `json:"threshold"`
	Note             string     `json:"note,omitempty"`
	AttackType       AttackType `json:"attack_type,omitempty"`
	BlockDurationSec int        `json:"block_duration_sec,omitempty"`
	AlertID          string     `json:"alert_id,omitempty"`
}

// TrainingStats summarizes the backend's labelling queue.
type TrainingStats struct {
	Total            int `json:"total"`
	Labeled          int `json:"labeled"`
	Unlabeled        int `json:"unlabeled"`
	PredictedAttacks int `json:"predicted_attacks"`
	PredictedBenign  int `json:"predicted_benign"`
	TrueAttacks      int `json:"true_attacks"`
	TrueBenign       int `json:"true_benign"`
}

// ValidIP reports whether s parses as an IPv4 or IPv6 address.
func ValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
