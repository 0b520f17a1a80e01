package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ids-dashboard/backend/models"
)

// Backend timestamps come either with a zone or as naive UTC isoformat.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime parses a backend timestamp. Zone-less values are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// wireTime is a nullable backend timestamp.
type wireTime struct {
	time.Time
	Valid bool
}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*w = wireTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := ParseTime(s)
	if err != nil {
		return err
	}
	*w = wireTime{Time: t, Valid: true}
	return nil
}

func (w wireTime) ptr() *time.Time {
	if !w.Valid {
		return nil
	}
	t := w.Time
	return &t
}

type wireAlert struct {
	ID           string         `json:"id"`
	MongoID      string         `json:"_id"`
	DetectedAt   wireTime       `json:"detected_at"`
	SrcIP        string         `json:"src_ip"`
	Score        *float64       `json:"score"`
	Attack       bool           `json:"attack"`
	AttackType   *string        `json:"attack_type"`
	Threshold    *float64       `json:"threshold"`
	Features     map[string]any `json:"features"`
	RawFeatures  map[string]any `json:"raw_features"`
	Note         string         `json:"note"`
	ModelVersion string         `json:"model_version"`
}

func unitInterval(name string, v *float64) error {
	if v == nil {
		return fmt.Errorf("%s missing", name)
	}
	if *v < 0 || *v > 1 {
		return fmt.Errorf("%s %v outside [0,1]", name, *v)
	}
	return nil
}

func (w wireAlert) toModel() (models.Alert, error) {
	id := firstNonEmpty(w.ID, w.MongoID)
	if id == "" {
		return models.Alert{}, errors.New("alert without id")
	}
	if !w.DetectedAt.Valid {
		return models.Alert{}, errors.New("alert without detected_at")
	}
	if strings.TrimSpace(w.SrcIP) == "" {
		return models.Alert{}, errors.New("alert without src_ip")
	}
	if err := unitInterval("score", w.Score); err != nil {
		return models.Alert{}, err
	}
	if err := unitInterval("threshold", w.Threshold); err != nil {
		return models.Alert{}, err
	}
	a := models.Alert{
		ID:           id,
		DetectedAt:   w.DetectedAt.Time,
		SrcIP:        w.SrcIP,
		Score:        *w.Score,
		Attack:       w.Attack,
		Threshold:    *w.Threshold,
		RawFeatures:  w.Features,
		Note:         w.Note,
		ModelVersion: w.ModelVersion,
	}
	if a.RawFeatures == nil {
		a.RawFeatures = w.RawFeatures
	}
	if w.AttackType != nil {
		a.AttackType = models.AttackType(*w.AttackType)
	}
	return a, nil
}

type wireBlock struct {
	ID          string   `json:"id"`
	MongoID     string   `json:"_id"`
	IP          string   `json:"ip"`
	BlockedAt   wireTime `json:"blocked_at"`
	UnblockAt   wireTime `json:"unblock_at"`
	DurationSec *int     `json:"duration_sec"`
	Reason      *string  `json:"reason"`
	Actor       string   `json:"actor"`
	Note        *string  `json:"note"`
}

func (w wireBlock) toModel() (models.BlockRecord, error) {
	if strings.TrimSpace(w.IP) == "" {
		return models.BlockRecord{}, errors.New("block without ip")
	}
	if !w.BlockedAt.Valid {
		return models.BlockRecord{}, errors.New("block without blocked_at")
	}
	if w.UnblockAt.Valid && w.UnblockAt.Before(w.BlockedAt.Time) {
		return models.BlockRecord{}, fmt.Errorf("block for %s unblocks before it was blocked", w.IP)
	}
	if w.DurationSec != nil && *w.DurationSec < 0 {
		return models.BlockRecord{}, fmt.Errorf("block for %s has negative duration", w.IP)
	}
	return models.BlockRecord{
		ID:          firstNonEmpty(w.ID, w.MongoID),
		IP:          w.IP,
		BlockedAt:   w.BlockedAt.Time,
		UnblockAt:   w.UnblockAt.ptr(),
		DurationSec: w.DurationSec,
		Reason:      deref(w.Reason),
		Actor:       models.ParseActor(w.Actor),
		Note:        deref(w.Note),
	}, nil
}

type wireWhitelist struct {
	ID        string   `json:"id"`
	MongoID   string   `json:"_id"`
	IP        string   `json:"ip"`
	Note      *string  `json:"note"`
	CreatedAt wireTime `json:"created_at"`
}

func (w wireWhitelist) toModel() (models.WhitelistEntry, error) {
	if strings.TrimSpace(w.IP) == "" {
		return models.WhitelistEntry{}, errors.New("whitelist entry without ip")
	}
	return models.WhitelistEntry{
		ID:        firstNonEmpty(w.ID, w.MongoID),
		IP:        w.IP,
		Note:      deref(w.Note),
		CreatedAt: w.CreatedAt.ptr(),
	}, nil
}

type wireConfig struct {
	Threshold        *float64 `json:"threshold"`
	BlockDurationSec *int     `json:"block_duration_sec"`
	BlockingEnabled  *bool    `json:"blocking_enabled"`
	UpdatedAt        wireTime `json:"updated_at"`
}

func (w wireConfig) toModel() (models.ConfigDoc, error) {
	if err := unitInterval("threshold", w.Threshold); err != nil {
		return models.ConfigDoc{}, err
	}
	if w.BlockDurationSec == nil || *w.BlockDurationSec <= 0 {
		return models.ConfigDoc{}, errors.New("block_duration_sec missing or not positive")
	}
	doc := models.ConfigDoc{
		Threshold:        *w.Threshold,
		BlockDurationSec: *w.BlockDurationSec,
		// Older policy documents predate the toggle; the backend treats them as enabled.
		BlockingEnabled: true,
		UpdatedAt:       w.UpdatedAt.ptr(),
	}
	if w.BlockingEnabled != nil {
		doc.BlockingEnabled = *w.BlockingEnabled
	}
	return doc, nil
}

type wireStatus struct {
	Status            string   `json:"status"`
	Timestamp         wireTime `json:"timestamp"`
	LiveCaptureActive bool     `json:"live_capture_active"`
	FlowsLast10s      int      `json:"flows_last_10s"`
	FlowsLastMinute   int      `json:"flows_last_minute"`
	ModelLoaded       bool     `json:"model_loaded"`
	DBConnected       bool     `json:"db_connected"`
}

func (w wireStatus) toModel() (models.SystemStatus, error) {
	if w.Status == "" {
		return models.SystemStatus{}, errors.New("status missing")
	}
	return models.SystemStatus{
		Status:            w.Status,
		Timestamp:         w.Timestamp.Time,
		LiveCaptureActive: w.LiveCaptureActive,
		FlowsLast10s:      w.FlowsLast10s,
		FlowsLastMinute:   w.FlowsLastMinute,
		ModelLoaded:       w.ModelLoaded,
		DBConnected:       w.DBConnected,
	}, nil
}

type wirePreview struct {
	Alert            bool     `json:"alert"`
	Score            *float64 `json:"score"`
	Threshold        *float64 `json:"threshold"`
	Note             string   `json:"note"`
	AttackType       *string  `json:"attack_type"`
	BlockDurationSec int      `json:"block_duration_sec"`
	AlertID          string   `json:"alert_id"`
}

func (w wirePreview) toModel() (models.DetectPreview, error) {
	if err := unitInterval("score", w.Score); err != nil {
		return models.DetectPreview{}, err
	}
	p := models.DetectPreview{
		Alert:            w.Alert,
		Score:            *w.Score,
		Note:             w.Note,
		BlockDurationSec: w.BlockDurationSec,
		AlertID:          w.AlertID,
	}
	// Whitelisted previews come back without a threshold.
	if w.Threshold != nil {
		p.Threshold = *w.Threshold
	}
	if w.AttackType != nil {
		p.AttackType = models.AttackType(*w.AttackType)
	}
	return p, nil
}

type okResponse struct {
	OK bool `json:"ok"`
}

type saveConfigResponse struct {
	OK     bool       `json:"ok"`
	Config wireConfig `json:"config"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
