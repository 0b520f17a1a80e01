package models

import (
	"errors"
	"fmt"
	"time"
)

// Operator is a dashboard login. Passwords are stored bcrypt-hashed.
type Operator struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Username          string     `gorm:"unique;not null" json:"username"`
	Password          string     `gorm:"not null" json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	FailedAttempts    int        `gorm:"default:0" json:"-"`
	LastFailedAttempt *time.Time `json:"-"`
	LockedUntil       *time.Time `json:"-"`
}

// ConfigDoc is the backend's singleton detection policy.
type ConfigDoc struct {
	Threshold        float64    `json:"threshold"`
	BlockDurationSec int        `json:"block_duration_sec"`
	BlockingEnabled  bool       `json:"blocking_enabled"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// Validate checks the document's invariants.
func (c ConfigDoc) Validate() error {
	if !(c.Threshold >= 0 && c.Threshold <= 1) {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", c.Threshold)
	}
	if c.BlockDurationSec <= 0 {
		return errors.New("block_duration_sec must be positive")
	}
	return nil
}

// ConfigUpdate is a partial ConfigDoc. Nil fields are left unchanged.
type ConfigUpdate struct {
	Threshold        *float64 `json:"threshold,omitempty"`
	BlockDurationSec *int     `json:"block_duration_sec,omitempty"`
	BlockingEnabled  *bool    `json:"blocking_enabled,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ConfigUpdate) Empty() bool {
	return u.Threshold == nil && u.BlockDurationSec == nil && u.BlockingEnabled == nil
}

// Validate checks every set field against the ConfigDoc ranges.
func (u ConfigUpdate) Validate() error {
	if u.Threshold != nil && !(*u.Threshold >= 0 && *u.Threshold <= 1) {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", *u.Threshold)
	}
	if u.BlockDurationSec != nil && *u.BlockDurationSec <= 0 {
		return errors.New("block_duration_sec must be positive")
	}
	return nil
}

// Apply returns c with the update's set fields written over it.
func (u ConfigUpdate) Apply(c ConfigDoc) ConfigDoc {
	if u.Threshold != nil {
		c.Threshold = *u.Threshold
	}
	if u.BlockDurationSec != nil {
		c.BlockDurationSec = *u.BlockDurationSec
	}
	if u.BlockingEnabled != nil {
		c.BlockingEnabled = *u.BlockingEnabled
	}
	return c
}

// Diff returns the update that turns from into to.
func Diff(from, to ConfigDoc) ConfigUpdate {
	var u ConfigUpdate
	if from.Threshold != to.Threshold {
		v := to.Threshold
		u.Threshold = &v
	}
	if from.BlockDurationSec != to.BlockDurationSec {
		v := to.BlockDurationSec
		u.BlockDurationSec = &v
	}
	if from.BlockingEnabled != to.BlockingEnabled {
		v := to.BlockingEnabled
		u.BlockingEnabled = &v
	}
	return u
}

// GeoCacheEntry persists one resolved IP so restarts do not re-query the
// geolocation provider.
type GeoCacheEntry struct {
	IP          string    `gorm:"primaryKey" json:"ip"`
	Country     string    `gorm:"not null" json:"country"`
	CountryCode string    `json:"country_code"`
	Source      string    `json:"source"`
	ResolvedAt  time.Time `gorm:"index" json:"resolved_at"`
}
