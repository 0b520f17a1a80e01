package models

import "strings"

// AttackType is the classifier's coarse label for an attack.
type AttackType string

const (
	AttackPortScan   AttackType = "Port Scan"
	AttackDDoS       AttackType = "DDoS"
	AttackBruteForce AttackType = "Brute Force"
	AttackBot        AttackType = "Bot"
	AttackSuspicious AttackType = "Suspicious Activity"

	// AttackOther labels attacks whose type is missing.
	AttackOther AttackType = "Other"
)

// AttackTypeInfo describes a known attack type for legends and tooltips.
type AttackTypeInfo struct {
	Type        AttackType `json:"type"`
	Description string     `json:"description"`
	Color       string     `json:"color"`
}

// KnownAttackTypes returns the catalogue of labels the classifier can emit.
func KnownAttackTypes() []AttackTypeInfo {
	return []AttackTypeInfo{
		{Type: AttackPortScan, Description: "Many destination ports with few packets per port", Color: "#f59e0b"},
		{Type: AttackDDoS, Description: "Very high packet or byte rate", Color: "#ef4444"},
		{Type: AttackBruteForce, Description: "High SYN count at a sustained rate", Color: "#8b5cf6"},
		{Type: AttackBot, Description: "Long-lived low-rate flow", Color: "#3b82f6"},
		{Type: AttackSuspicious, Description: "Flagged by the model without a specific pattern", Color: "#6b7280"},
		{Type: AttackOther, Description: "Attack recorded without a type", Color: "#9ca3af"},
	}
}

// Label returns the type to group by, substituting AttackOther for blanks.
func (t AttackType) Label() AttackType {
	if strings.TrimSpace(string(t)) == "" {
		return AttackOther
	}
	return t
}
