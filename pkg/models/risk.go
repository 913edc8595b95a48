package models

import "time"

// RiskBand is a coarse bucket over the risk score.
type RiskBand string

const (
	RiskLow      RiskBand = "LOW"
	RiskMedium   RiskBand = "MEDIUM"
	RiskHigh     RiskBand = "HIGH"
	RiskCritical RiskBand = "CRITICAL"
)

// RiskAssessment is the scored outcome for one entity.
type RiskAssessment struct {
	EntityID     string     `json:"entity_id"`
	EntityType   EntityType `json:"entity_type,omitempty"`
	Timestamp    time.Time  `json:"ts,omitempty"`
	Mode         string     `json:"mode,omitempty"`
	Score        float64    `json:"risk_score"`
	Band         RiskBand   `json:"risk_band"`
	Explanations []string   `json:"explanations"`
}
