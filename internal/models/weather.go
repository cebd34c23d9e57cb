package models

import "time"

// Condition is the coarse sky state shown on the home screen.
type Condition string

const (
	ConditionClear   Condition = "CLEAR"
	ConditionCloudy  Condition = "CLOUDY"
	ConditionRainy   Condition = "RAINY"
	ConditionStorm   Condition = "STORM"
	ConditionOffline Condition = "OFFLINE"
)

// Position is a device coordinate in degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Reading struct {
	Temperature int       `json:"temperature"`
	Condition   Condition `json:"condition"`
	Location    string    `json:"location"`
	Offline     bool      `json:"offline"`
	RefreshedAt time.Time `json:"refreshedAt,omitzero"` // When the reading was generated; zero for fallbacks
}
