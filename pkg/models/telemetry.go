package models

import (
	"math"
	"time"
)

// EntityType distinguishes nodes from links.
type EntityType string

const (
	EntityNode EntityType = "node"
	EntityLink EntityType = "link"
)

// MetricSample is one telemetry row for a node or a link. A metric missing
// from Metrics was not reported.
type MetricSample struct {
	Timestamp time.Time          `json:"ts"`
	NodeID    string             `json:"node_id,omitempty"`
	LinkID    string             `json:"link_id,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Value returns a reported, non-NaN metric.
func (s *MetricSample) Value(metric string) (float64, bool) {
	v, ok := s.Metrics[metric]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// FeatureVector holds the features of one entity at one timestamp. Features
// that could not be computed are absent from Values.
type FeatureVector struct {
	EntityID   string             `json:"entity_id"`
	EntityType EntityType         `json:"entity_type"`
	Timestamp  time.Time          `json:"ts"`
	Values     map[string]float64 `json:"features"`
}

// Get returns a present, non-NaN feature.
func (v *FeatureVector) Get(name string) (float64, bool) {
	f, ok := v.Values[name]
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
