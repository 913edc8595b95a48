package pipeline

import "netrisk/pkg/models"

// FindingWriter writes classified anomaly findings.
type FindingWriter interface {
	Write(findings []models.AnomalyFinding) error
	Close() error
}
