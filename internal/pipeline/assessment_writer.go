package pipeline

import "netrisk/pkg/models"

// AssessmentWriter writes risk assessments.
type AssessmentWriter interface {
	Write(assessments []models.RiskAssessment) error
	Close() error
}
