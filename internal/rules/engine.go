package rules

import "netrisk/pkg/models"

// Match is one rule hit on a log record.
type Match struct {
	ID       string
	Name     string
	Severity string
}

// Engine evaluates threat rules against single log records.
type Engine interface {
	Apply(record *models.LogRecord) []Match
	Labels() []Match
}

// NoopEngine matches nothing.
type NoopEngine struct{}

// Apply returns no matches.
func (n *NoopEngine) Apply(record *models.LogRecord) []Match {
	return nil
}

// Labels returns no rules.
func (n *NoopEngine) Labels() []Match {
	return nil
}
