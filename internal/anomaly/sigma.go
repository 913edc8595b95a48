package anomaly

import (
	"netrisk/internal/rules"
	"netrisk/pkg/models"
)

// RuleDetector turns rule engine matches into threat findings whose defect id
// is the rule id.
type RuleDetector struct {
	Engine rules.Engine
}

// Name returns the detector name.
func (RuleDetector) Name() string { return "rules" }

// Detect applies the engine to every row.
func (d RuleDetector) Detect(batch []models.LogRecord) []models.AnomalyFinding {
	if d.Engine == nil {
		return nil
	}
	var out []models.AnomalyFinding
	for i := range batch {
		rec := &batch[i]
		for _, m := range d.Engine.Apply(rec) {
			out = append(out, newFinding(rec, rowTime(rec), m.ID))
		}
	}
	return out
}

// WithRules registers every engine rule as an attack with the rule's level.
func (t *Taxonomy) WithRules(engine rules.Engine) *Taxonomy {
	if engine == nil {
		return t
	}
	out := t
	for _, label := range engine.Labels() {
		out = out.With(label.ID, Classification{
			Severity: SeverityFromLevel(label.Severity),
			Category: models.CategoryAttack,
		})
	}
	return out
}
