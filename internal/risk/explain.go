package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"netrisk/internal/features"
	"netrisk/pkg/models"
)

// Violation is one current value above its limit.
type Violation struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Excess    float64 `json:"excess"`
}

// Trend is a notable CPU change over a trailing window.
type Trend struct {
	Metric    string  `json:"metric"`
	Window    string  `json:"window"`
	Change    float64 `json:"change"`
	Direction string  `json:"direction"`
}

// RuleExplanation details a rule model verdict.
type RuleExplanation struct {
	Method        string      `json:"method"`
	Violations    []Violation `json:"violations"`
	Trends        []Trend     `json:"trends"`
	NumViolations int         `json:"num_violations"`
	Summary       string      `json:"summary"`
}

// FeatureContribution is one input's weight in a statistical verdict.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Importance   float64 `json:"importance"`
	Contribution float64 `json:"contribution"`
}

// StatisticalExplanation details a statistical model verdict.
type StatisticalExplanation struct {
	Method      string                `json:"method"`
	TopFeatures []FeatureContribution `json:"top_features"`
	NumFeatures int                   `json:"num_features"`
	Summary     string                `json:"summary"`
}

// Explanation wraps whichever explanation the mode produced.
type Explanation struct {
	EntityID    string                  `json:"entity_id"`
	Timestamp   time.Time               `json:"ts"`
	Rule        *RuleExplanation        `json:"rule,omitempty"`
	Statistical *StatisticalExplanation `json:"statistical,omitempty"`
}

// FeatureImportance is a global classifier weight.
type FeatureImportance struct {
	Feature     string  `json:"feature"`
	Importance  float64 `json:"importance"`
	Coefficient float64 `json:"coefficient"`
}

// trendReportChange is the absolute CPU change worth reporting.
const trendReportChange = 0.1

// ExplainRule lists every threshold violation and every CPU change larger
// than 10% in either direction.
func ExplainRule(v models.FeatureVector, t Thresholds) RuleExplanation {
	out := RuleExplanation{Method: "rule-based", Violations: []Violation{}, Trends: []Trend{}}
	for _, l := range t.limits() {
		value, ok := v.Get(features.CurrentKey(l.metric))
		if !ok || value <= l.value {
			continue
		}
		out.Violations = append(out.Violations, Violation{
			Metric:    features.CurrentKey(l.metric),
			Value:     value,
			Threshold: l.value,
			Excess:    value - l.value,
		})
	}
	for _, w := range t.TrendWindows {
		change, ok := v.Get(features.WindowKey("cpu", features.AggChange, w))
		if !ok || math.Abs(change) <= trendReportChange {
			continue
		}
		dir := "decreasing"
		if change > 0 {
			dir = "increasing"
		}
		out.Trends = append(out.Trends, Trend{Metric: "cpu", Window: fmt.Sprintf("%dm", w), Change: change, Direction: dir})
	}
	out.NumViolations = len(out.Violations)
	out.Summary = fmt.Sprintf("%d threshold violations detected", out.NumViolations)
	return out
}

// ExplainStatistical ranks the present inputs by absolute classifier
// coefficient and reports the top ten.
func ExplainStatistical(v models.FeatureVector, m *StatisticalModel) (StatisticalExplanation, error) {
	b := m.Bundle()
	if b == nil {
		return StatisticalExplanation{}, ErrNotTrained
	}
	contributions := []FeatureContribution{}
	for _, j := range rankedColumns(b) {
		name := b.FeatureColumns[j]
		value, ok := v.Get(name)
		if !ok {
			continue
		}
		coef := b.Classifier.Coef[j]
		contributions = append(contributions, FeatureContribution{
			Feature:      name,
			Value:        value,
			Importance:   math.Abs(coef),
			Contribution: coef * value,
		})
	}

	out := StatisticalExplanation{Method: "ml-based", NumFeatures: len(contributions)}
	out.TopFeatures = contributions
	if len(out.TopFeatures) > 10 {
		out.TopFeatures = out.TopFeatures[:10]
	}
	var names []string
	for i := 0; i < len(out.TopFeatures) && i < 3; i++ {
		names = append(names, out.TopFeatures[i].Feature)
	}
	out.Summary = "Top contributing features: " + strings.Join(names, ", ")
	return out, nil
}

// FeatureImportances returns the topN classifier weights by magnitude.
func FeatureImportances(m *StatisticalModel, topN int) ([]FeatureImportance, error) {
	b := m.Bundle()
	if b == nil {
		return nil, ErrNotTrained
	}
	if topN <= 0 {
		topN = 20
	}
	var out []FeatureImportance
	for _, j := range rankedColumns(b) {
		if len(out) == topN {
			break
		}
		coef := b.Classifier.Coef[j]
		out = append(out, FeatureImportance{Feature: b.FeatureColumns[j], Importance: math.Abs(coef), Coefficient: coef})
	}
	return out, nil
}
