package risk

import (
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"

	"netrisk/internal/features"
	"netrisk/pkg/models"
)

// Thresholds configures the rule model. Fractions are in [0,1]; latency is
// in milliseconds.
type Thresholds struct {
	CPU          float64 `yaml:"cpu" json:"cpu"`
	Mem          float64 `yaml:"mem" json:"mem"`
	IfUtil       float64 `yaml:"if_util" json:"if_util"`
	PktErr       float64 `yaml:"pkt_err" json:"pkt_err"`
	LatencyMS    float64 `yaml:"latency_ms" json:"latency_ms"`
	TrendWindows []int   `yaml:"trend_windows" json:"trend_windows"`
	TrendChange  float64 `yaml:"trend_change" json:"trend_change"`
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPU:          0.85,
		Mem:          0.90,
		IfUtil:       0.80,
		PktErr:       0.05,
		LatencyMS:    100,
		TrendWindows: []int{5, 15, 30},
		TrendChange:  0.2,
	}
}

// withDefaults fills every zero field from DefaultThresholds.
func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.CPU == 0 {
		t.CPU = def.CPU
	}
	if t.Mem == 0 {
		t.Mem = def.Mem
	}
	if t.IfUtil == 0 {
		t.IfUtil = def.IfUtil
	}
	if t.PktErr == 0 {
		t.PktErr = def.PktErr
	}
	if t.LatencyMS == 0 {
		t.LatencyMS = def.LatencyMS
	}
	if len(t.TrendWindows) == 0 {
		t.TrendWindows = def.TrendWindows
	}
	if t.TrendChange == 0 {
		t.TrendChange = def.TrendChange
	}
	return t
}

type limit struct {
	metric string
	value  float64
}

func (t Thresholds) limits() []limit {
	return []limit{
		{"cpu", t.CPU},
		{"mem", t.Mem},
		{"if_util", t.IfUtil},
		{"pkt_err", t.PktErr},
		{"latency_ms", t.LatencyMS},
	}
}

// RuleModel scores by counting threshold violations.
type RuleModel struct {
	thresholds Thresholds
}

// NewRuleModel returns a rule model.
func NewRuleModel(t Thresholds) *RuleModel {
	return &RuleModel{thresholds: t}
}

// LoadRuleModel decodes a YAML thresholds artifact. Missing keys keep their
// defaults.
func LoadRuleModel(data []byte) (*RuleModel, error) {
	t := DefaultThresholds()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode rule thresholds: %w", err)
	}
	return NewRuleModel(t), nil
}

// Thresholds returns the configured limits.
func (m *RuleModel) Thresholds() Thresholds {
	return m.thresholds
}

// Marshal encodes the thresholds as YAML.
func (m *RuleModel) Marshal() ([]byte, error) {
	return yaml.Marshal(m.thresholds)
}

// Predict counts current values strictly above their limit and maps the
// count to a score and band. A rising CPU trend adds 0.1 to the score without
// changing the band.
func (m *RuleModel) Predict(v models.FeatureVector) (Prediction, error) {
	var explanations []string
	violations := 0
	for _, l := range m.thresholds.limits() {
		value, ok := v.Get(features.CurrentKey(l.metric))
		if !ok || value <= l.value {
			continue
		}
		violations++
		if l.metric == "latency_ms" {
			explanations = append(explanations, fmt.Sprintf("%s↑ (%.2f > %s)", l.metric, value, strconv.FormatFloat(l.value, 'f', -1, 64)))
		} else {
			explanations = append(explanations, fmt.Sprintf("%s↑ (%.2f)", l.metric, value))
		}
	}

	var p Prediction
	switch violations {
	case 0:
		p.Score, p.Band = 0.1, models.RiskLow
	case 1:
		p.Score, p.Band = 0.4, models.RiskMedium
	case 2:
		p.Score, p.Band = 0.7, models.RiskHigh
	default:
		p.Score, p.Band = 0.95, models.RiskCritical
	}

	for _, w := range m.thresholds.TrendWindows {
		change, ok := v.Get(features.WindowKey("cpu", features.AggChange, w))
		if !ok || change <= m.thresholds.TrendChange {
			continue
		}
		p.Score = math.Min(1, p.Score+0.1)
		explanations = append(explanations, fmt.Sprintf("CPU trend↑ (+%.1f%%)", change*100))
		break
	}

	if len(explanations) == 0 {
		explanations = []string{"Nominal metrics"}
	}
	p.Explanations = explanations
	return p, nil
}
