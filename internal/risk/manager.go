package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"netrisk/internal/logger"
	"netrisk/internal/metrics"
	"netrisk/internal/modelstore"
	"netrisk/pkg/models"
)

// Artifact names in the model store.
const (
	RuleArtifact        = "rule.yaml"
	StatisticalArtifact = "ml.json"
)

// ManagerConfig configures a Manager. A nil Store keeps models in memory.
type ManagerConfig struct {
	Store       modelstore.Store
	Thresholds  Thresholds
	Statistical StatisticalConfig
	Metrics     *metrics.Metrics
}

// Manager selects the model for a mode, loading it from the store on first
// use and creating a fresh one when nothing is stored.
type Manager struct {
	cfg ManagerConfig

	mu   sync.Mutex
	rule *RuleModel
	stat *StatisticalModel
}

// NewManager returns a manager. Each zero-valued threshold takes its default.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.Thresholds = cfg.Thresholds.withDefaults()
	return &Manager{cfg: cfg}
}

// Model returns the model for mode.
func (m *Manager) Model(ctx context.Context, mode string) (Model, error) {
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeRule {
		return m.ruleModel(ctx)
	}
	return m.statisticalModel(ctx)
}

func (m *Manager) ruleModel(ctx context.Context) (*RuleModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rule != nil {
		return m.rule, nil
	}

	data, err := m.load(ctx, RuleArtifact)
	switch {
	case err != nil:
		return nil, err
	case data == nil:
		m.rule = NewRuleModel(m.cfg.Thresholds)
	default:
		rm, err := LoadRuleModel(data)
		if err != nil {
			return nil, err
		}
		logger.Infof("Rule model loaded from %s", RuleArtifact)
		m.rule = rm
	}
	return m.rule, nil
}

func (m *Manager) statisticalModel(ctx context.Context) (*StatisticalModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stat != nil {
		return m.stat, nil
	}

	sm := NewStatisticalModel(m.cfg.Statistical)
	data, err := m.load(ctx, StatisticalArtifact)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := sm.Load(data); err != nil {
			return nil, fmt.Errorf("load %s: %w", StatisticalArtifact, err)
		}
	}
	m.stat = sm
	return m.stat, nil
}

// load returns nil data when the artifact does not exist.
func (m *Manager) load(ctx context.Context, name string) ([]byte, error) {
	if m.cfg.Store == nil {
		return nil, nil
	}
	data, err := m.cfg.Store.Load(ctx, name)
	if errors.Is(err, modelstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return data, nil
}

// Predict scores v with the model for mode.
func (m *Manager) Predict(ctx context.Context, mode string, v models.FeatureVector) (models.RiskAssessment, error) {
	mode, err := ParseMode(mode)
	if err != nil {
		m.cfg.Metrics.ObservePredictionError("unknown")
		return models.RiskAssessment{}, err
	}
	model, err := m.Model(ctx, mode)
	if err != nil {
		m.cfg.Metrics.ObservePredictionError(mode)
		return models.RiskAssessment{}, err
	}

	p, err := model.Predict(v)
	if err != nil {
		m.cfg.Metrics.ObservePredictionError(mode)
		return models.RiskAssessment{}, fmt.Errorf("predict %s %s: %w", v.EntityType, v.EntityID, err)
	}
	m.cfg.Metrics.ObservePrediction(mode, p.Band)

	return models.RiskAssessment{
		EntityID:     v.EntityID,
		EntityType:   v.EntityType,
		Timestamp:    v.Timestamp,
		Mode:         mode,
		Score:        p.Score,
		Band:         p.Band,
		Explanations: p.Explanations,
	}, nil
}

// PredictAll scores every vector, stopping at the first error.
func (m *Manager) PredictAll(ctx context.Context, mode string, vectors []models.FeatureVector) ([]models.RiskAssessment, error) {
	out := make([]models.RiskAssessment, 0, len(vectors))
	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		a, err := m.Predict(ctx, mode, v)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Train fits the statistical model and installs the new bundle.
func (m *Manager) Train(ctx context.Context, vectors []models.FeatureVector, labels []int) (TrainReport, error) {
	sm, err := m.statisticalModel(ctx)
	if err != nil {
		return TrainReport{}, err
	}
	return sm.Train(vectors, labels)
}

// Save persists every model that has been loaded or trained.
func (m *Manager) Save(ctx context.Context) error {
	if m.cfg.Store == nil {
		return nil
	}
	m.mu.Lock()
	rule, stat := m.rule, m.stat
	m.mu.Unlock()

	if rule != nil {
		data, err := rule.Marshal()
		if err != nil {
			return fmt.Errorf("encode rule model: %w", err)
		}
		if err := m.cfg.Store.Save(ctx, RuleArtifact, data); err != nil {
			return err
		}
		logger.Infof("Rule model saved to %s", RuleArtifact)
	}
	if stat != nil && stat.Trained() {
		data, err := stat.Marshal()
		if err != nil {
			return fmt.Errorf("encode statistical model: %w", err)
		}
		if err := m.cfg.Store.Save(ctx, StatisticalArtifact, data); err != nil {
			return err
		}
		logger.Infof("Statistical model saved to %s", StatisticalArtifact)
	}
	return nil
}

// Explain returns the structured explanation for v under mode.
func (m *Manager) Explain(ctx context.Context, mode string, v models.FeatureVector) (Explanation, error) {
	model, err := m.Model(ctx, mode)
	if err != nil {
		return Explanation{}, err
	}
	switch mdl := model.(type) {
	case *RuleModel:
		e := ExplainRule(v, mdl.Thresholds())
		return Explanation{EntityID: v.EntityID, Timestamp: v.Timestamp, Rule: &e}, nil
	case *StatisticalModel:
		e, err := ExplainStatistical(v, mdl)
		if err != nil {
			return Explanation{}, err
		}
		return Explanation{EntityID: v.EntityID, Timestamp: v.Timestamp, Statistical: &e}, nil
	default:
		return Explanation{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
