package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netrisk/internal/features"
	"netrisk/internal/logger"
	"netrisk/internal/ml"
	"netrisk/pkg/models"
)

// StatisticalConfig controls training of the statistical model.
type StatisticalConfig struct {
	Seed       int64
	Trees      int
	SampleSize int
	// PseudoLabelPercentile marks rows scoring below this outlier-score
	// percentile as positive when no labels are supplied.
	PseudoLabelPercentile float64
	// TopN is the number of coefficient explanations per prediction.
	TopN   int
	LogReg ml.LogRegConfig
}

// DefaultStatisticalConfig returns seed 42, 100 trees, 256 rows per tree,
// 20th percentile pseudo-labels and three explanations.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{
		Seed:                  42,
		Trees:                 100,
		SampleSize:            256,
		PseudoLabelPercentile: 20,
		TopN:                  3,
		LogReg:                ml.DefaultLogRegConfig(),
	}
}

// Bundle is everything a trained statistical model needs to predict. It is
// produced by one training call and replaced as a unit.
type Bundle struct {
	ID             uuid.UUID              `json:"id"`
	TrainedAt      time.Time              `json:"trained_at"`
	FeatureColumns []string               `json:"feature_columns"`
	Scaler         *ml.StandardScaler     `json:"scaler"`
	Classifier     *ml.LogisticRegression `json:"classifier"`
	Forest         *ml.IsolationForest    `json:"forest"`
	PseudoLabels   bool                   `json:"pseudo_labels"`
	TrainAccuracy  float64                `json:"train_accuracy"`
}

func (b *Bundle) validate() error {
	n := len(b.FeatureColumns)
	if n == 0 {
		return fmt.Errorf("bundle has no feature columns")
	}
	if b.Scaler == nil {
		return fmt.Errorf("bundle has no scaler")
	}
	if err := b.Scaler.Validate(n); err != nil {
		return fmt.Errorf("bundle scaler: %w", err)
	}
	if b.Classifier == nil || len(b.Classifier.Coef) != n {
		return fmt.Errorf("bundle classifier does not match %d columns", n)
	}
	if b.Forest == nil {
		return fmt.Errorf("bundle has no outlier forest")
	}
	if err := b.Forest.Validate(n); err != nil {
		return fmt.Errorf("bundle outlier forest: %w", err)
	}
	return nil
}

// TrainReport summarizes a training run.
type TrainReport struct {
	BundleID     uuid.UUID `json:"bundle_id"`
	Accuracy     float64   `json:"train_accuracy"`
	NumFeatures  int       `json:"num_features"`
	NumSamples   int       `json:"num_samples"`
	PseudoLabels bool      `json:"pseudo_labels"`
}

// StatisticalModel blends a logistic classifier with an isolation forest.
// Training swaps the bundle atomically; predictions read it lock-free.
type StatisticalModel struct {
	cfg    StatisticalConfig
	bundle atomic.Pointer[Bundle]
	now    func() time.Time
}

// NewStatisticalModel returns an untrained model.
func NewStatisticalModel(cfg StatisticalConfig) *StatisticalModel {
	def := DefaultStatisticalConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.PseudoLabelPercentile <= 0 || cfg.PseudoLabelPercentile >= 100 {
		cfg.PseudoLabelPercentile = def.PseudoLabelPercentile
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	return &StatisticalModel{cfg: cfg, now: time.Now}
}

// Trained reports whether a bundle is loaded.
func (m *StatisticalModel) Trained() bool {
	return m.bundle.Load() != nil
}

// Bundle returns the current bundle or nil.
func (m *StatisticalModel) Bundle() *Bundle {
	return m.bundle.Load()
}

// Train fits scaler, forest and classifier on vectors. labels may be nil, in
// which case the forest's lowest-scoring rows become the positive class.
func (m *StatisticalModel) Train(vectors []models.FeatureVector, labels []int) (TrainReport, error) {
	if len(vectors) == 0 {
		return TrainReport{}, fmt.Errorf("train statistical model: %w", ml.ErrEmpty)
	}
	if labels != nil && len(labels) != len(vectors) {
		return TrainReport{}, fmt.Errorf("train statistical model: got %d labels for %d vectors", len(labels), len(vectors))
	}
	for i, l := range labels {
		if l != 0 && l != 1 {
			return TrainReport{}, fmt.Errorf("train statistical model: label %d at row %d is not 0 or 1", l, i)
		}
	}
	cols := features.Columns(vectors)
	if len(cols) == 0 {
		return TrainReport{}, fmt.Errorf("train statistical model: no feature columns")
	}

	logger.Infof("Training statistical model on %d vectors, %d features", len(vectors), len(cols))

	x := make([][]float64, len(vectors))
	for i := range vectors {
		x[i] = row(vectors[i], cols)
	}

	scaler, err := ml.FitScaler(x)
	if err != nil {
		return TrainReport{}, fmt.Errorf("fit scaler: %w", err)
	}
	scaled := scaler.TransformAll(x)

	forest, err := ml.FitForest(scaled, ml.ForestConfig{Trees: m.cfg.Trees, SampleSize: m.cfg.SampleSize, Seed: m.cfg.Seed})
	if err != nil {
		return TrainReport{}, fmt.Errorf("fit outlier forest: %w", err)
	}

	pseudo := labels == nil
	y := labels
	if pseudo {
		scores := forest.ScoreAll(scaled)
		cut := ml.Percentile(scores, m.cfg.PseudoLabelPercentile)
		y = make([]int, len(scores))
		for i, s := range scores {
			if s < cut {
				y[i] = 1
			}
		}
	}

	clf, err := ml.FitLogReg(scaled, y, m.cfg.LogReg)
	if err != nil {
		return TrainReport{}, fmt.Errorf("fit classifier: %w", err)
	}
	acc := clf.Accuracy(scaled, y)

	b := &Bundle{
		ID:             uuid.New(),
		TrainedAt:      m.now().UTC(),
		FeatureColumns: cols,
		Scaler:         scaler,
		Classifier:     clf,
		Forest:         forest,
		PseudoLabels:   pseudo,
		TrainAccuracy:  acc,
	}
	m.bundle.Store(b)

	logger.Infof("Statistical model %s trained. Accuracy: %.3f", b.ID, acc)
	return TrainReport{
		BundleID:     b.ID,
		Accuracy:     acc,
		NumFeatures:  len(cols),
		NumSamples:   len(vectors),
		PseudoLabels: pseudo,
	}, nil
}

// Predict scores v as 0.6 times the classifier probability plus 0.4 times
// the squashed outlier score.
func (m *StatisticalModel) Predict(v models.FeatureVector) (Prediction, error) {
	b := m.bundle.Load()
	if b == nil {
		return Prediction{}, ErrNotTrained
	}

	scaled := b.Scaler.Transform(row(v, b.FeatureColumns))
	pLR := b.Classifier.PredictProba(scaled)
	pIF := 1 / (1 + math.Exp(5*b.Forest.Score(scaled)))
	score := 0.6*pLR + 0.4*pIF

	return Prediction{
		Score:        score,
		Band:         BandFor(score),
		Explanations: topFeatures(b, v, m.cfg.TopN),
	}, nil
}

// Marshal encodes the current bundle as JSON.
func (m *StatisticalModel) Marshal() ([]byte, error) {
	b := m.bundle.Load()
	if b == nil {
		return nil, ErrNotTrained
	}
	return json.Marshal(b)
}

// Load decodes and installs a bundle produced by Marshal.
func (m *StatisticalModel) Load(data []byte) error {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode model bundle: %w", err)
	}
	if err := b.validate(); err != nil {
		return err
	}
	m.bundle.Store(&b)
	logger.Infof("Statistical model %s loaded (%d features)", b.ID, len(b.FeatureColumns))
	return nil
}

func row(v models.FeatureVector, cols []string) []float64 {
	out := make([]float64, len(cols))
	for j, col := range cols {
		if value, ok := v.Get(col); ok && !math.IsInf(value, 0) {
			out[j] = value
		}
	}
	return out
}

// rankedColumns returns column indices by descending absolute coefficient,
// ties by column order.
func rankedColumns(b *Bundle) []int {
	idx := make([]int, len(b.FeatureColumns))
	for i := range idx {
		idx[i] = i
	}
	coef := b.Classifier.Coef
	sort.SliceStable(idx, func(i, j int) bool {
		return math.Abs(coef[idx[i]]) > math.Abs(coef[idx[j]])
	})
	return idx
}

func topFeatures(b *Bundle, v models.FeatureVector, n int) []string {
	ranked := rankedColumns(b)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	var out []string
	for _, j := range ranked {
		name := b.FeatureColumns[j]
		if _, ok := v.Get(name); !ok {
			continue
		}
		dir := "↓"
		if b.Classifier.Coef[j] > 0 {
			dir = "↑"
		}
		out = append(out, name+" "+dir)
	}
	if len(out) == 0 {
		return []string{"Multiple factors"}
	}
	return out
}
