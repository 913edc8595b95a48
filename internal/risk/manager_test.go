package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netrisk/internal/metrics"
	"netrisk/internal/modelstore"
	"netrisk/pkg/models"
)

type failingStore struct{ modelstore.Store }

func (failingStore) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func TestManagerRulePredict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mgr := NewManager(ManagerConfig{Metrics: m})

	v := vec(map[string]float64{"cpu_current": 0.92})
	a, err := mgr.Predict(context.Background(), "rule", v)
	require.NoError(t, err)
	assert.Equal(t, "N1", a.EntityID)
	assert.Equal(t, ModeRule, a.Mode)
	assert.Equal(t, models.RiskMedium, a.Band)
	assert.InDelta(t, 0.4, a.Score, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("rule", "MEDIUM")))
}

func TestManagerFillsUnsetThresholds(t *testing.T) {
	mgr := NewManager(ManagerConfig{Thresholds: Thresholds{CPU: 0.5}})
	model, err := mgr.Model(context.Background(), ModeRule)
	require.NoError(t, err)

	want := DefaultThresholds()
	want.CPU = 0.5
	assert.Equal(t, want, model.(*RuleModel).Thresholds())

	a, err := mgr.Predict(context.Background(), ModeRule, vec(map[string]float64{"mem_current": 0.5, "cpu_current": 0.6}))
	require.NoError(t, err)
	assert.Equal(t, models.RiskMedium, a.Band, "only cpu is over its limit")
}

func TestManagerUnknownMode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mgr := NewManager(ManagerConfig{Metrics: m})

	_, err := mgr.Predict(context.Background(), "hybrid", vec(nil))
	require.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionErrors.WithLabelValues("unknown")))
}

func TestManagerStatisticalNotTrained(t *testing.T) {
	mgr := NewManager(ManagerConfig{Store: mustFileStore(t)})
	_, err := mgr.Predict(context.Background(), "ml", vec(map[string]float64{"cpu_current": 0.5}))
	require.ErrorIs(t, err, ErrNotTrained)
}

func TestManagerTrainSaveReload(t *testing.T) {
	store := mustFileStore(t)
	ctx := context.Background()
	vectors, labels := trainingSet()

	mgr := NewManager(ManagerConfig{Store: store})
	report, err := mgr.Train(ctx, vectors, labels)
	require.NoError(t, err)
	_, err = mgr.Model(ctx, "rule")
	require.NoError(t, err)
	require.NoError(t, mgr.Save(ctx))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	fresh := NewManager(ManagerConfig{Store: store})
	a, err := fresh.Predict(ctx, "statistical", vectors[0])
	require.NoError(t, err)
	assert.Equal(t, ModeStatistical, a.Mode)

	model, err := fresh.Model(ctx, "ml")
	require.NoError(t, err)
	assert.Equal(t, report.BundleID, model.(*StatisticalModel).Bundle().ID)
}

func TestManagerLoadsStoredThresholds(t *testing.T) {
	store := mustFileStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, RuleArtifact, []byte("cpu: 0.5\n")))

	a, err := NewManager(ManagerConfig{Store: store}).Predict(ctx, "rule", vec(map[string]float64{"cpu_current": 0.6}))
	require.NoError(t, err)
	assert.Equal(t, models.RiskMedium, a.Band)
}

func TestManagerStoreFailure(t *testing.T) {
	_, err := NewManager(ManagerConfig{Store: failingStore{}}).Model(context.Background(), "rule")
	require.Error(t, err)
}

func TestManagerPredictAllAndExplain(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(ManagerConfig{})
	out, err := mgr.PredictAll(ctx, "rule", []models.FeatureVector{
		vec(map[string]float64{"cpu_current": 0.1}),
		vec(map[string]float64{"cpu_current": 0.99, "mem_current": 0.99}),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.RiskLow, out[0].Band)
	assert.Equal(t, models.RiskHigh, out[1].Band)

	e, err := mgr.Explain(ctx, "rule", vec(map[string]float64{"cpu_current": 0.99}))
	require.NoError(t, err)
	require.NotNil(t, e.Rule)
	assert.Nil(t, e.Statistical)
	assert.Equal(t, 1, e.Rule.NumViolations)

	_, err = mgr.Explain(ctx, "ml", vec(nil))
	require.ErrorIs(t, err, ErrNotTrained)
}

func mustFileStore(t *testing.T) *modelstore.FileStore {
	t.Helper()
	s, err := modelstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}
