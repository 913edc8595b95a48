package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"netrisk/internal/logger"
	"netrisk/internal/metrics"
	"netrisk/pkg/models"
)

// DefaultWindows are the trailing window lengths in minutes.
var DefaultWindows = []int{5, 15, 30}

// ErrNotFound is returned when an entity has no samples.
var ErrNotFound = errors.New("entity not found")

// Aggregation names used in feature keys.
const (
	AggMean   = "mean"
	AggStd    = "std"
	AggMin    = "min"
	AggMax    = "max"
	AggChange = "change"
)

// CurrentKey is the feature holding a metric's value at the vector timestamp.
func CurrentKey(metric string) string {
	return metric + "_current"
}

// WindowKey is the feature holding an aggregate over a trailing window.
func WindowKey(metric, agg string, window int) string {
	return fmt.Sprintf("%s_%s_%dm", metric, agg, window)
}

// Aggregator turns raw telemetry into per-entity feature vectors.
type Aggregator struct {
	// Workers bounds the entities processed concurrently; zero means no limit.
	Workers int
	Metrics *metrics.Metrics
}

// NewAggregator returns an aggregator.
func NewAggregator(workers int, m *metrics.Metrics) *Aggregator {
	return &Aggregator{Workers: workers, Metrics: m}
}

type entityKey struct {
	id  string
	typ models.EntityType
}

type point struct {
	ts time.Time
	v  float64
}

// Compute emits one vector per entity and distinct timestamp. Node entities
// come first, then links, each in order of first appearance. A nil windows
// slice selects DefaultWindows.
func (a *Aggregator) Compute(ctx context.Context, samples []models.MetricSample, windows []int) ([]models.FeatureVector, error) {
	if windows == nil {
		windows = DefaultWindows
	}
	for _, w := range windows {
		if w <= 0 {
			return nil, fmt.Errorf("invalid window %d", w)
		}
	}

	keys, groups := groupByEntity(samples)
	results := make([][]models.FeatureVector, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	if a != nil && a.Workers > 0 {
		g.SetLimit(a.Workers)
	}
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = computeEntity(key, groups[key], windows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.FeatureVector, 0)
	for _, vectors := range results {
		out = append(out, vectors...)
	}

	var m *metrics.Metrics
	if a != nil {
		m = a.Metrics
	}
	m.ObserveFeatures(len(out))
	logger.Infof("Computed %d feature vectors for %d entities from %d samples", len(out), len(keys), len(samples))
	return out, nil
}

func groupByEntity(samples []models.MetricSample) ([]entityKey, map[entityKey][]models.MetricSample) {
	groups := make(map[entityKey][]models.MetricSample)
	var nodes, links []entityKey
	add := func(key entityKey, s models.MetricSample) {
		if _, ok := groups[key]; !ok {
			if key.typ == models.EntityNode {
				nodes = append(nodes, key)
			} else {
				links = append(links, key)
			}
		}
		groups[key] = append(groups[key], s)
	}
	for _, s := range samples {
		if s.NodeID != "" {
			add(entityKey{id: s.NodeID, typ: models.EntityNode}, s)
		}
		if s.LinkID != "" {
			add(entityKey{id: s.LinkID, typ: models.EntityLink}, s)
		}
	}
	return append(nodes, links...), groups
}

func computeEntity(key entityKey, samples []models.MetricSample, windows []int) []models.FeatureVector {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	var stamps []time.Time
	for i, s := range samples {
		if i == 0 || !s.Timestamp.Equal(samples[i-1].Timestamp) {
			stamps = append(stamps, s.Timestamp)
		}
	}

	vectors := make([]models.FeatureVector, len(stamps))
	for i, ts := range stamps {
		vectors[i] = models.FeatureVector{
			EntityID:   key.id,
			EntityType: key.typ,
			Timestamp:  ts,
			Values:     make(map[string]float64),
		}
	}

	for _, metric := range metricNames(samples) {
		series := make([]point, 0, len(samples))
		for i := range samples {
			if v, ok := samples[i].Value(metric); ok {
				series = append(series, point{ts: samples[i].Timestamp, v: v})
			}
		}
		if len(series) == 0 {
			continue
		}

		// Current value: last sample at exactly t.
		j := 0
		for i, ts := range stamps {
			for j < len(series) && !series[j].ts.After(ts) {
				if series[j].ts.Equal(ts) {
					vectors[i].Values[CurrentKey(metric)] = series[j].v
				}
				j++
			}
		}

		for _, w := range windows {
			span := time.Duration(w) * time.Minute
			lo, hi := 0, 0
			buf := make([]float64, 0, len(series))
			for i, ts := range stamps {
				for hi < len(series) && !series[hi].ts.After(ts) {
					hi++
				}
				start := ts.Add(-span)
				for lo < hi && series[lo].ts.Before(start) {
					lo++
				}
				if lo == hi {
					continue
				}
				buf = buf[:0]
				for _, p := range series[lo:hi] {
					buf = append(buf, p.v)
				}
				aggregate(vectors[i].Values, metric, w, buf)
			}
		}
	}
	return vectors
}

func aggregate(values map[string]float64, metric string, window int, vals []float64) {
	n := len(vals)
	if n >= 2 {
		mean, std := stat.MeanStdDev(vals, nil)
		values[WindowKey(metric, AggMean, window)] = mean
		values[WindowKey(metric, AggStd, window)] = std
	} else {
		values[WindowKey(metric, AggMean, window)] = vals[0]
	}
	values[WindowKey(metric, AggMin, window)] = floats.Min(vals)
	values[WindowKey(metric, AggMax, window)] = floats.Max(vals)

	if n >= 2 {
		first, last := vals[0], vals[n-1]
		if first != 0 {
			change := (last - first) / first
			if !math.IsInf(change, 0) && !math.IsNaN(change) {
				values[WindowKey(metric, AggChange, window)] = change
			}
		}
	}
}

func metricNames(samples []models.MetricSample) []string {
	seen := make(map[string]struct{})
	for i := range samples {
		for name := range samples[i].Metrics {
			if _, ok := samples[i].Value(name); ok {
				seen[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Columns returns the sorted union of feature names across vectors.
func Columns(vectors []models.FeatureVector) []string {
	seen := make(map[string]struct{})
	for i := range vectors {
		for name := range vectors[i].Values {
			seen[name] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for name := range seen {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols
}
