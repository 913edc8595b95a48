package features

import (
	"fmt"
	"sort"

	"netrisk/internal/logger"
	"netrisk/pkg/models"
)

// Default split proportions.
const (
	DefaultTestSize = 0.2
	DefaultValSize  = 0.1
)

// Splits is a temporal train/validation/test partition.
type Splits struct {
	Train []models.FeatureVector
	Val   []models.FeatureVector
	Test  []models.FeatureVector
}

// Split orders vectors by time and cuts them so the test set holds the most
// recent testSize share and validation the last valSize share of the rest.
func Split(vectors []models.FeatureVector, testSize, valSize float64) (Splits, error) {
	if testSize < 0 || testSize >= 1 {
		return Splits{}, fmt.Errorf("test size must be in [0,1), got %v", testSize)
	}
	if valSize < 0 || valSize >= 1 {
		return Splits{}, fmt.Errorf("validation size must be in [0,1), got %v", valSize)
	}

	sorted := make([]models.FeatureVector, len(vectors))
	copy(sorted, vectors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	n := len(sorted)
	testIdx := int(float64(n) * (1 - testSize))
	valIdx := int(float64(testIdx) * (1 - valSize))

	out := Splits{
		Train: sorted[:valIdx],
		Val:   sorted[valIdx:testIdx],
		Test:  sorted[testIdx:],
	}
	logger.Infof("Split: train=%d, val=%d, test=%d", len(out.Train), len(out.Val), len(out.Test))
	return out, nil
}

// Latest returns up to n samples of one entity, most recent first. n <= 0
// returns all of them.
func Latest(samples []models.MetricSample, entityID string, entityType models.EntityType, n int) ([]models.MetricSample, error) {
	var out []models.MetricSample
	for _, s := range samples {
		id := s.LinkID
		if entityType == models.EntityNode {
			id = s.NodeID
		}
		if id == entityID {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s %q: %w", entityType, entityID, ErrNotFound)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
