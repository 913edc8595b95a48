package risk

import (
	"errors"
	"fmt"
	"strings"

	"netrisk/pkg/models"
)

// Model modes.
const (
	ModeRule        = "rule"
	ModeStatistical = "ml"
)

var (
	// ErrNotTrained is returned when the statistical model has no bundle.
	ErrNotTrained = errors.New("model is not trained")
	// ErrUnknownMode is returned for an unrecognized model mode.
	ErrUnknownMode = errors.New("unknown model mode")
)

// Prediction is a model's verdict for one feature vector. Explanations is
// never empty.
type Prediction struct {
	Score        float64
	Band         models.RiskBand
	Explanations []string
}

// Model scores one feature vector.
type Model interface {
	Predict(v models.FeatureVector) (Prediction, error)
}

// ParseMode normalizes a mode name. "statistical" is accepted for "ml".
func ParseMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeRule:
		return ModeRule, nil
	case ModeStatistical, "statistical":
		return ModeStatistical, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// BandFor buckets a continuous score: <0.3 LOW, <0.6 MEDIUM, <0.85 HIGH,
// otherwise CRITICAL.
func BandFor(score float64) models.RiskBand {
	switch {
	case score < 0.3:
		return models.RiskLow
	case score < 0.6:
		return models.RiskMedium
	case score < 0.85:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}
