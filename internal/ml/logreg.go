package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogRegConfig controls logistic regression fitting.
type LogRegConfig struct {
	// C is the inverse L2 regularization strength.
	C            float64
	MaxIter      int
	LearningRate float64
	Tol          float64
}

// DefaultLogRegConfig mirrors the usual C=1, 1000 iteration setup.
func DefaultLogRegConfig() LogRegConfig {
	return LogRegConfig{C: 1, MaxIter: 1000, LearningRate: 0.5, Tol: 1e-6}
}

// LogisticRegression is a binary L2-regularized linear classifier.
type LogisticRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// FitLogReg fits by full-batch gradient descent. Labels are 0 or 1. The
// result is deterministic for a given input.
func FitLogReg(x [][]float64, y []int, cfg LogRegConfig) (*LogisticRegression, error) {
	if len(x) == 0 {
		return nil, ErrEmpty
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("got %d rows and %d labels", len(x), len(y))
	}
	def := DefaultLogRegConfig()
	if cfg.C <= 0 {
		cfg.C = def.C
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = def.MaxIter
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Tol <= 0 {
		cfg.Tol = def.Tol
	}

	n := float64(len(x))
	width := len(x[0])
	m := &LogisticRegression{Coef: make([]float64, width)}
	grad := make([]float64, width)

	for iter := 0; iter < cfg.MaxIter; iter++ {
		for j := range grad {
			grad[j] = m.Coef[j] / (cfg.C * n)
		}
		var gradB float64
		for i, row := range x {
			if len(row) != width {
				return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
			}
			diff := sigmoid(floats.Dot(m.Coef, row)+m.Intercept) - float64(y[i])
			floats.AddScaled(grad, diff/n, row)
			gradB += diff / n
		}

		floats.AddScaled(m.Coef, -cfg.LearningRate, grad)
		m.Intercept -= cfg.LearningRate * gradB

		if math.Max(floats.Norm(grad, math.Inf(1)), math.Abs(gradB)) < cfg.Tol {
			break
		}
	}
	return m, nil
}

// PredictProba returns the positive-class probability for row.
func (m *LogisticRegression) PredictProba(row []float64) float64 {
	return sigmoid(floats.Dot(m.Coef, row) + m.Intercept)
}

// Accuracy is the share of rows whose 0.5-thresholded prediction matches y.
func (m *LogisticRegression) Accuracy(x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	hits := 0
	for i, row := range x {
		pred := 0
		if m.PredictProba(row) >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(x))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
