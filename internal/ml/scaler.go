package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrEmpty is returned when fitting on no rows.
var ErrEmpty = errors.New("empty training matrix")

// StandardScaler centers columns to zero mean and unit population variance.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns per-column mean and scale. Constant columns get scale 1.
func FitScaler(x [][]float64) (*StandardScaler, error) {
	if len(x) == 0 {
		return nil, ErrEmpty
	}
	width := len(x[0])
	s := &StandardScaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			if len(row) != width {
				return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
			}
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)
		if s.Scale[j] == 0 || math.IsNaN(s.Scale[j]) {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Validate checks that the scaler fits rows of width columns and that every
// scale is a finite non-zero number.
func (s *StandardScaler) Validate(width int) error {
	if len(s.Mean) != width || len(s.Scale) != width {
		return fmt.Errorf("scaler has %d means and %d scales, want %d", len(s.Mean), len(s.Scale), width)
	}
	for j, v := range s.Scale {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("scaler column %d has scale %v", j, v)
		}
	}
	return nil
}

// Transform scales one row into a new slice.
func (s *StandardScaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// TransformAll scales every row.
func (s *StandardScaler) TransformAll(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = s.Transform(row)
	}
	return out
}
